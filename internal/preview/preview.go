// Package preview is the interactive caption editor surface. It keeps drag, resize and
// text-edit state apart from the session's captions and commits only when a gesture ends.
//
// Coordinates passed in are container pixels. Everything persisted is percent of the
// letterboxed video box.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/session"
)

const (
	NewTextLabel    = "New text"
	NewTextDuration = 2.0
	FontSizeStep    = 2.0
	WidthStep       = 5.0
)

var (
	ErrNoSelection = errors.New("preview: no caption selected")
	ErrNotEditing  = errors.New("preview: no text edit in progress")
)

// Override is the in-flight geometry of a caption while a gesture is active.
type Override struct {
	XPercent        float64
	YPercent        float64
	FontSizePx      float64
	MaxWidthPercent float64
}

// Sync selects which adjustments apply to every visible caption instead of one.
type Sync struct {
	FontSize bool
	Width    bool
}

type Key string

const (
	KeyEnter  Key = "Enter"
	KeyEscape Key = "Escape"
)

type Options struct {
	Presets caption.Presets
	// OnSnapshot is called with every published export snapshot.
	OnSnapshot func(session.Snapshot)
	NewID      func() string
}

type Renderer struct {
	mu sync.Mutex

	state *session.State
	comp  *overlay.Composer
	log   *zap.Logger
	opts  Options

	geo      geometry.Preview
	playhead float64
	sync     Sync

	selected  string
	dragging  string
	resizing  string
	moved     bool
	overrides map[string]Override

	editing string
	editBuf string
}

func New(state *session.State, comp *overlay.Composer, log *zap.Logger, opts Options) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Presets == nil {
		opts.Presets = caption.BuiltinPresets()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "user-" + uuid.NewString() }
	}
	return &Renderer{
		state:     state,
		comp:      comp,
		log:       log,
		opts:      opts,
		geo:       state.Preview(),
		sync:      Sync{FontSize: true, Width: true},
		overrides: map[string]Override{},
	}
}

// Resize remeasures the video box for a new container size and republishes geometry.
func (r *Renderer) Resize(container geometry.Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geo.Container = container
	r.remeasureLocked()
}

// SetVideoSize records the native video dimensions once metadata is known.
func (r *Renderer) SetVideoSize(video geometry.Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geo.Video = video
	r.remeasureLocked()
}

func (r *Renderer) remeasureLocked() {
	next := r.geo.Remeasure()
	changed := next != r.geo || next != r.state.Preview()
	r.geo = next
	if !changed {
		return
	}
	r.log.Debug("preview geometry",
		zap.Int("container_w", next.Container.W), zap.Int("container_h", next.Container.H),
		zap.Int("box_x", next.Box.X), zap.Int("box_y", next.Box.Y),
		zap.Int("box_w", next.Box.W), zap.Int("box_h", next.Box.H))
	r.state.SetPreview(next)
	r.publishLocked()
}

func (r *Renderer) Geometry() geometry.Preview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.geo
}

func (r *Renderer) Seek(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playhead = math.Max(0, t)
}

func (r *Renderer) Playhead() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playhead
}

// SetSync replaces the sync settings. A new Renderer syncs both font size and width.
func (r *Renderer) SetSync(s Sync) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync = s
}

func (r *Renderer) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Select toggles the selection: selecting the selected caption clears it.
func (r *Renderer) Select(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" || r.selected == id {
		r.selected = ""
		return
	}
	r.selected = id
}

// Click selects the topmost caption under the pointer, toggling like Select.
// Clicking empty space keeps the current selection.
func (r *Renderer) Click(px, py float64) string {
	id, ok := r.HitTest(px, py)
	if !ok {
		return r.Selected()
	}
	r.Select(id)
	return r.Selected()
}

// HitTest returns the topmost caption drawn at the given container pixel.
func (r *Renderer) HitTest(px, py float64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitTestLocked(px, py)
}

func (r *Renderer) hitTestLocked(px, py float64) (string, bool) {
	box := r.geo.Box
	if box.Empty() {
		return "", false
	}
	bx, by := px-float64(box.X), py-float64(box.Y)
	caps := r.effectiveLocked()
	for i := len(caps) - 1; i >= 0; i-- {
		cp := caps[i]
		if !cp.ActiveAt(r.playhead) {
			continue
		}
		lay, st := r.comp.Layout(cp, box.Size(), geometry.Identity)
		if len(lay.Lines) == 0 {
			continue
		}
		pad := st.BackgroundPaddingPx
		b := lay.Bounds
		if bx >= b.X-pad && bx <= b.X+b.W+pad && by >= b.Y-pad && by <= b.Y+b.H+pad {
			return cp.ID, true
		}
	}
	return "", false
}

// PointerDown starts dragging the caption under the pointer.
func (r *Renderer) PointerDown(px, py float64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.hitTestLocked(px, py)
	if !ok {
		return "", false
	}
	cp, found := r.state.Caption(id)
	if !found {
		return "", false
	}
	r.dragging = id
	r.moved = false
	r.overrides[id] = overrideOf(cp)
	return id, true
}

// StartResize begins a width drag on a caption's edge handle.
func (r *Renderer) StartResize(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.state.Caption(id)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
	}
	r.resizing = id
	r.moved = false
	r.overrides[id] = overrideOf(cp)
	for _, other := range r.syncTargetsLocked(r.sync.Width, id) {
		if _, ok := r.overrides[other.ID]; !ok {
			r.overrides[other.ID] = overrideOf(other)
		}
	}
	return nil
}

// PointerMove updates the active gesture. Nothing is committed until PointerUp.
func (r *Renderer) PointerMove(px, py float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	box := r.geo.Box
	if box.Empty() {
		return
	}
	switch {
	case r.dragging != "":
		x, y := box.ToPercent(px, py)
		o := r.overrides[r.dragging]
		o.XPercent, o.YPercent = x, y
		r.overrides[r.dragging] = o
		r.moved = true
	case r.resizing != "":
		o := r.overrides[r.resizing]
		anchorX, _ := box.ToContainer(o.XPercent, o.YPercent)
		w := caption.ClampWidth(2 * math.Abs(px-anchorX) / float64(box.W) * 100)
		o.MaxWidthPercent = w
		r.overrides[r.resizing] = o
		if r.sync.Width {
			for id, other := range r.overrides {
				other.MaxWidthPercent = w
				r.overrides[id] = other
			}
		}
		r.moved = true
	}
}

// PointerUp ends the active gesture and commits it to the session.
func (r *Renderer) PointerUp() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		r.dragging, r.resizing, r.moved = "", "", false
		r.overrides = map[string]Override{}
	}()
	if !r.moved {
		return nil
	}
	var err error
	switch {
	case r.dragging != "":
		o := r.overrides[r.dragging]
		err = r.state.UpdateCaption(r.dragging, func(c *caption.Caption) {
			c.Style.CustomXPercent = caption.Float(o.XPercent)
			c.Style.CustomYPercent = caption.Float(o.YPercent)
		})
	case r.resizing != "":
		ids := make([]string, 0, len(r.overrides))
		for id := range r.overrides {
			ids = append(ids, id)
		}
		w := r.overrides[r.resizing].MaxWidthPercent
		err = r.state.UpdateCaptions(ids, func(c *caption.Caption) {
			if r.sync.Width || c.ID == r.resizing {
				c.Style.MaxWidthPercent = caption.Float(w)
			}
		})
	}
	if err != nil {
		return err
	}
	r.publishLocked()
	return nil
}

// StepFontSize changes the selected caption's font size, or every visible caption's
// when font size is synced.
func (r *Renderer) StepFontSize(delta float64) error {
	return r.adjust(r.sync.FontSize, func(c *caption.Caption) {
		cur := c.Style.Resolve().FontSizePx
		c.Style.FontSizePx = caption.ClampFontSize(cur + delta)
	})
}

// StepWidth changes the max width in percent, synced like StepFontSize.
func (r *Renderer) StepWidth(delta float64) error {
	return r.adjust(r.sync.Width, func(c *caption.Caption) {
		cur := c.Style.Resolve().MaxWidthPercent
		c.Style.MaxWidthPercent = caption.Float(caption.ClampWidth(cur + delta))
	})
}

// SetFontSize sets an absolute font size, clamped to the editor range.
func (r *Renderer) SetFontSize(px float64) error {
	return r.adjust(r.sync.FontSize, func(c *caption.Caption) {
		c.Style.FontSizePx = caption.ClampFontSize(px)
	})
}

// Reset puts the selected caption back at the default position, size and width.
func (r *Renderer) Reset() error {
	return r.adjust(false, func(c *caption.Caption) {
		c.Style.CustomXPercent = nil
		c.Style.CustomYPercent = nil
		c.Style.MaxWidthPercent = nil
		c.Style.FontSizePx = 0
	})
}

// ApplyPreset swaps the selected caption's look, synced across visible captions when
// both syncs are on.
func (r *Renderer) ApplyPreset(id string) error {
	if _, err := r.opts.Presets.Apply(id, caption.Style{}); err != nil {
		return err
	}
	return r.adjust(r.sync.FontSize && r.sync.Width, func(c *caption.Caption) {
		c.Style, _ = r.opts.Presets.Apply(id, c.Style)
	})
}

// SetVisible shows or hides one caption.
func (r *Renderer) SetVisible(id string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.UpdateCaption(id, func(c *caption.Caption) { c.Visible = visible }); err != nil {
		return err
	}
	r.publishLocked()
	return nil
}

// SetTiming moves a caption's window. End is raised to start when it falls before it.
func (r *Renderer) SetTiming(id string, start, end float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	start = math.Max(0, start)
	end = math.Max(start, end)
	if err := r.state.UpdateCaption(id, func(c *caption.Caption) { c.StartSec, c.EndSec = start, end }); err != nil {
		return err
	}
	r.publishLocked()
	return nil
}

func (r *Renderer) adjust(synced bool, fn func(*caption.Caption)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == "" && !synced {
		return ErrNoSelection
	}
	var ids []string
	if r.selected != "" {
		ids = append(ids, r.selected)
	}
	for _, c := range r.syncTargetsLocked(synced, r.selected) {
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return ErrNoSelection
	}
	if err := r.state.UpdateCaptions(ids, fn); err != nil {
		return err
	}
	r.publishLocked()
	return nil
}

// syncTargetsLocked lists visible captions other than except when synced is set.
func (r *Renderer) syncTargetsLocked(synced bool, except string) []caption.Caption {
	if !synced {
		return nil
	}
	var out []caption.Caption
	for _, c := range r.state.Captions() {
		if c.Visible && c.ID != except {
			out = append(out, c)
		}
	}
	return out
}

// BeginEdit opens a text edit on a caption with its current markup.
func (r *Renderer) BeginEdit(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.state.Caption(id)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
	}
	r.editing = id
	r.editBuf = cp.Text
	return nil
}

// EditInput replaces the edit buffer. The session is untouched until commit.
func (r *Renderer) EditInput(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.editing == "" {
		return ErrNotEditing
	}
	r.editBuf = text
	return nil
}

// KeyPress handles Enter (commit) and Escape (cancel) while editing.
func (r *Renderer) KeyPress(k Key) error {
	switch k {
	case KeyEnter:
		return r.CommitEdit()
	case KeyEscape:
		r.CancelEdit()
	}
	return nil
}

// Blur commits an open edit, like leaving the text field.
func (r *Renderer) Blur() error {
	r.mu.Lock()
	editing := r.editing != ""
	r.mu.Unlock()
	if !editing {
		return nil
	}
	return r.CommitEdit()
}

// CommitEdit parses the edit buffer into runs and stores it on the caption.
func (r *Renderer) CommitEdit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.editing == "" {
		return ErrNotEditing
	}
	id, text := r.editing, r.editBuf
	r.editing, r.editBuf = "", ""
	if err := r.state.UpdateCaption(id, func(c *caption.Caption) { c.SetText(text) }); err != nil {
		return err
	}
	r.publishLocked()
	return nil
}

func (r *Renderer) CancelEdit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editing, r.editBuf = "", ""
}

// AddTextAtPlayhead inserts a user caption starting at the playhead and selects it.
func (r *Renderer) AddTextAtPlayhead() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.opts.Presets.Apply(caption.DefaultPreset, caption.Style{})
	if err != nil {
		st = caption.Style{}
	}
	c := caption.Caption{
		ID:         r.opts.NewID(),
		StartSec:   r.playhead,
		EndSec:     r.playhead + NewTextDuration,
		Visible:    true,
		Style:      st,
		Source:     caption.SourceUser,
		Priority:   10,
		Confidence: 1,
	}
	c.SetText(NewTextLabel)
	if err := r.state.AddCaption(c); err != nil {
		return "", err
	}
	r.selected = c.ID
	r.publishLocked()
	return c.ID, nil
}

// Publish pushes a fresh export snapshot.
func (r *Renderer) Publish() session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishLocked()
}

func (r *Renderer) publishLocked() session.Snapshot {
	snap := r.state.PublishSnapshot()
	if r.opts.OnSnapshot != nil {
		r.opts.OnSnapshot(snap)
	}
	return snap
}

// Effective returns the current captions with in-flight gesture overrides applied.
func (r *Renderer) Effective() []caption.Caption {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveLocked()
}

func (r *Renderer) effectiveLocked() []caption.Caption {
	caps := r.state.Captions()
	for i := range caps {
		o, ok := r.overrides[caps[i].ID]
		if !ok {
			continue
		}
		caps[i].Style.CustomXPercent = caption.Float(o.XPercent)
		caps[i].Style.CustomYPercent = caption.Float(o.YPercent)
		caps[i].Style.FontSizePx = o.FontSizePx
		caps[i].Style.MaxWidthPercent = caption.Float(o.MaxWidthPercent)
	}
	if r.editing != "" {
		for i := range caps {
			if caps[i].ID == r.editing {
				caps[i].SetText(r.editBuf)
			}
		}
	}
	return caps
}

// RenderFrame draws frame letterboxed into the container with the active captions on top.
// A nil frame renders captions over black.
func (r *Renderer) RenderFrame(frame image.Image) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.geo.Container
	canvas := image.NewRGBA(image.Rect(0, 0, max(c.W, 0), max(c.H, 0)))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	box := r.geo.Box
	if box.Empty() {
		return canvas
	}
	rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
	if frame != nil {
		scaled := imaging.Resize(frame, box.W, box.H, imaging.Lanczos)
		draw.Draw(canvas, rect, scaled, image.Point{}, draw.Src)
	}
	r.comp.Compose(canvas, rect, r.effectiveLocked(), r.playhead, geometry.Identity)
	return canvas
}

func overrideOf(c caption.Caption) Override {
	st := c.Style.Resolve()
	return Override{
		XPercent:        st.XPercent,
		YPercent:        st.YPercent,
		FontSizePx:      st.FontSizePx,
		MaxWidthPercent: st.MaxWidthPercent,
	}
}
