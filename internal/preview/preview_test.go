package preview

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/fonts"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/session"
)

func newCap(id, text string, start, end float64) caption.Caption {
	c := caption.Caption{ID: id, StartSec: start, EndSec: end, Visible: true}
	c.SetText(text)
	return c
}

type fixture struct {
	state     *session.State
	r         *Renderer
	snapshots int
}

func newFixture(t *testing.T, container geometry.Size, caps ...caption.Caption) *fixture {
	t.Helper()
	reg, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{state: session.New()}
	if err := f.state.SetCaptions(session.ModeKeyPhrases, caps); err != nil {
		t.Fatal(err)
	}
	n := 0
	f.r = New(f.state, overlay.New(reg, nil), nil, Options{
		OnSnapshot: func(session.Snapshot) { f.snapshots++ },
		NewID: func() string {
			n++
			return "user-" + string(rune('0'+n))
		},
	})
	f.r.SetSync(Sync{})
	f.r.SetVideoSize(geometry.Size{W: 1920, H: 1080})
	f.r.Resize(container)
	f.r.Seek(1)
	return f
}

func (f *fixture) caption(t *testing.T, id string) caption.Caption {
	t.Helper()
	c, ok := f.state.Caption(id)
	if !ok {
		t.Fatalf("caption %s missing", id)
	}
	return c
}

func TestResize_PublishesGeometry(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 800, H: 360}, newCap("a", "hello world", 0, 2))
	want := geometry.Box{X: 80, Y: 0, W: 640, H: 360}
	if got := f.state.Preview().Box; got != want {
		t.Fatalf("session box = %+v, want %+v", got, want)
	}
	if snap := f.state.ExportSnapshot(); snap.Preview.Box != want {
		t.Fatalf("snapshot box = %+v", snap.Preview.Box)
	}
	before := f.snapshots
	f.r.Resize(geometry.Size{W: 800, H: 360})
	if f.snapshots != before {
		t.Fatal("unchanged geometry must not republish")
	}
	f.r.Resize(geometry.Size{W: 1280, H: 720})
	if f.snapshots != before+1 || f.state.Preview().Box.W != 1280 {
		t.Fatalf("resize did not republish: %d %+v", f.snapshots, f.state.Preview().Box)
	}
}

func TestDrag_CommitsOnlyOnPointerUp(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 800, H: 360}, newCap("a", "hello world", 0, 2))
	// default anchor is 50%,85% of the 640x360 box at x offset 80
	id, ok := f.r.PointerDown(80+320, 0.85*360)
	if !ok || id != "a" {
		t.Fatalf("pointer down hit %q %v", id, ok)
	}
	f.r.PointerMove(80+160, 90)

	if c := f.caption(t, "a"); c.Style.CustomXPercent != nil {
		t.Fatal("drag leaked into the session before pointer up")
	}
	eff := f.r.Effective()
	if x := *eff[0].Style.CustomXPercent; math.Abs(x-25) > 1e-9 {
		t.Fatalf("in-flight x = %v", x)
	}

	if err := f.r.PointerUp(); err != nil {
		t.Fatal(err)
	}
	c := f.caption(t, "a")
	if c.Style.CustomXPercent == nil || math.Abs(*c.Style.CustomXPercent-25) > 1e-9 || math.Abs(*c.Style.CustomYPercent-25) > 1e-9 {
		t.Fatalf("committed style = %+v", c.Style)
	}
	snap := f.state.ExportSnapshot()
	if math.Abs(*snap.Captions[0].Style.CustomXPercent-25) > 1e-9 {
		t.Fatal("snapshot not republished after drag")
	}
}

func TestDrag_ClampsToVideoBox(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 800, H: 360}, newCap("a", "hello world", 0, 2))
	if _, ok := f.r.PointerDown(400, 306); !ok {
		t.Fatal("missed caption")
	}
	// pillarbox area left of the video
	f.r.PointerMove(10, 400)
	if err := f.r.PointerUp(); err != nil {
		t.Fatal(err)
	}
	c := f.caption(t, "a")
	if *c.Style.CustomXPercent != 0 || *c.Style.CustomYPercent != 100 {
		t.Fatalf("not clamped: %v,%v", *c.Style.CustomXPercent, *c.Style.CustomYPercent)
	}
}

func TestPointerDown_MissesEmptySpaceAndInactive(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "hello world", 5, 6))
	if _, ok := f.r.PointerDown(320, 306); ok {
		t.Fatal("inactive caption must not be hit")
	}
	f.r.Seek(5.5)
	if _, ok := f.r.PointerDown(320, 20); ok {
		t.Fatal("empty space must not be hit")
	}
	if err := f.r.PointerUp(); err != nil {
		t.Fatal(err)
	}
}

func TestResizeWidth(t *testing.T) {
	tests := []struct {
		name string
		px   float64
		want float64
	}{
		{"distance doubled", 320 + 96, 30},
		{"left side symmetric", 320 - 96, 30},
		{"clamped low", 321, caption.MinMaxWidthPercent},
		{"clamped high", 2000, caption.MaxMaxWidthPercent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "hello world", 0, 2))
			if err := f.r.StartResize("a"); err != nil {
				t.Fatal(err)
			}
			f.r.PointerMove(tt.px, 300)
			if err := f.r.PointerUp(); err != nil {
				t.Fatal(err)
			}
			got := *f.caption(t, "a").Style.MaxWidthPercent
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("width = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResizeWidth_Synced(t *testing.T) {
	hidden := newCap("c", "hidden", 0, 2)
	hidden.Visible = false
	f := newFixture(t, geometry.Size{W: 640, H: 360},
		newCap("a", "hello world", 0, 2), newCap("b", "later", 8, 9), hidden)
	f.r.SetSync(Sync{Width: true})
	if err := f.r.StartResize("a"); err != nil {
		t.Fatal(err)
	}
	f.r.PointerMove(320+128, 300)
	if err := f.r.PointerUp(); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		if w := f.caption(t, id).Style.MaxWidthPercent; w == nil || math.Abs(*w-40) > 1e-9 {
			t.Fatalf("%s width = %v", id, w)
		}
	}
	if f.caption(t, "c").Style.MaxWidthPercent != nil {
		t.Fatal("hidden caption must not be synced")
	}
}

func TestNew_SyncsByDefault(t *testing.T) {
	reg, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	st := session.New()
	if err := st.SetCaptions(session.ModeKeyPhrases, []caption.Caption{
		newCap("a", "x", 0, 2), newCap("b", "y", 4, 6),
	}); err != nil {
		t.Fatal(err)
	}
	r := New(st, overlay.New(reg, nil), nil, Options{})
	r.Select("a")
	if err := r.SetFontSize(30); err != nil {
		t.Fatal(err)
	}
	if err := r.StepWidth(WidthStep); err != nil {
		t.Fatal(err)
	}
	b, _ := st.Caption("b")
	if b.Style.FontSizePx != 30 {
		t.Fatalf("font size not synced: %v", b.Style.FontSizePx)
	}
	if b.Style.MaxWidthPercent == nil || *b.Style.MaxWidthPercent != 85 {
		t.Fatalf("width not synced: %v", b.Style.MaxWidthPercent)
	}
}

func TestSelect_Exclusive(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "x", 0, 2), newCap("b", "y", 0, 2))
	f.r.Select("a")
	f.r.Select("b")
	if f.r.Selected() != "b" {
		t.Fatalf("selected = %q", f.r.Selected())
	}
	f.r.Select("b")
	if f.r.Selected() != "" {
		t.Fatal("selecting the selected caption must clear it")
	}
	if got := f.r.Click(320, 306); got != "b" {
		t.Fatalf("click selected %q, want topmost b", got)
	}
}

func TestFontSizeStep(t *testing.T) {
	hidden := newCap("c", "z", 0, 2)
	hidden.Visible = false
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "x", 0, 2), newCap("b", "y", 0, 2), hidden)

	if err := f.r.StepFontSize(FontSizeStep); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v", err)
	}
	f.r.Select("a")
	if err := f.r.StepFontSize(FontSizeStep); err != nil {
		t.Fatal(err)
	}
	if got := f.caption(t, "a").Style.FontSizePx; got != 26 {
		t.Fatalf("font = %v", got)
	}
	if got := f.caption(t, "b").Style.FontSizePx; got != 0 {
		t.Fatalf("unsynced step touched b: %v", got)
	}
	if err := f.r.SetFontSize(500); err != nil {
		t.Fatal(err)
	}
	if got := f.caption(t, "a").Style.FontSizePx; got != caption.MaxFontSizePx {
		t.Fatalf("font not clamped: %v", got)
	}

	f.r.SetSync(Sync{FontSize: true})
	if err := f.r.SetFontSize(30); err != nil {
		t.Fatal(err)
	}
	if f.caption(t, "b").Style.FontSizePx != 30 || f.caption(t, "c").Style.FontSizePx != 0 {
		t.Fatal("synced font size must reach visible captions only")
	}
}

func TestStepWidthAndReset(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "x", 0, 2))
	f.r.Select("a")
	if err := f.r.StepWidth(WidthStep); err != nil {
		t.Fatal(err)
	}
	if w := *f.caption(t, "a").Style.MaxWidthPercent; w != 85 {
		t.Fatalf("width = %v", w)
	}
	if err := f.r.Reset(); err != nil {
		t.Fatal(err)
	}
	st := f.caption(t, "a").Style.Resolve()
	if st.XPercent != 50 || st.YPercent != 85 || st.FontSizePx != 24 || st.MaxWidthPercent != 80 {
		t.Fatalf("reset did not restore defaults: %+v", st)
	}
}

func TestTextEdit(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "old", 0, 2))
	if err := f.r.EditInput("x"); !errors.Is(err, ErrNotEditing) {
		t.Fatalf("err = %v", err)
	}
	if err := f.r.BeginEdit("a"); err != nil {
		t.Fatal(err)
	}
	_ = f.r.EditInput("draft")
	if f.caption(t, "a").Text != "old" {
		t.Fatal("typing leaked into the session")
	}
	_ = f.r.KeyPress(KeyEscape)
	if f.caption(t, "a").Text != "old" {
		t.Fatal("escape must discard the edit")
	}

	_ = f.r.BeginEdit("a")
	_ = f.r.EditInput("new [color=#112233]word[/color]")
	if err := f.r.KeyPress(KeyEnter); err != nil {
		t.Fatal(err)
	}
	c := f.caption(t, "a")
	if len(c.Runs) != 2 || c.Runs[1].Text != "word" || c.Runs[1].Color != "#112233" {
		t.Fatalf("runs = %+v", c.Runs)
	}

	_ = f.r.BeginEdit("a")
	_ = f.r.EditInput("blurred")
	if err := f.r.Blur(); err != nil {
		t.Fatal(err)
	}
	if f.caption(t, "a").Plain() != "blurred" {
		t.Fatal("blur must commit")
	}
}

func TestAddTextAtPlayhead(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360})
	f.r.Seek(3)
	id, err := f.r.AddTextAtPlayhead()
	if err != nil {
		t.Fatal(err)
	}
	c := f.caption(t, id)
	if c.Plain() != NewTextLabel || c.StartSec != 3 || c.EndSec != 5 || !c.Visible || c.Source != caption.SourceUser {
		t.Fatalf("added caption = %+v", c)
	}
	if f.r.Selected() != id {
		t.Fatal("new caption must be selected")
	}
}

func TestEditsBlockedDuringExport(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 640, H: 360}, newCap("a", "hello world", 0, 2))
	if err := f.state.BeginExport("job"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.r.PointerDown(320, 306); !ok {
		t.Fatal("missed caption")
	}
	f.r.PointerMove(100, 100)
	if err := f.r.PointerUp(); !errors.Is(err, session.ErrExportInProgress) {
		t.Fatalf("err = %v", err)
	}
	if f.caption(t, "a").Style.CustomXPercent != nil {
		t.Fatal("drag committed during export")
	}
}

func TestRenderFrame_Letterboxes(t *testing.T) {
	f := newFixture(t, geometry.Size{W: 800, H: 360}, newCap("a", "hello world", 0, 2))
	frame := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)

	out := f.r.RenderFrame(frame)
	if out.Bounds().Dx() != 800 || out.Bounds().Dy() != 360 {
		t.Fatalf("canvas = %v", out.Bounds())
	}
	if c := out.RGBAAt(10, 10); c.R != 0 {
		t.Fatalf("pillarbox must stay black, got %+v", c)
	}
	if c := out.RGBAAt(400, 10); c.R < 200 {
		t.Fatalf("video area must show the frame, got %+v", c)
	}
}
