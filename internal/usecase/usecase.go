package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/compositor"
	"github.com/forPelevin/capburn/internal/domain/align"
	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/domain/subtitles"
	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/preview"
	"github.com/forPelevin/capburn/internal/session"
	"github.com/forPelevin/capburn/internal/types"
)

// DefaultContainer is the preview surface assumed when the caller has none.
var DefaultContainer = geometry.Size{W: 640, H: 360}

type Deps struct {
	Video   ports.VideoTool
	Media   ports.MediaIO
	ASR     ports.ASR
	Phrases ports.PhraseExtractor
	// Fallback extracts phrases when Phrases fails. Optional.
	Fallback ports.PhraseExtractor
	Aligner  *align.Aligner
	Composer *overlay.Composer
	Presets  caption.Presets
	Log      *zap.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Presets == nil {
		d.Presets = caption.BuiltinPresets()
	}
	if d.Aligner == nil {
		d.Aligner = align.New(align.DefaultConfig(), d.Log)
	}
	return Usecase{d: d}
}

type AnalyzeInput struct {
	Video           string
	CacheDir        string
	MaxPhrases      int
	WordsPerCaption int
	Preset          string
	Mode            session.Mode
	Container       geometry.Size
	Logf            func(format string, args ...any)
}

// Analyze probes and transcribes the video, extracts key phrases and builds captions for
// both modes. The returned session has a published snapshot for Container.
func (u Usecase) Analyze(ctx context.Context, in AnalyzeInput) (*session.State, error) {
	logf := orNop(in.Logf)

	info, err := u.d.Video.Probe(ctx, in.Video)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}
	if !info.HasAudio {
		return nil, fmt.Errorf("video %s has no audio track to transcribe", filepath.Base(in.Video))
	}
	st := session.New()
	if err := st.SetVideo(session.Video{Path: in.Video, Info: info}); err != nil {
		return nil, err
	}
	logf("video: %dx%d @ %.2f fps, %.1fs", info.Width, info.Height, info.FPS, info.Duration)

	if err := os.MkdirAll(in.CacheDir, 0o755); err != nil {
		return nil, err
	}
	wav := filepath.Join(in.CacheDir, "audio.wav")
	logf("extracting audio")
	if err := u.d.Video.ExtractAudio(ctx, in.Video, wav); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}

	logf("transcribing")
	tr, err := u.d.ASR.Transcribe(ctx, wav, in.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if err := st.SetTranscript(tr); err != nil {
		return nil, err
	}
	words := tr.Words()
	logf("transcript: %d segments, %d words", len(tr.Segments), len(words))

	style, err := u.d.Presets.Apply(orDefault(in.Preset, caption.DefaultPreset), caption.Style{})
	if err != nil {
		return nil, err
	}

	var phraseCaps []caption.Caption
	if len(words) > 0 {
		logf("extracting key phrases")
		phrases, err := u.phrases(ctx, tr, in.MaxPhrases)
		if err != nil {
			return nil, err
		}
		phraseCaps = u.d.Aligner.Captions(words, phrases, style)
		logf("key phrases: %d (%d visible)", len(phraseCaps), countVisible(phraseCaps))
	}
	fullCaps := align.FullTranscript(words, in.WordsPerCaption, style)

	if err := st.SetCaptions(session.ModeKeyPhrases, phraseCaps); err != nil {
		return nil, err
	}
	if err := st.SetCaptions(session.ModeTranscript, fullCaps); err != nil {
		return nil, err
	}
	mode := in.Mode
	if mode == "" {
		mode = session.ModeKeyPhrases
	}
	if err := st.SetMode(mode); err != nil {
		return nil, err
	}

	r := u.renderer(st)
	r.Resize(orSize(in.Container, DefaultContainer))
	r.Publish()
	return st, nil
}

// phrases asks the primary extractor and degrades to Fallback on service failures.
// Context cancellation is never masked.
func (u Usecase) phrases(ctx context.Context, tr types.Transcript, n int) ([]types.Phrase, error) {
	phrases, err := u.d.Phrases.ExtractPhrases(ctx, tr, n)
	if err == nil {
		return phrases, nil
	}
	if ctx.Err() != nil || u.d.Fallback == nil {
		return nil, fmt.Errorf("extract phrases: %w", err)
	}
	u.d.Log.Warn("phrase extraction failed, using local extractor", zap.Error(err))
	phrases, ferr := u.d.Fallback.ExtractPhrases(ctx, tr, n)
	if ferr != nil {
		return nil, fmt.Errorf("extract phrases: %w", errors.Join(err, ferr))
	}
	return phrases, nil
}

func (u Usecase) renderer(st *session.State) *preview.Renderer {
	return preview.New(st, u.d.Composer, u.d.Log, preview.Options{Presets: u.d.Presets})
}

// Point is a position in percent of the video box.
type Point struct {
	XPercent float64
	YPercent float64
}

// EditInput describes one headless edit. Operations run in field order against the
// caption ID, or against a new text layer when AddText is set.
type EditInput struct {
	ID        string
	Container geometry.Size
	Mode      session.Mode
	Sync      preview.Sync

	AddText *string
	At      *float64
	Remove  bool

	Text         *string
	Preset       string
	Reset        bool
	FontSizePx   *float64
	FontStep     float64
	WidthPercent *float64
	WidthStep    float64
	MoveTo       *Point
	StartSec     *float64
	EndSec       *float64
	Visible      *bool
}

// Edit drives the preview renderer's gestures against the session and returns the ID of
// the caption it touched.
func (u Usecase) Edit(st *session.State, in EditInput) (string, error) {
	if in.Mode != "" {
		if err := st.SetMode(in.Mode); err != nil {
			return "", err
		}
	}
	r := u.renderer(st)
	r.Resize(orSize(in.Container, orSize(st.Preview().Container, DefaultContainer)))
	r.SetSync(in.Sync)

	id := in.ID
	if in.AddText != nil {
		if in.At != nil {
			r.Seek(*in.At)
		}
		newID, err := r.AddTextAtPlayhead()
		if err != nil {
			return "", err
		}
		id = newID
		if *in.AddText != "" {
			if err := commitText(r, id, *in.AddText); err != nil {
				return id, err
			}
		}
	}

	if in.Remove {
		if err := st.RemoveCaption(id); err != nil {
			return id, err
		}
		r.Publish()
		return id, nil
	}

	if id != "" {
		cp, ok := st.Caption(id)
		if !ok {
			return id, fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
		}
		if r.Selected() != id {
			r.Select(id)
		}
		switch {
		case in.At != nil:
			r.Seek(*in.At)
		case in.AddText == nil:
			r.Seek((cp.StartSec + cp.EndSec) / 2)
		}
	}

	if in.Text != nil {
		if err := commitText(r, id, *in.Text); err != nil {
			return id, err
		}
	}
	if in.Preset != "" {
		if err := r.ApplyPreset(in.Preset); err != nil {
			return id, err
		}
	}
	if in.Reset {
		if err := r.Reset(); err != nil {
			return id, err
		}
	}
	if in.FontSizePx != nil {
		if err := r.SetFontSize(*in.FontSizePx); err != nil {
			return id, err
		}
	}
	if in.FontStep != 0 {
		if err := r.StepFontSize(in.FontStep); err != nil {
			return id, err
		}
	}
	if in.WidthPercent != nil {
		if err := resizeTo(r, id, *in.WidthPercent); err != nil {
			return id, err
		}
	}
	if in.WidthStep != 0 {
		if err := r.StepWidth(in.WidthStep); err != nil {
			return id, err
		}
	}
	if in.MoveTo != nil {
		if err := dragTo(r, id, *in.MoveTo); err != nil {
			return id, err
		}
	}
	if in.StartSec != nil || in.EndSec != nil {
		cp, ok := st.Caption(id)
		if !ok {
			return id, fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
		}
		start, end := cp.StartSec, cp.EndSec
		if in.StartSec != nil {
			start = *in.StartSec
		}
		if in.EndSec != nil {
			end = *in.EndSec
		}
		if err := r.SetTiming(id, start, end); err != nil {
			return id, err
		}
	}
	if in.Visible != nil {
		if err := r.SetVisible(id, *in.Visible); err != nil {
			return id, err
		}
	}
	return id, nil
}

func commitText(r *preview.Renderer, id, text string) error {
	if err := r.BeginEdit(id); err != nil {
		return err
	}
	if err := r.EditInput(text); err != nil {
		return err
	}
	return r.KeyPress(preview.KeyEnter)
}

// anchorOf returns the caption's anchor in container pixels.
func anchorOf(r *preview.Renderer, id string) (float64, float64, bool) {
	for _, c := range r.Effective() {
		if c.ID == id {
			st := c.Style.Resolve()
			x, y := r.Geometry().Box.ToContainer(st.XPercent, st.YPercent)
			return x, y, true
		}
	}
	return 0, 0, false
}

// dragTo grabs the caption at its anchor and releases it at the target position.
func dragTo(r *preview.Renderer, id string, to Point) error {
	if id == "" {
		return preview.ErrNoSelection
	}
	x, y, ok := anchorOf(r, id)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
	}
	got, hit := r.PointerDown(x, y)
	if !hit || got != id {
		_ = r.PointerUp()
		return fmt.Errorf("caption %s is not the topmost caption at its position (hit %q)", id, got)
	}
	tx, ty := r.Geometry().Box.ToContainer(to.XPercent, to.YPercent)
	r.PointerMove(tx, ty)
	return r.PointerUp()
}

// resizeTo drags the caption's edge handle so the width becomes pct of the video box.
func resizeTo(r *preview.Renderer, id string, pct float64) error {
	if id == "" {
		return preview.ErrNoSelection
	}
	x, y, ok := anchorOf(r, id)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrCaptionNotFound, id)
	}
	if err := r.StartResize(id); err != nil {
		return err
	}
	half := caption.ClampWidth(pct) / 100 * float64(r.Geometry().Box.W) / 2
	r.PointerMove(x+half, y)
	return r.PointerUp()
}

// PreviewFrame renders the preview surface at time at: the source frame letterboxed into
// container with the captions active at that time on top.
func (u Usecase) PreviewFrame(ctx context.Context, st *session.State, at float64, container geometry.Size) (*image.RGBA, error) {
	v := st.Video()
	frame, err := u.d.Video.Frame(ctx, v.Path, at)
	if err != nil {
		return nil, fmt.Errorf("grab frame at %.2fs: %w", at, err)
	}
	r := u.renderer(st)
	r.Resize(orSize(container, orSize(st.Preview().Container, DefaultContainer)))
	r.Seek(at)
	return r.RenderFrame(frame), nil
}

type ExportInput struct {
	Output string
	// SubtitlesPath, when set, receives an ASS file with the exported captions.
	SubtitlesPath string
	Config        compositor.Config
	OnProgress    func(compositor.Progress)
	Logf          func(format string, args ...any)
}

// Export burns the session's export snapshot into a copy of the source video. Edits are
// rejected for the duration.
func (u Usecase) Export(ctx context.Context, st *session.State, in ExportInput) (compositor.Result, error) {
	logf := orNop(in.Logf)
	if err := in.Config.Validate(); err != nil {
		return compositor.Result{}, fmt.Errorf("export config: %w", err)
	}
	v := st.Video()
	snap := st.ExportSnapshot()

	comp := compositor.New(u.d.Media, u.d.Composer, u.d.Log, in.Config)
	job := comp.NewJob(compositor.Request{
		Source:   v.Path,
		Output:   in.Output,
		Snapshot: snap,
		OnProgress: func(p compositor.Progress) {
			st.SetExportProgress(string(p.State), p.Percent)
			if in.OnProgress != nil {
				in.OnProgress(p)
			}
		},
	})
	if err := st.BeginExport(job.ID()); err != nil {
		return compositor.Result{}, err
	}
	logf("export %s: %d captions -> %s", job.ID(), len(snap.Captions), in.Output)
	res, err := job.Run(ctx)
	if ferr := st.FinishExport(res.Output, err); ferr != nil {
		u.d.Log.Warn("finish export", zap.Error(ferr))
	}
	if err != nil {
		return res, err
	}
	logf("export done: %d frames, scale %.3fx%.3f", res.Frames, res.Scale.X, res.Scale.Y)

	if in.SubtitlesPath != "" {
		ass, err := subtitles.RenderASS(snap.Captions, geometry.Size{W: v.Info.Width, H: v.Info.Height}, snap.Preview.Box)
		if err != nil {
			return res, fmt.Errorf("render subtitles: %w", err)
		}
		if err := os.WriteFile(in.SubtitlesPath, []byte(ass), 0o644); err != nil {
			return res, err
		}
		logf("subtitles: %s", in.SubtitlesPath)
	}
	return res, nil
}

func countVisible(caps []caption.Caption) int {
	n := 0
	for _, c := range caps {
		if c.Visible {
			n++
		}
	}
	return n
}

func orNop(f func(string, ...any)) func(string, ...any) {
	if f == nil {
		return func(string, ...any) {}
	}
	return f
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orSize(s, def geometry.Size) geometry.Size {
	if s.Empty() {
		return def
	}
	return s
}
