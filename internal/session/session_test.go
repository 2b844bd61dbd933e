package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/types"
)

func newCaption(id, text string, start, end float64) caption.Caption {
	c := caption.Caption{ID: id, StartSec: start, EndSec: end, Visible: true}
	c.SetText(text)
	return c
}

func seeded(t *testing.T) *State {
	t.Helper()
	s := New()
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	caps := []caption.Caption{
		newCaption("a", "hello [color=#ff0000]world[/color]", 0, 2),
		newCaption("b", "second", 2, 4),
	}
	if err := s.SetCaptions(ModeKeyPhrases, caps); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSetCaptions_RejectsInvalid(t *testing.T) {
	s := New()
	bad := []caption.Caption{newCaption("a", "x", 0, 1), newCaption("a", "y", 1, 2)}
	if err := s.SetCaptions(ModeKeyPhrases, bad); err == nil {
		t.Fatal("duplicate ids must be rejected")
	}
	if err := s.SetCaptions("karaoke", nil); err == nil {
		t.Fatal("unknown mode must be rejected")
	}
}

func TestCaptions_ReturnsCopies(t *testing.T) {
	s := seeded(t)
	got := s.Captions()
	got[0].Style.CustomXPercent = caption.Float(10)
	got[0].Runs[0].Text = "mutated"
	again := s.Captions()
	if again[0].Style.CustomXPercent != nil || again[0].Runs[0].Text == "mutated" {
		t.Fatal("caller mutated session state through a returned slice")
	}
}

func TestUpdateCaptions_AllOrNothing(t *testing.T) {
	s := seeded(t)
	err := s.UpdateCaptions([]string{"a", "missing"}, func(c *caption.Caption) {
		c.Style.FontSizePx = 40
	})
	if !errors.Is(err, ErrCaptionNotFound) {
		t.Fatalf("err = %v, want ErrCaptionNotFound", err)
	}
	c, _ := s.Caption("a")
	if c.Style.FontSizePx != 0 {
		t.Fatal("partial update leaked")
	}

	err = s.UpdateCaption("a", func(c *caption.Caption) { c.EndSec = -1 })
	if err == nil {
		t.Fatal("invalid window must be rejected")
	}
}

func TestEditsRejectedDuringExport(t *testing.T) {
	s := seeded(t)
	if err := s.BeginExport("job"); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginExport("job2"); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("second export: %v", err)
	}
	checks := map[string]error{
		"update": s.UpdateCaption("a", func(c *caption.Caption) { c.Visible = false }),
		"add":    s.AddCaption(newCaption("c", "x", 0, 1)),
		"remove": s.RemoveCaption("a"),
		"mode":   s.SetMode(ModeTranscript),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrExportInProgress) {
			t.Fatalf("%s during export: %v", name, err)
		}
	}
	s.SetExportProgress("rendering", 40)
	s.SetExportProgress("rendering", 20)
	if st := s.ExportStatus(); st.Progress != 40 {
		t.Fatalf("progress went backwards: %+v", st)
	}
	if err := s.FinishExport("out.webm", nil); err != nil {
		t.Fatal(err)
	}
	if st := s.ExportStatus(); st.State != "complete" || st.Progress != 100 || st.Output != "out.webm" {
		t.Fatalf("status = %+v", st)
	}
	if err := s.UpdateCaption("a", func(c *caption.Caption) { c.Visible = false }); err != nil {
		t.Fatalf("edit after export: %v", err)
	}
}

func TestSnapshot_FlattensStylesAndKeepsGeometry(t *testing.T) {
	s := seeded(t)
	p := geometry.Preview{Container: geometry.Size{W: 640, H: 360}, Video: geometry.Size{W: 1920, H: 1080}}.Remeasure()
	s.SetPreview(p)
	snap := s.PublishSnapshot()
	if snap.Preview != p {
		t.Fatalf("preview geometry = %+v", snap.Preview)
	}
	st := snap.Captions[0].Style
	if st.CustomXPercent == nil || *st.CustomXPercent != caption.DefaultXPercent || st.FontSizePx != caption.DefaultFontSizePx {
		t.Fatalf("style not flattened: %+v", st)
	}

	// edits after publishing do not leak into the published snapshot until republished
	_ = s.UpdateCaption("a", func(c *caption.Caption) { c.Style.FontSizePx = 60 })
	if got := s.ExportSnapshot().Captions[0].Style.FontSizePx; got != caption.DefaultFontSizePx {
		t.Fatalf("published snapshot changed to %v", got)
	}
	if got := s.PublishSnapshot().Captions[0].Style.FontSizePx; got != 60 {
		t.Fatalf("republished font size = %v", got)
	}
}

func TestRemoveCaption(t *testing.T) {
	s := seeded(t)
	if err := s.RemoveCaption("a"); err != nil {
		t.Fatal(err)
	}
	if caps := s.Captions(); len(caps) != 1 || caps[0].ID != "b" {
		t.Fatalf("captions = %+v", caps)
	}
	if err := s.RemoveCaption("a"); !errors.Is(err, ErrCaptionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestProject_RoundTrip(t *testing.T) {
	s := seeded(t)
	_ = s.SetVideo(Video{Path: "in.mp4", Info: types.MediaInfo{Width: 1920, Height: 1080, FPS: 30, Duration: 12}})
	_ = s.SetTranscript(types.Transcript{Text: "hello world"})
	_ = s.SetCaptions(ModeTranscript, []caption.Caption{newCaption("transcript-0", "hello world", 0, 1)})
	s.SetPreview(geometry.Preview{Container: geometry.Size{W: 640, H: 360}, Video: geometry.Size{W: 1920, H: 1080}}.Remeasure())

	path := filepath.Join(t.TempDir(), "proj", "project.yaml")
	if err := SaveProject(path, s); err != nil {
		t.Fatal(err)
	}
	got, err := LoadProject(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Video().Path != "in.mp4" || got.Preview().Box.W != 640 {
		t.Fatalf("video/preview lost: %+v %+v", got.Video(), got.Preview())
	}
	caps := got.Captions()
	if len(caps) != 2 || caps[0].Text != "hello [color=#ff0000]world[/color]" {
		t.Fatalf("captions = %+v", caps)
	}
	if len(caps[0].Runs) != 2 || caps[0].Runs[1].Color != "#ff0000" {
		t.Fatalf("runs not re-derived: %+v", caps[0].Runs)
	}
	if len(got.CaptionsFor(ModeTranscript)) != 1 {
		t.Fatal("transcript captions lost")
	}
}

func TestFromProject_RejectsNewerVersion(t *testing.T) {
	if _, err := FromProject(Project{Version: ProjectVersion + 1}); err == nil {
		t.Fatal("expected version error")
	}
}
