package caption

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forPelevin/capburn/internal/domain/geometry"
)

func TestActiveAt_Boundaries(t *testing.T) {
	c := Caption{ID: "a", StartSec: 2, EndSec: 2, Visible: true}
	if !c.ActiveAt(2) {
		t.Fatalf("zero-length caption must be active at its instant")
	}
	if c.ActiveAt(2.0001) {
		t.Fatalf("zero-length caption must be inactive right after")
	}
	if c.ActiveAt(1.9999) {
		t.Fatalf("inactive before start")
	}
	c.Visible = false
	if c.ActiveAt(2) {
		t.Fatalf("hidden caption must never be active")
	}
}

func TestResolve_Defaults(t *testing.T) {
	r := Style{}.Resolve()
	if r.XPercent != 50 || r.YPercent != 85 || r.FontSizePx != 24 || r.MaxWidthPercent != 80 {
		t.Fatalf("unexpected geometry defaults: %+v", r)
	}
	if r.LineHeightMultiplier != 1.2 || r.Opacity != 1 || r.BackgroundPaddingPx != 12 {
		t.Fatalf("unexpected metric defaults: %+v", r)
	}
	if r.Shadow == nil || *r.Shadow != DefaultShadow {
		t.Fatalf("expected default shadow without background, got %+v", r.Shadow)
	}
	if r.TextAlign != AlignCenter || r.VerticalAnchor != AnchorBottom {
		t.Fatalf("unexpected align defaults: %+v", r)
	}
}

func TestResolve_Overrides(t *testing.T) {
	s := Style{
		BackgroundColor: "#000000cc",
		VerticalAnchor:  AnchorTop,
		CustomXPercent:  Float(130),
		MaxWidthPercent: Float(10),
		Opacity:         Float(0.5),
	}
	r := s.Resolve()
	if r.Shadow != nil {
		t.Fatalf("background disables shadow")
	}
	if r.XPercent != 100 || r.YPercent != 15 {
		t.Fatalf("unexpected position %.1f,%.1f", r.XPercent, r.YPercent)
	}
	if r.MaxWidthPercent != MinMaxWidthPercent {
		t.Fatalf("width must clamp to %v, got %v", MinMaxWidthPercent, r.MaxWidthPercent)
	}
	if r.Opacity != 0.5 {
		t.Fatalf("opacity %v", r.Opacity)
	}
}

func TestResolved_Scaled(t *testing.T) {
	r := Style{Outline: &Outline{Color: "#000", WidthPx: 2}}.Resolve()
	s := r.Scaled(geometry.Scale{X: 3, Y: 2})
	if s.FontSizePx != 48 {
		t.Fatalf("font scales by Y, got %v", s.FontSizePx)
	}
	if s.Shadow.OffsetXPx != 6 || s.Shadow.OffsetYPx != 4 || s.Shadow.BlurPx != 12 {
		t.Fatalf("shadow scale %+v", *s.Shadow)
	}
	if s.Outline.WidthPx != 6 {
		t.Fatalf("outline scales by max, got %v", s.Outline.WidthPx)
	}
	if r.Shadow.OffsetXPx != 2 {
		t.Fatalf("Scaled must not mutate the source")
	}
	if s.XPercent != r.XPercent || s.MaxWidthPercent != r.MaxWidthPercent {
		t.Fatalf("percent geometry must not scale")
	}
}

func TestFlatten_IsStable(t *testing.T) {
	s := Style{VerticalAnchor: AnchorCenter, FontSizePx: 30}
	f := s.Flatten()
	if f.CustomXPercent == nil || *f.CustomYPercent != 50 || *f.MaxWidthPercent != 80 {
		t.Fatalf("flatten must set geometry: %+v", f)
	}
	if got, want := f.Resolve(), s.Resolve(); got.FontSizePx != want.FontSizePx || got.YPercent != want.YPercent || *got.Shadow != *want.Shadow {
		t.Fatalf("flattened style resolves differently: %+v vs %+v", got, want)
	}
}

func TestSetText_NormalizesMarkup(t *testing.T) {
	var c Caption
	c.SetText("[color=#FF0000]hi[/color] [color=bad]there")
	if c.Text != "[color=#ff0000]hi[/color] there" {
		t.Fatalf("Text = %q", c.Text)
	}
	if c.Plain() != "hi there" {
		t.Fatalf("Plain = %q", c.Plain())
	}
}

func TestValidateAll(t *testing.T) {
	caps := []Caption{
		{ID: "a", StartSec: 1, EndSec: 2},
		{ID: "b", StartSec: 3, EndSec: 3, Style: Style{MaxWidthPercent: Float(50)}},
	}
	if err := ValidateAll(caps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caps = append(caps, Caption{ID: "a", StartSec: 0, EndSec: 1})
	if err := ValidateAll(caps); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := (Caption{ID: "x", StartSec: 2, EndSec: 1}).Validate(); err == nil {
		t.Fatalf("expected window error")
	}
}

func TestPresets_BuiltinAndOverride(t *testing.T) {
	p := BuiltinPresets()
	for _, id := range []string{"modern", "playful", "elegant", "bold", "minimal"} {
		if _, ok := p[id]; !ok {
			t.Fatalf("missing builtin preset %q", id)
		}
	}
	if p["modern"].Style.BackgroundColor != "#000000cc" {
		t.Fatalf("modern background %q", p["modern"].Style.BackgroundColor)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	data := "modern:\n  style:\n    color: \"#00ff00\"\nneon:\n  name: Neon\n  style:\n    color: \"#39ff14\"\n    fontSizePx: 40\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if p["modern"].Style.Color != "#00ff00" || p["neon"].Style.FontSizePx != 40 {
		t.Fatalf("override not applied: %+v", p)
	}
}

func TestPresets_ApplyKeepsGeometry(t *testing.T) {
	p := BuiltinPresets()
	s := Style{CustomXPercent: Float(20), CustomYPercent: Float(30), MaxWidthPercent: Float(40), Color: "#123456"}
	out, err := p.Apply("bold", s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Color != "#ffff00" || *out.CustomXPercent != 20 || *out.CustomYPercent != 30 || *out.MaxWidthPercent != 40 {
		t.Fatalf("unexpected applied style %+v", out)
	}
	if _, err := p.Apply("nope", s); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}
