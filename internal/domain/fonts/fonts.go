// Package fonts provides the one font engine used for measuring and drawing captions.
//
// Measure and Draw walk text with the same advance, kerning and letter spacing
// arithmetic, so a measured line is exactly as wide as the drawn one.
package fonts

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/forPelevin/capburn/internal/domain/layout"
)

const (
	FamilySans = "go"
	FamilyMono = "go mono"

	weightRegular = "regular"
	weightBold    = "bold"
)

// aliases maps common CSS family names onto registered families.
var aliases = map[string]string{
	"sans-serif": FamilySans,
	"serif":      FamilySans,
	"system-ui":  FamilySans,
	"monospace":  FamilyMono,
	"courier":    FamilyMono,
	"consolas":   FamilyMono,
	"menlo":      FamilyMono,
}

type faceKey struct {
	family string
	weight string
	size   float64
}

// Registry resolves font specs to cached faces. Faces are not safe for concurrent
// use, so every call into them holds mu.
type Registry struct {
	mu       sync.Mutex
	fonts    map[string]map[string]*opentype.Font
	faces    map[faceKey]font.Face
	fallback string
}

var _ layout.Metrics = (*Registry)(nil)

// NewRegistry returns a registry holding the Go font family (sans and mono, regular and bold).
func NewRegistry() (*Registry, error) {
	r := &Registry{
		fonts:    map[string]map[string]*opentype.Font{},
		faces:    map[faceKey]font.Face{},
		fallback: FamilySans,
	}
	builtin := []struct {
		family, weight string
		ttf            []byte
	}{
		{FamilySans, weightRegular, goregular.TTF},
		{FamilySans, weightBold, gobold.TTF},
		{FamilyMono, weightRegular, gomono.TTF},
		{FamilyMono, weightBold, gomonobold.TTF},
	}
	for _, b := range builtin {
		if err := r.Register(b.family, b.weight, b.ttf); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a TrueType or OpenType font under family and weight.
func (r *Registry) Register(family, weight string, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s/%s: %w", family, weight, err)
	}
	fam := normalizeFamily(family)
	w := normalizeWeight(weight)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fonts[fam] == nil {
		r.fonts[fam] = map[string]*opentype.Font{}
	}
	r.fonts[fam][w] = f
	for k := range r.faces {
		if k.family == fam && k.weight == w {
			delete(r.faces, k)
		}
	}
	return nil
}

// LoadDir registers every .ttf and .otf file in dir. "Inter-Bold.ttf" becomes
// family "inter", weight bold. It returns the number of fonts registered.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read fonts dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".ttf" && ext != ".otf" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		family, weight := familyFromFile(e.Name())
		if err := r.Register(family, weight, b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func familyFromFile(name string) (string, string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	family, style, found := strings.Cut(base, "-")
	if !found {
		return family, weightRegular
	}
	if strings.Contains(strings.ToLower(style), "bold") || strings.Contains(strings.ToLower(style), "black") {
		return family, weightBold
	}
	return family, weightRegular
}

// Families lists registered family names.
func (r *Registry) Families() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.fonts))
	for f := range r.fonts {
		out = append(out, f)
	}
	return out
}

// Measure returns the advance width of text, including kerning and letter spacing.
func (r *Registry) Measure(spec layout.FontSpec, text string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	face, err := r.faceLocked(spec)
	if err != nil {
		return 0
	}
	w, n := advance(face, text)
	return fixedToFloat(w) + spec.LetterSpacingPx*float64(n)
}

// VMetrics returns ascent and descent in pixels.
func (r *Registry) VMetrics(spec layout.FontSpec) (ascent, descent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	face, err := r.faceLocked(spec)
	if err != nil {
		return spec.SizePx * 0.8, spec.SizePx * 0.2
	}
	m := face.Metrics()
	return fixedToFloat(m.Ascent), fixedToFloat(m.Descent)
}

// Span is text drawn with one source image (usually a uniform color).
type Span struct {
	Text string
	Src  image.Image
}

// Draw renders spans left to right starting at x with the given baseline and returns
// the total advance. Kerning applies across span boundaries, as in Measure.
func (r *Registry) Draw(dst draw.Image, spec layout.FontSpec, x, baseline float64, spans []Span) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	face, err := r.faceLocked(spec)
	if err != nil {
		return 0
	}

	var (
		pen  fixed.Int26_6
		prev rune = -1
		n    int
	)
	y := floatToFixed(baseline)
	for _, sp := range spans {
		for _, c := range sp.Text {
			if prev >= 0 {
				pen += face.Kern(prev, c)
			}
			dot := fixed.Point26_6{X: floatToFixed(x+spec.LetterSpacingPx*float64(n)) + pen, Y: y}
			dr, mask, maskp, adv, ok := face.Glyph(dot, c)
			if ok && sp.Src != nil {
				draw.DrawMask(dst, dr, sp.Src, dr.Min, mask, maskp, draw.Over)
			}
			if !ok {
				adv, _ = face.GlyphAdvance(c)
			}
			pen += adv
			prev = c
			n++
		}
	}
	return fixedToFloat(pen) + spec.LetterSpacingPx*float64(n)
}

func advance(face font.Face, text string) (fixed.Int26_6, int) {
	var (
		w    fixed.Int26_6
		prev rune = -1
		n    int
	)
	for _, c := range text {
		if prev >= 0 {
			w += face.Kern(prev, c)
		}
		a, _ := face.GlyphAdvance(c)
		w += a
		prev = c
		n++
	}
	return w, n
}

func (r *Registry) faceLocked(spec layout.FontSpec) (font.Face, error) {
	fam := r.resolveFamilyLocked(spec.Family)
	w := normalizeWeight(spec.Weight)
	byWeight := r.fonts[fam]
	f, ok := byWeight[w]
	if !ok {
		f, ok = byWeight[weightRegular]
		w = weightRegular
	}
	if !ok {
		return nil, fmt.Errorf("no face for family %q", spec.Family)
	}
	size := spec.SizePx
	if size <= 0 {
		size = 1
	}
	key := faceKey{family: fam, weight: w, size: size}
	if face, ok := r.faces[key]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("new face %s/%s@%.2f: %w", fam, w, size, err)
	}
	r.faces[key] = face
	return face, nil
}

// resolveFamilyLocked tries every name of a CSS-style family list, then aliases,
// then the fallback.
func (r *Registry) resolveFamilyLocked(family string) string {
	for _, part := range strings.Split(family, ",") {
		name := normalizeFamily(part)
		if _, ok := r.fonts[name]; ok {
			return name
		}
		if a, ok := aliases[name]; ok {
			if _, ok := r.fonts[a]; ok {
				return a
			}
		}
	}
	return r.fallback
}

func normalizeFamily(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeWeight(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "bold", "bolder", "black", "heavy", "semibold", "extrabold":
		return weightBold
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 600 {
		return weightBold
	}
	return weightRegular
}

func fixedToFloat(v fixed.Int26_6) float64 { return float64(v) / 64 }

func floatToFixed(v float64) fixed.Int26_6 { return fixed.Int26_6(math.Round(v * 64)) }
