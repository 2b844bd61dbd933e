// Package layout wraps and positions caption text inside a video box.
//
// Compute is pure: the same runs, style, box and identically configured metrics
// always produce byte-identical lines. Preview and export both call it.
package layout

import (
	"strings"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/richtext"
)

// FontSpec selects a face and the spacing applied while measuring and drawing.
type FontSpec struct {
	Family          string
	Weight          string
	SizePx          float64
	LetterSpacingPx float64
}

// Metrics measures the advance width of text in pixels.
type Metrics interface {
	Measure(spec FontSpec, text string) float64
}

type Line struct {
	Text  string
	Runs  []richtext.Run
	Width float64
	// X is the left edge and CenterY the vertical middle, in video-box pixels.
	X       float64
	CenterY float64
	// Overflow marks a single word wider than the max width.
	Overflow bool
}

type Rect struct {
	X, Y, W, H float64
}

type Layout struct {
	Lines      []Line
	Font       FontSpec
	LineHeight float64
	MaxWidth   float64
	AnchorX    float64
	AnchorY    float64
	// Bounds encloses the drawn text; Column is the max-width block around the anchor.
	Bounds   Rect
	Column   Rect
	Overflow bool
}

// Spec derives the font spec for a resolved style.
func Spec(st caption.Resolved) FontSpec {
	return FontSpec{
		Family:          st.FontFamily,
		Weight:          st.FontWeight,
		SizePx:          st.FontSizePx,
		LetterSpacingPx: st.LetterSpacingPx,
	}
}

// Compute lays out runs for a style inside a box of boxW x boxH pixels.
// Style pixel metrics are used as given; callers scale them before calling.
func Compute(runs []richtext.Run, st caption.Resolved, boxW, boxH float64, m Metrics) Layout {
	spec := Spec(st)
	maxW := st.MaxWidthPercent / 100 * boxW
	lay := Layout{
		Font:       spec,
		LineHeight: st.FontSizePx * st.LineHeightMultiplier,
		MaxWidth:   maxW,
		AnchorX:    st.XPercent / 100 * boxW,
		AnchorY:    st.YPercent / 100 * boxH,
	}

	plain := richtext.Plain(runs)
	for _, b := range wrap(plain, maxW, spec, m) {
		lay.Lines = append(lay.Lines, Line{
			Text:     plain[b.start:b.end],
			Runs:     richtext.Slice(runs, b.start, b.end),
			Width:    b.width,
			Overflow: b.overflow,
		})
		if b.overflow {
			lay.Overflow = true
		}
	}

	total := lay.LineHeight * float64(len(lay.Lines))
	top := lay.AnchorY - total/2
	colLeft := lay.AnchorX - maxW/2
	lay.Column = Rect{X: colLeft, Y: top, W: maxW, H: total}

	minX, maxX := lay.AnchorX, lay.AnchorX
	for i := range lay.Lines {
		ln := &lay.Lines[i]
		switch st.TextAlign {
		case caption.AlignLeft:
			ln.X = colLeft
		case caption.AlignRight:
			ln.X = colLeft + maxW - ln.Width
		default:
			ln.X = lay.AnchorX - ln.Width/2
		}
		ln.CenterY = top + (float64(i)+0.5)*lay.LineHeight
		if i == 0 || ln.X < minX {
			minX = ln.X
		}
		if i == 0 || ln.X+ln.Width > maxX {
			maxX = ln.X + ln.Width
		}
	}
	lay.Bounds = Rect{X: minX, Y: top, W: maxX - minX, H: total}
	return lay
}

type lineBreak struct {
	start, end int
	width      float64
	overflow   bool
}

// wrap splits plain text on newlines, then packs words greedily. Offsets index plain.
func wrap(plain string, maxW float64, spec FontSpec, m Metrics) []lineBreak {
	var out []lineBreak
	base := 0
	for _, para := range strings.Split(plain, "\n") {
		out = append(out, wrapParagraph(para, base, maxW, spec, m)...)
		base += len(para) + 1
	}
	return out
}

func wrapParagraph(para string, base int, maxW float64, spec FontSpec, m Metrics) []lineBreak {
	words := wordSpans(para)
	if len(words) == 0 {
		// keep empty lines so explicit blank lines take vertical space
		return []lineBreak{{start: base, end: base}}
	}

	var out []lineBreak
	cur := lineBreak{start: -1}
	for _, w := range words {
		if cur.start < 0 {
			cur = lineBreak{start: w[0], end: w[1], width: m.Measure(spec, para[w[0]:w[1]])}
			continue
		}
		candidate := para[cur.start:w[1]]
		width := m.Measure(spec, candidate)
		if width > maxW {
			out = append(out, cur)
			cur = lineBreak{start: w[0], end: w[1], width: m.Measure(spec, para[w[0]:w[1]])}
			continue
		}
		cur.end, cur.width = w[1], width
	}
	out = append(out, cur)

	for i := range out {
		b := &out[i]
		b.overflow = b.width > maxW
		b.start += base
		b.end += base
	}
	return out
}

// wordSpans returns [start,end) byte offsets of space-separated words.
func wordSpans(s string) [][2]int {
	var out [][2]int
	start := -1
	for i := 0; i < len(s); i++ {
		sp := s[i] == ' ' || s[i] == '\t' || s[i] == '\r'
		switch {
		case sp && start >= 0:
			out = append(out, [2]int{start, i})
			start = -1
		case !sp && start < 0:
			start = i
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(s)})
	}
	return out
}
