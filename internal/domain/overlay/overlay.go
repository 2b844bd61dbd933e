// Package overlay draws captions onto frames. The interactive preview and the export
// compositor both draw through Composer, so they share layout and paint order.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/vector"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/fonts"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/layout"
)

// outline strokes are approximated by stamping the text around a circle
const outlineSteps = 16

type Composer struct {
	fonts *fonts.Registry
	log   *zap.Logger
}

func New(reg *fonts.Registry, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{fonts: reg, log: log}
}

// Metrics exposes the font engine used for layout.
func (c *Composer) Metrics() layout.Metrics { return c.fonts }

// Layout resolves a caption's style, applies scale and lays it out in a box of size box.
func (c *Composer) Layout(cp caption.Caption, box geometry.Size, scale geometry.Scale) (layout.Layout, caption.Resolved) {
	st := cp.Style.Resolve().Scaled(scale)
	lay := layout.Compute(cp.Content(), st, float64(box.W), float64(box.H), c.fonts)
	return lay, st
}

// Compose draws every caption active at t into box, which is the video area of dst.
// It returns how many captions were drawn.
func (c *Composer) Compose(dst draw.Image, box image.Rectangle, caps []caption.Caption, t float64, scale geometry.Scale) int {
	n := 0
	for _, cp := range caps {
		if !cp.ActiveAt(t) {
			continue
		}
		c.Draw(dst, box, cp, scale)
		n++
	}
	return n
}

// Draw paints one caption: background box, else shadow; optional outline; then text.
func (c *Composer) Draw(dst draw.Image, box image.Rectangle, cp caption.Caption, scale geometry.Scale) {
	size := geometry.Size{W: box.Dx(), H: box.Dy()}
	lay, st := c.Layout(cp, size, scale)
	if len(lay.Lines) == 0 {
		return
	}
	if lay.Overflow {
		c.log.Debug("caption wider than its max width, drawing anyway", zap.String("caption", cp.ID))
	}

	region := c.region(lay, st).Intersect(image.Rect(0, 0, size.W, size.H))
	if region.Empty() {
		return
	}
	at := region.Add(box.Min)
	ascent, descent := c.fonts.VMetrics(lay.Font)

	// Opacity applies to the text layers only; the background box stays solid.
	if st.BackgroundColor != "" {
		bg, err := ParseColor(st.BackgroundColor)
		if err != nil {
			c.log.Warn("bad background color", zap.String("caption", cp.ID), zap.Error(err))
		} else {
			pad := st.BackgroundPaddingPx
			bl := image.NewRGBA(region)
			fillRoundRect(bl, layout.Rect{
				X: lay.Column.X - pad,
				Y: lay.Column.Y - pad,
				W: lay.Column.W + 2*pad,
				H: lay.Column.H + 2*pad,
			}, st.BackgroundCornerRadiusPx, bg)
			draw.Draw(dst, at, bl, region.Min, draw.Over)
		}
	}

	layer := image.NewRGBA(region)
	if st.BackgroundColor == "" && st.Shadow != nil {
		if sc, err := ParseColor(st.Shadow.Color); err == nil && sc.A > 0 {
			sl := image.NewRGBA(region)
			c.drawText(sl, lay, st, ascent, descent, st.Shadow.OffsetXPx, st.Shadow.OffsetYPx, &sc)
			var src image.Image = sl
			if st.Shadow.BlurPx > 0 {
				src = imaging.Blur(sl, st.Shadow.BlurPx/2)
				draw.Draw(layer, region, src, image.Point{}, draw.Over)
			} else {
				draw.Draw(layer, region, src, region.Min, draw.Over)
			}
		}
	}

	if st.Outline != nil {
		if oc, err := ParseColor(st.Outline.Color); err == nil {
			w := st.Outline.WidthPx
			for i := 0; i < outlineSteps; i++ {
				a := 2 * math.Pi * float64(i) / outlineSteps
				c.drawText(layer, lay, st, ascent, descent, w*math.Cos(a), w*math.Sin(a), &oc)
			}
		}
	}

	c.drawText(layer, lay, st, ascent, descent, 0, 0, nil)

	alpha := uint8(math.Round(st.Opacity * 255))
	draw.DrawMask(dst, at, layer, region.Min, image.NewUniform(color.Alpha{A: alpha}), image.Point{}, draw.Over)
}

// region is the box-local area a caption can touch, including effects.
func (c *Composer) region(lay layout.Layout, st caption.Resolved) image.Rectangle {
	margin := st.FontSizePx
	if st.BackgroundColor != "" {
		margin += st.BackgroundPaddingPx
	}
	if st.Shadow != nil {
		margin += math.Max(math.Abs(st.Shadow.OffsetXPx), math.Abs(st.Shadow.OffsetYPx)) + 3*st.Shadow.BlurPx
	}
	if st.Outline != nil {
		margin += st.Outline.WidthPx
	}
	x0 := math.Min(lay.Column.X, lay.Bounds.X) - margin
	x1 := math.Max(lay.Column.X+lay.Column.W, lay.Bounds.X+lay.Bounds.W) + margin
	y0 := lay.Bounds.Y - margin
	y1 := lay.Bounds.Y + lay.Bounds.H + margin
	return image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1)))
}

// drawText draws every line offset by dx,dy. A non-nil override paints all runs in one color.
func (c *Composer) drawText(dst draw.Image, lay layout.Layout, st caption.Resolved, ascent, descent, dx, dy float64, override *color.NRGBA) {
	def := image.NewUniform(parseOr(st.Color, color.NRGBA{255, 255, 255, 255}))
	var over image.Image
	if override != nil {
		over = image.NewUniform(*override)
	}
	for _, ln := range lay.Lines {
		if ln.Text == "" {
			continue
		}
		spans := make([]fonts.Span, 0, len(ln.Runs))
		for _, r := range ln.Runs {
			src := over
			if src == nil {
				src = def
				if r.Color != "" {
					src = image.NewUniform(parseOr(r.Color, color.NRGBA{255, 255, 255, 255}))
				}
			}
			spans = append(spans, fonts.Span{Text: r.Text, Src: src})
		}
		baseline := ln.CenterY + (ascent-descent)/2 + dy
		c.fonts.Draw(dst, lay.Font, ln.X+dx, baseline, spans)
	}
}

func parseOr(s string, def color.NRGBA) color.NRGBA {
	c, err := ParseColor(s)
	if err != nil {
		return def
	}
	return c
}

// fillRoundRect fills r (in dst coordinates) with col, rounding corners by radius.
func fillRoundRect(dst *image.RGBA, r layout.Rect, radius float64, col color.NRGBA) {
	b := dst.Bounds()
	if r.W <= 0 || r.H <= 0 || b.Empty() {
		return
	}
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	x0, y0 := float32(r.X-ox), float32(r.Y-oy)
	x1, y1 := float32(r.X+r.W-ox), float32(r.Y+r.H-oy)
	rad := float32(math.Max(0, math.Min(radius, math.Min(r.W, r.H)/2)))

	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(x0+rad, y0)
	z.LineTo(x1-rad, y0)
	z.QuadTo(x1, y0, x1, y0+rad)
	z.LineTo(x1, y1-rad)
	z.QuadTo(x1, y1, x1-rad, y1)
	z.LineTo(x0+rad, y1)
	z.QuadTo(x0, y1, x0, y1-rad)
	z.LineTo(x0, y0+rad)
	z.QuadTo(x0, y0, x0+rad, y0)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(col), image.Point{})
}
