// Package subtitles writes captions as an ASS sidecar so players and editors that do not
// take burned-in video can still show them.
package subtitles

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
)

const (
	styleOutlined = "Caption"
	styleBoxed    = "Boxed"
)

// RenderASS renders the visible captions at video resolution. Pixel metrics are scaled
// from the preview box the same way the burned-in export scales them. Each event is
// positioned at its anchor with \an5, matching the centered text block of the overlay.
func RenderASS(caps []caption.Caption, video geometry.Size, previewBox geometry.Box) (string, error) {
	if video.Empty() {
		return "", fmt.Errorf("invalid video size %dx%d", video.W, video.H)
	}
	scale := geometry.ExportScale(video, previewBox)

	visible := make([]caption.Caption, 0, len(caps))
	for _, c := range caps {
		if c.Visible && c.EndSec > c.StartSec {
			visible = append(visible, c)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].StartSec < visible[j].StartSec })

	var b strings.Builder
	b.WriteString(assHeader(video))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for i, c := range visible {
		line, err := dialogue(c, video, scale, i)
		if err != nil {
			return "", fmt.Errorf("caption %s: %w", c.ID, err)
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

func dialogue(c caption.Caption, video geometry.Size, scale geometry.Scale, layer int) (string, error) {
	r := c.Style.Resolve().Scaled(scale)
	base, err := overlay.ParseColor(r.Color)
	if err != nil {
		return "", err
	}

	style := styleOutlined
	var tags strings.Builder
	fmt.Fprintf(&tags, "\\an5\\pos(%d,%d)", round(r.XPercent/100*float64(video.W)), round(r.YPercent/100*float64(video.H)))
	fmt.Fprintf(&tags, "\\fn%s\\fs%d", sanitizeASS(r.FontFamily), round(r.FontSizePx))
	if strings.EqualFold(r.FontWeight, "bold") || strings.HasPrefix(r.FontWeight, "7") || strings.HasPrefix(r.FontWeight, "8") || strings.HasPrefix(r.FontWeight, "9") {
		tags.WriteString("\\b1")
	} else {
		tags.WriteString("\\b0")
	}
	if r.LetterSpacingPx != 0 {
		fmt.Fprintf(&tags, "\\fsp%.1f", r.LetterSpacingPx)
	}
	fmt.Fprintf(&tags, "\\1c%s\\1a%s", assColor(base), assAlpha(base, r.Opacity))

	switch {
	case r.BackgroundColor != "":
		style = styleBoxed
		bg, err := overlay.ParseColor(r.BackgroundColor)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&tags, "\\3c%s\\3a%s\\bord%.1f\\shad0", assColor(bg), assAlpha(bg, 1), r.BackgroundPaddingPx)
	default:
		if r.Outline != nil {
			oc, err := overlay.ParseColor(r.Outline.Color)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&tags, "\\3c%s\\3a%s\\bord%.1f", assColor(oc), assAlpha(oc, r.Opacity), r.Outline.WidthPx)
		} else {
			tags.WriteString("\\bord0")
		}
		if r.Shadow != nil {
			sc, err := overlay.ParseColor(r.Shadow.Color)
			if err != nil {
				return "", err
			}
			off := math.Max(math.Abs(r.Shadow.OffsetXPx), math.Abs(r.Shadow.OffsetYPx))
			fmt.Fprintf(&tags, "\\4c%s\\4a%s\\shad%.1f\\blur%.1f", assColor(sc), assAlpha(sc, r.Opacity), off, r.Shadow.BlurPx/2)
		}
	}

	var text strings.Builder
	for _, run := range c.Content() {
		if run.Color != "" {
			rc, err := overlay.ParseColor(run.Color)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&text, "{\\1c%s}%s{\\1c%s}", assColor(rc), sanitizeASS(run.Text), assColor(base))
			continue
		}
		text.WriteString(sanitizeASS(run.Text))
	}

	return fmt.Sprintf("Dialogue: %d,%s,%s,%s,,0,0,0,,{%s}%s\n",
		layer, assTime(dur(c.StartSec)), assTime(dur(c.EndSec)), style, tags.String(), text.String()), nil
}

func assHeader(video geometry.Size) string {
	return fmt.Sprintf(strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: %s, %s, 24, &H00FFFFFF, &H00FFFFFF, &H00000000, &H80000000, 1,0,0,0,100,100,0,0,1,0,2,5, 0,0,0,1
Style: %s, %s, 24, &H00FFFFFF, &H00FFFFFF, &H80000000, &H80000000, 1,0,0,0,100,100,0,0,3,12,0,5, 0,0,0,1
`), video.W, video.H, styleOutlined, caption.DefaultFontFamily, styleBoxed, caption.DefaultFontFamily) + "\n"
}

// assColor encodes c as &HBBGGRR&.
func assColor(c color.NRGBA) string {
	return fmt.Sprintf("&H%02X%02X%02X&", c.B, c.G, c.R)
}

// assAlpha encodes transparency (00 opaque, FF invisible) combining the color alpha with opacity.
func assAlpha(c color.NRGBA, opacity float64) string {
	a := float64(c.A) / 255 * geometry.Clamp(opacity, 0, 1)
	return fmt.Sprintf("&H%02X&", 255-int(math.Round(a*255)))
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\r\n", "\\N")
	s = strings.ReplaceAll(s, "\n", "\\N")
	return s
}

func round(v float64) int { return int(math.Round(v)) }

func dur(sec float64) time.Duration { return time.Duration(math.Round(sec * float64(time.Second))) }
