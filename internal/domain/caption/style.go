package caption

import (
	"math"
	"strings"

	"github.com/forPelevin/capburn/internal/domain/geometry"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type Anchor string

const (
	AnchorTop    Anchor = "top"
	AnchorCenter Anchor = "center"
	AnchorBottom Anchor = "bottom"
)

// Editor bounds and defaults.
const (
	DefaultXPercent        = 50.0
	DefaultYPercent        = 85.0
	DefaultFontSizePx      = 24.0
	DefaultMaxWidthPercent = 80.0

	MinFontSizePx      = 12.0
	MaxFontSizePx      = 72.0
	MinMaxWidthPercent = 20.0
	MaxMaxWidthPercent = 95.0

	DefaultLineHeight = 1.2
	DefaultPaddingPx  = 12.0

	DefaultFontFamily = "Inter"
	DefaultFontWeight = "bold"
	DefaultColor      = "#ffffff"
)

// DefaultShadow is drawn behind text that has no background box.
var DefaultShadow = Shadow{Color: "rgba(0,0,0,0.8)", BlurPx: 4, OffsetXPx: 2, OffsetYPx: 2}

type Shadow struct {
	Color     string  `yaml:"color" json:"color"`
	BlurPx    float64 `yaml:"blurPx" json:"blurPx"`
	OffsetXPx float64 `yaml:"offsetXPx" json:"offsetXPx"`
	OffsetYPx float64 `yaml:"offsetYPx" json:"offsetYPx"`
}

type Outline struct {
	Color   string  `yaml:"color" json:"color"`
	WidthPx float64 `yaml:"widthPx" json:"widthPx"`
}

// Style is the stored caption style. Nil and zero fields mean "use the default";
// Resolve is the only place defaults are filled in.
type Style struct {
	FontFamily      string  `yaml:"fontFamily,omitempty" json:"fontFamily,omitempty"`
	FontSizePx      float64 `yaml:"fontSizePx,omitempty" json:"fontSizePx,omitempty"`
	FontWeight      string  `yaml:"fontWeight,omitempty" json:"fontWeight,omitempty"`
	Color           string  `yaml:"color,omitempty" json:"color,omitempty"`
	BackgroundColor string  `yaml:"backgroundColor,omitempty" json:"backgroundColor,omitempty"`
	TextAlign       Align   `yaml:"textAlign,omitempty" json:"textAlign,omitempty"`
	VerticalAnchor  Anchor  `yaml:"verticalAnchor,omitempty" json:"verticalAnchor,omitempty"`

	LetterSpacingPx          *float64 `yaml:"letterSpacingPx,omitempty" json:"letterSpacingPx,omitempty"`
	LineHeightMultiplier     *float64 `yaml:"lineHeightMultiplier,omitempty" json:"lineHeightMultiplier,omitempty"`
	Opacity                  *float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Shadow                   *Shadow  `yaml:"shadow,omitempty" json:"shadow,omitempty"`
	Outline                  *Outline `yaml:"outline,omitempty" json:"outline,omitempty"`
	BackgroundPaddingPx      *float64 `yaml:"backgroundPaddingPx,omitempty" json:"backgroundPaddingPx,omitempty"`
	BackgroundCornerRadiusPx *float64 `yaml:"backgroundCornerRadiusPx,omitempty" json:"backgroundCornerRadiusPx,omitempty"`

	CustomXPercent  *float64 `yaml:"customXPercent,omitempty" json:"customXPercent,omitempty"`
	CustomYPercent  *float64 `yaml:"customYPercent,omitempty" json:"customYPercent,omitempty"`
	MaxWidthPercent *float64 `yaml:"maxWidthPercent,omitempty" json:"maxWidthPercent,omitempty"`
}

// Resolved is a Style with every field concrete.
type Resolved struct {
	FontFamily      string
	FontSizePx      float64
	FontWeight      string
	Color           string
	BackgroundColor string
	TextAlign       Align
	VerticalAnchor  Anchor

	LetterSpacingPx          float64
	LineHeightMultiplier     float64
	Opacity                  float64
	Shadow                   *Shadow
	Outline                  *Outline
	BackgroundPaddingPx      float64
	BackgroundCornerRadiusPx float64

	XPercent        float64
	YPercent        float64
	MaxWidthPercent float64
}

// Resolve fills defaults. Preview, export and subtitle sidecars all go through it.
func (s Style) Resolve() Resolved {
	r := Resolved{
		FontFamily:           strings.TrimSpace(s.FontFamily),
		FontSizePx:           s.FontSizePx,
		FontWeight:           strings.TrimSpace(s.FontWeight),
		Color:                strings.TrimSpace(s.Color),
		BackgroundColor:      strings.TrimSpace(s.BackgroundColor),
		TextAlign:            s.TextAlign,
		VerticalAnchor:       s.VerticalAnchor,
		LineHeightMultiplier: DefaultLineHeight,
		Opacity:              1,
		BackgroundPaddingPx:  DefaultPaddingPx,
		MaxWidthPercent:      DefaultMaxWidthPercent,
	}
	if r.FontFamily == "" {
		r.FontFamily = DefaultFontFamily
	}
	if r.FontSizePx <= 0 || math.IsNaN(r.FontSizePx) {
		r.FontSizePx = DefaultFontSizePx
	}
	if r.FontWeight == "" {
		r.FontWeight = DefaultFontWeight
	}
	if r.Color == "" {
		r.Color = DefaultColor
	}
	switch r.TextAlign {
	case AlignLeft, AlignRight, AlignCenter:
	default:
		r.TextAlign = AlignCenter
	}
	switch r.VerticalAnchor {
	case AnchorTop, AnchorCenter, AnchorBottom:
	default:
		r.VerticalAnchor = AnchorBottom
	}

	if s.LetterSpacingPx != nil {
		r.LetterSpacingPx = *s.LetterSpacingPx
	}
	if s.LineHeightMultiplier != nil && *s.LineHeightMultiplier > 0 {
		r.LineHeightMultiplier = *s.LineHeightMultiplier
	}
	if s.Opacity != nil {
		r.Opacity = geometry.Clamp(*s.Opacity, 0, 1)
	}
	if s.BackgroundPaddingPx != nil && *s.BackgroundPaddingPx >= 0 {
		r.BackgroundPaddingPx = *s.BackgroundPaddingPx
	}
	if s.BackgroundCornerRadiusPx != nil && *s.BackgroundCornerRadiusPx >= 0 {
		r.BackgroundCornerRadiusPx = *s.BackgroundCornerRadiusPx
	}
	if s.Outline != nil && s.Outline.Color != "" && s.Outline.WidthPx > 0 {
		o := *s.Outline
		r.Outline = &o
	}
	if r.BackgroundColor == "" {
		sh := DefaultShadow
		if s.Shadow != nil {
			sh = *s.Shadow
			if sh.Color == "" {
				sh.Color = DefaultShadow.Color
			}
		}
		r.Shadow = &sh
	}

	r.XPercent = DefaultXPercent
	r.YPercent = AnchorYPercent(r.VerticalAnchor)
	if s.CustomXPercent != nil {
		r.XPercent = geometry.Clamp(*s.CustomXPercent, 0, 100)
	}
	if s.CustomYPercent != nil {
		r.YPercent = geometry.Clamp(*s.CustomYPercent, 0, 100)
	}
	if s.MaxWidthPercent != nil {
		r.MaxWidthPercent = ClampWidth(*s.MaxWidthPercent)
	}
	return r
}

// AnchorYPercent is the default vertical position for an anchor.
func AnchorYPercent(a Anchor) float64 {
	switch a {
	case AnchorTop:
		return 15
	case AnchorCenter:
		return 50
	default:
		return DefaultYPercent
	}
}

// Scaled applies export scale factors to pixel metrics. Percent geometry is left alone.
func (r Resolved) Scaled(s geometry.Scale) Resolved {
	if s == geometry.Identity {
		return r
	}
	m := s.Max()
	r.FontSizePx *= s.Y
	r.LetterSpacingPx *= s.X
	r.BackgroundPaddingPx *= m
	r.BackgroundCornerRadiusPx *= m
	if r.Shadow != nil {
		sh := *r.Shadow
		sh.OffsetXPx *= s.X
		sh.OffsetYPx *= s.Y
		sh.BlurPx *= m
		r.Shadow = &sh
	}
	if r.Outline != nil {
		o := *r.Outline
		o.WidthPx *= m
		r.Outline = &o
	}
	return r
}

// Flatten returns a Style with every optional field set to its resolved value.
// Flattened styles are what the export snapshot carries.
func (s Style) Flatten() Style {
	r := s.Resolve()
	out := Style{
		FontFamily:               r.FontFamily,
		FontSizePx:               r.FontSizePx,
		FontWeight:               r.FontWeight,
		Color:                    r.Color,
		BackgroundColor:          r.BackgroundColor,
		TextAlign:                r.TextAlign,
		VerticalAnchor:           r.VerticalAnchor,
		LetterSpacingPx:          ptr(r.LetterSpacingPx),
		LineHeightMultiplier:     ptr(r.LineHeightMultiplier),
		Opacity:                  ptr(r.Opacity),
		BackgroundPaddingPx:      ptr(r.BackgroundPaddingPx),
		BackgroundCornerRadiusPx: ptr(r.BackgroundCornerRadiusPx),
		CustomXPercent:           ptr(r.XPercent),
		CustomYPercent:           ptr(r.YPercent),
		MaxWidthPercent:          ptr(r.MaxWidthPercent),
	}
	if r.Shadow != nil && s.Shadow != nil {
		sh := *r.Shadow
		out.Shadow = &sh
	}
	if r.Outline != nil {
		o := *r.Outline
		out.Outline = &o
	}
	return out
}

func ClampFontSize(v float64) float64 { return geometry.Clamp(v, MinFontSizePx, MaxFontSizePx) }
func ClampWidth(v float64) float64    { return geometry.Clamp(v, MinMaxWidthPercent, MaxMaxWidthPercent) }

// Float returns a pointer to v, for building styles in code.
func Float(v float64) *float64 { return ptr(v) }

func ptr[T any](v T) *T { return &v }
