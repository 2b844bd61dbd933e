package overlay

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

var named = map[string]color.NRGBA{
	"white":       {255, 255, 255, 255},
	"black":       {0, 0, 0, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa, rgb(r,g,b), rgba(r,g,b,a) and a few names.
func ParseColor(s string) (color.NRGBA, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[v]; ok {
		return c, nil
	}
	switch {
	case strings.HasPrefix(v, "#"):
		return parseHex(v[1:])
	case strings.HasPrefix(v, "rgba(") && strings.HasSuffix(v, ")"):
		return parseFunc(v[5:len(v)-1], true)
	case strings.HasPrefix(v, "rgb(") && strings.HasSuffix(v, ")"):
		return parseFunc(v[4:len(v)-1], false)
	}
	return color.NRGBA{}, fmt.Errorf("unsupported color %q", s)
}

func parseHex(h string) (color.NRGBA, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("bad hex color #%s", h)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("bad hex color #%s: %w", h, err)
	}
	return color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

func parseFunc(args string, alpha bool) (color.NRGBA, error) {
	parts := strings.Split(args, ",")
	want := 3
	if alpha {
		want = 4
	}
	if len(parts) != want {
		return color.NRGBA{}, fmt.Errorf("bad color function arguments %q", args)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || f < 0 || f > 255 {
			return color.NRGBA{}, fmt.Errorf("bad color channel %q", parts[i])
		}
		ch[i] = uint8(f + 0.5)
	}
	a := uint8(255)
	if alpha {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || f < 0 || f > 1 {
			return color.NRGBA{}, fmt.Errorf("bad alpha %q", parts[3])
		}
		a = uint8(f*255 + 0.5)
	}
	return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: a}, nil
}
