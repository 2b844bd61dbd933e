// Package richtext handles inline color spans of the form [color=#RRGGBB]...[/color].
//
// Text is parsed once into runs. Markup is only produced again at the storage
// boundary via Serialize.
package richtext

import (
	"regexp"
	"strings"
)

// Run is a span of plain text drawn in one color. Empty Color means the style default.
type Run struct {
	Text  string `json:"text" yaml:"text"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

var (
	// any marker that looks like a color tag, well-formed or not
	reMarker = regexp.MustCompile(`\[/?color(?:=[^\]]*)?\]`)
	reOpen   = regexp.MustCompile(`^\[color=(#[0-9a-fA-F]{6})\]$`)
)

const closeMarker = "[/color]"

type token struct {
	text  string
	open  string // color for a valid open marker
	close bool
	// paired is set for markers that have a matching partner
	paired bool
}

// Parse converts markup into runs. Unpaired and malformed markers are dropped,
// nested spans use the innermost color, and adjacent runs of the same color merge.
func Parse(s string) []Run {
	toks := tokenize(s)

	var stack []int
	for i := range toks {
		switch {
		case toks[i].open != "":
			stack = append(stack, i)
		case toks[i].close:
			if len(stack) == 0 {
				continue
			}
			j := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			toks[i].paired = true
			toks[j].paired = true
		}
	}

	var out []Run
	var colors []string
	for _, t := range toks {
		switch {
		case t.open != "":
			if t.paired {
				colors = append(colors, t.open)
			}
		case t.close:
			if t.paired && len(colors) > 0 {
				colors = colors[:len(colors)-1]
			}
		case t.text != "":
			c := ""
			if len(colors) > 0 {
				c = colors[len(colors)-1]
			}
			out = appendRun(out, Run{Text: t.text, Color: c})
		}
	}
	return out
}

func tokenize(s string) []token {
	var toks []token
	last := 0
	for _, m := range reMarker.FindAllStringIndex(s, -1) {
		if m[0] > last {
			toks = append(toks, token{text: s[last:m[0]]})
		}
		marker := s[m[0]:m[1]]
		switch {
		case marker == closeMarker:
			toks = append(toks, token{close: true})
		default:
			if sub := reOpen.FindStringSubmatch(marker); sub != nil {
				toks = append(toks, token{open: strings.ToLower(sub[1])})
			}
			// malformed markers produce no token at all
		}
		last = m[1]
	}
	if last < len(s) {
		toks = append(toks, token{text: s[last:]})
	}
	return toks
}

func appendRun(runs []Run, r Run) []Run {
	if r.Text == "" {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Color == r.Color {
		runs[n-1].Text += r.Text
		return runs
	}
	return append(runs, r)
}

// Serialize renders runs back into markup.
func Serialize(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		if r.Color == "" {
			b.WriteString(r.Text)
			continue
		}
		b.WriteString("[color=")
		b.WriteString(r.Color)
		b.WriteString("]")
		b.WriteString(r.Text)
		b.WriteString(closeMarker)
	}
	return b.String()
}

// Plain concatenates run text.
func Plain(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Strip returns the plain text of markup.
func Strip(s string) string { return Plain(Parse(s)) }

// Slice returns the runs covering plain-text byte offsets [start,end).
// Runs crossing the boundaries are split.
func Slice(runs []Run, start, end int) []Run {
	if end <= start {
		return nil
	}
	var out []Run
	pos := 0
	for _, r := range runs {
		rs, re := pos, pos+len(r.Text)
		pos = re
		if re <= start || rs >= end {
			continue
		}
		a := max(start, rs) - rs
		b := min(end, re) - rs
		out = appendRun(out, Run{Text: r.Text[a:b], Color: r.Color})
	}
	return out
}
