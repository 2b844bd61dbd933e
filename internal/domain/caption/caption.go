// Package caption holds the caption entity, its style and the shared defaults resolver.
package caption

import (
	"fmt"

	"github.com/forPelevin/capburn/internal/domain/richtext"
)

type Source string

const (
	SourcePhrase     Source = "phrase"
	SourceTranscript Source = "transcript"
	SourceUser       Source = "user"
)

// Caption is one timed, styled text overlay.
// Text is the stored markup; Runs is its parsed form and is what gets laid out.
type Caption struct {
	ID       string         `yaml:"id" json:"id"`
	Text     string         `yaml:"text" json:"text"`
	Runs     []richtext.Run `yaml:"-" json:"-"`
	StartSec float64        `yaml:"startSec" json:"startSec"`
	EndSec   float64        `yaml:"endSec" json:"endSec"`
	Visible  bool           `yaml:"visible" json:"visible"`
	Style    Style          `yaml:"style" json:"style"`

	Source     Source  `yaml:"source,omitempty" json:"source,omitempty"`
	Reason     string  `yaml:"reason,omitempty" json:"reason,omitempty"`
	Priority   int     `yaml:"priority,omitempty" json:"priority,omitempty"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Unmatched  bool    `yaml:"unmatched,omitempty" json:"unmatched,omitempty"`
}

// SetText parses markup into runs and stores the normalized markup.
func (c *Caption) SetText(markup string) {
	c.Runs = richtext.Parse(markup)
	c.Text = richtext.Serialize(c.Runs)
}

// Normalize re-derives Runs from Text and repairs the time window.
// Call it after loading captions from storage.
func (c *Caption) Normalize() {
	c.SetText(c.Text)
	if c.EndSec < c.StartSec {
		c.EndSec = c.StartSec
	}
}

// Plain is the caption text without color markup.
func (c Caption) Plain() string {
	if c.Runs == nil && c.Text != "" {
		return richtext.Strip(c.Text)
	}
	return richtext.Plain(c.Runs)
}

// Content returns Runs, parsing Text when Runs has not been populated.
func (c Caption) Content() []richtext.Run {
	if c.Runs == nil && c.Text != "" {
		return richtext.Parse(c.Text)
	}
	return c.Runs
}

// ActiveAt reports whether the caption is drawn at time t. Both ends are inclusive,
// so a zero-length caption is active at exactly its instant.
func (c Caption) ActiveAt(t float64) bool {
	return c.Visible && c.StartSec <= t && t <= c.EndSec
}

// Clone returns a deep copy, so views handed to the preview or compositor cannot
// mutate the owner's slice.
func (c Caption) Clone() Caption {
	out := c
	if c.Runs != nil {
		out.Runs = append([]richtext.Run(nil), c.Runs...)
	}
	out.Style = c.Style.clone()
	return out
}

func (s Style) clone() Style {
	out := s
	out.LetterSpacingPx = clonePtr(s.LetterSpacingPx)
	out.LineHeightMultiplier = clonePtr(s.LineHeightMultiplier)
	out.Opacity = clonePtr(s.Opacity)
	out.Shadow = clonePtr(s.Shadow)
	out.Outline = clonePtr(s.Outline)
	out.BackgroundPaddingPx = clonePtr(s.BackgroundPaddingPx)
	out.BackgroundCornerRadiusPx = clonePtr(s.BackgroundCornerRadiusPx)
	out.CustomXPercent = clonePtr(s.CustomXPercent)
	out.CustomYPercent = clonePtr(s.CustomYPercent)
	out.MaxWidthPercent = clonePtr(s.MaxWidthPercent)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CloneAll deep-copies a caption list.
func CloneAll(in []Caption) []Caption {
	if in == nil {
		return nil
	}
	out := make([]Caption, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// Validate checks the invariants that must hold for a stored caption.
func (c Caption) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("caption: empty id")
	}
	if c.EndSec < c.StartSec {
		return fmt.Errorf("caption %s: end %.3f before start %.3f", c.ID, c.EndSec, c.StartSec)
	}
	if w := c.Style.MaxWidthPercent; w != nil && (*w < MinMaxWidthPercent || *w > MaxMaxWidthPercent) {
		return fmt.Errorf("caption %s: max width %.1f%% outside [%.0f,%.0f]", c.ID, *w, MinMaxWidthPercent, MaxMaxWidthPercent)
	}
	return nil
}

// ValidateAll checks every caption and that ids are unique.
func ValidateAll(caps []Caption) error {
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("caption: duplicate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
