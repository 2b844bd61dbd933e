package align

import (
	"fmt"
	"strings"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/types"
)

// SelectPriority is the lowest phrase priority whose caption starts visible.
const SelectPriority = 7

// DefaultWordsPerCaption is the chunk size for full-transcript captions.
const DefaultWordsPerCaption = 4

// Captions aligns every phrase and builds key-phrase captions in phrase order.
func (a *Aligner) Captions(words []types.Word, phrases []types.Phrase, style caption.Style) []caption.Caption {
	out := make([]caption.Caption, 0, len(phrases))
	for i, p := range phrases {
		m := a.Align(words, p.Text, i)
		c := caption.Caption{
			ID:         fmt.Sprintf("phrase-%d", i),
			StartSec:   m.StartSec,
			EndSec:     m.EndSec,
			Visible:    p.Priority >= SelectPriority,
			Style:      style,
			Source:     caption.SourcePhrase,
			Reason:     p.Reason,
			Priority:   p.Priority,
			Confidence: m.Confidence,
			Unmatched:  m.Unmatched,
		}
		c.SetText(m.MatchedText)
		out = append(out, c)
	}
	return out
}

// FullTranscript groups every word into fixed-size captions, all visible.
func FullTranscript(words []types.Word, perCaption int, style caption.Style) []caption.Caption {
	if perCaption <= 0 {
		perCaption = DefaultWordsPerCaption
	}
	var out []caption.Caption
	for i := 0; i < len(words); i += perCaption {
		chunk := words[i:min(i+perCaption, len(words))]
		parts := make([]string, 0, len(chunk))
		for _, w := range chunk {
			parts = append(parts, w.Word)
		}
		c := caption.Caption{
			ID:         fmt.Sprintf("transcript-%d", len(out)),
			StartSec:   chunk[0].Start,
			EndSec:     chunk[len(chunk)-1].End,
			Visible:    true,
			Style:      style,
			Source:     caption.SourceTranscript,
			Priority:   5,
			Confidence: 1,
		}
		c.SetText(strings.Join(parts, " "))
		out = append(out, c)
	}
	return out
}

// FallbackPhrases is the minimal phrase set used when extraction output is unusable:
// the first n transcript words with descending priority.
func FallbackPhrases(words []types.Word, n int) []types.Phrase {
	if n <= 0 {
		n = 5
	}
	out := make([]types.Phrase, 0, n)
	for i, w := range words {
		if i >= n {
			break
		}
		out = append(out, types.Phrase{
			Text:     w.Word,
			Reason:   "fallback",
			Priority: max(1, 10-2*i),
		})
	}
	return out
}
