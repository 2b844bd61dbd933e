package highlights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/forPelevin/capburn/internal/types"
)

const (
	DefaultMinWords = 3
	DefaultMaxWords = 12
)

// Candidate is a run of transcript words scored as a possible key phrase.
// First and Last are inclusive word indices.
type Candidate struct {
	First     int
	Last      int
	Text      string
	InfoScore float64
	HookScore float64
}

func (c Candidate) Total() float64 { return c.InfoScore + c.HookScore }

// BuildCandidates creates word windows of minWords..maxWords words.
// Windows never cross a sentence end, so candidates read as complete fragments.
func BuildCandidates(words []types.Word, minWords, maxWords int) []Candidate {
	if minWords <= 0 {
		minWords = 1
	}
	if maxWords < minWords {
		return nil
	}
	// Heuristic caps keep runtime predictable on long transcripts.
	const maxCandidates = 2000

	var out []Candidate
	for i := range words {
		parts := make([]string, 0, maxWords)
		for j := i; j < len(words) && j-i < maxWords; j++ {
			parts = append(parts, strings.TrimSpace(words[j].Word))
			n := j - i + 1
			ends := hasTerminalPunctuation(words[j].Word)
			if n >= minWords {
				text := strings.Join(parts, " ")
				info, hook := Score(text)
				out = append(out, Candidate{First: i, Last: j, Text: text, InfoScore: info, HookScore: hook})
				if len(out) >= maxCandidates {
					return out
				}
			}
			if ends {
				break
			}
		}
	}
	return out
}

func hasTerminalPunctuation(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// Select picks up to n non-overlapping candidates, best first, returned in transcript order.
// Ties prefer the earlier and then the longer window.
func Select(cands []Candidate, n int) []Candidate {
	if n <= 0 || len(cands) == 0 {
		return nil
	}
	best := make([]Candidate, len(cands))
	copy(best, cands)
	sort.SliceStable(best, func(i, j int) bool {
		s1, s2 := best[i].Total(), best[j].Total()
		if s1 != s2 {
			return s1 > s2
		}
		if best[i].First != best[j].First {
			return best[i].First < best[j].First
		}
		return best[i].Last > best[j].Last
	})

	var out []Candidate
	for _, c := range best {
		if len(out) >= n {
			break
		}
		if overlapsAny(out, c) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out
}

func overlapsAny(sel []Candidate, c Candidate) bool {
	for _, s := range sel {
		if c.First <= s.Last && s.First <= c.Last {
			return true
		}
	}
	return false
}

// Extractor picks key phrases locally from transcript wording. It needs no network
// and is used when no language model is configured.
type Extractor struct {
	MinWords int
	MaxWords int
}

func NewExtractor() *Extractor {
	return &Extractor{MinWords: DefaultMinWords, MaxWords: DefaultMaxWords}
}

func (e *Extractor) ExtractPhrases(ctx context.Context, tr types.Transcript, maxPhrases int) ([]types.Phrase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := tr.Words()
	sel := Select(BuildCandidates(words, e.MinWords, e.MaxWords), maxPhrases)
	out := make([]types.Phrase, 0, len(sel))
	for _, c := range sel {
		out = append(out, types.Phrase{
			Text:     c.Text,
			Reason:   fmt.Sprintf("heuristic: info %.1f, hook %.1f", c.InfoScore, c.HookScore),
			Priority: Priority(c.Text),
		})
	}
	return out, nil
}
