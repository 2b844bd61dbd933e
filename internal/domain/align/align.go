// Package align maps free-form phrase text back onto word-level transcript timings.
package align

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/types"
)

type Strategy string

const (
	StrategyExact   Strategy = "exact"
	StrategyFuzzy   Strategy = "fuzzy"
	StrategyKeyword Strategy = "keyword"
	StrategyNone    Strategy = "none"
)

// Config holds the cascade thresholds. The zero value is not usable; start from DefaultConfig.
type Config struct {
	ExactConfidence   float64
	FuzzyThreshold    float64 // a window must score strictly above this
	FuzzyMinTokenLen  int     // phrase tokens must be longer than this to count
	KeywordConfidence float64
	KeywordMinPhrase  int // phrase must be longer than this for the keyword pass
	KeywordMinLen     int // keywords must be longer than this
	PlaceholderStep   float64
	PlaceholderLength float64
}

func DefaultConfig() Config {
	return Config{
		ExactConfidence:   1.0,
		FuzzyThreshold:    0.6,
		FuzzyMinTokenLen:  2,
		KeywordConfidence: 0.5,
		KeywordMinPhrase:  5,
		KeywordMinLen:     3,
		PlaceholderStep:   2,
		PlaceholderLength: 2,
	}
}

// Match is the outcome of aligning one phrase.
// FirstWord and LastWord index the covered words, or are -1 when Unmatched.
type Match struct {
	StartSec    float64
	EndSec      float64
	MatchedText string
	Confidence  float64
	Strategy    Strategy
	Unmatched   bool
	FirstWord   int
	LastWord    int
}

type Aligner struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Aligner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aligner{cfg: cfg, log: log}
}

// Align runs the cascade exact → fuzzy → keyword and falls back to a placeholder
// span derived from index. MatchedText is transcript wording whenever a strategy hits.
func (a *Aligner) Align(words []types.Word, phrase string, index int) Match {
	p := strings.TrimSpace(phrase)
	if p != "" && len(words) > 0 {
		if m, ok := a.exact(words, p); ok {
			return m
		}
		if m, ok := a.fuzzy(words, p); ok {
			return m
		}
		if m, ok := a.keyword(words, p); ok {
			return m
		}
	}

	start := float64(index) * a.cfg.PlaceholderStep
	a.log.Warn("phrase not aligned, using placeholder span",
		zap.String("phrase", phrase),
		zap.Int("index", index),
		zap.Float64("start", start),
	)
	return Match{
		StartSec:    start,
		EndSec:      start + a.cfg.PlaceholderLength,
		MatchedText: p,
		Confidence:  0,
		Strategy:    StrategyNone,
		Unmatched:   true,
		FirstWord:   -1,
		LastWord:    -1,
	}
}

func (a *Aligner) exact(words []types.Word, phrase string) (Match, bool) {
	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w.Word)
	}
	full := strings.Join(lowered, " ")
	needle := strings.ToLower(phrase)
	startIdx := strings.Index(full, needle)
	if startIdx < 0 {
		return Match{}, false
	}
	endIdx := startIdx + len(needle)

	first, last := -1, -1
	pos := 0
	for i, w := range lowered {
		wordStart, wordEnd := pos, pos+len(w)
		if first < 0 && wordEnd > startIdx {
			first = i
		}
		if wordStart >= endIdx {
			last = i - 1
			break
		}
		pos += len(w) + 1
	}
	if first < 0 {
		return Match{}, false
	}
	if last < 0 {
		last = len(words) - 1
	}
	return a.span(words, first, last, a.cfg.ExactConfidence, StrategyExact), true
}

func (a *Aligner) fuzzy(words []types.Word, phrase string) (Match, bool) {
	tokens := tokensLongerThan(phrase, a.cfg.FuzzyMinTokenLen)
	n := len(tokens)
	if n == 0 {
		return Match{}, false
	}

	best, bestAt := 0.0, -1
	for i := 0; i <= len(words)-n; i++ {
		win := min(n+2, len(words)-i)
		parts := make([]string, 0, win)
		for _, w := range words[i : i+win] {
			parts = append(parts, normalize(w.Word))
		}
		text := strings.Join(parts, " ")

		hits := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hits++
			}
		}
		ratio := float64(hits) / float64(n)
		if ratio > best {
			best, bestAt = ratio, i
		}
	}
	if bestAt < 0 || best <= a.cfg.FuzzyThreshold {
		return Match{}, false
	}

	win := min(n+2, len(words)-bestAt)
	last := bestAt + min(n-1, win-1)
	a.log.Debug("phrase aligned by fuzzy window",
		zap.String("phrase", phrase),
		zap.Float64("ratio", best),
	)
	return a.span(words, bestAt, last, best, StrategyFuzzy), true
}

func (a *Aligner) keyword(words []types.Word, phrase string) (Match, bool) {
	if len([]rune(phrase)) <= a.cfg.KeywordMinPhrase {
		return Match{}, false
	}
	keys := tokensLongerThan(phrase, a.cfg.KeywordMinLen)
	if len(keys) == 0 {
		return Match{}, false
	}
	for i, w := range words {
		norm := normalize(w.Word)
		if norm == "" {
			continue
		}
		for _, k := range keys {
			if strings.Contains(norm, k) || strings.Contains(k, norm) {
				first := max(0, i-1)
				last := min(len(words)-1, i+2)
				a.log.Debug("phrase aligned by keyword",
					zap.String("phrase", phrase),
					zap.String("keyword", k),
				)
				return a.span(words, first, last, a.cfg.KeywordConfidence, StrategyKeyword), true
			}
		}
	}
	return Match{}, false
}

func (a *Aligner) span(words []types.Word, first, last int, conf float64, s Strategy) Match {
	parts := make([]string, 0, last-first+1)
	for _, w := range words[first : last+1] {
		parts = append(parts, w.Word)
	}
	return Match{
		StartSec:    words[first].Start,
		EndSec:      words[last].End,
		MatchedText: strings.Join(parts, " "),
		Confidence:  conf,
		Strategy:    s,
		FirstWord:   first,
		LastWord:    last,
	}
}

// normalize lowercases and drops everything except letters, digits and spaces.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokensLongerThan(phrase string, n int) []string {
	var out []string
	for _, f := range strings.Fields(normalize(phrase)) {
		if len([]rune(f)) > n {
			out = append(out, f)
		}
	}
	return out
}
