package align

import (
	"strings"
	"testing"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/types"
)

func wordsOf(s string) []types.Word {
	var out []types.Word
	for i, f := range strings.Fields(s) {
		out = append(out, types.Word{Word: f, Start: float64(i), End: float64(i) + 0.8})
	}
	return out
}

func TestAlign_ExactSpan(t *testing.T) {
	words := wordsOf("I started working on the API")
	a := New(DefaultConfig(), nil)

	tests := []struct {
		name   string
		phrase string
	}{
		{"verbatim", "started working on the"},
		{"case differs", "Started Working on the"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := a.Align(words, tt.phrase, 0)
			if m.Strategy != StrategyExact || m.Confidence != 1 {
				t.Fatalf("expected exact match, got %+v", m)
			}
			if m.FirstWord != 1 || m.LastWord != 4 {
				t.Fatalf("expected words[1..4], got [%d..%d]", m.FirstWord, m.LastWord)
			}
			if m.StartSec != 1 || m.EndSec != 4.8 {
				t.Fatalf("unexpected span %.2f-%.2f", m.StartSec, m.EndSec)
			}
			if m.MatchedText != "started working on the" {
				t.Fatalf("matchedText must be transcript wording, got %q", m.MatchedText)
			}
		})
	}
}

func TestAlign_ExactReportsTranscriptWording(t *testing.T) {
	words := wordsOf("So, Here's The Thing about APIs.")
	m := New(DefaultConfig(), nil).Align(words, "here's the thing", 3)
	if m.Strategy != StrategyExact {
		t.Fatalf("expected exact, got %+v", m)
	}
	if m.MatchedText != "Here's The Thing" {
		t.Fatalf("got %q", m.MatchedText)
	}
}

func TestAlign_ExactPartialWordCoversWholeWord(t *testing.T) {
	words := wordsOf("we shipped everything yesterday")
	m := New(DefaultConfig(), nil).Align(words, "hipped every", 0)
	if m.Strategy != StrategyExact || m.MatchedText != "shipped everything" {
		t.Fatalf("got %+v", m)
	}
}

func TestAlign_FuzzyWindow(t *testing.T) {
	words := wordsOf("we launched the new api last week")
	m := New(DefaultConfig(), nil).Align(words, "Launched the brand new API!", 0)
	if m.Strategy != StrategyFuzzy {
		t.Fatalf("expected fuzzy, got %+v", m)
	}
	if m.Confidence != 0.8 {
		t.Fatalf("confidence = %v, want 0.8", m.Confidence)
	}
	// earliest window with the max ratio wins
	if m.FirstWord != 0 || m.LastWord != 4 {
		t.Fatalf("unexpected window [%d..%d]", m.FirstWord, m.LastWord)
	}
	if m.MatchedText != "we launched the new api" {
		t.Fatalf("got %q", m.MatchedText)
	}
}

func TestAlign_ScatteredWordsDegrade(t *testing.T) {
	words := wordsOf("yesterday we launched something and the team said the new version of our API is great")
	m := New(DefaultConfig(), nil).Align(words, "launched the new API today", 1)
	if m.Confidence >= 1 {
		t.Fatalf("expected degraded confidence, got %+v", m)
	}
	if m.Strategy != StrategyFuzzy && m.Strategy != StrategyKeyword {
		t.Fatalf("expected fuzzy or keyword, got %s", m.Strategy)
	}
	if m.MatchedText == "" || m.Unmatched {
		t.Fatalf("expected a transcript match, got %+v", m)
	}
	if m.Strategy == StrategyKeyword && m.MatchedText != "we launched something and" {
		t.Fatalf("keyword window = %q", m.MatchedText)
	}
}

func TestAlign_KeywordAnchor(t *testing.T) {
	words := wordsOf("honestly the deployment pipeline broke twice")
	m := New(DefaultConfig(), nil).Align(words, "Pipelines are fragile", 0)
	if m.Strategy != StrategyKeyword || m.Confidence != 0.5 {
		t.Fatalf("expected keyword match, got %+v", m)
	}
	// "pipeline" is contained by keyword "pipelines": window i-1..i+2
	if m.FirstWord != 2 || m.LastWord != 5 {
		t.Fatalf("window [%d..%d]", m.FirstWord, m.LastWord)
	}
}

func TestAlign_ShortWordInsideKeyword(t *testing.T) {
	words := wordsOf("so we ship weekly releases")
	m := New(DefaultConfig(), nil).Align(words, "also xyzzy plugh", 4)
	if m.Unmatched || m.Strategy != StrategyKeyword || m.Confidence != 0.5 {
		t.Fatalf("expected keyword match, got %+v", m)
	}
	// "so" is contained by keyword "also": window clamps to words[0..2]
	if m.FirstWord != 0 || m.LastWord != 2 || m.MatchedText != "so we ship" {
		t.Fatalf("window [%d..%d] %q", m.FirstWord, m.LastWord, m.MatchedText)
	}
}

func TestAlign_PlaceholderWhenNothingMatches(t *testing.T) {
	words := wordsOf("completely unrelated speech here")
	m := New(DefaultConfig(), nil).Align(words, "quantum zebra", 3)
	if !m.Unmatched || m.Confidence != 0 || m.Strategy != StrategyNone {
		t.Fatalf("expected unmatched placeholder, got %+v", m)
	}
	if m.StartSec != 6 || m.EndSec != 8 {
		t.Fatalf("placeholder span %.1f-%.1f, want 6-8", m.StartSec, m.EndSec)
	}
	if m.FirstWord != -1 || m.LastWord != -1 {
		t.Fatalf("placeholder must not point at words")
	}
}

func TestAlign_EmptyInputs(t *testing.T) {
	a := New(DefaultConfig(), nil)
	if m := a.Align(nil, "anything at all", 0); !m.Unmatched {
		t.Fatalf("no words must yield placeholder")
	}
	if m := a.Align(wordsOf("a b c"), "   ", 2); !m.Unmatched || m.StartSec != 4 {
		t.Fatalf("blank phrase must yield placeholder, got %+v", m)
	}
}

func TestAlign_ThresholdsConfigurable(t *testing.T) {
	words := wordsOf("we launched the new api last week")
	cfg := DefaultConfig()
	cfg.FuzzyThreshold = 0.9
	m := New(cfg, nil).Align(words, "Launched the brand new API!", 0)
	if m.Strategy == StrategyFuzzy {
		t.Fatalf("0.8 must not pass a 0.9 threshold")
	}
}

func TestCaptions_SelectionAndIDs(t *testing.T) {
	words := wordsOf("I started working on the API")
	phrases := []types.Phrase{
		{Text: "started working", Priority: 9, Reason: "hook"},
		{Text: "quantum zebra", Priority: 6},
	}
	caps := New(DefaultConfig(), nil).Captions(words, phrases, caption.Style{})
	if len(caps) != 2 {
		t.Fatalf("got %d captions", len(caps))
	}
	if caps[0].ID != "phrase-0" || !caps[0].Visible || caps[0].Text != "started working" {
		t.Fatalf("caption 0: %+v", caps[0])
	}
	if caps[1].Visible || !caps[1].Unmatched || caps[1].StartSec != 2 {
		t.Fatalf("caption 1: %+v", caps[1])
	}
	if err := caption.ValidateAll(caps); err != nil {
		t.Fatal(err)
	}
}

func TestFullTranscript_Chunks(t *testing.T) {
	words := wordsOf("one two three four five six seven eight nine")
	caps := FullTranscript(words, 4, caption.Style{})
	if len(caps) != 3 {
		t.Fatalf("got %d chunks", len(caps))
	}
	if caps[2].Text != "nine" || caps[2].ID != "transcript-2" {
		t.Fatalf("last chunk %+v", caps[2])
	}
	if caps[0].StartSec != 0 || caps[0].EndSec != 3.8 || !caps[0].Visible {
		t.Fatalf("first chunk %+v", caps[0])
	}
}

func TestFallbackPhrases(t *testing.T) {
	ps := FallbackPhrases(wordsOf("a b c d e f g"), 5)
	if len(ps) != 5 {
		t.Fatalf("got %d", len(ps))
	}
	if ps[0].Priority != 10 || ps[4].Priority != 2 || ps[1].Text != "b" {
		t.Fatalf("unexpected %+v", ps)
	}
}
