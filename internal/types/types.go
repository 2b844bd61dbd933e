package types

import "strings"

type Transcript struct {
	Text     string    `json:"text" yaml:"text"`
	Segments []Segment `json:"segments" yaml:"segments"`
}

type Segment struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
	Words []Word  `json:"words,omitempty" yaml:"words,omitempty"`
}

// Word is one transcribed token. Start and End are seconds from media start.
type Word struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Word  string  `json:"word" yaml:"word"`
}

// Words flattens every segment's word timings in transcript order, dropping empty tokens.
func (t Transcript) Words() []Word {
	var out []Word
	for _, s := range t.Segments {
		for _, w := range s.Words {
			txt := strings.TrimSpace(w.Word)
			if txt == "" {
				continue
			}
			out = append(out, Word{Start: w.Start, End: w.End, Word: txt})
		}
	}
	return out
}

// FullText returns Text when the ASR provided one, otherwise the words joined by spaces.
func (t Transcript) FullText() string {
	if s := strings.TrimSpace(t.Text); s != "" {
		return s
	}
	words := t.Words()
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Word)
	}
	return strings.Join(parts, " ")
}

// Phrase is a key phrase candidate as returned by the phrase extraction service.
// Text may be paraphrased or re-punctuated relative to the transcript.
type Phrase struct {
	Text     string `json:"text"`
	Reason   string `json:"reason"`
	Priority int    `json:"priority"`
}

// MediaInfo describes a decodable video source.
type MediaInfo struct {
	Width      int     `json:"width" yaml:"width"`
	Height     int     `json:"height" yaml:"height"`
	FPS        float64 `json:"fps" yaml:"fps"`
	Duration   float64 `json:"duration" yaml:"duration"`
	Codec      string  `json:"codec,omitempty" yaml:"codec,omitempty"`
	HasAudio   bool    `json:"hasAudio" yaml:"hasAudio"`
	AudioCodec string  `json:"audioCodec,omitempty" yaml:"audioCodec,omitempty"`
}
