package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/domain/align"
	"github.com/forPelevin/capburn/internal/domain/highlights"
	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/types"
)

type Adapter struct {
	key     string
	model   string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

const (
	requestTimeout  = 90 * time.Second
	serviceName     = "openrouter"
	fallbackPhrases = 5
)

func New(apiKey, model, baseURL string, log *zap.Logger) *Adapter {
	if model == "" {
		model = "openai/gpt-4o-mini"
	}
	if log == nil {
		log = zap.NewNop()
	}
	baseURL = normalizeBaseURL(baseURL)
	return &Adapter{key: apiKey, model: model, baseURL: baseURL, client: &http.Client{Timeout: 5 * time.Minute}, log: log}
}

// ExtractPhrases asks the model for up to maxPhrases caption-worthy phrases quoted from tr.
// Unusable model output degrades to the first transcript words; transport and status
// failures are returned as ServiceError.
func (a *Adapter) ExtractPhrases(ctx context.Context, tr types.Transcript, maxPhrases int) ([]types.Phrase, error) {
	words := tr.Words()
	full := tr.FullText()
	if strings.TrimSpace(full) == "" || len(words) == 0 {
		return nil, nil
	}
	if maxPhrases <= 0 {
		maxPhrases = 7
	}

	payload := map[string]any{
		"model":       a.model,
		"stream":      false,
		"temperature": 0.7,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt(maxPhrases)},
			{"role": "user", "content": userPrompt(full)},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name": "capburn_phrases",
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"phrases": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"text":     map[string]any{"type": "string"},
									"reason":   map[string]any{"type": "string"},
									"priority": map[string]any{"type": "integer"},
								},
								"required": []string{"text", "reason", "priority"},
							},
						},
					},
					"required": []string{"phrases"},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := a.baseURL + "/api/v1/chat/completions"

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, a.failure(fmt.Errorf("timeout after %s (model=%s)", requestTimeout, a.model))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, a.failure(errors.New(redactSecrets(err.Error(), a.key)))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, a.failure(fmt.Errorf("status %d and read body failed: %v", resp.StatusCode, readErr))
		}
		return nil, a.failure(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400)))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, a.failure(fmt.Errorf("decode response: %w", err))
	}
	if len(raw.Choices) == 0 {
		return a.fallback(words, maxPhrases, errors.New("no choices")), nil
	}

	content, err := messageContentToString(raw.Choices[0].Message.Content)
	if err != nil {
		return a.fallback(words, maxPhrases, err), nil
	}
	phrases, err := parsePhrases(content)
	if err != nil {
		return a.fallback(words, maxPhrases, err), nil
	}

	res := make([]types.Phrase, 0, min(len(phrases), maxPhrases))
	for _, p := range phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		res = append(res, types.Phrase{
			Text:     text,
			Reason:   strings.TrimSpace(p.Reason),
			Priority: normalizePriority(p.Priority, text),
		})
		if len(res) >= maxPhrases {
			break
		}
	}
	if len(res) == 0 {
		return a.fallback(words, maxPhrases, errors.New("no usable phrases")), nil
	}
	a.log.Debug("phrases extracted", zap.Int("count", len(res)), zap.String("model", a.model))
	return res, nil
}

func (a *Adapter) failure(err error) error {
	return &ports.ServiceError{Service: serviceName, Kind: ports.ServiceFailure, Err: err}
}

func (a *Adapter) fallback(words []types.Word, maxPhrases int, cause error) []types.Phrase {
	n := min(fallbackPhrases, maxPhrases)
	a.log.Warn("phrase extraction output unusable, using transcript fallback",
		zap.Error(cause), zap.Int("phrases", n))
	return align.FallbackPhrases(words, n)
}

func systemPrompt(maxPhrases int) string {
	upper := max(3, min(7, maxPhrases))
	return fmt.Sprintf(
		"You identify engaging, attention-grabbing phrases from video transcripts for social media captions.\n\n"+
			"Extract phrases EXACTLY as they appear in the transcript, word-for-word. Do not paraphrase or modify the text.\n\n"+
			"1. Identify 3-%d key phrases that would make great captions for short-form videos.\n"+
			"2. Prefer phrases that are emotionally engaging, action-oriented, hooks, surprising facts or strong claims.\n"+
			"3. Keep the transcript's capitalization and punctuation.\n"+
			"4. Each phrase should be 3-12 words long.\n"+
			"5. Avoid filler words and transitions.\n\n"+
			"Return strictly valid JSON (no markdown, no code fences) matching the provided schema: "+
			`{"phrases":[{"text":"exact phrase","reason":"why it is engaging","priority":1-10}]} `+
			"where priority 10 is most important.",
		upper,
	)
}

func userPrompt(fullText string) string {
	return "Analyze this transcript and identify the most engaging phrases for captions:\n\n\"" + fullText + "\""
}

type rawPhrase struct {
	Text     string  `json:"text"`
	Reason   string  `json:"reason"`
	Priority float64 `json:"priority"`
}

// parsePhrases accepts both the schema object and a bare array of phrases.
func parsePhrases(content string) ([]rawPhrase, error) {
	clean, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(clean, "[") {
		var arr []rawPhrase
		if err := json.Unmarshal([]byte(clean), &arr); err != nil {
			return nil, fmt.Errorf("openrouter: decode phrases: %w", err)
		}
		return arr, nil
	}
	var obj struct {
		Phrases []rawPhrase `json:"phrases"`
	}
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return nil, fmt.Errorf("openrouter: decode phrases: %w", err)
	}
	return obj.Phrases, nil
}

// normalizePriority clamps model priorities to 1..10; a missing one is scored locally.
func normalizePriority(p float64, text string) int {
	if p <= 0 {
		return highlights.Priority(text)
	}
	n := int(p + 0.5)
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

// extractJSON returns the outermost JSON object or array in s, whichever opens first.
func extractJSON(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("openrouter: empty content")
	}

	// Strip markdown code fences.
	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	open, closer := "{", "}"
	obj := strings.Index(t, "{")
	arr := strings.Index(t, "[")
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closer = "[", "]"
	}
	start := strings.Index(t, open)
	end := strings.LastIndex(t, closer)
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}

	return "", fmt.Errorf("openrouter: could not locate JSON in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}

var _ ports.PhraseExtractor = (*Adapter)(nil)
