// Package whisperapi transcribes media through the hosted Whisper transcription endpoint.
package whisperapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/ports/adapters/endpoint"
	"github.com/forPelevin/capburn/internal/types"
)

const serviceName = "whisper"

var baseURLPolicy = endpoint.Policy{
	Var:          "OPENAI_BASE_URL",
	HostsVar:     "OPENAI_ALLOWED_HOSTS",
	DefaultURL:   "https://api.openai.com/v1",
	DefaultHosts: []string{"api.openai.com"},
}

// ValidateBaseURL applies the same https and allow-list rules as the phrase service.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	return baseURLPolicy.Validate(baseURL, allowedHosts)
}

// SupportedExtensions lists the containers the endpoint accepts. mov is tolerated;
// it usually decodes because it shares the mp4 layout.
var SupportedExtensions = map[string]struct{}{
	"flac": {}, "m4a": {}, "mp3": {}, "mp4": {}, "mpeg": {}, "mpga": {},
	"oga": {}, "ogg": {}, "wav": {}, "webm": {}, "mov": {},
}

type Adapter struct {
	client openai.Client
	log    *zap.Logger
}

// New builds an adapter. baseURL may be empty for the public endpoint.
func New(apiKey, baseURL string, log *zap.Logger, opts ...option.RequestOption) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)
	return &Adapter{client: openai.NewClient(clientOpts...), log: log}
}

// Transcribe uploads mediaPath and returns word-level timings. cacheDir receives the raw
// response for debugging.
func (a *Adapter) Transcribe(ctx context.Context, mediaPath, cacheDir string) (types.Transcript, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(mediaPath)), ".")
	if _, ok := SupportedExtensions[ext]; !ok {
		return types.Transcript{}, &ports.ServiceError{
			Service: serviceName,
			Kind:    ports.UnsupportedFormat,
			Err:     fmt.Errorf("file format %q is not supported, convert to mp4 or wav", ext),
		}
	}

	f, err := os.Open(mediaPath)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	a.log.Debug("transcribing", zap.String("path", mediaPath))
	resp, err := a.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  openai.AudioModelWhisper1,
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, classify(err)
	}

	raw := resp.RawJSON()
	if cacheDir != "" {
		if err := os.WriteFile(filepath.Join(cacheDir, "whisper.json"), []byte(raw), 0o644); err != nil {
			a.log.Warn("cache transcription response", zap.Error(err))
		}
	}
	tr, err := parseVerbose([]byte(raw))
	if err != nil {
		return types.Transcript{}, &ports.ServiceError{Service: serviceName, Kind: ports.ServiceFailure, Err: err}
	}
	a.log.Debug("transcribed", zap.Int("segments", len(tr.Segments)), zap.Int("words", len(tr.Words())))
	return tr, nil
}

// classify maps a 400 about the input file to UnsupportedFormat; anything else is a service failure.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		msg := strings.ToLower(apiErr.Error())
		if strings.Contains(msg, "format") || strings.Contains(msg, "decode") {
			return &ports.ServiceError{Service: serviceName, Kind: ports.UnsupportedFormat, Err: err}
		}
	}
	return &ports.ServiceError{Service: serviceName, Kind: ports.ServiceFailure, Err: err}
}

type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []types.Word `json:"words"`
}

// parseVerbose groups word timings under the segment they start in. Words outside every
// segment, or a response without segments, end up in one catch-all segment.
func parseVerbose(b []byte) (types.Transcript, error) {
	var v verboseResponse
	if err := json.Unmarshal(b, &v); err != nil {
		return types.Transcript{}, fmt.Errorf("decode transcription: %w", err)
	}
	tr := types.Transcript{Text: strings.TrimSpace(v.Text)}
	for _, s := range v.Segments {
		tr.Segments = append(tr.Segments, types.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}

	var orphans []types.Word
	for _, w := range v.Words {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word == "" {
			continue
		}
		placed := false
		for i := range tr.Segments {
			s := &tr.Segments[i]
			if w.Start >= s.Start && w.Start < s.End {
				s.Words = append(s.Words, w)
				placed = true
				break
			}
		}
		if !placed {
			orphans = append(orphans, w)
		}
	}
	if len(orphans) > 0 {
		seg := types.Segment{Start: orphans[0].Start, End: orphans[len(orphans)-1].End, Words: orphans}
		if len(tr.Segments) == 0 {
			seg.Text = tr.Text
		}
		tr.Segments = append(tr.Segments, seg)
		sort.SliceStable(tr.Segments, func(i, j int) bool { return tr.Segments[i].Start < tr.Segments[j].Start })
	}
	if len(tr.Words()) == 0 {
		return types.Transcript{}, errors.New("transcription has no word timings")
	}
	return tr, nil
}

var _ ports.ASR = (*Adapter)(nil)
