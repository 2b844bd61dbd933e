package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/types"
)

const serviceName = "whisper.cpp"

type Adapter struct {
	bin   string
	model string
	log   *zap.Logger
}

func New(binPath, modelPath string, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{bin: binPath, model: modelPath, log: log}
}

// Transcribe runs whisper.cpp on a 16 kHz mono wav. Word timings come from running with
// one word per output entry (-ml 1 -sow); entries are regrouped into sentences.
func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error) {
	if !strings.EqualFold(filepath.Ext(wavPath), ".wav") {
		return types.Transcript{}, &ports.ServiceError{
			Service: serviceName,
			Kind:    ports.UnsupportedFormat,
			Err:     fmt.Errorf("expected a wav file, got %s", filepath.Base(wavPath)),
		}
	}
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-oj",
		"-of", outPrefix,
		"-ml", "1",
		"-sow",
	}
	a.log.Debug("whisper.cpp", zap.String("bin", a.bin), zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, &ports.ServiceError{
			Service: serviceName,
			Kind:    ports.ServiceFailure,
			Err:     fmt.Errorf("%w\n%s", err, string(b)),
		}
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, &ports.ServiceError{Service: serviceName, Kind: ports.ServiceFailure, Err: err}
	}
	tr, err := parseOutput(jb)
	if err != nil {
		return types.Transcript{}, &ports.ServiceError{Service: serviceName, Kind: ports.ServiceFailure, Err: err}
	}
	return tr, nil
}

type output struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseOutput turns whisper.cpp JSON entries (millisecond offsets) into words and closes a
// segment after every word ending a sentence.
func parseOutput(b []byte) (types.Transcript, error) {
	var out output
	if err := json.Unmarshal(b, &out); err != nil {
		return types.Transcript{}, fmt.Errorf("decode whisper.cpp json: %w", err)
	}

	var (
		tr  types.Transcript
		cur types.Segment
	)
	flush := func() {
		if len(cur.Words) == 0 {
			return
		}
		parts := make([]string, 0, len(cur.Words))
		for _, w := range cur.Words {
			parts = append(parts, w.Word)
		}
		cur.Start = cur.Words[0].Start
		cur.End = cur.Words[len(cur.Words)-1].End
		cur.Text = strings.Join(parts, " ")
		tr.Segments = append(tr.Segments, cur)
		cur = types.Segment{}
	}
	for _, e := range out.Transcription {
		txt := strings.TrimSpace(e.Text)
		if txt == "" || strings.HasPrefix(txt, "[") {
			continue
		}
		cur.Words = append(cur.Words, types.Word{
			Start: float64(e.Offsets.From) / 1000,
			End:   float64(e.Offsets.To) / 1000,
			Word:  txt,
		})
		if strings.HasSuffix(txt, ".") || strings.HasSuffix(txt, "!") || strings.HasSuffix(txt, "?") {
			flush()
		}
	}
	flush()

	parts := make([]string, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		parts = append(parts, s.Text)
	}
	tr.Text = strings.Join(parts, " ")
	return tr, nil
}

var _ ports.ASR = (*Adapter)(nil)
