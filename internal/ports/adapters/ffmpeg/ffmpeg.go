package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/types"
)

type Adapter struct {
	bin string
	log *zap.Logger
}

// New returns an adapter that runs ffmpeg from binPath, or from PATH when empty.
// Probing always uses ffprobe from PATH.
func New(binPath string, log *zap.Logger) *Adapter {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{bin: binPath, log: log}
}

func (a *Adapter) ExtractAudio(ctx context.Context, inVideo, outWav string) error {
	s := ffmpeg.Input(inVideo).
		Audio().
		Output(outWav, ffmpeg.KwArgs{
			"ac": 1,
			"ar": 16000,
			"f":  "wav",
		}).
		OverWriteOutput()
	if err := a.run(ctx, s, nil); err != nil {
		return errors.Wrap(err, "ffmpeg extract audio")
	}
	return nil
}

func (a *Adapter) Probe(ctx context.Context, inVideo string) (types.MediaInfo, error) {
	if err := ctx.Err(); err != nil {
		return types.MediaInfo{}, err
	}
	out, err := ffmpeg.Probe(inVideo)
	if err != nil {
		return types.MediaInfo{}, errors.Wrapf(err, "ffprobe %s", inVideo)
	}
	return parseProbe(out)
}

// Frame decodes a single frame at atSec as PNG and returns it at native resolution.
func (a *Adapter) Frame(ctx context.Context, inVideo string, atSec float64) (image.Image, error) {
	var buf bytes.Buffer
	s := ffmpeg.Input(inVideo, ffmpeg.KwArgs{"ss": fmtSeconds(atSec)}).
		Video().
		Output("pipe:", ffmpeg.KwArgs{
			"vframes": 1,
			"format":  "image2",
			"vcodec":  "png",
		})
	if err := a.run(ctx, s, &buf); err != nil {
		return nil, errors.Wrapf(err, "ffmpeg frame at %.3fs", atSec)
	}
	if buf.Len() == 0 {
		return nil, errors.Errorf("no frame at %.3fs", atSec)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "decode frame png")
	}
	return img, nil
}

// command compiles a stream and points it at the configured binary.
func (a *Adapter) command(s *ffmpeg.Stream) *exec.Cmd {
	cmd := s.Compile()
	if a.bin != "ffmpeg" {
		cmd.Path = a.bin
		cmd.Err = nil
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	a.log.Debug("ffmpeg", zap.Strings("args", cmd.Args[1:]))
	return cmd
}

// run executes s to completion, killing it when ctx ends.
func (a *Adapter) run(ctx context.Context, s *ffmpeg.Stream, stdout io.Writer) error {
	cmd := a.command(s)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start ffmpeg")
	}
	if err := waitContext(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "ffmpeg: %s", tail(stderr.String(), 2000))
	}
	return nil
}

func waitContext(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	NbFrames     string `json:"nb_frames"`
	Tags         struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideData []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// rotation returns the display rotation in degrees, from the display matrix side data
// or the legacy rotate tag.
func (s probeStream) rotation() int {
	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			return int(sd.Rotation)
		}
	}
	return int(parseFloat(s.Tags.Rotate))
}

func parseProbe(raw string) (types.MediaInfo, error) {
	var p probeOutput
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.MediaInfo{}, errors.WithStack(err)
	}
	var info types.MediaInfo
	var video *probeStream
	for i := range p.Streams {
		s := &p.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
		}
	}
	if video == nil {
		return types.MediaInfo{}, errors.New("no video stream found")
	}
	info.Width = video.Width
	info.Height = video.Height
	// The decoder autorotates, so frames come out in display orientation.
	if r := ((video.rotation() % 360) + 360) % 360; r == 90 || r == 270 {
		info.Width, info.Height = info.Height, info.Width
	}
	info.Codec = video.CodecName
	info.FPS = parseRate(video.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(video.RFrameRate)
	}

	info.Duration = parseFloat(video.Duration)
	if info.Duration <= 0 {
		info.Duration = parseFloat(p.Format.Duration)
	}
	if info.Duration <= 0 && info.FPS > 0 {
		info.Duration = parseFloat(video.NbFrames) / info.FPS
	}
	if info.Duration <= 0 {
		return types.MediaInfo{}, errors.New("could not determine video duration")
	}
	return info, nil
}

// parseRate parses ffprobe rationals like "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
