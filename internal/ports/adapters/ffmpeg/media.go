package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/types"
)

type codecSettings struct {
	VideoCodec string
	AudioCodec string
	// AudioName is the codec name ffprobe reports for AudioCodec output.
	AudioName string
	Container string
	Encoder   ffmpeg.KwArgs
}

var codecPresets = map[string]codecSettings{
	"webm": {
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
		AudioName:  "opus",
		Container:  "webm",
		Encoder: ffmpeg.KwArgs{
			"crf":      30,
			"b:v":      0,
			"deadline": "good",
			"cpu-used": 4,
			"row-mt":   1,
		},
	},
	"mp4": {
		VideoCodec: "libx264",
		AudioCodec: "aac",
		AudioName:  "aac",
		Container:  "mp4",
		Encoder: ffmpeg.KwArgs{
			"preset":   "veryfast",
			"crf":      18,
			"movflags": "+faststart",
		},
	},
}

func getCodecSettings(format string) codecSettings {
	if s, ok := codecPresets[format]; ok {
		return s
	}
	return codecPresets["webm"]
}

// OpenSource starts decoding path into RGBA frames at the probed frame rate.
// The decoder runs until the last frame is read, Close is called or ctx ends.
func (a *Adapter) OpenSource(ctx context.Context, path string) (ports.FrameSource, error) {
	info, err := a.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.FPS <= 0 {
		return nil, errors.Errorf("source %s has no usable frame rate", path)
	}
	s := ffmpeg.Input(path).
		Video().
		Output("pipe:", ffmpeg.KwArgs{
			"format":  "rawvideo",
			"pix_fmt": "rgba",
			"r":       info.FPS,
		})
	cmd := a.command(s)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "decoder stdout")
	}
	src := &frameSource{info: info, cmd: cmd, out: stdout, log: a.log}
	cmd.Stderr = &src.stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start decoder")
	}
	src.watch(ctx)
	return src, nil
}

type frameSource struct {
	info   types.MediaInfo
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr syncBuffer
	log    *zap.Logger

	img   *image.RGBA
	index int

	once    sync.Once
	waitErr error
	stop    chan struct{}
}

func (s *frameSource) watch(ctx context.Context) {
	s.stop = make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.cmd.Process.Kill()
		case <-s.stop:
		}
	}()
}

func (s *frameSource) Info() types.MediaInfo { return s.info }

func (s *frameSource) Next() (ports.Frame, error) {
	if s.img == nil {
		s.img = image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	}
	_, err := io.ReadFull(s.out, s.img.Pix)
	switch {
	case err == io.EOF:
		if werr := s.wait(); werr != nil {
			return ports.Frame{}, errors.Wrapf(werr, "decoder: %s", tail(s.stderr.String(), 2000))
		}
		return ports.Frame{}, io.EOF
	case err != nil:
		_ = s.wait()
		return ports.Frame{}, errors.Wrapf(err, "read frame %d: %s", s.index, tail(s.stderr.String(), 2000))
	}
	f := ports.Frame{Index: s.index, PTS: float64(s.index) / s.info.FPS, Image: s.img}
	s.index++
	return f, nil
}

func (s *frameSource) wait() error {
	s.once.Do(func() {
		s.waitErr = s.cmd.Wait()
		close(s.stop)
	})
	return s.waitErr
}

func (s *frameSource) Close() error {
	if s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

// OpenSink starts an encoder that reads raw RGBA frames from a pipe and writes to a
// temporary file next to path.
func (a *Adapter) OpenSink(ctx context.Context, path string, opts ports.SinkOptions) (ports.FrameSink, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, errors.Errorf("invalid sink geometry %dx%d@%.3f", opts.Width, opts.Height, opts.FPS)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir output dir")
	}
	cs := getCodecSettings(opts.Format)
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".partial")

	video := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"framerate": opts.FPS,
	})
	streams := []*ffmpeg.Stream{video}

	out := ffmpeg.KwArgs{
		"c:v":     cs.VideoCodec,
		"pix_fmt": "yuv420p",
		"f":       cs.Container,
	}
	for k, v := range cs.Encoder {
		out[k] = v
	}
	if opts.AudioFrom != "" {
		streams = append(streams, ffmpeg.Input(opts.AudioFrom).Audio())
		out["c:a"] = cs.AudioCodec
		if opts.SourceAudioCodec != "" && opts.SourceAudioCodec == cs.AudioName {
			out["c:a"] = "copy"
		}
	}

	cmd := a.command(ffmpeg.Output(streams, tmp, out).OverWriteOutput())
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "encoder stdin")
	}
	sink := &frameSink{cmd: cmd, in: stdin, tmp: tmp, path: path, log: a.log}
	cmd.Stderr = &sink.stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start encoder")
	}
	sink.watch(ctx)
	a.log.Debug("encoder started", zap.String("output", path), zap.String("codec", cs.VideoCodec), zap.Any("audio", out["c:a"]))
	return sink, nil
}

type frameSink struct {
	cmd    *exec.Cmd
	in     io.WriteCloser
	stderr syncBuffer
	tmp    string
	path   string
	log    *zap.Logger

	once    sync.Once
	waitErr error
	stop    chan struct{}
}

func (s *frameSink) watch(ctx context.Context) {
	s.stop = make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.cmd.Process.Kill()
		case <-s.stop:
		}
	}()
}

func (s *frameSink) WriteFrame(img *image.RGBA) error {
	if _, err := s.in.Write(img.Pix); err != nil {
		return errors.Wrapf(err, "encoder: %s", tail(s.stderr.String(), 2000))
	}
	return nil
}

func (s *frameSink) wait() error {
	s.once.Do(func() {
		s.waitErr = s.cmd.Wait()
		close(s.stop)
	})
	return s.waitErr
}

// Finish closes the frame pipe, waits for the muxer and moves the file into place.
func (s *frameSink) Finish(ctx context.Context) error {
	_ = s.in.Close()
	done := make(chan error, 1)
	go func() { done <- s.wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-done
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(s.tmp)
		return errors.Wrapf(err, "encoder: %s", tail(s.stderr.String(), 2000))
	}
	if err := os.Rename(s.tmp, s.path); err != nil {
		_ = os.Remove(s.tmp)
		return errors.Wrap(err, "move output into place")
	}
	return nil
}

// Abort stops the encoder and deletes the partial file.
func (s *frameSink) Abort() error {
	_ = s.in.Close()
	_ = s.cmd.Process.Kill()
	_ = s.wait()
	if err := os.Remove(s.tmp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove partial output")
	}
	return nil
}

// syncBuffer collects stderr written by exec while readers build error messages.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var (
	_ ports.MediaIO   = (*Adapter)(nil)
	_ ports.VideoTool = (*Adapter)(nil)
)
