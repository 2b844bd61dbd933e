// Package compositor renders an export: every source frame at native resolution with the
// snapshot's captions drawn through the same layout and paint path as the preview.
package compositor

import (
	"context"
	"image"
	"image/draw"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/session"
	"github.com/forPelevin/capburn/internal/types"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRendering    State = "rendering"
	StateFinalizing   State = "finalizing"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

const (
	FormatWebM = "webm"
	FormatMP4  = "mp4"
)

// Rendering progress stops here until the output is finalized.
const renderProgressCap = 95.0

type Config struct {
	InitTimeout time.Duration
	FlushDelay  time.Duration
	Format      string
	// ProgressEverySec is the minimum source time between progress reports.
	ProgressEverySec float64
}

func DefaultConfig() Config {
	return Config{
		InitTimeout:      30 * time.Second,
		FlushDelay:       150 * time.Millisecond,
		Format:           FormatWebM,
		ProgressEverySec: 1,
	}
}

func (c Config) Validate() error {
	if c.InitTimeout <= 0 {
		return errors.New("init timeout must be > 0")
	}
	if c.FlushDelay < 0 {
		return errors.New("flush delay must be >= 0")
	}
	if c.Format != FormatWebM && c.Format != FormatMP4 {
		return errors.Errorf("unsupported output format %q (want webm or mp4)", c.Format)
	}
	if c.ProgressEverySec < 0 {
		return errors.New("progress interval must be >= 0")
	}
	return nil
}

// AudioCodec is the audio codec muxed into the given container.
func AudioCodec(format string) string {
	if format == FormatMP4 {
		return "aac"
	}
	return "opus"
}

type Progress struct {
	JobID   string
	State   State
	Percent float64
	Frame   int
	PTS     float64
}

type Request struct {
	Source   string
	Output   string
	Snapshot session.Snapshot
	// OnProgress receives state changes and rate-limited rendering progress.
	OnProgress func(Progress)
}

type Result struct {
	JobID    string
	Output   string
	Frames   int
	Scale    geometry.Scale
	Duration float64
}

type Compositor struct {
	media ports.MediaIO
	comp  *overlay.Composer
	log   *zap.Logger
	cfg   Config
}

func New(media ports.MediaIO, comp *overlay.Composer, log *zap.Logger, cfg Config) *Compositor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compositor{media: media, comp: comp, log: log, cfg: cfg}
}

// Export runs one job to completion.
func (c *Compositor) Export(ctx context.Context, req Request) (Result, error) {
	return c.NewJob(req).Run(ctx)
}

// Job is a single export attempt. A job runs at most once.
type Job struct {
	c   *Compositor
	req Request
	id  string

	mu      sync.Mutex
	state   State
	err     error
	percent float64
}

func (c *Compositor) NewJob(req Request) *Job {
	return &Job{c: c, req: req, id: uuid.NewString(), state: StateIdle}
}

func (j *Job) ID() string { return j.id }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err is the failure that moved the job to Failed, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) Percent() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.percent
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	pct := j.percent
	j.mu.Unlock()
	j.emit(Progress{JobID: j.id, State: s, Percent: pct})
}

func (j *Job) fail(stage State, kind Kind, err error) error {
	e := &Error{Stage: stage, Kind: kind, Err: err}
	j.mu.Lock()
	j.state = StateFailed
	j.err = e
	pct := j.percent
	j.mu.Unlock()
	j.c.log.Warn("export failed",
		zap.String("job", j.id),
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.Error(err))
	j.emit(Progress{JobID: j.id, State: StateFailed, Percent: pct})
	return e
}

// report raises progress; lower values are ignored so progress never decreases.
func (j *Job) report(pct float64, frame int, pts float64) {
	j.mu.Lock()
	if pct <= j.percent {
		j.mu.Unlock()
		return
	}
	j.percent = pct
	st := j.state
	j.mu.Unlock()
	j.emit(Progress{JobID: j.id, State: st, Percent: pct, Frame: frame, PTS: pts})
}

func (j *Job) emit(p Progress) {
	if j.req.OnProgress != nil {
		j.req.OnProgress(p)
	}
}

type pipes struct {
	src  ports.FrameSource
	sink ports.FrameSink
	info types.MediaInfo
	err  error
	kind Kind
}

func (p *pipes) release() {
	if p.sink != nil {
		_ = p.sink.Abort()
	}
	if p.src != nil {
		_ = p.src.Close()
	}
}

// Run drives the job through Initializing, Rendering and Finalizing.
// Any failure or cancellation discards partial output.
func (j *Job) Run(ctx context.Context) (Result, error) {
	j.mu.Lock()
	if j.state != StateIdle {
		j.mu.Unlock()
		return Result{}, errors.Errorf("export job %s already ran (state %s)", j.id, j.state)
	}
	j.mu.Unlock()

	caps := visibleCaptions(j.req.Snapshot.Captions)
	if len(caps) == 0 {
		return Result{}, j.fail(StateIdle, KindNothingSelected, nil)
	}
	if err := j.c.cfg.Validate(); err != nil {
		return Result{}, j.fail(StateIdle, KindInvalidConfig, err)
	}

	j.setState(StateInitializing)
	p, err := j.initialize(ctx)
	if err != nil {
		return Result{}, err
	}

	info := p.info
	surface := image.NewRGBA(image.Rect(0, 0, info.Width, info.Height))
	scale := geometry.ExportScale(geometry.Size{W: info.Width, H: info.Height}, j.req.Snapshot.Preview.Box)
	j.c.log.Info("export started",
		zap.String("job", j.id),
		zap.String("source", j.req.Source),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("scale_x", scale.X),
		zap.Float64("scale_y", scale.Y),
		zap.Int("captions", len(caps)))

	j.setState(StateRendering)
	frames, err := j.render(ctx, p, surface, caps, scale)
	if err != nil {
		p.release()
		return Result{}, err
	}

	j.setState(StateFinalizing)
	if j.c.cfg.FlushDelay > 0 {
		t := time.NewTimer(j.c.cfg.FlushDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			p.release()
			return Result{}, j.fail(StateFinalizing, KindCanceled, ctx.Err())
		case <-t.C:
		}
	}
	if err := p.sink.Finish(ctx); err != nil {
		p.sink = nil
		p.release()
		if ctx.Err() != nil {
			return Result{}, j.fail(StateFinalizing, KindCanceled, ctx.Err())
		}
		return Result{}, j.fail(StateFinalizing, KindEncodeFailed, err)
	}
	_ = p.src.Close()

	j.report(100, frames, info.Duration)
	j.setState(StateComplete)
	j.c.log.Info("export complete", zap.String("job", j.id), zap.String("output", j.req.Output), zap.Int("frames", frames))
	return Result{JobID: j.id, Output: j.req.Output, Frames: frames, Scale: scale, Duration: info.Duration}, nil
}

// initialize opens the decoder and encoder under the init timeout.
func (j *Job) initialize(ctx context.Context) (*pipes, error) {
	done := make(chan *pipes, 1)
	go func() { done <- j.open(ctx) }()

	timer := time.NewTimer(j.c.cfg.InitTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() { (<-done).release() }()
	}
	select {
	case p := <-done:
		if p.err != nil {
			p.release()
			return nil, j.fail(StateInitializing, p.kind, p.err)
		}
		return p, nil
	case <-timer.C:
		abandon()
		return nil, j.fail(StateInitializing, KindInitTimeout, errors.Errorf("setup did not finish within %s", j.c.cfg.InitTimeout))
	case <-ctx.Done():
		abandon()
		return nil, j.fail(StateInitializing, KindCanceled, ctx.Err())
	}
}

func (j *Job) open(ctx context.Context) *pipes {
	p := &pipes{}
	src, err := j.c.media.OpenSource(ctx, j.req.Source)
	if err != nil {
		p.err, p.kind = errors.Wrapf(err, "open source %s", j.req.Source), KindDecodeFailed
		return p
	}
	p.src = src
	p.info = src.Info()
	if p.info.Width <= 0 || p.info.Height <= 0 {
		p.err, p.kind = errors.Errorf("source reports %dx%d frames", p.info.Width, p.info.Height), KindSurfaceUnavailable
		return p
	}
	opts := ports.SinkOptions{
		Width:  p.info.Width,
		Height: p.info.Height,
		FPS:    p.info.FPS,
		Format: j.c.cfg.Format,
	}
	if p.info.HasAudio {
		opts.AudioFrom = j.req.Source
		opts.AudioCodec = AudioCodec(j.c.cfg.Format)
		opts.SourceAudioCodec = p.info.AudioCodec
	}
	sink, err := j.c.media.OpenSink(ctx, j.req.Output, opts)
	if err != nil {
		p.err, p.kind = errors.Wrap(err, "open encoder"), KindSurfaceUnavailable
		return p
	}
	p.sink = sink
	return p
}

// render draws frames in presentation order until the source is exhausted.
func (j *Job) render(ctx context.Context, p *pipes, surface *image.RGBA, caps []caption.Caption, scale geometry.Scale) (int, error) {
	every := j.c.cfg.ProgressEverySec
	duration := p.info.Duration
	lastPTS := math.Inf(-1)
	lastReport := math.Inf(-1)
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return frames, j.fail(StateRendering, KindCanceled, err)
		}
		f, err := p.src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return frames, j.fail(StateRendering, KindCanceled, ctx.Err())
			}
			return frames, j.fail(StateRendering, KindDecodeFailed, errors.Wrapf(err, "decode frame %d", frames))
		}
		if f.PTS < lastPTS {
			return frames, j.fail(StateRendering, KindDecodeFailed,
				errors.Errorf("frame %d at %.3fs arrived after %.3fs", f.Index, f.PTS, lastPTS))
		}
		lastPTS = f.PTS

		draw.Draw(surface, surface.Bounds(), f.Image, f.Image.Bounds().Min, draw.Src)
		j.c.comp.Compose(surface, surface.Bounds(), caps, f.PTS, scale)
		if err := p.sink.WriteFrame(surface); err != nil {
			return frames, j.fail(StateRendering, KindEncodeFailed, errors.Wrapf(err, "encode frame %d", frames))
		}
		frames++

		if f.PTS-lastReport >= every {
			lastReport = f.PTS
			j.report(renderPercent(f.PTS, duration), frames, f.PTS)
		}
	}
	if frames == 0 {
		return 0, j.fail(StateRendering, KindDecodeFailed, errors.New("source produced no frames"))
	}
	return frames, nil
}

func renderPercent(pts, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(pts/duration*renderProgressCap, renderProgressCap)
}

func visibleCaptions(in []caption.Caption) []caption.Caption {
	var out []caption.Caption
	for _, c := range in {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}
