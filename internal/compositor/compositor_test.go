package compositor

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/fonts"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/session"
	"github.com/forPelevin/capburn/internal/types"
)

type fakeSource struct {
	info   types.MediaInfo
	pts    []float64
	i      int
	errAt  int
	closed bool
	onNext func(i int)
}

func (s *fakeSource) Info() types.MediaInfo { return s.info }

func (s *fakeSource) Next() (ports.Frame, error) {
	if s.onNext != nil {
		s.onNext(s.i)
	}
	if s.errAt > 0 && s.i == s.errAt {
		return ports.Frame{}, errors.New("corrupt packet")
	}
	if s.i >= len(s.pts) {
		return ports.Frame{}, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	f := ports.Frame{Index: s.i, PTS: s.pts[s.i], Image: img}
	s.i++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	opts      ports.SinkOptions
	frames    int
	failAt    int
	finishErr error
	finished  bool
	aborted   bool
}

func (s *fakeSink) WriteFrame(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && s.frames == s.failAt {
		return errors.New("muxer rejected packet")
	}
	s.frames++
	return nil
}

func (s *fakeSink) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	s.finished = true
	return nil
}

func (s *fakeSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	return nil
}

type fakeMedia struct {
	src       *fakeSource
	sink      *fakeSink
	srcErr    error
	sinkErr   error
	openDelay time.Duration
}

func (m *fakeMedia) OpenSource(ctx context.Context, path string) (ports.FrameSource, error) {
	if m.openDelay > 0 {
		time.Sleep(m.openDelay)
	}
	if m.srcErr != nil {
		return nil, m.srcErr
	}
	return m.src, nil
}

func (m *fakeMedia) OpenSink(ctx context.Context, path string, opts ports.SinkOptions) (ports.FrameSink, error) {
	if m.sinkErr != nil {
		return nil, m.sinkErr
	}
	m.sink.opts = opts
	return m.sink, nil
}

func ptsSeries(n int, fps float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) / fps
	}
	return out
}

func newMedia(n int) *fakeMedia {
	return &fakeMedia{
		src: &fakeSource{
			info: types.MediaInfo{Width: 192, Height: 108, FPS: 10, Duration: float64(n) / 10, HasAudio: true, AudioCodec: "aac"},
			pts:  ptsSeries(n, 10),
		},
		sink: &fakeSink{},
	}
}

func snapshot(visible bool) session.Snapshot {
	c := caption.Caption{ID: "a", StartSec: 0.5, EndSec: 1.5, Visible: visible}
	c.SetText("hello")
	return session.Snapshot{
		Captions: []caption.Caption{c},
		Preview:  geometry.Preview{Box: geometry.Box{W: 96, H: 54}},
	}
}

func newCompositor(t *testing.T, m ports.MediaIO, cfg Config) *Compositor {
	t.Helper()
	reg, err := fonts.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	return New(m, overlay.New(reg, nil), nil, cfg)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushDelay = time.Millisecond
	return cfg
}

func TestExport_Success(t *testing.T) {
	m := newMedia(35)
	c := newCompositor(t, m, testConfig())

	var (
		states   []State
		progress []float64
	)
	job := c.NewJob(Request{
		Source:   "in.mp4",
		Output:   "out.webm",
		Snapshot: snapshot(true),
		OnProgress: func(p Progress) {
			if len(states) == 0 || states[len(states)-1] != p.State {
				states = append(states, p.State)
			}
			progress = append(progress, p.Percent)
		},
	})
	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Frames != 35 || m.sink.frames != 35 || !m.sink.finished || m.sink.aborted {
		t.Fatalf("result %+v sink %+v", res, m.sink)
	}
	if res.Scale != (geometry.Scale{X: 2, Y: 2}) {
		t.Fatalf("scale = %+v", res.Scale)
	}
	if m.sink.opts.AudioFrom != "in.mp4" || m.sink.opts.AudioCodec != "opus" || m.sink.opts.Width != 192 {
		t.Fatalf("sink options = %+v", m.sink.opts)
	}
	want := []State{StateInitializing, StateRendering, StateFinalizing, StateComplete}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased: %v", progress)
		}
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Fatalf("final progress = %v", last)
	}
	if job.State() != StateComplete || !m.src.closed {
		t.Fatalf("state %s closed %v", job.State(), m.src.closed)
	}
}

func TestExport_ProgressRateLimited(t *testing.T) {
	m := newMedia(50) // 5 seconds at 10 fps
	c := newCompositor(t, m, testConfig())
	var rendering []Progress
	_, err := c.Export(context.Background(), Request{
		Source:   "in.mp4",
		Output:   "out.webm",
		Snapshot: snapshot(true),
		OnProgress: func(p Progress) {
			if p.State == StateRendering && p.Percent > 0 {
				rendering = append(rendering, p)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rendering) == 0 || len(rendering) > 5 {
		t.Fatalf("expected at most one report per source second, got %d", len(rendering))
	}
	for i := 1; i < len(rendering); i++ {
		if rendering[i].PTS-rendering[i-1].PTS < 1-1e-9 {
			t.Fatalf("reports closer than 1s of source time: %+v", rendering)
		}
	}
	for _, p := range rendering {
		if p.Percent > renderProgressCap {
			t.Fatalf("rendering progress above cap: %v", p.Percent)
		}
	}
}

func TestExport_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *fakeMedia)
		snap  session.Snapshot
		want  error
		stage State
	}{
		{
			name:  "nothing selected",
			setup: func(m *fakeMedia) {},
			snap:  snapshot(false),
			want:  ErrNothingSelected,
			stage: StateIdle,
		},
		{
			name:  "unreadable source",
			setup: func(m *fakeMedia) { m.srcErr = errors.New("moov atom not found") },
			want:  ErrDecodeFailed,
			stage: StateInitializing,
		},
		{
			name:  "encoder unavailable",
			setup: func(m *fakeMedia) { m.sinkErr = errors.New("libvpx-vp9 not found") },
			want:  ErrSurfaceUnavailable,
			stage: StateInitializing,
		},
		{
			name:  "zero size surface",
			setup: func(m *fakeMedia) { m.src.info.Width = 0 },
			want:  ErrSurfaceUnavailable,
			stage: StateInitializing,
		},
		{
			name:  "decode error mid stream",
			setup: func(m *fakeMedia) { m.src.errAt = 5 },
			want:  ErrDecodeFailed,
			stage: StateRendering,
		},
		{
			name:  "out of order frames",
			setup: func(m *fakeMedia) { m.src.pts[4] = 0.1 },
			want:  ErrDecodeFailed,
			stage: StateRendering,
		},
		{
			name:  "encoder error mid stream",
			setup: func(m *fakeMedia) { m.sink.failAt = 3 },
			want:  ErrEncodeFailed,
			stage: StateRendering,
		},
		{
			name:  "finalize error",
			setup: func(m *fakeMedia) { m.sink.finishErr = errors.New("mux failed") },
			want:  ErrEncodeFailed,
			stage: StateFinalizing,
		},
		{
			name:  "empty source",
			setup: func(m *fakeMedia) { m.src.pts = nil },
			want:  ErrDecodeFailed,
			stage: StateRendering,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMedia(10)
			tt.setup(m)
			snap := tt.snap
			if snap.Captions == nil {
				snap = snapshot(true)
			}
			job := newCompositor(t, m, testConfig()).NewJob(Request{Source: "in.mp4", Output: "out.webm", Snapshot: snap})
			_, err := job.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want kind %v", err, tt.want)
			}
			var e *Error
			if !errors.As(err, &e) || e.Stage != tt.stage {
				t.Fatalf("stage = %+v, want %s", e, tt.stage)
			}
			for _, other := range []error{ErrNothingSelected, ErrDecodeFailed, ErrEncodeFailed, ErrSurfaceUnavailable} {
				if other != tt.want && errors.Is(err, other) {
					t.Fatalf("%v also matches %v", err, other)
				}
			}
			if job.State() != StateFailed {
				t.Fatalf("job left in %s", job.State())
			}
			if m.sink.finished {
				t.Fatal("failed export delivered output")
			}
			if tt.stage == StateRendering && !m.sink.aborted {
				t.Fatal("partial output not discarded")
			}
		})
	}
}

func TestExport_CancelDiscardsOutput(t *testing.T) {
	m := newMedia(40)
	ctx, cancel := context.WithCancel(context.Background())
	m.src.onNext = func(i int) {
		if i == 12 {
			cancel()
		}
	}
	job := newCompositor(t, m, testConfig()).NewJob(Request{Source: "in.mp4", Output: "out.webm", Snapshot: snapshot(true)})
	_, err := job.Run(ctx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v", err)
	}
	if !m.sink.aborted || m.sink.finished {
		t.Fatalf("sink aborted=%v finished=%v", m.sink.aborted, m.sink.finished)
	}
	if !m.src.closed {
		t.Fatal("source left open")
	}
}

func TestExport_InitTimeout(t *testing.T) {
	m := newMedia(5)
	m.openDelay = 200 * time.Millisecond
	cfg := testConfig()
	cfg.InitTimeout = 10 * time.Millisecond
	_, err := newCompositor(t, m, cfg).Export(context.Background(), Request{Source: "in.mp4", Output: "out.webm", Snapshot: snapshot(true)})
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestExport_RunsOnce(t *testing.T) {
	m := newMedia(3)
	job := newCompositor(t, m, testConfig()).NewJob(Request{Source: "in.mp4", Output: "out.webm", Snapshot: snapshot(true)})
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("second run must fail")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Format = "avi"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected format error")
	}
	if AudioCodec(FormatMP4) != "aac" || AudioCodec(FormatWebM) != "opus" {
		t.Fatal("unexpected audio codecs")
	}
}

func TestExport_InvalidConfig(t *testing.T) {
	m := newMedia(5)
	cfg := testConfig()
	cfg.Format = "avi"
	job := newCompositor(t, m, cfg).NewJob(Request{Source: "in.mp4", Output: "out.avi", Snapshot: snapshot(true)})
	_, err := job.Run(context.Background())
	if !errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	var ee *Error
	if !errors.As(err, &ee) || ee.Stage != StateIdle {
		t.Fatalf("stage = %+v", ee)
	}
	if m.sink.frames != 0 || m.sink.opts.Width != 0 {
		t.Fatal("no media must be opened for a bad config")
	}
}

func TestKindMessages(t *testing.T) {
	if KindNothingSelected.Message() != "No captions selected" || KindDecodeFailed.Message() != "Failed to load video" {
		t.Fatal("unexpected user messages")
	}
}
