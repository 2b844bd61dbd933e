package ports

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/forPelevin/capburn/internal/types"
)

type VideoTool interface {
	ExtractAudio(ctx context.Context, inVideo, outWav string) error
	Probe(ctx context.Context, inVideo string) (types.MediaInfo, error)
	// Frame grabs one decoded frame at the given time, at native resolution.
	Frame(ctx context.Context, inVideo string, atSec float64) (image.Image, error)
}

type ASR interface {
	Transcribe(ctx context.Context, mediaPath, cacheDir string) (types.Transcript, error)
}

type PhraseExtractor interface {
	ExtractPhrases(ctx context.Context, tr types.Transcript, maxPhrases int) ([]types.Phrase, error)
}

// MediaIO decodes a source into ordered RGBA frames and encodes frames back into a file.
type MediaIO interface {
	OpenSource(ctx context.Context, path string) (FrameSource, error)
	OpenSink(ctx context.Context, path string, opts SinkOptions) (FrameSink, error)
}

type Frame struct {
	Index int
	// PTS is the presentation time in seconds from media start.
	PTS   float64
	Image *image.RGBA
}

// FrameSource yields frames in presentation order. Next returns io.EOF after the last frame.
// The returned image may be reused by the next call.
type FrameSource interface {
	Info() types.MediaInfo
	Next() (Frame, error)
	Close() error
}

type SinkOptions struct {
	Width  int
	Height int
	FPS    float64
	// AudioFrom is muxed into the output when set. The track is copied when
	// SourceAudioCodec already matches AudioCodec.
	AudioFrom        string
	AudioCodec       string
	SourceAudioCodec string
	Format           string
}

// FrameSink writes frames to a temporary file. Finish moves it to the target path;
// Abort deletes it. A failed Finish deletes it too.
type FrameSink interface {
	WriteFrame(img *image.RGBA) error
	Finish(ctx context.Context) error
	Abort() error
}

type ServiceErrorKind string

const (
	UnsupportedFormat ServiceErrorKind = "unsupported_format"
	ServiceFailure    ServiceErrorKind = "service_failure"
)

// ServiceError is returned by external collaborators (transcription, phrase extraction)
// so callers can tell a bad input format from a failing service.
type ServiceError struct {
	Service string
	Kind    ServiceErrorKind
	Err     error
}

func (e *ServiceError) Error() string {
	switch e.Kind {
	case UnsupportedFormat:
		return fmt.Sprintf("%s: unsupported format: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsUnsupportedFormat reports whether err carries an UnsupportedFormat ServiceError.
func IsUnsupportedFormat(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == UnsupportedFormat
}
