package compositor

import (
	"fmt"
)

// Kind names why an export failed.
type Kind string

const (
	KindNothingSelected    Kind = "nothing_selected"
	KindInvalidConfig      Kind = "invalid_config"
	KindSurfaceUnavailable Kind = "surface_unavailable"
	KindDecodeFailed       Kind = "decode_failed"
	KindEncodeFailed       Kind = "encode_failed"
	KindInitTimeout        Kind = "init_timeout"
	KindCanceled           Kind = "canceled"
)

// Error is a failed export. Stage is the state the job was in when it failed.
type Error struct {
	Stage State
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("export %s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("export %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, ErrDecodeFailed) works
// regardless of stage and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNothingSelected    = &Error{Kind: KindNothingSelected}
	ErrInvalidConfig      = &Error{Kind: KindInvalidConfig}
	ErrSurfaceUnavailable = &Error{Kind: KindSurfaceUnavailable}
	ErrDecodeFailed       = &Error{Kind: KindDecodeFailed}
	ErrEncodeFailed       = &Error{Kind: KindEncodeFailed}
	ErrInitTimeout        = &Error{Kind: KindInitTimeout}
	ErrCanceled           = &Error{Kind: KindCanceled}
)

// Message is the short user-facing text for a failure kind.
func (k Kind) Message() string {
	switch k {
	case KindNothingSelected:
		return "No captions selected"
	case KindInvalidConfig:
		return "Invalid export settings"
	case KindDecodeFailed:
		return "Failed to load video"
	case KindSurfaceUnavailable:
		return "Rendering surface unavailable"
	case KindEncodeFailed:
		return "Encoder failed"
	case KindInitTimeout:
		return "Export setup timed out"
	case KindCanceled:
		return "Export canceled"
	default:
		return string(k)
	}
}
