// Package errs classifies pipeline failures by the stage that produced them.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Probe           Kind = "probe"
	Extraction      Kind = "extraction"
	Transcription   Kind = "transcription"
	ContentAnalysis Kind = "content_analysis"
	VideoProcessing Kind = "video_processing"
	Caption         Kind = "caption"
	Storage         Kind = "storage"
	Download        Kind = "download"
	Validation      Kind = "validation"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns nil when err is nil. An err that already carries a kind keeps
// it, so the innermost classification wins.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
