package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/snarg/vidsum/internal/acquire"
)

// ErrBusy is returned by TryRun while another run is in flight.
var ErrBusy = errors.New("a summarization is already running")

// Kind classifies a pipeline failure.
type Kind string

const (
	KindAcquisition   Kind = "AcquisitionFailed"
	KindTranscription Kind = "TranscriptionFailed"
	KindSummarization Kind = "SummarizationFailed"
	KindDependency    Kind = "DependencyUnavailable"
	KindInvalidInput  Kind = "InvalidInput"
	KindCanceled      Kind = "Canceled"
)

// Error is a stage failure surfaced to the caller.
type Error struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the text shown to an end user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindInvalidInput:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "invalid input"
	case KindAcquisition:
		return "Could not retrieve audio from the source"
	case KindTranscription:
		return "Transcription failed"
	case KindSummarization:
		return "Summarization failed"
	case KindDependency:
		return "A required tool is not installed on the server"
	case KindCanceled:
		return "The request was canceled"
	}
	return "Processing failed"
}

// KindOf returns the kind of a pipeline error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classify maps a stage error onto a kind. fallback is the stage's own
// failure kind.
func classify(ctx context.Context, err error, fallback Kind) Kind {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, acquire.ErrDependency):
		return KindDependency
	case errors.Is(err, acquire.ErrInvalidSource):
		return KindInvalidInput
	}
	return fallback
}
