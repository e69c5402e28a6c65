// Package domain holds the types shared by the capture, recording and
// inference packages.
package domain

import (
	"errors"
	"fmt"
)

// CaptureState is the listening indicator state reported to the presentation layer
type CaptureState string

const (
	CaptureIdle         CaptureState = "idle"
	CaptureInitializing CaptureState = "initializing"
	CaptureRecording    CaptureState = "recording"
)

// Modality identifies which payload drives an inference request
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
)

// ErrorKind tags an Error so callers can branch without string matching
type ErrorKind string

const (
	KindDeviceUnavailable         ErrorKind = "device_unavailable"
	KindDesktopCaptureUnavailable ErrorKind = "desktop_capture_unavailable"
	KindNoScreenSource            ErrorKind = "no_screen_source"
	KindProviderRequestFailed     ErrorKind = "provider_request_failed"
	KindAllCredentialsExhausted   ErrorKind = "all_credentials_exhausted"
	KindNoCredentials             ErrorKind = "no_credentials"
	KindInternal                  ErrorKind = "internal"
)

// Error is the tagged error variant used across the assistant
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrDeviceUnavailable         = &Error{Kind: KindDeviceUnavailable}
	ErrDesktopCaptureUnavailable = &Error{Kind: KindDesktopCaptureUnavailable}
	ErrNoScreenSource            = &Error{Kind: KindNoScreenSource}
	ErrProviderRequestFailed     = &Error{Kind: KindProviderRequestFailed}
	ErrAllCredentialsExhausted   = &Error{Kind: KindAllCredentialsExhausted}
	ErrNoCredentials             = &Error{Kind: KindNoCredentials}
)

// NewError creates a tagged error
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of the outermost *Error in err's
// chain, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// EventSink receives everything the presentation layer renders
type EventSink interface {
	OnCaptureStateChanged(state CaptureState)
	OnInferenceResult(text string)
	OnInferenceError(kind ErrorKind, message string)
	OnTranscriptionSplit(transcription, answer string)
}

// MultiSink fans events out to every sink in order
type MultiSink []EventSink

func (m MultiSink) OnCaptureStateChanged(state CaptureState) {
	for _, s := range m {
		s.OnCaptureStateChanged(state)
	}
}

func (m MultiSink) OnInferenceResult(text string) {
	for _, s := range m {
		s.OnInferenceResult(text)
	}
}

func (m MultiSink) OnInferenceError(kind ErrorKind, message string) {
	for _, s := range m {
		s.OnInferenceError(kind, message)
	}
}

func (m MultiSink) OnTranscriptionSplit(transcription, answer string) {
	for _, s := range m {
		s.OnTranscriptionSplit(transcription, answer)
	}
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) OnCaptureStateChanged(CaptureState) {}
func (NopSink) OnInferenceResult(string) {}
func (NopSink) OnInferenceError(ErrorKind, string) {}
func (NopSink) OnTranscriptionSplit(string, string) {}
