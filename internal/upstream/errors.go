package upstream

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/n0madic/go-modelgate/internal/stream"
)

var (
	ErrNoResponseText = errors.New("no response text found in the response")
	ErrNoChoices      = errors.New("no choices returned in the response")
	ErrNoCandidates   = errors.New("no candidates returned in the response")
)

// ErrorPrefix starts every failure surfaced through the text channel.
const ErrorPrefix = "Error: "

// BackendError is the value returned in place of a Result when a provider
// call fails. Message is meant for humans; Err keeps the original cause.
type BackendError struct {
	Backend Backend
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown " + string(e.Backend) + " backend failure"
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Describer renders a provider error into a readable message.
type Describer func(error) string

// NewBackendError wraps err for backend. describe may be nil, in which case
// err.Error() is used.
func NewBackendError(backend Backend, err error, describe Describer) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	msg := ""
	if describe != nil {
		msg = describe(err)
	}
	if strings.TrimSpace(msg) == "" && err != nil {
		msg = err.Error()
	}
	return &BackendError{Backend: backend, Message: msg, Err: err}
}

// ErrorText formats err the way the text channel reports failures.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return ErrorPrefix + err.Error()
}

// Guard runs fn and converts a panic inside the provider client into a
// *BackendError, and any other error through NewBackendError.
func Guard(backend Backend, describe Describer, fn func() (*Result, error)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &BackendError{
				Backend: backend,
				Message: fmt.Sprintf("%s backend panicked: %v", backend, r),
			}
		}
	}()
	res, err = fn()
	if err != nil {
		return nil, NewBackendError(backend, err, describe)
	}
	return res, nil
}

// GuardNext wraps a provider stream step so mid-stream failures surface as
// *BackendError. io.EOF passes through untouched.
func GuardNext(backend Backend, describe Describer, next stream.NextFunc) stream.NextFunc {
	return func() (string, error) {
		frag, err := next()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", NewBackendError(backend, err, describe)
		}
		return frag, err
	}
}
