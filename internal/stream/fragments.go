package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// NextFunc produces the next raw fragment from a provider stream. It returns
// io.EOF once the provider has finished.
type NextFunc func() (string, error)

// Fragments is a single-pass, forward-only sequence of generated text
// fragments. Empty fragments are never surfaced. The underlying transport is
// released when the sequence is drained, fails, or is closed explicitly;
// callers that stop early must call Close.
//
// A Fragments value is not safe for concurrent use.
type Fragments struct {
	next    NextFunc
	release func() error

	cur    string
	err    error
	done   bool
	closed bool
}

// New wraps a provider-specific next function. release may be nil.
func New(next NextFunc, release func() error) *Fragments {
	return &Fragments{next: next, release: release}
}

// FromSlice replays already-collected fragments.
func FromSlice(fragments []string) *Fragments {
	i := 0
	return New(func() (string, error) {
		if i >= len(fragments) {
			return "", io.EOF
		}
		frag := fragments[i]
		i++
		return frag, nil
	}, nil)
}

// Next advances to the next non-empty fragment.
func (f *Fragments) Next() bool {
	if f == nil {
		return false
	}
	for !f.done {
		frag, err := f.pull()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.err = err
			}
			f.finish()
			return false
		}
		if frag == "" {
			continue
		}
		f.cur = frag
		return true
	}
	return false
}

// pull calls next, turning a panic inside the provider stream into an error
// so a misbehaving backend cannot take the caller down with it.
func (f *Fragments) pull() (frag string, err error) {
	defer func() {
		if r := recover(); r != nil {
			frag, err = "", fmt.Errorf("stream panicked: %v", r)
		}
	}()
	return f.next()
}

// Current returns the fragment produced by the last successful Next.
func (f *Fragments) Current() string {
	if f == nil {
		return ""
	}
	return f.cur
}

// Err returns the error that ended the sequence, if any.
func (f *Fragments) Err() error {
	if f == nil {
		return nil
	}
	return f.err
}

// Close releases the underlying transport. It is safe to call more than once.
func (f *Fragments) Close() error {
	if f == nil {
		return nil
	}
	return f.finish()
}

func (f *Fragments) finish() error {
	f.done = true
	f.cur = ""
	if f.closed {
		return nil
	}
	f.closed = true
	if f.release == nil {
		return nil
	}
	return f.release()
}

// All exposes the sequence as a range-over-func iterator. Breaking out of the
// loop closes the stream; check Err afterwards for provider failures.
func (f *Fragments) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer f.Close()
		for f.Next() {
			if !yield(f.Current()) {
				return
			}
		}
	}
}

// Collect drains the sequence and joins every fragment.
func (f *Fragments) Collect() (string, error) {
	var sb strings.Builder
	for frag := range f.All() {
		sb.WriteString(frag)
	}
	return sb.String(), f.Err()
}
