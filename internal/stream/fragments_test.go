package stream

import (
	"errors"
	"io"
	"reflect"
	"testing"
)

func drain(f *Fragments) []string {
	var out []string
	for f.Next() {
		out = append(out, f.Current())
	}
	return out
}

func TestFragmentsSkipEmpty(t *testing.T) {
	f := FromSlice([]string{"", "Hel", "", "lo", ""})
	got := drain(f)
	want := []string{"Hel", "lo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if f.Err() != nil {
		t.Fatalf("unexpected error: %v", f.Err())
	}
	if f.Next() {
		t.Fatal("exhausted stream must not restart")
	}
}

func TestFragmentsReleaseOnceAfterDrain(t *testing.T) {
	released := 0
	calls := 0
	f := New(func() (string, error) {
		calls++
		if calls > 2 {
			return "", io.EOF
		}
		return "x", nil
	}, func() error {
		released++
		return nil
	})

	if got := drain(f); len(got) != 2 {
		t.Fatalf("got %d fragments, want 2", len(got))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if released != 1 {
		t.Fatalf("release called %d times, want 1", released)
	}
}

func TestFragmentsEarlyBreakReleases(t *testing.T) {
	released := false
	f := New(func() (string, error) { return "tick", nil }, func() error {
		released = true
		return nil
	})

	n := 0
	for range f.All() {
		n++
		if n == 3 {
			break
		}
	}
	if !released {
		t.Fatal("breaking out of All must release the transport")
	}
	if f.Next() {
		t.Fatal("closed stream must not yield")
	}
}

func TestFragmentsErrorEndsSequence(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	f := New(func() (string, error) {
		calls++
		if calls == 1 {
			return "partial", nil
		}
		return "", boom
	}, nil)

	text, err := f.Collect()
	if text != "partial" {
		t.Fatalf("text = %q, want %q", text, "partial")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestFragmentsRecoversPanic(t *testing.T) {
	f := New(func() (string, error) { panic("decoder bug") }, nil)
	if f.Next() {
		t.Fatal("expected no fragments")
	}
	if f.Err() == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestNilFragments(t *testing.T) {
	var f *Fragments
	if f.Next() || f.Current() != "" || f.Err() != nil || f.Close() != nil {
		t.Fatal("nil Fragments must behave as an empty stream")
	}
}
