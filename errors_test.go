package fastls

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		if !errors.Is(err, ErrSerialization) {
			t.Fatalf("errors.Is(err, ErrSerialization) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2) aabb") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2) aabb", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestPathError(t *testing.T) {
	err := pathErrf("a:b", "segment contains %q", ":")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("errors.Is(err, ErrInvalidPath) = false, wanted true")
	}
	if errors.Is(err, ErrBackend) {
		t.Fatalf("errors.Is(err, ErrBackend) = true, wanted false")
	}
	if got, want := err.Error(), `fastls: invalid path "a:b": segment contains ":"`; got != want {
		t.Fatalf("err.Error() = %q, wanted %q", got, want)
	}
}

func TestBackendError(t *testing.T) {
	if backendErr("load", "main", nil) != nil {
		t.Fatalf("backendErr(nil) != nil")
	}

	inner := errors.New("disk full")
	err := backendErr("save", "main", inner)
	if !errors.Is(err, ErrBackend) || !errors.Is(err, inner) {
		t.Fatalf("err = %v, wanted to match both ErrBackend and inner", err)
	}
	if got, want := err.Error(), "fastls: save main: disk full"; got != want {
		t.Fatalf("err.Error() = %q, wanted %q", got, want)
	}

	s := (&BackendError{Op: "list", Err: inner}).Error()
	if s != "fastls: list: disk full" {
		t.Fatalf("BackendError.Error() = %q", s)
	}
}
