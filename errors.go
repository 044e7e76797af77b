package fastls

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPath is returned for paths with forbidden characters, a bare "..",
	// or ".." navigation above the root.
	ErrInvalidPath = errors.New("fastls: invalid path")

	// ErrSerialization is returned when a value cannot be encoded or a stored blob cannot be decoded.
	ErrSerialization = errors.New("fastls: serialization failure")

	// ErrQuotaExceeded is returned when a value does not fit its quota even on its own.
	ErrQuotaExceeded = errors.New("fastls: quota exceeded")

	// ErrBackend is returned (wrapped in *BackendError) when a backend load/save fails.
	ErrBackend = errors.New("fastls: backend failure")

	// ErrCyclicShortcut is returned when shortcut resolution revisits an entry.
	ErrCyclicShortcut = errors.New("fastls: cyclic shortcut")

	// ErrUnknownRemovalStrategy is returned for an unrecognized removal strategy token.
	ErrUnknownRemovalStrategy = errors.New("fastls: unknown removal strategy")

	// ErrDatabaseNotFound is returned by backends asked to drop a database they don't have.
	ErrDatabaseNotFound = errors.New("fastls: database not found")
)

type PathError struct {
	Path string
	Msg  string
}

func pathErrf(path string, format string, args ...any) error {
	return &PathError{path, fmt.Sprintf(format, args...)}
}

func (e *PathError) Error() string {
	return fmt.Sprintf("fastls: invalid path %q: %s", e.Path, e.Msg)
}

func (e *PathError) Is(target error) bool {
	return target == ErrInvalidPath
}

type BackendError struct {
	Op  string
	DB  string
	Err error
}

func backendErr(op, db string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{op, db, err}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

func (e *BackendError) Error() string {
	var buf strings.Builder
	buf.WriteString("fastls: ")
	buf.WriteString(e.Op)
	if e.DB != "" {
		buf.WriteString(" ")
		buf.WriteString(e.DB)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DataError describes a stored blob that failed to decode.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrSerialization
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
