// Package journaltest helps testing code that writes journals.
package journaltest

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JOrE20/fastls/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal is a journal in a temporary directory with a manual clock.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	now time.Time
}

// New creates a journal that isn't open for writing yet.
func New(t testing.TB, o journal.Options) *TestJournal {
	return At(t, t.TempDir(), o)
}

// At is like New, but uses the given directory.
func At(t testing.TB, dir string, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: dir,

		now: Start,
	}
	if o.FileName == "" {
		o.FileName = "j*.wal"
	}
	o.Now = func() time.Time { return j.now }
	o.Logger = Logger(t)
	o.Verbose = true
	o.NoSync = true

	j.Journal = journal.New(dir, o)
	return j
}

// Writable creates a journal open for writing that gets closed on cleanup.
func Writable(t testing.TB, o journal.Options) *TestJournal {
	j := New(t, o)
	j.StartWriting()
	t.Cleanup(func() {
		err := j.FinishWriting()
		if err != nil {
			t.Error(err)
		}
	})
	return j
}

func (j *TestJournal) StartWriting() {
	j.T.Helper()
	if err := j.Journal.StartWriting(); err != nil {
		j.T.Fatalf("StartWriting: %v", err)
	}
}

func (j *TestJournal) Now() time.Time {
	return j.now
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

// FileNames returns the segment files in order.
func (j *TestJournal) FileNames() []string {
	j.T.Helper()
	names, err := j.SegmentNames()
	if err != nil {
		j.T.Fatal(err)
	}
	return names
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

// Put overwrites a segment file, e.g. to simulate a torn write.
func (j *TestJournal) Put(fileName string, data []byte) {
	j.T.Helper()
	if err := os.WriteFile(filepath.Join(j.Dir, fileName), data, 0o644); err != nil {
		j.T.Fatal(err)
	}
}

// Logger sends slog records to t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}
