package journal_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/JOrE20/fastls/journal"
	"github.com/JOrE20/fastls/journal/journaltest"
)

func TestJournal_trivial(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("hello")))
	ensure(j.WriteRecord(0, []byte("w")))
	j.Advance(1000 * time.Second)
	ensure(j.WriteRecord(0, []byte("orld")))
	ensure(j.WriteRecord(0, nil))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	files := j.FileNames()
	deepEq(t, files, []string{"j000000000001-20240101T000000-0000000000000001.wal"})

	recs := must(j.Records())
	deepEq(t, dataOf(recs), []string{"hello", "w", "orld"})
	deepEq(t, idsOf(recs), []uint64{1, 2, 3})
	deepEq(t, recs[0].Timestamp, journaltest.Start)
	deepEq(t, recs[2].Timestamp, journaltest.Start.Add(1000*time.Second))
}

func TestJournal_uncommitted(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("a")))
	ensure(j.Commit())
	ensure(j.WriteRecord(0, []byte("b")))
	ensure(j.FinishWriting())

	deepEq(t, dataOf(must(j.Records())), []string{"a"})
}

func TestJournal_corrupted(t *testing.T) {
	for _, tc := range []struct {
		name   string
		damage func([]byte) []byte
	}{
		{"flipped byte", func(b []byte) []byte {
			b[len(b)-9] ^= 0xFF
			return b
		}},
		{"torn commit", func(b []byte) []byte { return b[:len(b)-3] }},
		{"torn record", func(b []byte) []byte { return b[:len(b)-9] }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			j := journaltest.Writable(t, journal.Options{})
			ensure(j.WriteRecord(0, []byte("a")))
			ensure(j.Commit())
			ensure(j.WriteRecord(0, []byte("b")))
			ensure(j.Commit())
			ensure(j.FinishWriting())

			name := j.FileNames()[0]
			j.Put(name, tc.damage(j.Data(name)))
			deepEq(t, dataOf(must(j.Records())), []string{"a"})
		})
	}
}

func TestJournal_corruptedHeader(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("a")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	name := j.FileNames()[0]
	data := j.Data(name)
	data[20] ^= 0x01
	j.Put(name, data)
	deepEq(t, len(must(j.Records())), 0)

	// a fresh session starts a new segment after the damaged one
	j.StartWriting()
	ensure(j.WriteRecord(0, []byte("b")))
	ensure(j.Commit())
	ensure(j.FinishWriting())
	deepEq(t, dataOf(must(j.Records())), []string{"b"})
}

func TestJournal_rotation(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{MaxFileSize: 300})
	var want []string
	for i := range 10 {
		s := strings.Repeat(string(rune('a'+i)), 100)
		want = append(want, s)
		ensure(j.WriteRecord(0, []byte(s)))
		ensure(j.Commit())
		j.Advance(time.Second)
	}
	ensure(j.FinishWriting())

	files := j.FileNames()
	if len(files) != 5 {
		t.Fatalf("got %d segments, wanted 5: %v", len(files), files)
	}
	deepEq(t, files[1], "j000000000002-20240101T000002-0000000000000003.wal")

	recs := must(j.Records())
	deepEq(t, dataOf(recs), want)
	deepEq(t, idsOf(recs), []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	deepEq(t, recs[9].Timestamp, journaltest.Start.Add(9*time.Second))
}

func TestJournal_reopen(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("a")))
	ensure(j.WriteRecord(0, []byte("b")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	j2 := journaltest.At(t, j.Dir, journal.Options{})
	j2.Advance(time.Hour)
	j2.StartWriting()
	ensure(j2.WriteRecord(0, []byte("c")))
	ensure(j2.Commit())
	ensure(j2.FinishWriting())

	deepEq(t, j2.FileNames(), []string{
		"j000000000001-20240101T000000-0000000000000001.wal",
		"j000000000002-20240101T010000-0000000000000003.wal",
	})
	recs := must(j2.Records())
	deepEq(t, dataOf(recs), []string{"a", "b", "c"})
	deepEq(t, idsOf(recs), []uint64{1, 2, 3})
}

func TestJournal_incompatible(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{Invariant: [32]byte{1}})
	ensure(j.WriteRecord(0, []byte("a")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	other := journaltest.At(t, j.Dir, journal.Options{Invariant: [32]byte{2}})
	_, err := other.Records()
	if !errors.Is(err, journal.ErrIncompatible) {
		t.Fatalf("Records() err = %v, wanted ErrIncompatible", err)
	}
}

func TestJournal_readOnly(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	if err := j.WriteRecord(0, []byte("a")); !errors.Is(err, journal.ErrReadOnly) {
		t.Fatalf("WriteRecord err = %v, wanted ErrReadOnly", err)
	}
	deepEq(t, len(must(j.Records())), 0)
	deepEq(t, len(j.FileNames()), 0)
}

func TestJournal_stopsOnCallbackError(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("a")))
	ensure(j.WriteRecord(0, []byte("b")))
	ensure(j.Commit())

	stop := errors.New("stop")
	var seen int
	err := j.Each(func(journal.Record) error {
		seen++
		return stop
	})
	if err != stop || seen != 1 {
		t.Fatalf("Each = %v after %d records, wanted stop after 1", err, seen)
	}
}

func dataOf(recs []journal.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, string(r.Data))
	}
	return out
}

func idsOf(recs []journal.Record) []uint64 {
	var out []uint64
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
