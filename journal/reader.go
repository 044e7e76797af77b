package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

const maxRecordSize = 1 << 30

// Record is one committed journal record.
type Record struct {
	ID        uint64
	Timestamp time.Time
	Data      []byte
}

// Each calls fn for every committed record, oldest first. A corrupted segment
// is read up to its last intact commit; reading then moves on to the next
// segment. An error returned by fn stops the iteration and is returned as is.
func (j *Journal) Each(fn func(Record) error) error {
	segs, err := j.segments()
	if err != nil {
		return err
	}
	for _, seg := range segs {
		err := j.readSegment(seg, fn)
		if errors.Is(err, errCorruptedFile) {
			j.logger.Warn("journal: skipping the rest of a corrupted segment", "jrnl", j.debugName, "file", seg.name, "err", err)
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

// Records returns every committed record, oldest first.
func (j *Journal) Records() ([]Record, error) {
	var recs []Record
	err := j.Each(func(r Record) error {
		recs = append(recs, r)
		return nil
	})
	return recs, err
}

func (j *Journal) readSegment(seg segmentInfo, fn func(Record) error) error {
	f, err := j.openFile(seg.name, false)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	corrupted := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", errCorruptedFile, seg.name, fmt.Sprintf(format, args...))
	}

	var hash xxhash.Digest
	hash.Reset()
	h, err := j.readHeader(r, &hash, seg.ordinal)
	if err != nil {
		if errors.Is(err, errCorruptedFile) {
			return corrupted("%v", err)
		}
		return err
	}

	ts := h.Timestamp
	id := seg.firstRec
	var pending []Record
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			if len(pending) > 0 && j.verbose {
				j.logger.Debug("journal: ignoring uncommitted records", "jrnl", j.debugName, "file", seg.name, "count", len(pending))
			}
			return nil
		} else if err != nil {
			return err
		}

		if b&recordFlagCommit != 0 {
			var trailer [8]byte
			trailer[0] = b
			if _, err := io.ReadFull(r, trailer[1:]); err != nil {
				return corrupted("torn commit")
			}
			if trailer != commitTrailer(&hash) {
				return corrupted("checksum mismatch")
			}
			hash.Write(trailer[:])
			for _, rec := range pending {
				if err := fn(rec); err != nil {
					return err
				}
			}
			pending = pending[:0]
			continue
		}

		r.UnreadByte()
		sizeAndFlags, err := binary.ReadUvarint(r)
		if err != nil {
			return corrupted("torn record header")
		}
		tsDelta, err := binary.ReadUvarint(r)
		if err != nil || tsDelta > 0xFFFF_FFFF {
			return corrupted("torn record header")
		}
		size := sizeAndFlags >> recordFlagShift
		if size > maxRecordSize {
			return corrupted("record of %d bytes", size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return corrupted("torn record")
		}

		var hbuf [maxRecHeaderLen]byte
		hash.Write(appendRecordHeader(hbuf[:0], int(size), uint32(tsDelta)))
		hash.Write(data)

		ts += uint32(tsDelta)
		pending = append(pending, Record{
			ID:        id,
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Data:      data,
		})
		id++
	}
}

func (j *Journal) readHeader(r io.Reader, hash *xxhash.Digest, expectedSeq uint32) (*segmentHeader, error) {
	var buf [segmentHeaderSize]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil, errCorruptedFile
	} else if err != nil {
		return nil, err
	}
	h := new(segmentHeader)
	n, err := binary.Decode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	if h.Magic != magic || hash.Sum64() != h.Checksum {
		return nil, errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return nil, errCorruptedFile
	}
	if h.Version > version0 {
		return nil, ErrUnsupportedVersion
	}
	if h.Invariant != j.invariant {
		return nil, ErrIncompatible
	}
	hash.Write(buf[segmentHeaderSize-8:])
	return h, nil
}
