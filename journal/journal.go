// Package journal implements append-only journal files: numbered segments
// holding batches of records, each batch sealed by a checksummed commit.
//
// Intended use: a change log written next to a fastls backend, replayed to
// audit or rebuild the stored databases.
//
// Features:
//
//  1. Records of any size. Multiple records can be combined into a single
//     commit with minimal overhead.
//
//  2. Crash-resistant. Every commit carries an xxhash64 of the segment up to
//     that point; readers stop at the first torn or corrupted batch and never
//     return uncommitted records.
//
//  3. Rotates segment files when they reach a certain size.
//
// File format:
//
//   - segment = header (record* commit)*
//   - header = magic:64 version:8 pad:8 flags:16 pad:32 ordinal:32 timestamp:32 invariant:256 reserved:256 checksum:64
//   - record = size<<1:uvarint tsDelta:uvarint bytes*
//   - commit = checksum:64 with the lowest bit set
//
// Segment files are named <prefix><ordinal>-<timestamp>-<first record id><suffix>.
package journal

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/JOrE20/fastls/fsync"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible journal")
	ErrUnsupportedVersion = fmt.Errorf("unsupported journal version")
	ErrReadOnly           = fmt.Errorf("journal is not open for writing")
	errCorruptedFile      = fmt.Errorf("corrupted journal segment file")
)

type Options struct {
	FileName    string // e.g. "fastls-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	// Invariant is stored in every segment header; segments written with a
	// different invariant are rejected as ErrIncompatible.
	Invariant [32]byte

	// NoSync skips fdatasync after each commit.
	NoSync bool

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 12 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	Invariant      [32]byte
	_              [4]uint64
	Checksum       uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

// Journal is a directory of segment files sharing a name pattern.
type Journal struct {
	maxFileSize    int64
	fileNamePrefix string
	fileNameSuffix string
	debugName      string
	dir            string
	now            func() time.Time
	logger         *slog.Logger
	verbose        bool
	noSync         bool
	invariant      [32]byte

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		maxFileSize:    o.MaxFileSize,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		debugName:      o.DebugName,
		dir:            dir,
		now:            o.Now,
		logger:         o.Logger,
		verbose:        o.Verbose,
		noSync:         o.NoSync,
		invariant:      o.Invariant,
	}
}

// Now returns the current time as a journal timestamp.
func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Dir() string {
	return j.dir
}

// StartWriting prepares the journal for appending. Writes always go to a new
// segment that continues the numbering of the existing ones.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.writable {
		return nil
	}
	if err := os.MkdirAll(j.dir, 0o777); err != nil {
		return j.fail(err)
	}
	if err := j.prepareToWrite_locked(); err != nil {
		return j.fail(err)
	}
	j.writable = true
	return nil
}

func (j *Journal) prepareToWrite_locked() error {
	segs, err := j.segments()
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}
	last := segs[len(segs)-1]
	j.writeSeg = last.ordinal

	var count uint64
	err = j.readSegment(last, func(Record) error {
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errCorruptedFile) {
		return err
	}
	j.writeRec = last.firstRec + count - 1
	if j.verbose {
		j.logger.Debug("journal: continuing", "jrnl", j.debugName, "seg", j.writeSeg, "rec", j.writeRec)
	}
	return nil
}

// FinishWriting closes the current segment. It reports the first write error
// the journal ran into, if any.
func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	j.finishWriting_locked()
	return j.writeErr
}

func (j *Journal) finishWriting_locked() {
	j.writable = false
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.Error("journal: failed", "jrnl", j.debugName, "err", err)

	j.finishWriting_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	} else {
		return os.Open(fn)
	}
}

// WriteRecord appends a record to the current batch. A zero timestamp means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return ErrReadOnly
	}
	if len(data) == 0 {
		return nil
	}
	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		j.writeSeg++

		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
	}

	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit seals the records written since the previous commit.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	if err := j.segWriter.commit(!j.noSync); err != nil {
		return j.fail(err)
	}
	if j.segWriter.size >= j.maxFileSize {
		if j.verbose {
			j.logger.Debug("journal: rotating", "jrnl", j.debugName, "seg", j.writeSeg, "size", j.segWriter.size)
		}
		j.segWriter.close()
		j.segWriter = nil
	}
	return nil
}

type segmentInfo struct {
	name     string
	ordinal  uint32
	ts       uint32
	firstRec uint64
}

// segments lists the segment files in ordinal order.
func (j *Journal) segments() ([]segmentInfo, error) {
	ents, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var segs []segmentInfo
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		core, ok := strings.CutPrefix(name, j.fileNamePrefix)
		if !ok {
			continue
		}
		core, ok = strings.CutSuffix(core, j.fileNameSuffix)
		if !ok {
			continue
		}
		seq, ts, id, err := parseSegmentName(core)
		if err != nil {
			if j.verbose {
				j.logger.Debug("journal: ignoring file", "jrnl", j.debugName, "file", name, "err", err)
			}
			continue
		}
		segs = append(segs, segmentInfo{name, seq, ts, id})
	}
	slices.SortFunc(segs, func(a, b segmentInfo) int {
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	return segs, nil
}

// SegmentNames returns the segment file names in order.
func (j *Journal) SegmentNames() ([]string, error) {
	segs, err := j.segments()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.name
	}
	return names, nil
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.Debug("journal: started segment", "jrnl", j.debugName, "file", name)
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	_, err := sw.f.Write(h)
	if err != nil {
		return err
	}

	sw.hash.Write(data)
	_, err = sw.f.Write(data)
	if err != nil {
		return err
	}

	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit(sync bool) error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	buf := commitTrailer(&sw.hash)
	sw.hash.Write(buf[:])
	_, err := sw.f.Write(buf[:])
	if err != nil {
		return err
	}
	sw.size += int64(len(buf))

	if sync {
		return fsync.Fdatasync(sw.f)
	}
	return nil
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func commitTrailer(hash *xxhash.Digest) [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], hash.Sum64())
	buf[0] |= recordFlagCommit
	return buf
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
		Invariant:      j.invariant,
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
