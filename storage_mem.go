package fastls

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	blobMagic        = "FLSB"
	blobVersion byte = 1
	blobHeaderSize   = len(blobMagic) + 1 + 8
)

// MemoryBackend keeps databases in process memory. It never suspends.
//
// Export and NewMemoryBackendFromBlob turn the whole backend into a single
// checksummed blob and back, for callers that persist it themselves.
type MemoryBackend struct {
	mu     sync.Mutex
	dbs    map[string]FlatMap
	codec  Codec
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{dbs: make(map[string]FlatMap)}
}

// SetCodec sets the codec Export uses, e.g. to compress exported databases.
func (b *MemoryBackend) SetCodec(c Codec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codec = c
}

// NewMemoryBackendFromBlob loads a blob produced by Export. The codec only
// matters for compression of later exports; decoding detects it.
func NewMemoryBackendFromBlob(blob []byte, codec Codec) (*MemoryBackend, error) {
	if len(blob) < blobHeaderSize || string(blob[:len(blobMagic)]) != blobMagic {
		return nil, dataErrf(blob, 0, nil, "not a fastls blob")
	}
	if v := blob[len(blobMagic)]; v != blobVersion {
		return nil, dataErrf(blob, len(blobMagic), nil, "unsupported blob version %d", v)
	}
	payload := blob[blobHeaderSize:]
	sum := binary.LittleEndian.Uint64(blob[len(blobMagic)+1:])
	if actual := xxhash.Sum64(payload); actual != sum {
		return nil, dataErrf(blob, len(blobMagic)+1, nil, "blob checksum mismatch: stored %016x, computed %016x", sum, actual)
	}

	var raw map[string][]byte
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, dataErrf(payload, 0, err, "failed to decode blob directory")
	}
	b := NewMemoryBackend()
	b.codec = codec
	for name, data := range raw {
		m, err := codec.DecodeFlatMap(data)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		b.dbs[name] = m
	}
	return b, nil
}

// Export serializes every database into one blob.
func (b *MemoryBackend) Export() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw := make(map[string][]byte, len(b.dbs))
	for name, m := range b.dbs {
		data, err := b.codec.EncodeFlatMap(m)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		raw[name] = data
	}

	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	blob := make([]byte, blobHeaderSize, blobHeaderSize+payload.Len())
	copy(blob, blobMagic)
	blob[len(blobMagic)] = blobVersion
	binary.LittleEndian.PutUint64(blob[len(blobMagic)+1:], xxhash.Sum64(payload.Bytes()))
	return append(blob, payload.Bytes()...), nil
}

func (b *MemoryBackend) Load(ctx context.Context, name string) (FlatMap, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, fmt.Errorf("storage closed")
	}
	m, found := b.dbs[name]
	if !found {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

func (b *MemoryBackend) Save(ctx context.Context, name string, m FlatMap) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("storage closed")
	}
	b.dbs[name] = m.Clone()
	return nil
}

func (b *MemoryBackend) DropDatabase(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("storage closed")
	}
	if _, found := b.dbs[name]; !found {
		return ErrDatabaseNotFound
	}
	delete(b.dbs, name)
	return nil
}

func (b *MemoryBackend) ListDatabaseNames(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("storage closed")
	}
	return slices.Sorted(maps.Keys(b.dbs)), nil
}

func (b *MemoryBackend) Suspends() bool { return false }

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.dbs = nil
	return nil
}
