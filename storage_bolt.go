package fastls

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

// BoltBackend stores each database as a top-level bucket of a Bolt file.
type BoltBackend struct {
	bdb *bbolt.DB
}

type BoltOptions struct {
	// IsTesting trades durability for speed.
	IsTesting bool
	Timeout   time.Duration
	MmapSize  int
}

func OpenBolt(path string, opt BoltOptions) (*BoltBackend, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("fastls: bolt: %w", err)
	}
	return &BoltBackend{bdb: bdb}, nil
}

func NewBoltBackend(bdb *bbolt.DB) *BoltBackend {
	return &BoltBackend{bdb: bdb}
}

func (b *BoltBackend) Bolt() *bbolt.DB {
	return b.bdb
}

func (b *BoltBackend) Load(ctx context.Context, name string) (FlatMap, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var m FlatMap
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		buck := btx.Bucket(unsafeBytesFromString(name))
		if buck == nil {
			return nil
		}
		m = make(FlatMap, buck.Stats().KeyN)
		return buck.ForEach(func(k, v []byte) error {
			m[string(k)] = slices.Clone(v)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return m, m != nil, nil
}

// Save rewrites the database bucket within a single Bolt transaction.
func (b *BoltBackend) Save(ctx context.Context, name string, m FlatMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(btx *bbolt.Tx) error {
		bname := []byte(name)
		err := btx.DeleteBucket(bname)
		if err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		buck, err := btx.CreateBucket(bname)
		if err != nil {
			return err
		}
		buck.FillPercent = 0.9
		for _, k := range sortedKeys(m) {
			if err := buck.Put([]byte(k), m[k]); err != nil {
				return fmt.Errorf("put %q: %w", k, err)
			}
		}
		return nil
	})
}

func (b *BoltBackend) DropDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.DeleteBucket([]byte(name))
		if err == bbolt.ErrBucketNotFound {
			return ErrDatabaseNotFound
		}
		return err
	})
}

func (b *BoltBackend) ListDatabaseNames(ctx context.Context) ([]string, error) {
	var names []string
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		return btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// DatabaseStats reports the page usage of the database bucket.
func (b *BoltBackend) DatabaseStats(ctx context.Context, name string) (BackendStats, error) {
	var result BackendStats
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		buck := btx.Bucket(unsafeBytesFromString(name))
		if buck == nil {
			return ErrDatabaseNotFound
		}
		// small buckets are stored inline in their parent's page and own no pages
		bs := buck.Stats()
		result.InUse = bs.LeafInuse + bs.BranchInuse + bs.InlineBucketInuse
		result.Alloc = bs.LeafAlloc + bs.BranchAlloc
		return nil
	})
	return result, err
}

func (b *BoltBackend) Suspends() bool { return true }

func (b *BoltBackend) Close() error {
	return b.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
