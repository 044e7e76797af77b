package fastls

import (
	"context"
	"maps"
	"slices"
)

// FlatMap is one database: top-level key to encoded value.
type FlatMap map[string][]byte

// Clone returns a copy whose value slices are also copied.
func (m FlatMap) Clone() FlatMap {
	out := make(FlatMap, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// ByteSize returns the sum of encoded value lengths, the unit quotas are
// measured in. Keys are not counted.
func (m FlatMap) ByteSize() int64 {
	var n int64
	for _, v := range m {
		n += int64(len(v))
	}
	return n
}

func sortedKeys(m FlatMap) []string {
	return slices.Sorted(maps.Keys(m))
}

// Backend stores flat maps by database name. The core only ever loads a whole
// map, mutates it in memory and saves it back.
type Backend interface {
	// Load returns the named database; found is false (with a nil map) if it doesn't exist.
	Load(ctx context.Context, name string) (m FlatMap, found bool, err error)

	// Save replaces the named database, creating it if needed.
	Save(ctx context.Context, name string, m FlatMap) error

	// DropDatabase removes the named database. Returns ErrDatabaseNotFound if it doesn't exist.
	DropDatabase(ctx context.Context, name string) error

	// ListDatabaseNames returns the names of all stored databases, sorted.
	ListDatabaseNames(ctx context.Context) ([]string, error)

	// Suspends reports whether calls may block on I/O. DB.Async runs operations
	// on their own goroutine only for suspending backends.
	Suspends() bool

	Close() error
}
