package fastls

import (
	"context"
	"errors"
)

type Stats struct {
	Keys      int
	Bytes     int64
	Folders   int // distinct non-root folders that contain at least one key
	Shortcuts int
	Functions int
	Corrupt   int

	// Alloc and InUse are filled in by backends that can measure their own
	// storage (see BackendStats); zero otherwise.
	Alloc int
	InUse int
}

// BackendStats is what a backend reports about the physical storage of one
// database.
type BackendStats struct {
	Alloc int
	InUse int
}

type statsBackend interface {
	DatabaseStats(ctx context.Context, name string) (BackendStats, error)
}

func (db *DB) Stats(ctx context.Context) (Stats, error) {
	m, err := db.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	result := Stats{
		Keys:  len(m),
		Bytes: m.ByteSize(),
	}

	folders := make(map[string]struct{})
	for k, raw := range m {
		for i := range len(k) {
			if k[i] == Separator {
				folders[k[:i]] = struct{}{}
			}
		}
		v, err := db.codec.DecodeValue(raw)
		switch {
		case err != nil:
			result.Corrupt++
		case v.kind == KindShortcut:
			result.Shortcuts++
		default:
			result.Functions += countFunctions(v)
		}
	}
	result.Folders = len(folders)

	if sb, ok := db.backend.(statsBackend); ok {
		bs, err := sb.DatabaseStats(ctx, db.name)
		if err != nil && !errors.Is(err, ErrDatabaseNotFound) {
			return result, backendErr("stats", db.name, err)
		}
		result.Alloc, result.InUse = bs.Alloc, bs.InUse
	}
	return result, nil
}

func countFunctions(v Value) int {
	switch v.kind {
	case KindFunction:
		return 1
	case KindObject:
		var n int
		for _, k := range v.obj.Keys() {
			item, _ := v.obj.Get(k)
			n += countFunctions(item)
		}
		return n
	case KindArray:
		var n int
		for _, item := range v.arr.Items {
			n += countFunctions(item)
		}
		return n
	}
	return 0
}
