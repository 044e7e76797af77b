package fastls

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Pending is the eventual result of an AsyncDB call.
type Pending[T any] struct {
	id   uuid.UUID
	done chan struct{}
	val  T
	err  error
}

func (p *Pending[T]) ID() uuid.UUID {
	return p.id
}

// Done is closed once the result is available.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finishes or ctx is done. Giving up on the
// wait does not cancel the operation.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AsyncDB exposes the DB surface as Pending results. With a backend that
// doesn't suspend, every Pending is already resolved when returned; otherwise
// each call runs on its own goroutine.
type AsyncDB struct {
	db *DB
}

func (db *DB) Async() *AsyncDB {
	return &AsyncDB{db}
}

func (a *AsyncDB) Sync() *DB {
	return a.db
}

func start[T any](ctx context.Context, a *AsyncDB, op string, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{id: uuid.New(), done: make(chan struct{})}
	db := a.db
	run := func() {
		defer close(p.done)
		began := time.Now()
		p.val, p.err = fn(ctx)
		if db.opt.Verbose {
			db.logger.Debug("fastls: async op finished", "op", op, "id", p.id, "elapsed", time.Since(began), "err", p.err)
		}
	}
	if db.backend.Suspends() {
		go run()
	} else {
		run()
	}
	return p
}

type none = struct{}

func noResult(fn func(context.Context) error) func(context.Context) (none, error) {
	return func(ctx context.Context) (none, error) {
		return none{}, fn(ctx)
	}
}

func (a *AsyncDB) Get(ctx context.Context, path string) *Pending[Value] {
	return start(ctx, a, "get", func(ctx context.Context) (Value, error) {
		return a.db.Get(ctx, path)
	})
}

func (a *AsyncDB) GetAt(ctx context.Context, path, sub string) *Pending[Value] {
	return start(ctx, a, "get", func(ctx context.Context) (Value, error) {
		return a.db.GetAt(ctx, path, sub)
	})
}

func (a *AsyncDB) Has(ctx context.Context, path string) *Pending[bool] {
	return start(ctx, a, "has", func(ctx context.Context) (bool, error) {
		return a.db.Has(ctx, path)
	})
}

func (a *AsyncDB) Set(ctx context.Context, path string, v any) *Pending[none] {
	return start(ctx, a, "set", noResult(func(ctx context.Context) error {
		return a.db.Set(ctx, path, v)
	}))
}

func (a *AsyncDB) SetAt(ctx context.Context, path, sub string, v any) *Pending[none] {
	return start(ctx, a, "set", noResult(func(ctx context.Context) error {
		return a.db.SetAt(ctx, path, sub, v)
	}))
}

func (a *AsyncDB) SetShortcut(ctx context.Context, name, target string) *Pending[none] {
	return start(ctx, a, "shortcut", noResult(func(ctx context.Context) error {
		return a.db.SetShortcut(ctx, name, target)
	}))
}

func (a *AsyncDB) RemoveKey(ctx context.Context, path string) *Pending[none] {
	return start(ctx, a, "removeKey", noResult(func(ctx context.Context) error {
		return a.db.RemoveKey(ctx, path)
	}))
}

func (a *AsyncDB) Remove(ctx context.Context, removals ...Removal) *Pending[none] {
	return start(ctx, a, "remove", noResult(func(ctx context.Context) error {
		return a.db.Remove(ctx, removals...)
	}))
}

func (a *AsyncDB) Clear(ctx context.Context) *Pending[none] {
	return start(ctx, a, "clear", noResult(a.db.Clear))
}

func (a *AsyncDB) Search(ctx context.Context, folder string, pred Predicate, includeKey bool) *Pending[[]Match] {
	return start(ctx, a, "search", func(ctx context.Context) ([]Match, error) {
		return a.db.Search(ctx, folder, pred, includeKey)
	})
}

func (a *AsyncDB) FindPath(ctx context.Context, folder string, pred Predicate, includeKey bool) *Pending[[]Location] {
	return start(ctx, a, "findPath", func(ctx context.Context) ([]Location, error) {
		return a.db.FindPath(ctx, folder, pred, includeKey)
	})
}

func (a *AsyncDB) Keys(ctx context.Context) *Pending[[]string] {
	return start(ctx, a, "keys", a.db.Keys)
}

func (a *AsyncDB) Values(ctx context.Context) *Pending[[]Value] {
	return start(ctx, a, "values", a.db.Values)
}

func (a *AsyncDB) Entries(ctx context.Context) *Pending[[]Entry] {
	return start(ctx, a, "entries", a.db.Entries)
}

func (a *AsyncDB) Size(ctx context.Context) *Pending[int64] {
	return start(ctx, a, "size", a.db.Size)
}

func (a *AsyncDB) Count(ctx context.Context) *Pending[int] {
	return start(ctx, a, "count", a.db.Count)
}

func (a *AsyncDB) ListDatabases(ctx context.Context) *Pending[[]string] {
	return start(ctx, a, "listDatabases", a.db.ListDatabases)
}

func (a *AsyncDB) DropDatabase(ctx context.Context, name string) *Pending[none] {
	return start(ctx, a, "dropDatabase", noResult(func(ctx context.Context) error {
		return a.db.DropDatabase(ctx, name)
	}))
}
