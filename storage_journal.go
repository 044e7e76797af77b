package fastls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JOrE20/fastls/journal"
)

// JournalBackend wraps another backend and writes every change saved through
// it to a journal before passing the save on. Each Save or DropDatabase call
// becomes one committed journal record holding its changes.
type JournalBackend struct {
	Backend
	journal *journal.Journal
	mu      sync.Mutex
}

// NewJournalBackend opens j for writing and wraps inner.
func NewJournalBackend(inner Backend, j *journal.Journal) (*JournalBackend, error) {
	if err := j.StartWriting(); err != nil {
		return nil, fmt.Errorf("fastls: journal %v: %w", j, err)
	}
	return &JournalBackend{Backend: inner, journal: j}, nil
}

func (b *JournalBackend) Journal() *journal.Journal {
	return b.journal
}

func (b *JournalBackend) Save(ctx context.Context, name string, m FlatMap) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, found, err := b.Backend.Load(ctx, name)
	if err != nil {
		return err
	}
	changes := diffFlatMaps(name, old, m)
	if !found {
		changes = append([]Change{{Op: OpCreate, DB: name}}, changes...)
	}
	if err := b.record(changes); err != nil {
		return err
	}
	return b.Backend.Save(ctx, name, m)
}

func (b *JournalBackend) DropDatabase(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, found, err := b.Backend.Load(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return ErrDatabaseNotFound
	}
	if err := b.record([]Change{{Op: OpDrop, DB: name}}); err != nil {
		return err
	}
	return b.Backend.DropDatabase(ctx, name)
}

func (b *JournalBackend) record(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	data, err := msgpack.Marshal(changes)
	if err != nil {
		return fmt.Errorf("%w: journal record: %v", ErrSerialization, err)
	}
	if err := b.journal.WriteRecord(0, data); err != nil {
		return fmt.Errorf("fastls: journal %v: %w", b.journal, err)
	}
	if err := b.journal.Commit(); err != nil {
		return fmt.Errorf("fastls: journal %v: %w", b.journal, err)
	}
	return nil
}

func (b *JournalBackend) DatabaseStats(ctx context.Context, name string) (BackendStats, error) {
	if sb, ok := b.Backend.(statsBackend); ok {
		return sb.DatabaseStats(ctx, name)
	}
	return BackendStats{}, nil
}

// Close finishes the journal and closes the wrapped backend.
func (b *JournalBackend) Close() error {
	return errors.Join(b.journal.FinishWriting(), b.Backend.Close())
}

// HistoryEntry is one journal record: the changes of one save or drop.
type HistoryEntry struct {
	ID      uint64
	Time    time.Time
	Changes []Change
}

// ReadHistory calls fn for every committed record of j, oldest first.
func ReadHistory(j *journal.Journal, fn func(HistoryEntry) error) error {
	return j.Each(func(rec journal.Record) error {
		var changes []Change
		if err := msgpack.Unmarshal(rec.Data, &changes); err != nil {
			return dataErrf(rec.Data, 0, err, "journal record %d", rec.ID)
		}
		return fn(HistoryEntry{rec.ID, rec.Timestamp, changes})
	})
}

// Replay applies the changes recorded in j to target, oldest first, saving
// each touched database once at the end. It returns the number of records
// applied.
func Replay(ctx context.Context, j *journal.Journal, target Backend) (int, error) {
	var order []string
	pending := make(map[string]FlatMap)
	touch := func(name string) (FlatMap, error) {
		if m, found := pending[name]; found {
			return m, nil
		}
		m, _, err := target.Load(ctx, name)
		if err != nil {
			return nil, backendErr("load", name, err)
		}
		if m == nil {
			m = FlatMap{}
		}
		pending[name] = m
		order = append(order, name)
		return m, nil
	}

	var n int
	err := ReadHistory(j, func(e HistoryEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, chg := range e.Changes {
			if chg.Op == OpDrop {
				delete(pending, chg.DB)
				err := target.DropDatabase(ctx, chg.DB)
				if err != nil && !errors.Is(err, ErrDatabaseNotFound) {
					return backendErr("drop", chg.DB, err)
				}
				continue
			}
			m, err := touch(chg.DB)
			if err != nil {
				return err
			}
			applyChange(m, chg)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}

	for _, name := range order {
		m, found := pending[name]
		if !found {
			continue
		}
		if err := target.Save(ctx, name, m); err != nil {
			return n, backendErr("save", name, err)
		}
	}
	return n, nil
}
