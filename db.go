package fastls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

type Options struct {
	// CaseInsensitive makes key and property lookups ignore case. Stored keys
	// keep the casing of whoever wrote them first.
	CaseInsensitive bool

	// AllowFunctions stores Go func values as placeholders instead of failing.
	AllowFunctions bool

	Logger  *slog.Logger
	Verbose bool
}

// DB is bound to one database of a backend. It holds the current folder and
// the quota configuration, neither of which is persisted.
//
// Every operation loads the whole database, mutates it in memory and saves it
// back. There is no locking across operations: concurrent writers to the same
// database overwrite each other's changes.
type DB struct {
	backend Backend
	name    string
	opt     Options
	codec   Codec
	logger  *slog.Logger
	reg     *registry

	mu    sync.Mutex
	cwd   []string
	quota quotaManager
}

// registry shares sibling DBs between all handles opened from one Open call,
// so cross-database paths reuse the same handle.
type registry struct {
	mu  sync.Mutex
	dbs map[string]*DB
}

// Open binds to the named database, creating it empty if the backend doesn't have it.
func Open(ctx context.Context, backend Backend, name string, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	reg := &registry{dbs: make(map[string]*DB)}
	return openIn(ctx, reg, backend, name, opt)
}

func openIn(ctx context.Context, reg *registry, backend Backend, name string, opt Options) (*DB, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, err
	}
	db := &DB{
		backend: backend,
		name:    name,
		opt:     opt,
		codec:   Codec{AllowFunctions: opt.AllowFunctions},
		logger:  opt.Logger.With("db", name),
		reg:     reg,
	}
	db.quota.fold = opt.CaseInsensitive

	_, found, err := backend.Load(ctx, name)
	if err != nil {
		return nil, backendErr("load", name, err)
	}
	if !found {
		if err := backend.Save(ctx, name, FlatMap{}); err != nil {
			return nil, backendErr("create", name, err)
		}
		if opt.Verbose {
			db.logger.Debug("fastls: created database")
		}
	}

	reg.mu.Lock()
	reg.dbs[name] = db
	reg.mu.Unlock()
	return db, nil
}

func validateDatabaseName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, forbiddenSegmentChars) {
		return pathErrf(name, "invalid database name")
	}
	return nil
}

func (db *DB) Name() string {
	return db.name
}

func (db *DB) Backend() Backend {
	return db.backend
}

func (db *DB) Codec() Codec {
	return db.codec
}

// Close closes the backend, which is shared with every sibling handle.
func (db *DB) Close() error {
	return db.backend.Close()
}

// sibling returns the handle bound to another database of the same backend.
// Siblings share options but not quotas or the current folder.
func (db *DB) sibling(ctx context.Context, name string) (*DB, error) {
	if name == "" || name == db.name {
		return db, nil
	}
	db.reg.mu.Lock()
	other := db.reg.dbs[name]
	db.reg.mu.Unlock()
	if other != nil {
		return other, nil
	}
	return openIn(ctx, db.reg, db.backend, name, db.opt)
}

// Cd changes the folder relative paths are resolved against. Unlike key
// paths, a bare ".." is accepted and moves up one folder.
func (db *DB) Cd(path string) error {
	if path == ".." {
		path = "./.."
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	p, err := ParsePath(path, db.cwd)
	if err != nil {
		return err
	}
	if p.DB != "" && p.DB != db.name {
		return pathErrf(path, "cannot change into another database")
	}
	db.cwd = p.Segments
	return nil
}

// Pwd returns the current folder in rooted form.
func (db *DB) Pwd() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return Path{Segments: db.cwd}.String()
}

func (db *DB) parse(raw string) (Path, error) {
	db.mu.Lock()
	cwd := db.cwd
	db.mu.Unlock()
	return ParsePath(raw, cwd)
}

// resolveKey parses a path that must name a top-level key and returns the DB owning it.
func (db *DB) resolveKey(ctx context.Context, raw string) (*DB, string, error) {
	p, err := db.parse(raw)
	if err != nil {
		return nil, "", err
	}
	if p.IsRoot() {
		return nil, "", pathErrf(raw, "path names a folder root, not a key")
	}
	target, err := db.sibling(ctx, p.DB)
	if err != nil {
		return nil, "", err
	}
	return target, p.Key(), nil
}

// resolveFolder parses a folder path; the root folder is allowed.
func (db *DB) resolveFolder(ctx context.Context, raw string) (*DB, string, error) {
	p, err := db.parse(raw)
	if err != nil {
		return nil, "", err
	}
	target, err := db.sibling(ctx, p.DB)
	if err != nil {
		return nil, "", err
	}
	return target, p.Key(), nil
}

func (db *DB) load(ctx context.Context) (FlatMap, error) {
	m, found, err := db.backend.Load(ctx, db.name)
	if err != nil {
		return nil, backendErr("load", db.name, err)
	}
	if !found || m == nil {
		m = FlatMap{}
	}
	if db.opt.Verbose {
		db.logger.Debug("fastls: loaded", "keys", len(m))
	}
	return m, nil
}

func (db *DB) save(ctx context.Context, m FlatMap) error {
	err := db.backend.Save(ctx, db.name, m)
	if err != nil {
		return backendErr("save", db.name, err)
	}
	if db.opt.Verbose {
		db.logger.Debug("fastls: saved", "keys", len(m), "bytes", m.ByteSize())
	}
	return nil
}

func (db *DB) encode(v Value) ([]byte, error) {
	data, err := db.codec.EncodeValue(v)
	if err != nil && !errors.Is(err, ErrSerialization) {
		err = fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, err
}

// ListDatabases returns the names of every database in the backend.
func (db *DB) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := db.backend.ListDatabaseNames(ctx)
	if err != nil {
		return nil, backendErr("list", "", err)
	}
	slices.Sort(names)
	return names, nil
}

// DropDatabase removes a database from the backend. Dropping a database that
// doesn't exist is not an error.
func (db *DB) DropDatabase(ctx context.Context, name string) error {
	if err := validateDatabaseName(name); err != nil {
		return err
	}
	err := db.backend.DropDatabase(ctx, name)
	if err != nil && !errors.Is(err, ErrDatabaseNotFound) {
		return backendErr("drop", name, err)
	}
	if db.opt.Verbose {
		db.logger.Debug("fastls: dropped database", "dropped", name)
	}
	return nil
}
