package fastls

import (
	"context"
	"fmt"
)

// SetShortcut stores at name an alias to target. Reads of name, and of
// sub-paths under it, are served from target, which may live in another
// database. Shortcuts are whole top-level entries; they cannot be nested.
func (db *DB) SetShortcut(ctx context.Context, name, target string) error {
	owner, key, err := db.resolveKey(ctx, name)
	if err != nil {
		return err
	}
	tp, err := db.parse(target)
	if err != nil {
		return err
	}
	if tp.IsRoot() {
		return pathErrf(target, "shortcut target must name a key")
	}
	if tp.DB == owner.name {
		tp.DB = ""
	} else if tp.DB == "" && owner != db {
		tp.DB = db.name
	}
	return owner.setValue(ctx, key, "", ShortcutTo(tp.String()))
}

// resolve returns the value stored at key, following shortcuts. The visited
// set is keyed by database and stored key and spans databases.
func (db *DB) resolve(ctx context.Context, key string, visited map[string]bool) (Value, error) {
	m, err := db.load(ctx)
	if err != nil {
		return Value{}, err
	}
	k, found := resolveFlatKey(m, key, db.opt.CaseInsensitive)
	if !found {
		return Undefined(), nil
	}
	v, err := db.codec.DecodeValue(m[k])
	if err != nil {
		return Value{}, err
	}
	if !v.IsShortcut() {
		return v, nil
	}

	id := db.name + ":" + k
	if visited[id] {
		return Value{}, fmt.Errorf("%w: %s revisited", ErrCyclicShortcut, Path{DB: db.name, Segments: splitKey(k)})
	}
	visited[id] = true
	if db.opt.Verbose {
		db.logger.Debug("fastls: following shortcut", "key", k, "target", v.ShortcutTarget())
	}

	tp, err := ParsePath(v.ShortcutTarget(), nil)
	if err != nil {
		return Value{}, err
	}
	next, err := db.sibling(ctx, tp.DB)
	if err != nil {
		return Value{}, err
	}
	return next.resolve(ctx, tp.Key(), visited)
}
