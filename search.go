package fastls

import (
	"context"
)

// Location addresses a node inside a database: a top-level key plus a sub-path.
type Location struct {
	DB      string
	Key     string
	SubPath string
}

// String renders the location as "db:/a/b:items[0].name"; the sub-path part
// is omitted for whole entries.
func (l Location) String() string {
	s := Path{DB: l.DB, Segments: splitKey(l.Key)}.String()
	if l.SubPath != "" {
		s += string(dbSeparator) + l.SubPath
	}
	return s
}

type Match struct {
	Location
	Value Value
}

// Predicate selects nodes during Search. With includeKey set it is also called
// with property names (and entry base names) wrapped as String values.
type Predicate func(Value) bool

// Search walks every entry under folder, depth first, and returns the nodes
// accepted by pred. Entries are visited in key order, object properties in
// insertion order. Shortcuts are reported as they are stored and not followed;
// entries that fail to decode are skipped.
func (db *DB) Search(ctx context.Context, folder string, pred Predicate, includeKey bool) ([]Match, error) {
	owner, prefix, err := db.resolveFolder(ctx, folder)
	if err != nil {
		return nil, err
	}
	m, err := owner.load(ctx)
	if err != nil {
		return nil, err
	}
	var dbName string
	if owner != db {
		dbName = owner.name
	}

	var matches []Match
	for _, key := range sortedKeys(m) {
		if !underFolder(key, prefix, owner.opt.CaseInsensitive) {
			continue
		}
		v, err := owner.codec.DecodeValue(m[key])
		if err != nil {
			if owner.opt.Verbose {
				owner.logger.Debug("fastls: search skipped undecodable entry", "key", key, "err", err)
			}
			continue
		}
		base := Path{Segments: splitKey(key)}.Base()
		walkMatches(v, base, nil, pred, includeKey, func(steps []Step, node Value) {
			matches = append(matches, Match{
				Location: Location{DB: dbName, Key: key, SubPath: FormatSubPath(steps)},
				Value:    node,
			})
		})
	}
	return matches, nil
}

// FindPath returns the locations of the nodes Search would return.
func (db *DB) FindPath(ctx context.Context, folder string, pred Predicate, includeKey bool) ([]Location, error) {
	matches, err := db.Search(ctx, folder, pred, includeKey)
	if err != nil {
		return nil, err
	}
	locs := make([]Location, len(matches))
	for i, m := range matches {
		locs[i] = m.Location
	}
	return locs, nil
}

func walkMatches(node Value, name string, steps []Step, pred Predicate, includeKey bool, emit func([]Step, Value)) {
	if pred(node) || (includeKey && name != "" && pred(String(name))) {
		emit(steps, node)
	}
	switch node.kind {
	case KindObject:
		for _, k := range node.obj.Keys() {
			item, _ := node.obj.Get(k)
			walkMatches(item, k, append(steps[:len(steps):len(steps)], Step{Name: k}), pred, includeKey, emit)
		}
	case KindArray:
		for i, item := range node.arr.Items {
			if item.IsUndefined() {
				continue
			}
			walkMatches(item, "", append(steps[:len(steps):len(steps)], Step{Index: i, IsIndex: true, Bare: len(steps) == 0}), pred, includeKey, emit)
		}
	}
}
