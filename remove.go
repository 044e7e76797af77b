package fastls

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Strategy selects what Remove deletes.
type Strategy string

const (
	// RemoveFolder drops the folder key and everything beneath it.
	RemoveFolder Strategy = "folder"
	// RemoveRoot drops the folder key and its direct children; deeper keys survive.
	RemoveRoot Strategy = "root"
	// RemoveStructure keeps every key under the folder but empties its value.
	RemoveStructure Strategy = "structure"
	// RemoveNestedFolders keeps direct children and drops the folder key and everything deeper.
	RemoveNestedFolders Strategy = "nestedFolders"
	// RemoveDatabase drops the whole database from the backend.
	RemoveDatabase Strategy = "database"
	// RemoveDatabaseKeys empties the database but keeps it registered.
	RemoveDatabaseKeys Strategy = "databaseKeys"
)

var strategies = []Strategy{RemoveFolder, RemoveRoot, RemoveStructure, RemoveNestedFolders, RemoveDatabase, RemoveDatabaseKeys}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRemovalStrategy, s)
}

func (st Strategy) wholeDatabase() bool {
	return st == RemoveDatabase || st == RemoveDatabaseKeys
}

// Removal is one (path, strategy) pair of a Remove call. Whole-database
// strategies take an empty Path for this database or "name:" for another one.
type Removal struct {
	Path     string
	Strategy Strategy
}

// removeFromFolder applies a folder strategy to m in place.
func removeFromFolder(m FlatMap, folder string, st Strategy, fold bool, codec Codec) error {
	for _, key := range sortedKeys(m) {
		rem, ok := folderRemainder(key, folder, fold)
		if !ok {
			continue
		}
		nested := strings.ContainsRune(rem, Separator)
		switch st {
		case RemoveFolder:
			delete(m, key)
		case RemoveRoot:
			if !nested {
				delete(m, key)
			}
		case RemoveNestedFolders:
			if rem == "" || nested {
				delete(m, key)
			}
		case RemoveStructure:
			empty := EmptyObject()
			if old, err := codec.DecodeValue(m[key]); err == nil && old.Kind() == KindArray {
				empty = EmptyArray()
			}
			data, err := codec.EncodeValue(empty)
			if err != nil {
				return err
			}
			m[key] = data
		default:
			return fmt.Errorf("%w: %q", ErrUnknownRemovalStrategy, st)
		}
	}
	return nil
}

type removalTarget struct {
	dbName string // "" for this database
	folder string
	st     Strategy
}

// Remove applies the removals in order against in-memory copies, then saves
// each touched database once. Invalid pairs are reported in the returned error
// without stopping the others.
func (db *DB) Remove(ctx context.Context, removals ...Removal) error {
	targets, errs := db.parseRemovals(removals)

	var order []*DB
	pending := make(map[*DB]FlatMap)
	for _, t := range targets {
		target, err := db.sibling(ctx, t.dbName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.st == RemoveDatabase {
			if err := db.DropDatabase(ctx, target.name); err != nil {
				errs = append(errs, err)
			}
			delete(pending, target)
			continue
		}

		m, found := pending[target]
		if !found {
			m, err = target.load(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			pending[target] = m
			if !slices.Contains(order, target) {
				order = append(order, target)
			}
		}

		if t.st == RemoveDatabaseKeys {
			clear(m)
			continue
		}
		if err := removeFromFolder(m, t.folder, t.st, db.opt.CaseInsensitive, target.codec); err != nil {
			errs = append(errs, err)
		}
	}

	for _, target := range order {
		m, found := pending[target]
		if !found {
			continue // dropped after being modified
		}
		if err := target.save(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// parseRemovals validates every pair up front. It never touches the backend.
func (db *DB) parseRemovals(removals []Removal) ([]removalTarget, []error) {
	var targets []removalTarget
	var errs []error
	for _, r := range removals {
		st, err := ParseStrategy(string(r.Strategy))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if st.wholeDatabase() {
			name, err := db.databaseOf(r.Path)
			if err == nil {
				err = validateDatabaseName(name)
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			targets = append(targets, removalTarget{dbName: name, st: st})
			continue
		}
		p, err := db.parse(r.Path)
		if err == nil && p.DB != "" {
			err = validateDatabaseName(p.DB)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		targets = append(targets, removalTarget{p.DB, p.Key(), st})
	}
	return targets, errs
}

// databaseOf parses the target of a whole-database removal: "" or "name:".
func (db *DB) databaseOf(raw string) (string, error) {
	if raw == "" {
		return db.name, nil
	}
	name, rest, ok := SplitDatabasePrefix(raw)
	if !ok || strings.Trim(rest, string(PathSeparator)) != "" {
		return "", pathErrf(raw, "whole-database removal takes an empty path or \"name:\"")
	}
	return name, nil
}

// Clear removes every key, keeping the database itself.
func (db *DB) Clear(ctx context.Context) error {
	return db.Remove(ctx, Removal{Strategy: RemoveDatabaseKeys})
}
