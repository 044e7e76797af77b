package fastls

import (
	"context"
	"fmt"
)

// Entry is one top-level key with its stored value.
type Entry struct {
	Key   string
	Value Value
}

// Get returns the value at path, following shortcuts. A missing key yields
// Undefined and no error.
func (db *DB) Get(ctx context.Context, path string) (Value, error) {
	return db.GetAt(ctx, path, "")
}

// GetAt returns the value at sub inside the entry at path. Misses anywhere
// along the way yield Undefined.
func (db *DB) GetAt(ctx context.Context, path, sub string) (Value, error) {
	if _, err := ParseSubPath(sub); err != nil {
		return Value{}, err
	}
	owner, key, err := db.resolveKey(ctx, path)
	if err != nil {
		return Value{}, err
	}
	v, err := owner.resolve(ctx, key, make(map[string]bool))
	if err != nil {
		return Value{}, err
	}
	if sub == "" {
		return v, nil
	}
	if found, ok := GetAt(v, sub, owner.opt.CaseInsensitive); ok {
		return found, nil
	}
	return Undefined(), nil
}

// GetRaw returns the stored value at path without following shortcuts.
func (db *DB) GetRaw(ctx context.Context, path string) (Value, error) {
	owner, key, err := db.resolveKey(ctx, path)
	if err != nil {
		return Value{}, err
	}
	m, err := owner.load(ctx)
	if err != nil {
		return Value{}, err
	}
	k, found := resolveFlatKey(m, key, owner.opt.CaseInsensitive)
	if !found {
		return Undefined(), nil
	}
	return owner.codec.DecodeValue(m[k])
}

func (db *DB) Has(ctx context.Context, path string) (bool, error) {
	return db.HasAt(ctx, path, "")
}

func (db *DB) HasAt(ctx context.Context, path, sub string) (bool, error) {
	v, err := db.GetAt(ctx, path, sub)
	if err != nil {
		return false, err
	}
	return !v.IsUndefined(), nil
}

// Set stores v as the whole entry at path. v is a Value or any Go value
// accepted by FromGo.
func (db *DB) Set(ctx context.Context, path string, v any) error {
	return db.SetAt(ctx, path, "", v)
}

// SetAt stores v at sub inside the entry at path, creating the entry and any
// intermediate containers as needed. Writes go to the stored entry; a
// shortcut stored at path is replaced, not written through.
func (db *DB) SetAt(ctx context.Context, path, sub string, v any) error {
	if _, err := ParseSubPath(sub); err != nil {
		return err
	}
	owner, key, err := db.resolveKey(ctx, path)
	if err != nil {
		return err
	}
	val, err := FromGo(v, owner.opt.AllowFunctions)
	if err != nil {
		return err
	}
	return owner.setValue(ctx, key, sub, val)
}

func (db *DB) setValue(ctx context.Context, key, sub string, val Value) error {
	m, err := db.load(ctx)
	if err != nil {
		return err
	}
	fold := db.opt.CaseInsensitive
	k, found := resolveFlatKey(m, key, fold)

	tree := val
	if sub != "" {
		tree = Undefined()
		if found {
			tree, err = db.codec.DecodeValue(m[k])
			if err != nil {
				return err
			}
		}
		tree, err = SetAt(tree, sub, val, fold)
		if err != nil {
			return err
		}
	}

	data, err := db.encode(tree)
	if err != nil {
		return err
	}

	db.mu.Lock()
	d := db.quota.check(m, k, data)
	db.mu.Unlock()
	if !d.Allowed {
		db.logger.Warn("fastls: write rejected by quota", "key", k, "budget", d.Budget, "projected", d.Projected, "folder", d.Folder)
		return fmt.Errorf("%w: %s needs %d bytes of a %d byte budget", ErrQuotaExceeded, Path{Segments: splitKey(k)}, d.Candidate, d.Budget)
	}
	if d.StoreNull {
		db.logger.Warn("fastls: value replaced with null to fit quota", "key", k, "budget", d.Budget, "projected", d.Projected, "folder", d.Folder)
		data, err = db.encode(Null())
		if err != nil {
			return err
		}
	}

	m[k] = data
	return db.save(ctx, m)
}

// RemoveKey deletes the entry at path. Deleting a missing key is not an error.
func (db *DB) RemoveKey(ctx context.Context, path string) error {
	return db.RemoveAt(ctx, path, "")
}

// RemoveAt deletes sub inside the entry at path, or the whole entry when sub
// is empty. Array elements leave an undefined hole.
func (db *DB) RemoveAt(ctx context.Context, path, sub string) error {
	if _, err := ParseSubPath(sub); err != nil {
		return err
	}
	owner, key, err := db.resolveKey(ctx, path)
	if err != nil {
		return err
	}
	m, err := owner.load(ctx)
	if err != nil {
		return err
	}
	k, found := resolveFlatKey(m, key, owner.opt.CaseInsensitive)
	if !found {
		return nil
	}
	if sub == "" {
		delete(m, k)
		return owner.save(ctx, m)
	}

	tree, err := owner.codec.DecodeValue(m[k])
	if err != nil {
		return err
	}
	tree = DeleteAt(tree, sub, owner.opt.CaseInsensitive)
	data, err := owner.encode(tree)
	if err != nil {
		return err
	}
	m[k] = data
	return owner.save(ctx, m)
}

// Keys returns every top-level key in canonical form, sorted.
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	m, err := db.load(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(m), nil
}

// List returns the keys at or below folder, sorted. The root folder lists
// every key.
func (db *DB) List(ctx context.Context, folder string) ([]string, error) {
	owner, prefix, err := db.resolveFolder(ctx, folder)
	if err != nil {
		return nil, err
	}
	m, err := owner.load(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range sortedKeys(m) {
		if underFolder(k, prefix, owner.opt.CaseInsensitive) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Values returns the stored values in key order. Shortcuts are not followed.
func (db *DB) Values(ctx context.Context) ([]Value, error) {
	entries, err := db.Entries(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]Value, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}

func (db *DB) Entries(ctx context.Context) ([]Entry, error) {
	m, err := db.load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(m))
	for _, k := range sortedKeys(m) {
		v, err := db.codec.DecodeValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		entries = append(entries, Entry{k, v})
	}
	return entries, nil
}

// Size returns the database size in bytes as the quota engine measures it.
func (db *DB) Size(ctx context.Context) (int64, error) {
	m, err := db.load(ctx)
	if err != nil {
		return 0, err
	}
	return m.ByteSize(), nil
}

func (db *DB) Count(ctx context.Context) (int, error) {
	m, err := db.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}

// SetQuota sets the global byte budget of this database. It applies to keys
// not covered by any folder budget.
func (db *DB) SetQuota(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("fastls: negative quota %d", bytes)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.quota.setGlobal(bytes)
	return nil
}

func (db *DB) RemoveQuota() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.quota.removeGlobal()
}

// SetFolderQuota sets a byte budget for folder and everything beneath it. When
// folder budgets nest, the most specific one decides.
func (db *DB) SetFolderQuota(folder string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("fastls: negative quota %d", bytes)
	}
	key, err := db.localFolder(folder)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.quota.setFolder(key, bytes)
	return nil
}

// RemoveFolderQuota reports whether folder had a budget.
func (db *DB) RemoveFolderQuota(folder string) (bool, error) {
	key, err := db.localFolder(folder)
	if err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.quota.removeFolder(key), nil
}

// QuotaStatus returns the outcome of the last quota-checked write.
func (db *DB) QuotaStatus() QuotaStatus {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.quota.last
}

func (db *DB) localFolder(raw string) (string, error) {
	p, err := db.parse(raw)
	if err != nil {
		return "", err
	}
	if p.DB != "" && p.DB != db.name {
		return "", pathErrf(raw, "quotas apply to this database only")
	}
	if p.IsRoot() {
		return "", pathErrf(raw, "use SetQuota for the whole database")
	}
	return p.Key(), nil
}
