package fastls

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func setup(t testing.TB, opts ...func(*Options)) *DB {
	t.Helper()
	return setupIn(t, NewMemoryBackend(), "main", opts...)
}

func setupIn(t testing.TB, backend Backend, name string, opts ...func(*Options)) *DB {
	t.Helper()
	opt := Options{Verbose: true}
	for _, f := range opts {
		f(&opt)
	}
	db, err := Open(context.Background(), backend, name, opt)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func caseInsensitive(o *Options) { o.CaseInsensitive = true }

// j parses JSON test fixtures.
func j(t testing.TB, s string) Value {
	t.Helper()
	v, err := FromJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func valueEqual(t testing.TB, a, e Value) {
	if !a.Equal(e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func keysOf(t testing.TB, db *DB) []string {
	t.Helper()
	keys, err := db.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func TestDB(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	require.NoError(t, db.Set(ctx, "/users/alice", map[string]any{"name": "Alice", "age": 30}))
	require.NoError(t, db.Set(ctx, "users/bob", j(t, `{"name":"Bob","tags":["a","b"]}`)))

	v, err := db.Get(ctx, "/users/alice")
	require.NoError(t, err)
	valueEqual(t, v, j(t, `{"age":30,"name":"Alice"}`))

	v, err = db.GetAt(ctx, "users/bob", "tags[1]")
	require.NoError(t, err)
	valueEqual(t, v, String("b"))

	v, err = db.Get(ctx, "/users/nobody")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	v, err = db.GetAt(ctx, "/users/bob", "tags[7].x")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	assert.Equal(t, []string{`users\alice`, `users\bob`}, keysOf(t, db))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, db.RemoveKey(ctx, "/users/alice"))
	require.NoError(t, db.RemoveKey(ctx, "/users/alice"))
	assert.Equal(t, []string{`users\bob`}, keysOf(t, db))
}

func TestDB_SetAt(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	require.NoError(t, db.SetAt(ctx, "cfg", "server.ports[1]", 8080))
	v, err := db.Get(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())

	v, err = db.GetAt(ctx, "cfg", "server.ports[1]")
	require.NoError(t, err)
	valueEqual(t, v, Int(8080))

	ok, err := db.HasAt(ctx, "cfg", "server.ports[0]")
	require.NoError(t, err)
	assert.False(t, ok, "final padding must be a hole")

	require.NoError(t, db.RemoveAt(ctx, "cfg", "server.ports[1]"))
	ok, err = db.HasAt(ctx, "cfg", "server.ports[1]")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.Has(ctx, "cfg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDB_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	db := setup(t, caseInsensitive)

	require.NoError(t, db.Set(ctx, "User", map[string]any{"Name": "A"}))

	v, err := db.GetAt(ctx, "user", "name")
	require.NoError(t, err)
	valueEqual(t, v, String("A"))

	require.NoError(t, db.SetAt(ctx, "USER", "NAME", "B"))
	assert.Equal(t, []string{"User"}, keysOf(t, db))

	v, err = db.GetRaw(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name"}, v.Object().Keys())
	valueEqual(t, v, j(t, `{"Name":"B"}`))
}

func TestDB_CaseInsensitiveFolders(t *testing.T) {
	ctx := context.Background()
	db := setup(t, caseInsensitive)

	require.NoError(t, db.Set(ctx, "/User/x", 1))
	require.NoError(t, db.Set(ctx, "/user/y", 2))
	require.NoError(t, db.Set(ctx, "/USER/Z/deep", 3))
	assert.Equal(t, []string{`User\Z\deep`, `User\x`, `User\y`}, keysOf(t, db))

	v, err := db.Get(ctx, "/uSeR/y")
	require.NoError(t, err)
	valueEqual(t, v, Int(2))
}

func TestDB_CaseSensitiveByDefault(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	require.NoError(t, db.Set(ctx, "User", 1))
	v, err := db.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())
}

func TestDB_PathRejection(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	for _, path := range []string{"a:b", `a\b`, "..", "/..", "a/../..", "/", ""} {
		err := db.Set(ctx, path, 1)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", path)
	}
	assert.ErrorIs(t, db.SetAt(ctx, "a", "x[", 1), ErrInvalidPath)
	assert.Empty(t, keysOf(t, db))
}

func TestDB_Cd(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	assert.Equal(t, "/", db.Pwd())
	require.NoError(t, db.Cd("projects/alpha"))
	assert.Equal(t, "/projects/alpha", db.Pwd())

	require.NoError(t, db.Set(ctx, "readme", "hi"))
	require.NoError(t, db.Set(ctx, "../beta/readme", "yo"))
	require.NoError(t, db.Set(ctx, "/top", true))
	assert.Equal(t, []string{`projects\alpha\readme`, `projects\beta\readme`, "top"}, keysOf(t, db))

	require.NoError(t, db.Cd(".."))
	assert.Equal(t, "/projects", db.Pwd())
	v, err := db.Get(ctx, "beta/readme")
	require.NoError(t, err)
	valueEqual(t, v, String("yo"))

	assert.ErrorIs(t, db.Cd("../../.."), ErrInvalidPath)
	assert.ErrorIs(t, db.Cd("other:/x"), ErrInvalidPath)
	assert.Equal(t, "/projects", db.Pwd())
}

func TestDB_CrossDatabase(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	db := setupIn(t, backend, "main")

	require.NoError(t, db.Set(ctx, "other:/settings/theme", "dark"))
	assert.Empty(t, keysOf(t, db))

	v, err := db.Get(ctx, "other:/settings/theme")
	require.NoError(t, err)
	valueEqual(t, v, String("dark"))

	other := setupIn(t, backend, "other")
	assert.Equal(t, []string{`settings\theme`}, keysOf(t, other))

	names, err := db.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "other"}, names)

	require.NoError(t, db.DropDatabase(ctx, "other"))
	require.NoError(t, db.DropDatabase(ctx, "other"))
	names, err = db.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)
}

func TestDB_Functions(t *testing.T) {
	ctx := context.Background()
	payload := map[string]any{"cb": func(int, string) error { return nil }}

	db := setup(t)
	err := db.Set(ctx, "hooks", payload)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Empty(t, keysOf(t, db))

	db = setup(t, func(o *Options) { o.AllowFunctions = true })
	require.NoError(t, db.Set(ctx, "hooks", payload))
	v, err := db.GetAt(ctx, "hooks", "cb")
	require.NoError(t, err)
	assert.Equal(t, KindFunction, v.Kind())
	assert.Equal(t, "func(int, string) error", v.Signature())
}

func TestDB_EntriesAndSize(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	require.NoError(t, db.Set(ctx, "b", 2))
	require.NoError(t, db.Set(ctx, "a", "x"))

	entries, err := db.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	valueEqual(t, entries[1].Value, Int(2))

	values, err := db.Values(ctx)
	require.NoError(t, err)
	require.Len(t, values, 2)
	valueEqual(t, values[0], String("x"))

	size, err := db.Size(ctx)
	require.NoError(t, err)
	// fixstr "x" (2 bytes) + fixint 2 (1 byte)
	assert.Equal(t, int64(3), size)

	require.NoError(t, db.Clear(ctx))
	assert.Empty(t, keysOf(t, db))
	names, err := db.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)
}

func TestDB_List(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	for _, k := range []string{"a", "a/b", "a/b/c", "ab", "z"} {
		require.NoError(t, db.Set(ctx, k, 1))
	}
	keys, err := db.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", `a\b`, `a\b\c`}, keys)

	keys, err = db.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, keys, 5)
}

type failingBackend struct {
	*MemoryBackend
	failSave bool
}

var errDiskFull = errors.New("disk full")

func (b *failingBackend) Save(ctx context.Context, name string, m FlatMap) error {
	if b.failSave {
		return errDiskFull
	}
	return b.MemoryBackend.Save(ctx, name, m)
}

func TestDB_BackendFailure(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	db := setupIn(t, backend, "main")

	backend.failSave = true
	err := db.Set(ctx, "a", 1)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, errDiskFull)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "save", be.Op)
	assert.Equal(t, "main", be.DB)
}

func TestDB_VerboseLogging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := setup(t, func(o *Options) { o.Logger = logger })

	require.NoError(t, db.Set(ctx, "a", 1))
	assert.Contains(t, buf.String(), "fastls: saved")
	assert.Contains(t, buf.String(), "db=main")
}
