package fastls

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func setupBolt(t testing.TB) (*BoltBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fastls.db")
	b, err := OpenBolt(path, BoltOptions{IsTesting: true})
	require.NoError(t, err)
	return b, path
}

func TestBoltBackend_Reopen(t *testing.T) {
	ctx := context.Background()
	b, path := setupBolt(t)
	db, err := Open(ctx, b, "main", Options{})
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "/docs/readme", "hello"))
	require.NoError(t, db.Close())

	b, err = OpenBolt(path, BoltOptions{})
	require.NoError(t, err)
	db = setupIn(t, b, "main")
	v, err := db.Get(ctx, "/docs/readme")
	require.NoError(t, err)
	valueEqual(t, v, String("hello"))

	err = b.Bolt().View(func(btx *bbolt.Tx) error {
		assert.NotNil(t, btx.Bucket([]byte("main")))
		return nil
	})
	require.NoError(t, err)
}

func TestBoltBackend_Stats(t *testing.T) {
	ctx := context.Background()
	b, _ := setupBolt(t)
	db := setupIn(t, b, "main")
	require.NoError(t, db.Set(ctx, "/a/b/c", "x"))
	require.NoError(t, db.Set(ctx, "/a/d", "y"))

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Keys)
	assert.Equal(t, 2, st.Folders) // a, a\b
	assert.Positive(t, st.InUse)

	for i := range 200 {
		require.NoError(t, db.Set(ctx, fmt.Sprintf("/bulk/k%03d", i), strings.Repeat("x", 100)))
	}
	st, err = db.Stats(ctx)
	require.NoError(t, err)
	assert.Positive(t, st.Alloc)
	assert.GreaterOrEqual(t, st.Alloc, st.InUse)

	_, err = b.DatabaseStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.True(t, b.Suspends())
}

func TestBoltBackend_CancelledContext(t *testing.T) {
	b, _ := setupBolt(t)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := b.Load(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, b.Save(ctx, "x", FlatMap{}), context.Canceled)
}
