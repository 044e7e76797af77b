package fastls

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsync_ResolvesInlineWithoutSuspension(t *testing.T) {
	ctx := context.Background()
	a := setup(t).Async()

	p := a.Set(ctx, "/k", "v")
	select {
	case <-p.Done():
	default:
		t.Fatal("memory backend result should be ready on return")
	}
	assert.NotEqual(t, uuid.Nil, p.ID())
	_, err := p.Wait(ctx)
	require.NoError(t, err)

	v, err := a.Get(ctx, "/k").Wait(ctx)
	require.NoError(t, err)
	valueEqual(t, v, String("v"))
}

func TestAsync_Bolt(t *testing.T) {
	ctx := context.Background()
	b, _ := setupBolt(t)
	a := setupIn(t, b, "main").Async()

	// writes racing on one database are last-write-wins, so wait in between
	set1 := a.Set(ctx, "/a", 1)
	_, err := set1.Wait(ctx)
	require.NoError(t, err)
	set2 := a.SetAt(ctx, "/b", "x.y", true)
	_, err = set2.Wait(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, set1.ID(), set2.ID())

	keys, err := a.Keys(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	v, err := a.GetAt(ctx, "/b", "x.y").Wait(ctx)
	require.NoError(t, err)
	valueEqual(t, v, Bool(true))

	n, err := a.Count(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = a.Remove(ctx, Removal{"/a", RemoveFolder}).Wait(ctx)
	require.NoError(t, err)
	ok, err := a.Has(ctx, "/a").Wait(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Same(t, a.Sync(), a.Sync().Async().Sync())
}

func TestAsync_Errors(t *testing.T) {
	ctx := context.Background()
	a := setup(t).Async()

	_, err := a.Set(ctx, "a:b", 1).Wait(ctx)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = a.Remove(ctx, Removal{"/x", "nope"}).Wait(ctx)
	assert.ErrorIs(t, err, ErrUnknownRemovalStrategy)
}

func TestPending_WaitGivesUp(t *testing.T) {
	p := &Pending[int]{id: uuid.New(), done: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.val = 5
	close(p.done)
	v, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestAsync_SearchAndListing(t *testing.T) {
	ctx := context.Background()
	a := setupUsers(t).Async()

	locs, err := a.FindPath(ctx, "/users", isString("bob"), false).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/users/bob:name"}, locStrings(locs))

	names, err := a.ListDatabases(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)

	_, err = a.Clear(ctx).Wait(ctx)
	require.NoError(t, err)
	size, err := a.Size(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}
