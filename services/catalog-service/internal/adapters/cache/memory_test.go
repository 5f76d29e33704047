package cache

import (
	"context"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Lock(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	token, ok, err := c.Lock(ctx, "import:supplier:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.Lock(ctx, "import:supplier:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "повторная блокировка должна быть отклонена")

	require.NoError(t, c.Unlock(ctx, "import:supplier:1", token))

	_, ok, err = c.Lock(ctx, "import:supplier:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_UnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	stale, ok, err := c.Lock(ctx, "import:supplier:1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// блокировка истекла, ее забрал другой импорт
	time.Sleep(40 * time.Millisecond)
	current, ok, err := c.Lock(ctx, "import:supplier:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, c.Unlock(ctx, "import:supplier:1", stale), interfaces.ErrLockNotHeld)
	assert.ErrorIs(t, c.Unlock(ctx, "import:supplier:1", "чужой"), interfaces.ErrLockNotHeld)

	held, err := c.Exists(ctx, "import:supplier:1")
	require.NoError(t, err)
	assert.True(t, held, "блокировка текущего владельца на месте")

	require.NoError(t, c.Unlock(ctx, "import:supplier:1", current))
	assert.ErrorIs(t, c.Unlock(ctx, "import:supplier:1", current), interfaces.ErrLockNotHeld)
}
