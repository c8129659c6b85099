package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/poosh/file"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "sub", "cache.db"), "s3://bucket")
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := store.Get("a.txt")
			require.NoError(t, err)
			assert.Nil(t, snap, "absent key is not an error")

			want := &file.Snapshot{Content: "c", Headers: "h", Remote: "r", SyncedAt: time.Unix(100, 0).UTC()}
			require.NoError(t, store.Set("a.txt", want))

			got, err := store.Get("a.txt")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.Content, got.Content)
			assert.Equal(t, want.Headers, got.Headers)
			assert.Equal(t, want.Remote, got.Remote)
			assert.True(t, want.SyncedAt.Equal(got.SyncedAt))

			require.NoError(t, store.Delete("a.txt"))
			got, err = store.Get("a.txt")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_ConcurrentKeys(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := fmt.Sprintf("dir/%d.txt", i)
					assert.NoError(t, store.Set(key, &file.Snapshot{Content: key}))
					got, err := store.Get(key)
					assert.NoError(t, err)
					if assert.NotNil(t, got) {
						assert.Equal(t, key, got.Content)
					}
				}(i)
			}
			wg.Wait()
		})
	}
}

func TestBoltStore_NamespacesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	first, err := OpenBolt(path, "s3://one")
	require.NoError(t, err)
	require.NoError(t, first.Set("k", &file.Snapshot{Content: "one"}))
	n, err := first.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, first.Close())

	second, err := OpenBolt(path, "s3://two")
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get("k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_SetNil(t *testing.T) {
	err := NewMemoryStore().Set("k", nil)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "set", cerr.Op)
}

func TestBoltStore_ReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenBoltReadOnly(path, "s3://bucket")
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get("k")
	require.NoError(t, err)
	assert.Nil(t, got)
	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, store.Set("k", &file.Snapshot{}), ErrReadOnly)
	assert.NoFileExists(t, path)
}

func TestBoltStore_ReadOnlyExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	rw, err := OpenBolt(path, "s3://one")
	require.NoError(t, err)
	require.NoError(t, rw.Set("k", &file.Snapshot{Content: "one"}))
	require.NoError(t, rw.Close())

	ro, err := OpenBoltReadOnly(path, "s3://one")
	require.NoError(t, err)
	got, err := ro.Get("k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "one", got.Content)
	assert.ErrorIs(t, ro.Delete("k"), ErrReadOnly)
	require.NoError(t, ro.Close())

	// an unknown namespace is not created
	other, err := OpenBoltReadOnly(path, "s3://two")
	require.NoError(t, err)
	defer other.Close()
	got, err = other.Get("k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
