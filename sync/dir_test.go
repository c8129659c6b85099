package sync

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/poosh/cache"
	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
)

func TestDirDestination_StatusUploadList(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	d, err := NewDirDestination(root)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, d.Rough())
	assert.Equal(t, "file://"+filepath.ToSlash(root), d.BaseDestination())

	f := &file.File{
		Dest:    file.NewDest(d.BaseDestination(), "a/b.txt"),
		Content: file.NewContent(file.Raw, []byte("hello")),
	}
	status, details, err := d.Status(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, file.Missing, status)
	assert.Equal(t, file.Uniform(file.Missing), details)

	require.NoError(t, d.Upload(ctx, f))
	data, err := os.ReadFile(filepath.Join(root, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	status, _, err = d.Status(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, file.Same, status)

	f.Content = file.NewContent(file.Raw, []byte("changed"))
	status, details, err = d.Status(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, file.Different, status)
	assert.Equal(t, file.Uniform(file.Different), details)

	var keys []string
	require.NoError(t, d.List(ctx, func(f *file.File) bool {
		keys = append(keys, f.Key())
		return true
	}))
	assert.Equal(t, []string{"a/b.txt"}, keys)
}

func TestDirDestination_NormalizeDropsOptions(t *testing.T) {
	d, err := NewDirDestination(t.TempDir())
	require.NoError(t, err)
	got, err := d.NormalizeFileRemoteOptions(file.RemoteOptions{ACL: "public-read"})
	require.NoError(t, err)
	assert.Equal(t, file.RemoteOptions{}, got)
}

func TestDirDestination_RequiresRoot(t *testing.T) {
	_, err := NewDirDestination("")
	var cerr *config.Error
	assert.ErrorAs(t, err, &cerr)
}

func TestEngine_SyncToDir(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "index.html", "<p>home</p>")
	writeFile(t, src, "css/site.css", "body{}")

	root := t.TempDir()
	writeFile(t, root, "stale.html", "old")
	writeFile(t, root, "index.html", "<p>old home</p>")

	d, err := NewDirDestination(root)
	require.NoError(t, err)
	store := cache.NewMemoryStore()

	stats, rec := run(t, CommandSync, src, d, store, config.Policy{})
	assert.Equal(t, map[string]file.ActionStatus{
		"index.html":   file.Updated,
		"css/site.css": file.Created,
		"stale.html":   file.Deleted,
	}, rec.statuses())
	assert.Equal(t, 2, stats.Upload.Done)

	var keys []string
	require.NoError(t, d.List(context.Background(), func(f *file.File) bool {
		keys = append(keys, f.Key())
		return true
	}))
	slices.Sort(keys)
	assert.Equal(t, []string{"css/site.css", "index.html"}, keys)

	_, rec = run(t, CommandSync, src, d, store, config.Policy{})
	assert.Equal(t, file.Unchanged, rec.files["index.html"].Status)
	assert.Equal(t, file.Unchanged, rec.files["css/site.css"].Status)
}
