package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/poosh/config"
)

func TestRootCommand_Flags(t *testing.T) {
	cmd := newRootCmd()

	readOnly := cmd.PersistentFlags().Lookup("read-only")
	require.NotNil(t, readOnly)
	require.Equal(t, "r", readOnly.Shorthand)
	require.Equal(t, "both", readOnly.NoOptDefVal)

	force := cmd.PersistentFlags().Lookup("force")
	require.NotNil(t, force)
	require.Equal(t, "f", force.Shorthand)
	require.Equal(t, "both", force.NoOptDefVal)

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"upload", "sync"}, names)
}

func TestOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want config.Layer
	}{
		{name: "none", args: nil, want: config.Layer{}},
		{name: "bare force", args: []string{"-f"}, want: config.Layer{"force": "both"}},
		{name: "targets", args: []string{"--force=remote", "--read-only=cache"},
			want: config.Layer{"force": "remote", "readonly": "cache"}},
		{name: "dry run wins", args: []string{"--read-only=cache", "-n"}, want: config.Layer{"readonly": "both"}},
		{name: "plugins", args: []string{"-w", "dir"}, want: config.Layer{"plugins": []string{"dir"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			got, err := overrides(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetArgs(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{args: []string{"--read-only", "remote", "--force", "cache"}, want: []string{"--read-only=remote", "--force=cache"}},
		{args: []string{"sync", "-r", "both", "-v"}, want: []string{"sync", "-r=both", "-v"}},
		{args: []string{"-f", "sync"}, want: []string{"-f", "sync"}},
		{args: []string{"-r"}, want: []string{"-r"}},
		{args: []string{"--", "-r", "cache"}, want: []string{"--", "-r", "cache"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, targetArgs(tt.args), "%v", tt.args)
	}

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(targetArgs([]string{"--read-only", "remote", "-f", "cache"})))
	got, err := overrides(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.Layer{"readonly": "remote", "force": "cache"}, got)
}

func TestIgnoreLines(t *testing.T) {
	base := t.TempDir()
	opts := &config.Options{BaseDir: base, Ignore: []string{"*.tmp"}}

	opts.Cache.Path = filepath.Join(base, "state", "poosh.db")
	assert.Equal(t, []string{"*.tmp", "/state/poosh.db", "/state/poosh.db.lock"}, ignoreLines(opts))

	opts.Cache.Path = filepath.Join(filepath.Dir(base), "poosh.db")
	assert.Equal(t, []string{"*.tmp"}, ignoreLines(opts))
}

func TestSyncCommand_DirPlugin(t *testing.T) {
	dir := t.TempDir()
	site := filepath.Join(dir, "site")
	require.NoError(t, os.MkdirAll(filepath.Join(site, "css"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("<p>home</p>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "css", "site.css"), []byte("body{}"), 0644))

	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "stale.html"), []byte("old"), 0644))

	cfg := filepath.Join(dir, "poosh.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
plugins: [dir]
baseDir: site
remote:
  root: out
`), 0644))

	execute := func(args ...string) error {
		cmd := newRootCmd()
		cmd.SetArgs(targetArgs(append(args, "-q", "-c", cfg)))
		return cmd.ExecuteContext(context.Background())
	}

	require.NoError(t, execute("sync", "-n"))
	assert.FileExists(t, filepath.Join(out, "stale.html"))
	assert.NoFileExists(t, filepath.Join(out, "index.html"))
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultCacheFile), "a dry run leaves no cache behind")

	require.NoError(t, execute("sync", "--read-only", "remote"))
	assert.FileExists(t, filepath.Join(out, "stale.html"))

	require.NoError(t, execute("sync"))
	assert.NoFileExists(t, filepath.Join(out, "stale.html"))
	data, err := os.ReadFile(filepath.Join(out, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))
	assert.FileExists(t, filepath.Join(dir, config.DefaultCacheFile))
}
