// Package source enumerates the local tree and turns each file into a
// prepared record: payload, headers and remote attributes.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sandeepkandula/poosh/config"
)

// Entry is one local file found by Walk.
type Entry struct {
	Path    string // absolute path on disk
	Rel     string // slash separated key relative to the tree root
	Size    int64
	ModTime time.Time
}

// Tree is the local side of a run.
type Tree struct {
	Dir    string
	ignore *IgnoreList
	rules  []config.Rule
}

// NewTree checks that dir is a directory and prepares the ignore list and rules.
func NewTree(dir string, ignore []string, rules []config.Rule) (*Tree, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %q is not a directory", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return &Tree{Dir: abs, ignore: NewIgnoreList(ignore...), rules: rules}, nil
}

// Walk calls fn for every regular, non ignored file. Walking stops at the
// first error returned by fn or when ctx is done.
func (t *Tree) Walk(ctx context.Context, fn func(Entry) error) error {
	return filepath.WalkDir(t.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == t.Dir {
			return nil
		}

		rel, err := filepath.Rel(t.Dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel) // remote keys use forward slashes

		if t.ignore.ShouldIgnore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(Entry{Path: path, Rel: rel, Size: info.Size(), ModTime: info.ModTime()})
	})
}
