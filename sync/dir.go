package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
)

const dirTempPrefix = ".poosh-tmp-"

// DirDestination deploys into a local or mounted directory. Only the bytes are
// stored, so it is rough: headers and remote options cannot be compared.
type DirDestination struct {
	root    string
	deletes *DeleteBuffer
}

func NewDirDestination(root string) (*DirDestination, error) {
	if root == "" {
		return nil, &config.Error{Field: "remote.root", Msg: "required by the dir plugin"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("dir destination: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("dir destination: %w", err)
	}
	d := &DirDestination{root: abs}
	d.deletes = NewDeleteBuffer(DefaultDeleteBatch, d.remove)
	return d, nil
}

func (d *DirDestination) path(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

func (d *DirDestination) BaseDestination() string {
	return "file://" + filepath.ToSlash(d.root)
}

func (d *DirDestination) Rough() bool { return true }

// NormalizeFileRemoteOptions drops the options: a directory has no storage
// attributes.
func (d *DirDestination) NormalizeFileRemoteOptions(file.RemoteOptions) (file.RemoteOptions, error) {
	return file.RemoteOptions{}, nil
}

func (d *DirDestination) Status(ctx context.Context, f *file.File) (file.RemoteStatus, file.StatusDetails, error) {
	if err := ctx.Err(); err != nil {
		return 0, file.StatusDetails{}, err
	}

	fh, err := os.Open(d.path(f.Key()))
	if errors.Is(err, fs.ErrNotExist) {
		return file.Missing, file.Uniform(file.Missing), nil
	}
	if err != nil {
		return 0, file.StatusDetails{}, &RemoteError{Op: "status", Key: f.Key(), Err: err}
	}
	defer fh.Close()

	h := md5.New()
	if _, err := io.Copy(h, fh); err != nil {
		return 0, file.StatusDetails{}, &RemoteError{Op: "status", Key: f.Key(), Err: err}
	}

	status := file.Different
	if f.Content != nil && hex.EncodeToString(h.Sum(nil)) == f.Content.MD5 {
		status = file.Same
	}
	return status, file.Uniform(status), nil
}

// Upload always writes the full content through a temp file and a rename.
func (d *DirDestination) Upload(ctx context.Context, f *file.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Content == nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: fmt.Errorf("%w: file has no content", ErrInternal)}
	}

	target := d.path(f.Key())
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), dirTempPrefix+"*")
	if err != nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(f.Content.Data); err != nil {
		tmp.Close()
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	return nil
}

var errStopList = errors.New("stop listing")

func (d *DirDestination) List(ctx context.Context, fn func(*file.File) bool) error {
	base := d.BaseDestination()
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), dirTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		f := &file.File{
			Src:     &file.Source{Path: path, Size: info.Size(), ModTime: info.ModTime()},
			Dest:    file.NewDest(base, filepath.ToSlash(rel)),
			Content: &file.Content{Type: file.Raw, Size: info.Size()},
			State:   file.Pending,
		}
		if !fn(f) {
			return errStopList
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopList) {
		return &RemoteError{Op: "list", Err: err}
	}
	return nil
}

func (d *DirDestination) PushDelete(ctx context.Context, f *file.File) ([]*file.File, error) {
	return d.deletes.Push(ctx, f)
}

func (d *DirDestination) FlushDelete(ctx context.Context) ([]*file.File, error) {
	return d.deletes.Flush(ctx)
}

func (d *DirDestination) remove(_ context.Context, batch []*file.File) error {
	var errs []error
	for _, f := range batch {
		if err := os.Remove(d.path(f.Key())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &RemoteError{Op: "delete", Err: errors.Join(errs...)}
	}
	return nil
}

var _ Destination = (*DirDestination)(nil)
