package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandeepkandula/poosh/file"
)

// Destination is the remote store a run converges on.
type Destination interface {
	// BaseDestination returns the root every key is joined under. It never
	// touches the network.
	BaseDestination() string
	// Rough reports whether Status can only tell same from different for the
	// whole file rather than per facet.
	Rough() bool
	// Status probes the remote object. A missing object is not an error: it
	// yields Missing with all facets Missing.
	Status(ctx context.Context, f *file.File) (file.RemoteStatus, file.StatusDetails, error)
	// Upload writes the file. When f.StatusDetails reports the content as Same
	// the adapter updates metadata in place instead of sending the body.
	Upload(ctx context.Context, f *file.File) error
	// List calls fn for every remote object. Returning false stops paging.
	List(ctx context.Context, fn func(*file.File) bool) error
	// PushDelete buffers f for deletion and returns the batch it flushed, if
	// the buffer reached its limit.
	PushDelete(ctx context.Context, f *file.File) ([]*file.File, error)
	// FlushDelete deletes every buffered file. It returns nil when the buffer
	// was empty.
	FlushDelete(ctx context.Context) ([]*file.File, error)
	// NormalizeFileRemoteOptions validates per-file storage attributes and
	// fills their defaults.
	NormalizeFileRemoteOptions(opts file.RemoteOptions) (file.RemoteOptions, error)
}

// ErrInternal reports a broken invariant of the engine.
var ErrInternal = errors.New("internal error")

// RemoteError wraps a backend failure other than not found.
type RemoteError struct {
	Op  string
	Key string
	Err error
}

func (e *RemoteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
