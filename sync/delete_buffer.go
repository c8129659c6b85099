package sync

import (
	"context"
	"sync"

	"github.com/sandeepkandula/poosh/file"
)

// DefaultDeleteBatch is the batch size used when a backend has no own limit.
const DefaultDeleteBatch = 1000

// FlushFunc deletes one batch.
type FlushFunc func(ctx context.Context, batch []*file.File) error

// DeleteBuffer collects deletion candidates and flushes them in FIFO batches of
// at most limit files.
type DeleteBuffer struct {
	mu      sync.Mutex
	pending []*file.File
	limit   int
	flush   FlushFunc
}

func NewDeleteBuffer(limit int, flush FlushFunc) *DeleteBuffer {
	if limit <= 0 {
		limit = DefaultDeleteBatch
	}
	return &DeleteBuffer{
		pending: make([]*file.File, 0, limit),
		limit:   limit,
		flush:   flush,
	}
}

// Push adds f. When the buffer reaches its limit the whole batch is flushed and
// returned; otherwise Push returns nil.
func (b *DeleteBuffer) Push(ctx context.Context, f *file.File) ([]*file.File, error) {
	b.mu.Lock()
	b.pending = append(b.pending, f)
	var batch []*file.File
	if len(b.pending) >= b.limit {
		batch = b.take()
	}
	b.mu.Unlock()

	if batch == nil {
		return nil, nil
	}
	return batch, b.flush(ctx, batch)
}

// Flush deletes whatever is buffered. It returns nil when nothing was.
func (b *DeleteBuffer) Flush(ctx context.Context) ([]*file.File, error) {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()

	if batch == nil {
		return nil, nil
	}
	return batch, b.flush(ctx, batch)
}

// Len returns the number of buffered files.
func (b *DeleteBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// take must be called with mu held.
func (b *DeleteBuffer) take() []*file.File {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]*file.File, 0, b.limit)
	return batch
}
