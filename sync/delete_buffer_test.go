package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandeepkandula/poosh/file"
)

func TestDeleteBuffer_AutoFlushAtLimit(t *testing.T) {
	var flushed [][]*file.File
	buf := NewDeleteBuffer(0, func(_ context.Context, batch []*file.File) error {
		flushed = append(flushed, batch)
		return nil
	})

	ctx := context.Background()
	var auto [][]*file.File
	for i := range 1001 {
		batch, err := buf.Push(ctx, &file.File{Dest: file.NewDest("", fmt.Sprintf("k%04d", i))})
		require.NoError(t, err)
		if batch != nil {
			auto = append(auto, batch)
		}
	}

	require.Len(t, auto, 1)
	assert.Len(t, auto[0], DefaultDeleteBatch)
	assert.Equal(t, "k0000", auto[0][0].Key(), "batches keep push order")
	assert.Equal(t, "k0999", auto[0][999].Key())
	assert.Equal(t, 1, buf.Len())

	last, err := buf.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "k1000", last[0].Key())
	assert.Equal(t, 0, buf.Len())
	assert.Len(t, flushed, 2)

	none, err := buf.Flush(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Len(t, flushed, 2, "empty buffer issues no request")
}

func TestDeleteBuffer_FlushError(t *testing.T) {
	boom := errors.New("boom")
	buf := NewDeleteBuffer(2, func(context.Context, []*file.File) error { return boom })

	ctx := context.Background()
	batch, err := buf.Push(ctx, &file.File{})
	require.NoError(t, err)
	assert.Nil(t, batch)

	batch, err = buf.Push(ctx, &file.File{})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, batch, 2)
	assert.Equal(t, 0, buf.Len())
}
