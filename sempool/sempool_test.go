package sempool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore(t *testing.T) {
	t.Parallel()
	s := NewSemaphore(2)
	s.Acquire()
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())
	assert.Equal(t, 2, s.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.AcquireContext(ctx), context.DeadlineExceeded)

	s.Release()
	require.NoError(t, s.AcquireContext(context.Background()))
	s.Release()
	s.Release()
	assert.Equal(t, 0, s.InUse())
	assert.Panics(t, s.Release)
}
