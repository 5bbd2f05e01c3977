package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	// Test with limit
	c := NewController(Config{MemoryLimitBytes: 100})

	// Acquire 50
	err := c.AcquireMemory(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.MemoryUsage())

	// Acquire 40
	err = c.AcquireMemory(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, int64(90), c.MemoryUsage())

	// TryAcquire 20 (should fail)
	ok := c.TryAcquireMemory(20)
	assert.False(t, ok)
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Acquire 20 (should block/timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = c.AcquireMemory(ctx, 20)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Release 50
	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	// Now Acquire 20 should succeed
	err = c.AcquireMemory(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_MemoryClamp(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})

	// A single batch larger than the budget takes the whole budget.
	require.NoError(t, c.AcquireMemory(context.Background(), 1000))
	assert.False(t, c.TryAcquireMemory(1))
	c.ReleaseMemory(1000)
	assert.True(t, c.TryAcquireMemory(10))
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 0})

	err := c.AcquireMemory(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{MaxWorkers: 3})

	assert.Equal(t, 2, c.ReserveWorkers(2))
	assert.Equal(t, 1, c.ReserveWorkers(5), "only one slot left")
	assert.Equal(t, 0, c.ReserveWorkers(1))
	assert.Equal(t, int64(3), c.WorkersInUse())

	c.ReleaseWorkers(2)
	assert.Equal(t, int64(1), c.WorkersInUse())
	assert.Equal(t, 2, c.ReserveWorkers(4))
}

func TestController_NoExtraWorkers(t *testing.T) {
	c := NewController(Config{MaxWorkers: -1})
	assert.Equal(t, 0, c.ReserveWorkers(8))
	c.ReleaseWorkers(0)
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	assert.Equal(t, 0, c.ReserveWorkers(4))
	c.ReleaseWorkers(4)
	assert.NoError(t, c.AcquireMemory(context.Background(), 1<<40))
	assert.True(t, c.TryAcquireMemory(1))
	c.ReleaseMemory(1)
	assert.Zero(t, c.MemoryUsage())
	assert.NoError(t, c.AcquireIO(context.Background(), 1<<20))
	assert.Equal(t, Config{}, c.Config())
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.GreaterOrEqual(t, Default().Config().MaxWorkers, int64(0))
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	src := bytes.Repeat([]byte("x"), 4096)

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(src), c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestRateLimitedReader_Canceled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRateLimitedReader(ctx, bytes.NewReader([]byte("abc")), c)
	_, err := r.Read(make([]byte, 3))
	assert.Error(t, err)
}

func TestRateLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, NewController(Config{}))
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())
}

func TestAcquireIO_ChargesBeyondBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	// The bucket starts full, so one burst passes at once.
	require.NoError(t, c.AcquireIO(context.Background(), 1000))

	// Another 2500 bytes need 2.5s of refill, past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireIO(ctx, 2500))
}
