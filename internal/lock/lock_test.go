package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.lock")

	l, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	require.NoError(t, l.Release())

	// Released locks can be taken again.
	again, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.lock")

	holder, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	defer holder.Release()

	start := time.Now()
	// flock locks belong to the open file description, so a second open in the
	// same process contends with the first.
	_, err = Acquire(context.Background(), path, Options{
		Timeout:       150 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestAcquireSucceedsAfterHolderReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json.lock")

	holder, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = holder.Release()
	}()

	l, err := Acquire(context.Background(), path, Options{
		Timeout:       2 * time.Second,
		RetryInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquireHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.lock")
	holder, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, path, Options{Timeout: time.Minute, RetryInterval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireRefusesDoneContextOnFreeLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.lock")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Acquire(ctx, path, Options{Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing was held.
	l, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestReleaseNilIsSafe(t *testing.T) {
	var l *FileLock
	assert.NoError(t, l.Release())
}
