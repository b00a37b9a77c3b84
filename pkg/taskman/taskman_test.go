package taskman

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRelease(t *testing.T) {
	m := NewManager(nil)

	ctx, release := m.Register(context.Background(), "m1")
	assert.Equal(t, 1, m.ActiveCount("m1"))

	release()
	assert.Equal(t, 0, m.ActiveCount("m1"))
	assert.Error(t, ctx.Err())

	// Double release is safe.
	release()
}

func TestCancelMissionTasks(t *testing.T) {
	m := NewManager(nil)

	ctxA, releaseA := m.Register(context.Background(), "m1")
	ctxB, releaseB := m.Register(context.Background(), "m1")
	ctxOther, releaseOther := m.Register(context.Background(), "m2")
	defer releaseA()
	defer releaseB()
	defer releaseOther()

	cancelled := m.CancelMissionTasks("m1")
	assert.Equal(t, 2, cancelled)
	assert.Error(t, ctxA.Err())
	assert.Error(t, ctxB.Err())
	assert.NoError(t, ctxOther.Err())
	assert.Equal(t, 0, m.ActiveCount("m1"))
	assert.Equal(t, 1, m.ActiveCount("m2"))
}

func TestGatherCancellableRunsAll(t *testing.T) {
	m := NewManager(nil)
	var count atomic.Int32

	err := m.GatherCancellable(context.Background(), "m1",
		func(ctx context.Context) error { count.Add(1); return nil },
		func(ctx context.Context) error { count.Add(1); return nil },
		func(ctx context.Context) error { count.Add(1); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int32(3), count.Load())
	assert.Equal(t, 0, m.ActiveCount("m1"))
}

func TestGatherCancellableStopsSiblingsOnError(t *testing.T) {
	m := NewManager(nil)
	boom := errors.New("boom")

	err := m.GatherCancellable(context.Background(), "m1",
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return errors.New("sibling was not cancelled")
			}
		},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestMissionScopeReleasesOnPanicFreeExit(t *testing.T) {
	m := NewManager(nil)

	err := m.MissionScope(context.Background(), "m1", func(ctx context.Context) error {
		assert.Equal(t, 1, m.ActiveCount("m1"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.ActiveCount("m1"))
}

func TestMissionScopeObservesExternalCancel(t *testing.T) {
	m := NewManager(nil)
	started := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- m.MissionScope(context.Background(), "m1", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	m.CancelMissionTasks("m1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scope did not observe cancellation")
	}
}
