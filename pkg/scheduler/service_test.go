package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/models"
)

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context) (*models.TrainingRun, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.TrainingRun{ID: "run-" + string(rune('0'+n)), BestModel: "Ridge", BestR2: 0.9}, nil
}

type countingCache struct{ n atomic.Int32 }

func (c *countingCache) Invalidate() { c.n.Add(1) }

func TestTriggerNowInvalidatesCache(t *testing.T) {
	runner := &fakeRunner{}
	cache := &countingCache{}
	s := NewService(runner, cache, "")

	run, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, int32(1), cache.n.Load())
	assert.False(t, s.Running())
}

func TestTriggerNowFailureKeepsCache(t *testing.T) {
	boom := errors.New("boom")
	cache := &countingCache{}
	s := NewService(&fakeRunner{err: boom}, cache, "")

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), cache.n.Load())
}

func TestRunsNeverOverlap(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewService(runner, nil, "")

	require.NoError(t, s.TriggerAsync())
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrTrainingInProgress)
	assert.ErrorIs(t, s.TriggerAsync(), ErrTrainingInProgress)

	close(runner.release)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())

	_, err = s.TriggerNow(context.Background())
	assert.NoError(t, err)
}

func TestStopCancelsInFlightRun(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewService(runner, nil, "")
	require.NoError(t, s.Start())
	require.NoError(t, s.TriggerAsync())
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.Running())
}

func TestScheduleValidation(t *testing.T) {
	assert.NoError(t, ValidateSchedule(""))
	assert.NoError(t, ValidateSchedule("0 3 * * *"))
	assert.Error(t, ValidateSchedule("every night"))

	s := NewService(&fakeRunner{}, nil, "not a cron")
	assert.Error(t, s.Start())
}

func TestStartRegistersEntry(t *testing.T) {
	s := NewService(&fakeRunner{}, nil, "@every 1h")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.False(t, s.NextRun().IsZero())

	idle := NewService(&fakeRunner{}, nil, "")
	require.NoError(t, idle.Start())
	defer idle.Stop()
	assert.True(t, idle.NextRun().IsZero())
}
