package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsJobImmediatelyAndOnInterval(t *testing.T) {
	var calls int32
	s := New(slog.Default())
	s.Register(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		RunFunc: func(ctx context.Context) {
			atomic.AddInt32(&calls, 1)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := s.Start(ctx)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestSchedulerStopEndsAllJobs(t *testing.T) {
	s := New(slog.Default())
	s.Register(Job{Name: "a", Interval: time.Hour, RunFunc: func(ctx context.Context) {}})
	s.Register(Job{Name: "b", Interval: time.Hour, RunFunc: func(ctx context.Context) {}})

	done := make(chan struct{})
	go func() {
		_ = s.Start(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, s.IsRunning())
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.IsRunning())
}
