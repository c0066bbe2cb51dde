package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

type stubProvider struct {
	partitions []*dealsync.Partition
	err        error
}

func (p *stubProvider) ListEnabled(ctx context.Context) ([]*dealsync.Partition, error) {
	return p.partitions, p.err
}

type stubRunner struct {
	mu      sync.Mutex
	options []BatchOptions
	err     error
}

func (r *stubRunner) RunBatch(ctx context.Context, partitions []*dealsync.Partition, opts BatchOptions) (*dealsync.BatchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options = append(r.options, opts)
	if r.err != nil {
		return nil, r.err
	}
	return &dealsync.BatchReport{}, nil
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.options)
}

func TestNewCronTrigger_InvalidInterval(t *testing.T) {
	_, err := NewCronTrigger(CronTriggerConfig{}, &stubRunner{}, &stubProvider{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCronTrigger_RunsOnInterval(t *testing.T) {
	runner := &stubRunner{}
	var reports atomic.Int32
	done := make(chan struct{})

	trigger, err := NewCronTrigger(
		CronTriggerConfig{Interval: 10 * time.Millisecond, RunImmediately: true, Options: BatchOptions{ResumeFrom: "bravo", Concurrency: 2}},
		runner,
		&stubProvider{},
		zaptest.NewLogger(t),
		func(r *dealsync.BatchReport) {
			if reports.Add(1) == 3 {
				close(done)
			}
		},
	)
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected three scheduled batches")
	}
	require.NoError(t, trigger.Stop(context.Background()))

	assert.GreaterOrEqual(t, runner.count(), 3)
	runner.mu.Lock()
	first := runner.options[0]
	runner.mu.Unlock()
	assert.Empty(t, first.ResumeFrom, "scheduled batches always start from the first partition")
	assert.Equal(t, 2, first.Concurrency)

	stopped := runner.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runner.count(), "no batches after stop")
}

func TestCronTrigger_SkipsWhenLocked(t *testing.T) {
	runner := &stubRunner{err: ErrBatchInProgress}
	called := false
	trigger, err := NewCronTrigger(
		CronTriggerConfig{Interval: time.Hour, RunImmediately: true},
		runner,
		&stubProvider{},
		zaptest.NewLogger(t),
		func(*dealsync.BatchReport) { called = true },
	)
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return trigger.Runs() == 1 && runner.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, trigger.Stop(context.Background()))

	assert.False(t, called)
}

func TestCronTrigger_ProviderError(t *testing.T) {
	runner := &stubRunner{}
	trigger, err := NewCronTrigger(
		CronTriggerConfig{Interval: time.Hour, RunImmediately: true},
		runner,
		&stubProvider{err: errors.New("connection refused")},
		zaptest.NewLogger(t),
		nil,
	)
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return trigger.Runs() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, trigger.Stop(context.Background()))

	assert.Zero(t, runner.count())
}
