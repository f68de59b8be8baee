package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("30s")
	require.NoError(t, err)
	assert.Equal(t, "@every 30s", s.String())

	s, err = ParseSchedule("@every 1m")
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Minute), s.Next(base))

	s, err = ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", s.String())

	for _, bad := range []string{"", "-1s", "bogus", "* * *", "61 * * * *", "*/0 * * * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestCronExpression_Next(t *testing.T) {
	every5, err := ParseCronExpression("*/5 * * * *")
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 10, 3, 20, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC), every5.Next(at))

	// an exact match is not returned again
	assert.Equal(t, time.Date(2025, 3, 1, 10, 10, 0, 0, time.UTC),
		every5.Next(time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)))

	nightly, err := ParseCronExpression("0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC),
		nightly.Next(time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)))

	weekdays, err := ParseCronExpression("30 9 * * 1-5")
	require.NoError(t, err)
	// 2025-03-01 is a Saturday
	assert.Equal(t, time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC),
		weekdays.Next(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := funcJob{name: "a", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)
}

func TestScheduler_RunNowRecordsHistory(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 2})
	require.NoError(t, s.Register(funcJob{name: "ok", run: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "broken", run: func(context.Context) error { return errors.New("boom") }}, NewIntervalSchedule(time.Hour)))

	ctx := context.Background()
	res, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(ctx, "broken")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	_, err = s.RunNow(ctx, "ok")
	require.NoError(t, err)

	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "broken", history[0].JobName)
	assert.Equal(t, "ok", history[1].JobName)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "broken", jobs[0].Name)
	assert.Equal(t, "boom", jobs[0].LastResult.Error)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestScheduler_LoopDoesNotOverlapRuns(t *testing.T) {
	s := NewScheduler(SchedulerConfig{PollInterval: 5 * time.Millisecond})

	var runs atomic.Int32
	release := make(chan struct{})
	job := funcJob{name: "slow", run: func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
