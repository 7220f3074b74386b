package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/testutil"
)

// scripted returns a StatusFunc answering the given states in turn and
// recording the clock time of every call.
func scripted(clk *testingclock.FakeClock, states ...entity.JobState) (StatusFunc, *[]time.Time) {
	var calls []time.Time
	return func(ctx context.Context) (*entity.JobStatus, error) {
		calls = append(calls, clk.Now())
		state := states[min(len(calls), len(states))-1]
		return &entity.JobStatus{ID: "j", State: state}, nil
	}, &calls
}

func TestPoller_WaitsIntervalBetweenPolls(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)
	testutil.AutoAdvance(t, clk, DefaultPollInterval)

	p := &Poller{Interval: DefaultPollInterval, MaxAttempts: 10, Clock: clk}
	fetch, calls := scripted(clk, entity.StateInProgress, entity.StateInProgress, entity.StateJobComplete)

	status, err := p.Wait(context.Background(), entity.KindIngest, "j", fetch)
	require.NoError(t, err)
	assert.Equal(t, entity.StateJobComplete, status.State)

	require.Len(t, *calls, 3)
	assert.Equal(t, []time.Time{start, start.Add(10 * time.Second), start.Add(20 * time.Second)}, *calls)
}

func TestPoller_TerminalOnFirstPollDoesNotWait(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &Poller{Interval: time.Hour, MaxAttempts: 1, Clock: clk}
	fetch, calls := scripted(clk, entity.StateAborted)

	status, err := p.Wait(context.Background(), entity.KindQuery, "j", fetch)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAborted, status.State)
	assert.Len(t, *calls, 1)
	assert.False(t, clk.HasWaiters())
}

func TestPoller_Timeout(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	testutil.AutoAdvance(t, clk, time.Second)
	p := &Poller{Interval: time.Second, MaxAttempts: 4, Clock: clk}
	fetch, calls := scripted(clk, entity.StateInProgress)

	status, err := p.Wait(context.Background(), entity.KindIngest, "j", fetch)
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, entity.StateInProgress, status.State)
	assert.Len(t, *calls, 4)
}

func TestPoller_Cancelled(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &Poller{Interval: time.Hour, MaxAttempts: 0, Clock: clk}
	fetch, _ := scripted(clk, entity.StateInProgress)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(ctx, entity.KindIngest, "j", fetch)
		done <- err
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestPoller_FetchErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	p := NewPoller(0, 0)
	assert.Equal(t, DefaultPollInterval, p.Interval)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)

	_, err := p.Wait(context.Background(), entity.KindIngest, "j", func(context.Context) (*entity.JobStatus, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}
