package orchestrator

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/metrics"
)

const (
	// DefaultPollInterval is the wait between two status requests.
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxAttempts bounds the number of status requests per job.
	DefaultMaxAttempts = 360
)

// StatusFunc fetches the current status of one job.
type StatusFunc func(ctx context.Context) (*entity.JobStatus, error)

// Poller waits for jobs to reach a terminal state.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

// NewPoller returns a poller on the real clock. Zero values select the
// defaults.
func NewPoller(interval time.Duration, maxAttempts int) *Poller {
	p := &Poller{Interval: interval, MaxAttempts: maxAttempts, Clock: clock.RealClock{}}
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Wait fetches the job status until it is terminal, waiting Interval between
// two fetches. It returns ErrPollTimeout, along with the last status seen,
// once MaxAttempts fetches came back non-terminal.
func (p *Poller) Wait(ctx context.Context, kind entity.JobKind, jobID string, fetch StatusFunc) (*entity.JobStatus, error) {
	logger := ctxlog.FromContext(ctx).With("job_id", jobID)

	for attempt := 1; ; attempt++ {
		status, err := fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		p.Metrics.PollAttempt(kind)
		logger.Debug("Polled job status.", "attempt", attempt, "state", status.State)

		if status.Finished() {
			return status, nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return status, fmt.Errorf("%w: job %s still %s after %d polls", ErrPollTimeout, jobID, status.State, attempt)
		}

		timer := p.Clock.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		case <-timer.C():
		}
	}
}
