package query

import (
	"time"

	"github.com/ipaproto/helper/pkg/log"
	"github.com/rs/zerolog"
)

// defaultTimeoutInterval is how often the supervisor sweeps live
// queries for an expired deadline.
const defaultTimeoutInterval = 5 * time.Second

// TimeoutSupervisor periodically walks a Processor's live queries and
// fails any that have outlived their wall-clock deadline, whatever
// state they are stuck in.
type TimeoutSupervisor struct {
	proc     *Processor
	logger   zerolog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewTimeoutSupervisor builds a supervisor for proc, sweeping every
// defaultTimeoutInterval.
func NewTimeoutSupervisor(proc *Processor) *TimeoutSupervisor {
	return &TimeoutSupervisor{
		proc:     proc,
		logger:   log.WithComponent("query-timeout"),
		interval: defaultTimeoutInterval,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the sweep cadence; tests use this to avoid
// waiting on the production interval. Must be called before Start.
func (s *TimeoutSupervisor) WithInterval(d time.Duration) *TimeoutSupervisor {
	s.interval = d
	return s
}

// Start begins the sweep loop.
func (s *TimeoutSupervisor) Start() {
	go s.run()
}

// Stop stops the sweep loop.
func (s *TimeoutSupervisor) Stop() {
	close(s.stopCh)
}

func (s *TimeoutSupervisor) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Msg("timeout supervisor started")

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info().Msg("timeout supervisor stopped")
			return
		}
	}
}

func (s *TimeoutSupervisor) sweep() {
	now := time.Now()
	for _, qid := range s.proc.Queries() {
		deadline, live := s.proc.Deadline(qid)
		if !live || now.Before(deadline) {
			continue
		}
		s.logger.Warn().Str("query_id", qid.String()).Msg("query exceeded its deadline, failing")
		s.proc.ExpireIfOverdue(qid, now)
	}
}
