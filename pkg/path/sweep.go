package path

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	pkgerrors "github.com/opd-ai/tor-guardsim/pkg/errors"
	"github.com/opd-ai/tor-guardsim/pkg/logger"
)

// Scheduler runs the Controller's background maintenance on a cron
// schedule: refreshing the consensus (which also drives the obsolete- and
// dead-guard eviction sweeps) at regular intervals so a long-lived client
// doesn't need an external caller to remember to do it. A circuit breaker
// guards the refresh so a directory backend that is consistently failing
// doesn't get hammered once per schedule tick.
type Scheduler struct {
	cron        *cron.Cron
	cronEntryID cron.EntryID
	controller  *Controller
	breaker     *pkgerrors.CircuitBreaker
	logger      *logger.Logger
}

// NewScheduler creates a Scheduler that refreshes c's consensus on the
// given cron expression (e.g. "@every 1h", or "0 * * * *" for hourly).
func NewScheduler(c *Controller, schedule string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault()
	}

	s := &Scheduler{
		cron:       cron.New(),
		controller: c,
		breaker:    pkgerrors.NewCircuitBreaker(pkgerrors.DefaultCircuitBreakerConfig()),
		logger:     log.Component("guard-scheduler"),
	}

	entryID, err := s.cron.AddFunc(schedule, s.runSweep)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cronEntryID = entryID

	return s, nil
}

func (s *Scheduler) runSweep() {
	ctx := context.Background()
	err := s.breaker.Execute(ctx, func() error {
		return s.controller.OnNewConsensus(ctx)
	})
	if err != nil {
		s.logger.Warn("scheduled consensus refresh failed", "error", err)
	}
}

// Start begins running the scheduled sweeps in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, blocking until any in-flight sweep completes.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// NextRun returns when the next scheduled sweep will fire.
func (s *Scheduler) NextRun() cron.Entry {
	return s.cron.Entry(s.cronEntryID)
}
