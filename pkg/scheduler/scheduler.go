// Package scheduler polls the rule store for due schedule triggers and
// hands them to the trigger dispatcher.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deskflowhq/deskflow/pkg/engine"
	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/deskflowhq/deskflow/pkg/persistence"
)

const defaultPollInterval = time.Second

type Scheduler struct {
	dispatcher   *engine.Dispatcher
	persistence  persistence.Persistence
	pollInterval time.Duration
	logger       *slog.Logger
	clock        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(dispatcher *engine.Dispatcher, p persistence.Persistence, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher:   dispatcher,
		persistence:  p,
		pollInterval: defaultPollInterval,
		logger:       logger.With("module", "scheduler"),
		clock:        time.Now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithPollInterval overrides the scan interval, mainly for tests.
func (s *Scheduler) WithPollInterval(interval time.Duration) *Scheduler {
	s.pollInterval = interval

	return s
}

// Start primes every schedule and begins polling. Priming recomputes
// each rule's next execution from the current time, so fire times
// missed while the process was down are skipped rather than replayed.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.prime(ctx); err != nil {
		return err
	}

	go s.loop(ctx)

	s.logger.Info("Scheduler started", "poll_interval", s.pollInterval)

	return nil
}

// Stop halts polling and waits for the current scan to finish. Running
// executions are not interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	<-s.done
}

func (s *Scheduler) prime(ctx context.Context) error {
	rules, err := s.persistence.Rules(ctx)
	if err != nil {
		return err
	}

	now := s.clock()

	for _, rule := range rules {
		spec := scheduleOf(rule)
		if spec == nil {
			continue
		}

		if err := spec.Reschedule(now); err != nil {
			s.logger.Error("Failed to prime schedule", "rule_id", rule.ID, "error", err)

			continue
		}

		if err := s.persistence.UpdateRuleSchedule(ctx, rule.ID, *spec.NextExecution); err != nil {
			s.logger.Error("Failed to save primed schedule", "rule_id", rule.ID, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan fires every due schedule once and pushes its next execution
// forward. Rescheduling from "now" collapses any backlog of missed
// ticks into a single firing.
func (s *Scheduler) scan(ctx context.Context) {
	rules, err := s.persistence.Rules(ctx)
	if err != nil {
		s.logger.Error("Failed to list rules", "error", err)

		return
	}

	now := s.clock()

	for _, rule := range rules {
		spec := scheduleOf(rule)
		if spec == nil || !spec.IsDue(now) {
			continue
		}

		scheduledFor := *spec.NextExecution

		if lag := now.Sub(scheduledFor); lag > s.pollInterval*2 {
			s.logger.Warn("Schedule fired late, skipping missed ticks",
				"rule_id", rule.ID,
				"scheduled_for", scheduledFor,
				"lag", lag,
			)
		}

		if _, err := s.dispatcher.ExecuteScheduled(ctx, rule, scheduledFor); err != nil {
			s.logger.Error("Failed to dispatch scheduled rule", "rule_id", rule.ID, "error", err)
		}

		if err := spec.Reschedule(now); err != nil {
			s.logger.Error("Failed to reschedule rule", "rule_id", rule.ID, "error", err)

			continue
		}

		// Only the recomputed next execution is persisted. Writing the
		// whole rule copy here would race with RecordRuleExecution and
		// could erase counter bumps from executions that finished since
		// the Rules() fetch above.
		if err := s.persistence.UpdateRuleSchedule(ctx, rule.ID, *spec.NextExecution); err != nil {
			s.logger.Error("Failed to save rescheduled rule", "rule_id", rule.ID, "error", err)
		}
	}
}

func scheduleOf(rule *models.WorkflowRule) *models.ScheduleSpec {
	if !rule.IsActive || rule.Trigger.Kind != models.TriggerSchedule {
		return nil
	}

	spec := rule.Trigger.Schedule
	if spec == nil || !spec.Enabled {
		return nil
	}

	return spec
}
