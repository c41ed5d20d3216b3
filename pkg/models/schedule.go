package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// ScheduleSpec configures a schedule trigger. NextExecution is precomputed
// so the scheduler can poll for due rules instead of keeping a timer per
// rule; it is recomputed from "now" at startup, which makes scheduling
// idempotent across process restarts.
type ScheduleSpec struct {
	// CronExpression uses the standard 5-field format; a leading seconds
	// field is accepted for sub-minute schedules.
	CronExpression string `json:"cron_expression" validate:"required"`

	// Timezone is an IANA location name, e.g. "Europe/Lisbon". Empty
	// means UTC.
	Timezone string `json:"timezone,omitempty"`

	Enabled bool `json:"enabled"`

	NextExecution *time.Time `json:"next_execution,omitempty"`
}

func scheduleParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// NextAfter computes the next fire time strictly after the reference time,
// evaluated in the schedule's timezone.
func (s *ScheduleSpec) NextAfter(reference time.Time) (time.Time, error) {
	loc := time.UTC

	if s.Timezone != "" {
		parsed, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}

		loc = parsed
	}

	schedule, err := scheduleParser().Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", s.CronExpression, err)
	}

	return schedule.Next(reference.In(loc)), nil
}

// Reschedule recomputes NextExecution from the reference time.
func (s *ScheduleSpec) Reschedule(reference time.Time) error {
	next, err := s.NextAfter(reference)
	if err != nil {
		return err
	}

	s.NextExecution = &next

	return nil
}

// IsDue reports whether the schedule is enabled and its precomputed next
// execution time has passed.
func (s *ScheduleSpec) IsDue(now time.Time) bool {
	return s.Enabled && s.NextExecution != nil && !s.NextExecution.After(now)
}

// Validate checks the cron expression and timezone.
func (s *ScheduleSpec) Validate() error {
	if s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := scheduleParser().Parse(s.CronExpression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
		}
	}

	return nil
}
