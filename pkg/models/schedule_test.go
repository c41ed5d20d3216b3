package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleSpec_NextAfter_DailyCron(t *testing.T) {
	spec := &ScheduleSpec{
		CronExpression: "0 9 * * *",
		Timezone:       "UTC",
		Enabled:        true,
	}

	reference := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	next, err := spec.NextAfter(reference)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestScheduleSpec_NextAfter_BeforeFireTime(t *testing.T) {
	spec := &ScheduleSpec{CronExpression: "0 9 * * *"}

	reference := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)

	next, err := spec.NextAfter(reference)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestScheduleSpec_NextAfter_Timezone(t *testing.T) {
	spec := &ScheduleSpec{
		CronExpression: "0 9 * * *",
		Timezone:       "America/Sao_Paulo",
	}

	// 10:00 UTC is 07:00 in Sao Paulo (UTC-3), so the 09:00 local fire
	// is still ahead on the same day.
	reference := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	next, err := spec.NextAfter(reference)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestScheduleSpec_NextAfter_SixFieldExpression(t *testing.T) {
	spec := &ScheduleSpec{CronExpression: "30 * * * * *"}

	reference := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	next, err := spec.NextAfter(reference)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 30, 0, time.UTC), next.UTC())
}

func TestScheduleSpec_IsDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := &ScheduleSpec{CronExpression: "* * * * *", Enabled: true, NextExecution: &past}
	assert.True(t, due.IsDue(now))

	notYet := &ScheduleSpec{CronExpression: "* * * * *", Enabled: true, NextExecution: &future}
	assert.False(t, notYet.IsDue(now))

	disabled := &ScheduleSpec{CronExpression: "* * * * *", Enabled: false, NextExecution: &past}
	assert.False(t, disabled.IsDue(now))

	uncomputed := &ScheduleSpec{CronExpression: "* * * * *", Enabled: true}
	assert.False(t, uncomputed.IsDue(now))
}

func TestScheduleSpec_Reschedule(t *testing.T) {
	spec := &ScheduleSpec{CronExpression: "0 9 * * *", Enabled: true}

	err := spec.Reschedule(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, spec.NextExecution)
	assert.Equal(t, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), spec.NextExecution.UTC())
}

func TestScheduleSpec_Validate(t *testing.T) {
	valid := &ScheduleSpec{CronExpression: "*/5 * * * *", Timezone: "Europe/Lisbon"}
	require.NoError(t, valid.Validate())

	missing := &ScheduleSpec{}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidSchedule)

	badExpr := &ScheduleSpec{CronExpression: "not a cron"}
	assert.ErrorIs(t, badExpr.Validate(), ErrInvalidSchedule)

	badZone := &ScheduleSpec{CronExpression: "* * * * *", Timezone: "Mars/Olympus"}
	assert.ErrorIs(t, badZone.Validate(), ErrInvalidSchedule)
}
