package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.kpiflow.build/go/testutils"
	"go.kpiflow.build/kpi/go/payload"
)

func mustParse(t *testing.T, s string) time.Time {
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func lookupFrom(m map[string]time.Time) LastExecLookup {
	return func(_ context.Context, _, scheduleName string) (*time.Time, error) {
		if tm, ok := m[scheduleName]; ok {
			return &tm, nil
		}
		return nil, nil
	}
}

func TestEvaluate_ProgressiveSubsumption(t *testing.T) {
	testutils.SmallTest(t)

	now := mustParse(t, "2024-01-01T10:05:00Z")
	schedules := []payload.Schedule{
		{Name: "5min", Freq: 5 * time.Minute, Backtrack: payload.BacktrackNone{}},
		{Name: "1h", Freq: time.Hour, Backtrack: payload.BacktrackDuration(time.Hour)},
	}
	lastExec := lookupFrom(map[string]time.Time{
		"5min": mustParse(t, "2024-01-01T09:55:00Z"),
		"1h":   mustParse(t, "2024-01-01T09:00:00Z"),
	})

	statuses, err := Evaluate(context.Background(), "job", schedules, now, lastExec, true)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byName := map[string]*Status{}
	for _, st := range statuses {
		byName[st.Schedule.Name] = st
	}

	assert.False(t, byName["5min"].IsDue)
	assert.True(t, byName["5min"].IsSubsumed)

	winner := byName["1h"]
	assert.True(t, winner.IsDue)
	assert.False(t, winner.IsSubsumed)
	assert.ElementsMatch(t, []string{"5min", "1h"}, winner.MarkComplete)
	require.NotNil(t, winner.StartDate)
	assert.Equal(t, mustParse(t, "2024-01-01T09:05:00Z"), *winner.StartDate)
}

func TestEvaluate_CheckpointBacktrack(t *testing.T) {
	testutils.SmallTest(t)

	now := mustParse(t, "2024-01-01T10:20:00Z")
	schedules := []payload.Schedule{
		{Name: "15min", Freq: 15 * time.Minute, Backtrack: payload.BacktrackCheckpoint{}},
	}
	last := mustParse(t, "2024-01-01T10:00:00Z")
	lastExec := lookupFrom(map[string]time.Time{"15min": last})

	statuses, err := Evaluate(context.Background(), "job", schedules, now, lastExec, false)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	st := statuses[0]
	assert.True(t, st.IsDue)
	require.NotNil(t, st.PrevCheckpoint)
	assert.Equal(t, last, *st.PrevCheckpoint)
	require.NotNil(t, st.StartDate)
	assert.Equal(t, last.Add(time.Microsecond), *st.StartDate)
	assert.Equal(t, []string{"15min"}, st.MarkComplete)
}

func TestEvaluate_NotYetDue(t *testing.T) {
	testutils.SmallTest(t)

	now := mustParse(t, "2024-01-01T10:00:00Z")
	schedules := []payload.Schedule{
		{Name: "1h", Freq: time.Hour, Backtrack: payload.BacktrackNone{}},
	}
	lastExec := lookupFrom(map[string]time.Time{"1h": mustParse(t, "2024-01-01T09:30:00Z")})

	statuses, err := Evaluate(context.Background(), "job", schedules, now, lastExec, true)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].IsDue)
	assert.Empty(t, statuses[0].MarkComplete)
}

func TestEvaluate_AggregatesLookupErrors(t *testing.T) {
	testutils.SmallTest(t)

	boom := assert.AnError
	lookup := func(_ context.Context, _, _ string) (*time.Time, error) { return nil, boom }
	schedules := []payload.Schedule{
		{Name: "a", Freq: time.Minute},
		{Name: "b", Freq: 2 * time.Minute},
	}

	_, err := Evaluate(context.Background(), "job", schedules, time.Now().UTC(), lookup, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestAdjustToSchedule_RoundsToAnchorAndCaps(t *testing.T) {
	testutils.SmallTest(t)

	now := mustParse(t, "2024-01-01T10:07:00Z")
	hour, min := 0, 0
	adjusted := AdjustToSchedule(mustParse(t, "2024-01-01T10:07:00Z"), now, &hour, &min, 15*time.Minute)
	assert.Equal(t, mustParse(t, "2024-01-01T10:00:00Z"), adjusted)
}
