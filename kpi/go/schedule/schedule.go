// Package schedule implements the ScheduleEvaluator: given the current
// wall-clock and a set of schedules, it computes which are due, which
// are subsumed by progressive schedules, data-extraction start dates
// (by backtrack or checkpoint), and rounding alignment. Grounded on
// pipeline.py's evaluate_schedules / adjust_to_schedule /
// get_next_execution_date.
package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/kpi/go/payload"
)

// LastExecLookup returns the last recorded completion for jobName under
// scheduleName, or nil if none exists.
type LastExecLookup func(ctx context.Context, jobName, scheduleName string) (*time.Time, error)

// Status is the per-schedule-per-tick evaluation result (spec.md §3
// ScheduleStatus).
type Status struct {
	Schedule       payload.Schedule
	IsDue          bool
	IsSubsumed     bool
	NextDate       time.Time
	StartDate      *time.Time
	PrevCheckpoint *time.Time
	Backtrack      *time.Duration
	IsCheckpointDriven bool
	// MarkComplete lists the schedule names to append a JobLog record
	// for once this schedule's chunks all complete; non-empty only for
	// the schedule that "won" progressive subsumption (or for every due
	// schedule when subsumption is disabled).
	MarkComplete []string
}

// Evaluate computes a Status for every schedule, then applies
// progressive subsumption across the due set if progressive is true.
// Per-schedule errors (e.g. a last-execution lookup failure) are
// aggregated rather than aborting the whole pass, via multierror.
func Evaluate(ctx context.Context, jobName string, schedules []payload.Schedule, now time.Time, lastExec LastExecLookup, progressive bool) ([]*Status, error) {
	statuses := make([]*Status, 0, len(schedules))
	var errs *multierror.Error

	for _, s := range schedules {
		st, err := evaluateOne(ctx, jobName, s, now, lastExec)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		statuses = append(statuses, st)
	}
	if errs != nil {
		return statuses, errs.ErrorOrNil()
	}

	if progressive {
		applyProgressiveSubsumption(statuses)
	} else {
		for _, st := range statuses {
			if st.IsDue {
				st.MarkComplete = []string{st.Schedule.Name}
			}
		}
	}
	return statuses, nil
}

func evaluateOne(ctx context.Context, jobName string, s payload.Schedule, now time.Time, lastExec LastExecLookup) (*Status, error) {
	last, err := lastExec(ctx, jobName, s.Name)
	if err != nil {
		return nil, err
	}

	var nextDate time.Time
	if last != nil {
		nextDate = last.Add(s.Freq)
	} else {
		nextDate = now
	}

	if s.RoundHour != nil || s.RoundMin != nil {
		nextDate = AdjustToSchedule(nextDate, now, s.RoundHour, s.RoundMin, s.Freq)
	}

	st := &Status{Schedule: s, NextDate: nextDate}
	st.IsDue = !nextDate.After(now)

	if !st.IsDue {
		sklog.Debugf("Hang tight. Schedule %s is only due for execution on %s.", s.Name, nextDate)
		return st, nil
	}

	switch bt := s.Backtrack.(type) {
	case payload.BacktrackCheckpoint:
		st.IsCheckpointDriven = true
		st.PrevCheckpoint = last
		if last != nil {
			start := last.Add(time.Microsecond)
			st.StartDate = &start
		}
	case payload.BacktrackDuration:
		d := time.Duration(bt)
		start := now.Add(-d)
		st.StartDate = &start
		st.Backtrack = &d
	}
	return st, nil
}

// AdjustToSchedule rounds nextDate to the schedule's hour:minute anchor,
// then advances by whole multiples of freq until within one freq of
// nextDate, never exceeding now. Repeated application is idempotent
// (spec.md §8 invariant 3) since this is a pure floor-division
// computation over the same anchor. Shared with kpi/go/chunk, which
// uses the identical rounding rule to align chunk boundaries.
func AdjustToSchedule(nextDate, now time.Time, roundHour, roundMin *int, freq time.Duration) time.Time {
	rh, rm := 0, 0
	if roundHour != nil {
		rh = *roundHour
	}
	if roundMin != nil {
		rm = *roundMin
	}
	anchor := time.Date(nextDate.Year(), nextDate.Month(), nextDate.Day(), rh, rm, 0, 0, nextDate.Location())
	if anchor.After(nextDate) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	if freq <= 0 {
		return anchor
	}
	steps := int64(nextDate.Sub(anchor) / freq)
	adjusted := anchor.Add(time.Duration(steps) * freq)
	if adjusted.After(now) {
		adjusted = now
	}
	return adjusted
}

// applyProgressiveSubsumption implements spec.md §4.1's progressive
// subsumption rule: of all due schedules, the longest-period one (by
// Freq, ties broken by last-in-ascending-order) wins; it alone stays
// due and inherits MarkComplete for the whole due set, and every other
// due schedule is marked subsumed.
func applyProgressiveSubsumption(statuses []*Status) {
	due := make([]*Status, 0, len(statuses))
	for _, st := range statuses {
		if st.IsDue {
			due = append(due, st)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Schedule.Freq < due[j].Schedule.Freq
	})
	winner := due[len(due)-1]

	names := make([]string, len(due))
	for i, st := range due {
		names[i] = st.Schedule.Name
	}
	winner.MarkComplete = names

	for _, st := range due {
		if st == winner {
			continue
		}
		st.IsDue = false
		st.IsSubsumed = true
		sklog.Debugf("Schedule %s skipped as the job controller is using a progressive schedule and this schedule is subsumed by another. %s", st.Schedule.Name, st.NextDate)
	}
}
