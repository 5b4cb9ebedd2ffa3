// Package controller implements the JobController: the top-level loop
// bounded by a keep-alive duration that drives schedule evaluation,
// preload-stage execution, job-spec building, chunking, and per-chunk
// stage execution through to the writer and the job log. Grounded on
// pipeline.py's JobController.run/execute, and on
// perf/go/regression/continuous.go for the injectable-clock shape of a
// long-lived polling loop in this codebase. Tick and per-schedule
// outcomes are recorded through go/metrics2, the same inline
// GetCounter/NewTimer-at-the-call-site style the rest of this codebase
// uses for its Prometheus metrics.
package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"go.kpiflow.build/go/metrics2"
	"go.kpiflow.build/go/now"
	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/kpi/go/chunk"
	"go.kpiflow.build/kpi/go/jobspec"
	"go.kpiflow.build/kpi/go/joblog"
	"go.kpiflow.build/kpi/go/merge"
	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/schedule"
	"go.kpiflow.build/kpi/go/stagerun"
	"go.kpiflow.build/kpi/go/table"
)

// jobSpecCacheSize caps how many (payload, schedule) stage orderings
// jobspec.Build keeps cached across ticks.
const jobSpecCacheSize = 32

// jobLogger is the subset of *joblog.JobLog the controller drives,
// narrowed to an interface so tests can substitute a fake rather than
// require a live CockroachDB connection (joblog.JobLog itself stays a
// concrete, pgxpool-bound type, matching sqltracestore.go's own
// concrete-DB-dependency style).
type jobLogger interface {
	Write(ctx context.Context, name, schedule string, timestamp time.Time, trace string) error
	GetLastExecutionDate(ctx context.Context, name, schedule string) (*time.Time, error)
}

// Controller drives one payload's schedules to completion (spec.md
// §4.8). Clock and Sleep are the injectable seams: production code
// gets now.Real and a context-aware timer wait, tests substitute a
// scripted clock and a no-op or recording Sleep so the tick loop never
// actually blocks.
type Controller struct {
	Payload *payload.Payload
	JobLog  jobLogger
	Clock   now.Func
	Sleep   func(ctx context.Context, d time.Duration)

	orderCache *lru.Cache
}

// New builds a Controller for p, creating its job_log table if absent.
func New(ctx context.Context, p *payload.Payload) (*Controller, error) {
	jl, err := joblog.New(ctx, p.DB, p.Schema, fmt.Sprintf("%T", p))
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(jobSpecCacheSize)
	if err != nil {
		return nil, fmt.Errorf("allocating job spec order cache: %w", err)
	}
	return &Controller{
		Payload:    p,
		JobLog:     jl,
		Clock:      now.Real,
		Sleep:      contextSleep,
		orderCache: cache,
	}, nil
}

func contextSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run loops ticks until executeDate exceeds executeUntil = the clock's
// value at call time plus keepAlive, per spec.md §4.8's five numbered
// steps. keepAlive of 0 still runs exactly one tick (executeDate ==
// executeUntil on entry).
func (c *Controller) Run(ctx context.Context, keepAlive time.Duration) error {
	executeDate := c.Clock()
	executeUntil := executeDate.Add(keepAlive)

	for !executeDate.After(executeUntil) {
		if err := ctx.Err(); err != nil {
			return err
		}

		nextWake, executedAny, err := c.tick(ctx, executeDate, executeUntil)
		if err != nil {
			return err
		}

		if !executedAny {
			if nextWake == nil {
				return nil
			}
			if sleepFor := nextWake.Sub(c.Clock()); sleepFor > 0 {
				c.Sleep(ctx, sleepFor)
			}
		}
		executeDate = c.Clock()
	}
	return nil
}

// tick evaluates every schedule once and runs whichever are due.
// Per-schedule failures are logged and skip that schedule only (spec.md
// §7's "per-schedule fatal errors abort that schedule but not others");
// a schedule-evaluation failure itself aborts the whole tick.
func (c *Controller) tick(ctx context.Context, executeDate, executeUntil time.Time) (*time.Time, bool, error) {
	metrics2.GetCounter("kpiflow_controller_ticks").Inc()
	timer := metrics2.NewTimer("kpiflow_controller_tick_duration_s")
	defer timer.Stop()

	p := c.Payload
	statuses, err := schedule.Evaluate(ctx, p.Name, scheduleList(p.Schedules), executeDate, c.lastExecLookup, p.IsScheduleProgressive)
	if err != nil {
		return nil, false, fmt.Errorf("evaluating schedules: %w", err)
	}

	var nextWake *time.Time
	executedAny := false

	for _, st := range statuses {
		if !st.IsDue {
			if !st.IsSubsumed && !st.NextDate.After(executeUntil) {
				nextWake = earlier(nextWake, st.NextDate)
			}
			continue
		}
		if err := c.runSchedule(ctx, st, executeDate); err != nil {
			metrics2.GetCounter("kpiflow_controller_schedule_errors").Inc()
			sklog.Errorf("Schedule %s aborted this tick: %s", st.Schedule.Name, err)
			continue
		}
		metrics2.GetCounter("kpiflow_controller_schedules_run").Inc()
		executedAny = true
	}
	return nextWake, executedAny, nil
}

func (c *Controller) lastExecLookup(ctx context.Context, jobName, scheduleName string) (*time.Time, error) {
	return c.JobLog.GetLastExecutionDate(ctx, jobName, scheduleName)
}

// runSchedule runs one due schedule to completion: preload stages,
// job-spec build, every chunk, then a job log entry for every schedule
// name st.MarkComplete names (itself, plus whatever progressive
// subsumption folded in).
func (c *Controller) runSchedule(ctx context.Context, st *schedule.Status, executeDate time.Time) error {
	p := c.Payload
	runID := uuid.New().String()

	subsumed := map[string]struct{}{}
	for _, name := range st.MarkComplete {
		if name != st.Schedule.Name {
			subsumed[name] = struct{}{}
		}
	}

	preloadConstants, err := c.runPreloadStages(st.Schedule.Name, subsumed)
	if err != nil {
		return fmt.Errorf("run %s: preload stages: %w", runID, err)
	}

	js, err := jobspec.Build(p, st.Schedule.Name, subsumed, c.orderCache)
	if err != nil {
		return fmt.Errorf("run %s: building job spec: %w", runID, err)
	}

	chunks, err := chunk.GetChunks(chunk.Params{
		RoundHour:            st.Schedule.RoundHour,
		RoundMin:             st.Schedule.RoundMin,
		Freq:                 st.Schedule.Freq,
		ChunkSize:            p.ChunkSize,
		GetEarlyTimestamp:    p.EarlyTimestamp,
		GetAdjustedStartDate: p.AdjustedStartDate,
	}, st.StartDate, executeDate)
	if err != nil {
		return fmt.Errorf("run %s: chunking: %w", runID, err)
	}

	var entities []string
	if p.GetEntityFilter != nil {
		entities = p.GetEntityFilter()
	}

	for _, ck := range chunks {
		skipped, err := c.runChunk(js, ck, entities, preloadConstants)
		if err != nil {
			return fmt.Errorf("run %s: chunk ending %s: %w", runID, ck.End, err)
		}
		if skipped {
			sklog.Infof("run %s: chunk ending %s halted at the input level, skipping.", runID, ck.End)
		}
	}

	for _, name := range st.MarkComplete {
		if err := c.JobLog.Write(ctx, p.Name, name, executeDate, runID); err != nil {
			return fmt.Errorf("run %s: recording completion for %s: %w", runID, name, err)
		}
	}
	return nil
}

// runPreloadStages runs every preload stage admitted for this tick's
// schedule (itself or folded in by subsumption) and returns their
// outputs as a constants map, keyed by output name. A preload stage's
// literal return value is stored as-is — including the bare boolean
// true spec.md §9 flags as a reproduced, not fixed, quirk — since
// runPreloadStages bypasses stagerun's true/false chunk-halt
// normalization entirely (that normalization exists for stages
// transforming the running frame, not for preload's constant-producing
// role).
func (c *Controller) runPreloadStages(scheduleName string, subsumed map[string]struct{}) (map[string]interface{}, error) {
	p := c.Payload
	constants := map[string]interface{}{}

	for _, s := range p.Stages {
		pre, ok := s.(payload.Preload)
		if !ok || !pre.IsPreload() {
			continue
		}
		effective := jobspec.EffectiveSchedule(s, p)
		if !jobspec.ScheduleAdmitted(effective, scheduleName, subsumed) {
			continue
		}
		result, err := invokePreload(s)
		if err != nil {
			return nil, fmt.Errorf("preload stage %s: %w", s.Name(), err)
		}
		for _, name := range s.OutputList() {
			constants[name] = result
		}
	}
	return constants, nil
}

func invokePreload(s payload.Stage) (interface{}, error) {
	if we, ok := s.(payload.WindowedExecutor); ok {
		return we.ExecuteWindowed(table.New(nil), time.Time{}, time.Time{})
	}
	if se, ok := s.(payload.SimpleExecutor); ok {
		return se.ExecuteSimple(table.New(nil))
	}
	return nil, nil
}

// runChunk runs the input-level phase, then every granularity phase
// restarted from a clone of the input-level frame (confirmed against
// pipeline.py's execute, which re-slices from the stored input-level
// dataframe per grain rather than threading the previous grain's
// result forward). Returns skipped=true without error when the
// input-level phase halts.
func (c *Controller) runChunk(js *jobspec.JobSpec, ck chunk.Chunk, entities []string, preloadConstants map[string]interface{}) (bool, error) {
	p := c.Payload

	startTs := time.Time{}
	if ck.Start != nil {
		startTs = *ck.Start
	}
	endTs := ck.End
	if p.GetStartTsOverride != nil {
		if ov := p.GetStartTsOverride(); ov != nil {
			startTs = *ov
		}
	}
	if p.GetEndTsOverride != nil {
		if ov := p.GetEndTsOverride(); ov != nil {
			endTs = *ov
		}
	}

	inputMerger := merge.New()
	inputMerger.Constants = cloneConstants(preloadConstants)

	halted, err := c.runPhase(js, jobspec.InputLevelPhase, inputMerger, startTs, endTs, entities)
	if err != nil {
		return false, err
	}
	if halted {
		return true, nil
	}

	for _, phase := range js.Phases() {
		if phase == jobspec.InputLevelPhase {
			continue
		}
		granMerger := merge.New()
		granMerger.Frame = cloneFrame(inputMerger.Frame)
		granMerger.Constants = cloneConstants(inputMerger.Constants)

		if _, err := c.runPhase(js, phase, granMerger, startTs, endTs, entities); err != nil {
			return false, err
		}
	}
	return false, nil
}

// runPhase runs every stage in phase in order against merger, merging
// each stage's output in turn. Returns halted=true the moment a stage
// signals halt, stopping the rest of this phase only — sibling
// granularity phases for the same chunk still run.
func (c *Controller) runPhase(js *jobspec.JobSpec, phase string, merger *merge.Merger, startTs, endTs time.Time, entities []string) (bool, error) {
	for _, s := range js.StagesIn(phase) {
		result, halted, err := invokeStage(s, merger.Frame, startTs, endTs, entities)
		if err != nil {
			return false, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
		if halted {
			return true, nil
		}
		if result == nil {
			continue
		}

		forceOverwrite := false
		if d, ok := s.(payload.DiscardPriorOnMerge); ok {
			forceOverwrite = d.DiscardPriorOnMerge()
		}
		if err := merger.Merge(result, s.OutputList(), forceOverwrite); err != nil {
			return false, fmt.Errorf("merging stage %s: %w", s.Name(), err)
		}
	}
	return false, nil
}

// invokeStage dispatches a data-source stage to GetData (its projection
// was already trimmed by jobspec.Build via SetProjection, so the
// columns argument here is nil) and everything else through
// stagerun.Run.
func invokeStage(s payload.Stage, df interface{}, startTs, endTs time.Time, entities []string) (interface{}, bool, error) {
	if ds, ok := s.(payload.DataSource); ok {
		data, err := ds.GetData(startTs, endTs, entities, nil)
		if err != nil {
			return nil, false, err
		}
		return data, false, nil
	}
	res, err := stagerun.Run(s, df, startTs, endTs)
	if err != nil {
		return nil, false, err
	}
	if res.Halted {
		return nil, true, nil
	}
	return res.Frame, false, nil
}

func scheduleList(m map[string]payload.Schedule) []payload.Schedule {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]payload.Schedule, len(names))
	for i, name := range names {
		out[i] = m[name]
	}
	return out
}

func earlier(a *time.Time, b time.Time) *time.Time {
	if a == nil || b.Before(*a) {
		t := b
		return &t
	}
	return a
}

func cloneConstants(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFrame(f *table.Frame) *table.Frame {
	if f == nil {
		return table.New(nil)
	}
	return f.Clone()
}
