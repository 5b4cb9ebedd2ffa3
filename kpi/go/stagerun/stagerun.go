// Package stagerun implements the StageRunner: it invokes a stage's
// execute method with the richer (df, startTs, endTs) signature if the
// stage supports it, falling back to the legacy single-argument
// signature otherwise, then normalizes the boolean quirks pipeline.py
// relies on (true => empty frame, false => halt the chunk). Grounded
// on pipeline.py's execute-dispatch block inside JobController.execute.
package stagerun

import (
	"time"

	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

// Result is the normalized outcome of running one stage.
type Result struct {
	// Halted is true when the stage signaled halt (returned false, or
	// the pre-call empty-frame guard tripped) — the caller should stop
	// processing the current chunk.
	Halted bool
	// Frame is the stage's output, normalized to an empty frame when
	// the stage returned the boolean true.
	Frame interface{}
}

// Run invokes s against df for [startTs, endTs), preferring
// ExecuteWindowed and falling back to ExecuteSimple. It applies the
// pre-call empty-frame guard first: a stage without AllowEmptyDf (or
// one that reports false) is never invoked against an empty frame; the
// chunk halts instead.
func Run(s payload.Stage, df interface{}, startTs, endTs time.Time) (Result, error) {
	if isEmpty(df) && !allowsEmptyDf(s) {
		return Result{Halted: true}, nil
	}

	raw, err := invoke(s, df, startTs, endTs)
	if err != nil {
		return Result{}, err
	}
	return normalize(raw), nil
}

func invoke(s payload.Stage, df interface{}, startTs, endTs time.Time) (interface{}, error) {
	if we, ok := s.(payload.WindowedExecutor); ok {
		return we.ExecuteWindowed(df, startTs, endTs)
	}
	if se, ok := s.(payload.SimpleExecutor); ok {
		return se.ExecuteSimple(df)
	}
	return df, nil
}

// normalize applies spec.md §4.4's boolean quirks: a literal true
// collapses to an empty frame, a literal false signals halt; anything
// else (frame, scalar, series) passes through untouched.
func normalize(raw interface{}) Result {
	if b, ok := raw.(bool); ok {
		if !b {
			return Result{Halted: true}
		}
		return Result{Frame: table.New(nil)}
	}
	return Result{Frame: raw}
}

func allowsEmptyDf(s payload.Stage) bool {
	a, ok := s.(payload.AllowEmptyDf)
	return ok && a.AllowEmptyDf()
}

func isEmpty(df interface{}) bool {
	if df == nil {
		return true
	}
	frame, ok := df.(*table.Frame)
	if !ok {
		return false
	}
	return frame.IsEmpty()
}
