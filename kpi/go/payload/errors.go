package payload

import (
	"errors"
	"fmt"
)

// The error taxonomy from spec.md §7. Each is a sentinel comparable via
// errors.Is after being wrapped with skerr, rather than a plain string,
// so callers can branch on the failure class (e.g. StageHalt is soft
// and only skips a chunk; the rest are fatal at varying scopes).
var (
	ErrPayloadMetadataMissing  = errors.New("payload metadata missing: _stages is required")
	ErrBadAggregatorShape      = errors.New("simple aggregator has the wrong input/output arity")
	ErrUnsupportedMergeInput   = errors.New("merge input is a mapping type, which auto-merge cannot normalize")
	ErrUnmergeableShape        = errors.New("no merge strategy applies to this index shape")
	ErrMergePostconditionFailed = errors.New("merge postcondition failed: promised column absent after merge")
	ErrStageHalt               = errors.New("stage signaled halt for the current chunk")
	ErrWriteFailed             = errors.New("writer failed")
	ErrJobLogUnavailable       = errors.New("job log is unavailable")
)

// BadAggregatorShapeError names the offending stage, per spec.md §4.3
// ("fail with BadAggregatorShape naming the stage").
type BadAggregatorShapeError struct {
	StageName string
	NumInputs int
	NumOutputs int
}

func (e *BadAggregatorShapeError) Error() string {
	return fmt.Sprintf("%s: stage %q has %d inputs and %d outputs, simple aggregators need exactly 1 of each",
		ErrBadAggregatorShape, e.StageName, e.NumInputs, e.NumOutputs)
}

func (e *BadAggregatorShapeError) Unwrap() error {
	return ErrBadAggregatorShape
}

// UnmergeableShapeError carries the expected vs. actual index names,
// per spec.md §7 ("the error message must include expected vs. actual
// index names").
type UnmergeableShapeError struct {
	FrameIndexNames  []string
	ObjIndexNames    []string
}

func (e *UnmergeableShapeError) Error() string {
	return fmt.Sprintf("%s: frame index %v, object index %v", ErrUnmergeableShape, e.FrameIndexNames, e.ObjIndexNames)
}

func (e *UnmergeableShapeError) Unwrap() error {
	return ErrUnmergeableShape
}

// WriteFailedError wraps a driver error with the table it occurred on,
// per spec.md §7 ("WriteFailed(table, cause)").
type WriteFailedError struct {
	Table string
	Cause error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%s: table %q: %s", ErrWriteFailed, e.Table, e.Cause)
}

func (e *WriteFailedError) Unwrap() error {
	return ErrWriteFailed
}
