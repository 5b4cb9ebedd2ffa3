// Package joblog is the durable record of (object_type, object_name,
// schedule, last_update) rows the job controller consults to decide
// when a schedule last ran, and appends to once a schedule's chunks
// all complete successfully. Grounded on pipeline.py's JobLog class
// (write, get_last_execution_date) for semantics, and on
// sqltracestore.go for the pgx-backed realization: each call formats
// its statement against the qualified table name and runs it on the
// pool.
package joblog

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"go.kpiflow.build/go/skerr"
	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/kpi/go/payload"
)

const defaultTableName = "job_log"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
	object_type  STRING(255) NOT NULL,
	object_name  STRING(255) NOT NULL,
	schedule     STRING(255) NOT NULL,
	last_update  TIMESTAMPTZ NOT NULL,
	trace        STRING(2000)
)`

const insertStatement = `
INSERT INTO %s (object_type, object_name, schedule, last_update, trace)
VALUES ($1, $2, $3, $4, $5)`

const lastExecutionStatement = `
SELECT max(last_update) FROM %s
WHERE object_type = $1 AND object_name = $2 AND schedule = $3`

// JobLog is the durable completion record for a single payload.
type JobLog struct {
	db         *pgxpool.Pool
	tableName  string
	objectType string

	qualifiedTable string
}

// New creates the job_log table if absent and returns a JobLog bound to
// the given payload's object type (its Go type name, standing in for
// the Python original's payload.__class__.__name__).
func New(ctx context.Context, db *pgxpool.Pool, schema, objectType string) (*JobLog, error) {
	if db == nil {
		return nil, skerr.Wrap(payload.ErrJobLogUnavailable)
	}
	qualified := defaultTableName
	if schema != "" {
		qualified = schema + "." + defaultTableName
	}
	jl := &JobLog{db: db, tableName: defaultTableName, objectType: objectType, qualifiedTable: qualified}
	if _, err := db.Exec(ctx, fmt.Sprintf(createTableStatement, qualified)); err != nil {
		return nil, skerr.Wrapf(err, "creating job log table %s", qualified)
	}
	return jl, nil
}

// Write appends a completion record. Per spec.md §5, the caller owns
// transaction boundaries for anything else sharing the connection;
// Write issues its own single-statement insert.
func (jl *JobLog) Write(ctx context.Context, name, schedule string, timestamp time.Time, trace string) error {
	op := func() error {
		_, err := jl.db.Exec(ctx, fmt.Sprintf(insertStatement, jl.qualifiedTable),
			jl.objectType, name, schedule, timestamp, nullableTrace(trace))
		return err
	}
	if err := backoff.Retry(op, transientBackOff()); err != nil {
		return skerr.Wrapf(err, "writing job log (%s,%s)", name, schedule)
	}
	sklog.Debugf("Completed execution. Wrote to job log (%s,%s): %s", name, schedule, timestamp)
	return nil
}

// GetLastExecutionDate returns the last recorded completion for name
// under schedule, or nil if none exists.
func (jl *JobLog) GetLastExecutionDate(ctx context.Context, name, schedule string) (*time.Time, error) {
	row := jl.db.QueryRow(ctx, fmt.Sprintf(lastExecutionStatement, jl.qualifiedTable), jl.objectType, name, schedule)
	var t *time.Time
	if err := row.Scan(&t); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, skerr.Wrapf(err, "reading last execution date for (%s,%s)", name, schedule)
	}
	return t, nil
}

func nullableTrace(trace string) interface{} {
	if trace == "" {
		return nil
	}
	return trace
}

func transientBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return b
}
