// Package dbwriter implements the Db2DataWriter: it inspects a frame's
// columns against each output item's declared metadata, groups columns
// by destination table, deletes the target time window, and
// bulk-inserts typed rows into a narrow KEY/dimensions/4-typed-value
// schema. Grounded structurally on sqltracestore.go's template-driven
// batched-write style (parse once, render per batch, util.ChunkIter
// for batching) in place of the original's ibm_db.execute_many.
package dbwriter

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"go.kpiflow.build/go/metrics2"
	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/go/util"
	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

// writeBatchSize is the per-table flush size (spec.md §4.7 "flush at
// 5000 rows"), distinct from sqltracestore.go's 100-row
// writeTracesChunkSize — the KPI value schema is much narrower per row.
const writeBatchSize = 5000

type valueRow struct {
	Key      string
	Dims     []string // pre-rendered SQL literals, in table dimension order
	ValueB   *float64
	ValueN   *float64
	ValueS   *string
	ValueT   *time.Time
}

type tableSpec struct {
	name       string
	dimColumns []string
	insertTmpl *template.Template
}

// Writer writes one granularity's derived output items to their
// declared destination tables.
type Writer struct {
	db          *pgxpool.Pool
	schema      string
	granularity payload.Granularity
	items       map[string]payload.DataItemMetadata
	tables      map[string]*tableSpec

	rowsWritten  metrics2.Counter
	writeErrors  metrics2.Counter
	writeLatency metrics2.Float64SummaryMetric
}

// New constructs a Writer bound to db/schema for one granularity's
// output items. Per-table insert templates are parsed once here, not
// per call, mirroring sqltracestore.go's New parsing
// unpreparedStatements up front. Metric fields are populated here and
// touched on the write hot path, the same struct-field style
// sqltracestore.go uses for its own go/metrics2 counters.
func New(db *pgxpool.Pool, schema string, granularity payload.Granularity, items map[string]payload.DataItemMetadata) (*Writer, error) {
	w := &Writer{
		db: db, schema: schema, granularity: granularity, items: items, tables: map[string]*tableSpec{},
		rowsWritten:  metrics2.GetCounter("kpiflow_dbwriter_rows_written"),
		writeErrors:  metrics2.GetCounter("kpiflow_dbwriter_write_errors"),
		writeLatency: metrics2.GetFloat64SummaryMetric("kpiflow_dbwriter_write_duration_s"),
	}

	byTable := map[string][]string{}
	for item, meta := range items {
		if meta.Transient || meta.SourceTableName == "" {
			continue
		}
		byTable[meta.SourceTableName] = append(byTable[meta.SourceTableName], item)
	}
	for tableName := range byTable {
		dims := dimensionColumns(granularity)
		tmpl, err := template.New(tableName).Funcs(insertFuncs).Parse(insertTemplateText(schema, tableName, dims))
		if err != nil {
			return nil, fmt.Errorf("parsing insert template for table %s: %w", tableName, err)
		}
		w.tables[tableName] = &tableSpec{name: tableName, dimColumns: dims, insertTmpl: tmpl}
	}
	return w, nil
}

// dimensionColumns names the table's dimension columns in declared
// order: an entity id slot if the granularity carries one, a time
// bucket slot if it carries a freq, then its declared Dimensions.
func dimensionColumns(g payload.Granularity) []string {
	var dims []string
	if g.HasEntityID() {
		dims = append(dims, "ENTITY_ID")
	}
	if g.HasFreq() {
		dims = append(dims, "TIMESTAMP")
	}
	dims = append(dims, g.Dimensions...)
	return dims
}

// indexPositions computes which positions of a frame's index tuple
// supply this granularity's dimension columns (spec.md §4.7):
//   - a single-part index needs no repositioning (nil: the lone index
//     value is used as-is)
//   - "no grain" (an empty granularity, e.g. the input-level writer)
//     assumes the conventional (entityId, timestamp) pair at [0, 1]
//   - a granularity with an entity id and/or freq claims the leading
//     slots in that order, then its declared Dimensions occupy the
//     remaining slots in declared order
func indexPositions(g payload.Granularity, indexLen int) []int {
	if indexLen <= 1 {
		return nil
	}
	if !g.HasEntityID() && !g.HasFreq() && len(g.Dimensions) == 0 {
		return []int{0, 1}
	}
	var positions []int
	next := 0
	if g.HasEntityID() {
		positions = append(positions, next)
		next++
	}
	if g.HasFreq() {
		positions = append(positions, next)
		next++
	}
	for range g.Dimensions {
		positions = append(positions, next)
		next++
	}
	return positions
}

// Write deletes [startTs, endTs) from every table touched by frame's
// columns, then bulk-inserts the frame's non-null cells, all inside
// one crdb.ExecuteTx per table so a transaction retry can't
// double-delete or double-insert.
func (w *Writer) Write(ctx context.Context, frame *table.Frame, startTs, endTs time.Time) error {
	rowsByTable := map[string][]valueRow{}
	positions := indexPositions(w.granularity, len(frame.IndexNames))

	for _, col := range frame.ColumnNames() {
		meta, ok := w.items[col]
		if !ok {
			sklog.Warningf("No data item metadata for column %q; skipping.", col)
			continue
		}
		if meta.Transient {
			continue
		}
		if meta.SourceTableName == "" {
			sklog.Warningf("Column %q has no source table; skipping.", col)
			continue
		}
		columnType := meta.ColumnType
		if columnType == payload.ColumnUnknown {
			sklog.Warningf("Column %q has an unknown column type; coercing to LITERAL.", col)
			columnType = payload.ColumnLiteral
		}

		if _, ok := w.tables[meta.SourceTableName]; !ok {
			sklog.Warningf("No insert template registered for table %q; skipping column %q.", meta.SourceTableName, col)
			continue
		}
		c := frame.Columns[col]
		for row := 0; row < frame.NumRows(); row++ {
			v := c.At(row)
			if v == nil {
				continue
			}
			r := valueRow{Key: col, Dims: dimLiterals(frame, row, positions)}
			if !applyTypedValue(&r, columnType, v) {
				continue
			}
			rowsByTable[meta.SourceTableName] = append(rowsByTable[meta.SourceTableName], r)
		}
	}

	for tableName, rows := range rowsByTable {
		if err := w.writeTable(ctx, tableName, rows, startTs, endTs); err != nil {
			return &payload.WriteFailedError{Table: tableName, Cause: err}
		}
	}
	return nil
}

func applyTypedValue(r *valueRow, columnType payload.ColumnType, v interface{}) bool {
	switch columnType {
	case payload.ColumnBoolean:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		n := 0.0
		if b {
			n = 1.0
		}
		r.ValueB = &n
	case payload.ColumnNumber:
		n := toFloat64(v)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return false
		}
		r.ValueN = &n
	case payload.ColumnTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return false
		}
		r.ValueT = &t
	default:
		s := fmt.Sprintf("%v", v)
		r.ValueS = &s
	}
	return true
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return math.NaN()
}

func dimLiterals(f *table.Frame, row int, positions []int) []string {
	key := f.Index[row]
	if positions == nil {
		if len(key) == 0 {
			return nil
		}
		return []string{sqlLiteral(key[0])}
	}
	out := make([]string, len(positions))
	for i, pos := range positions {
		if pos < len(key) {
			out[i] = sqlLiteral(key[pos])
		} else {
			out[i] = "NULL"
		}
	}
	return out
}

func (w *Writer) writeTable(ctx context.Context, tableName string, rows []valueRow, startTs, endTs time.Time) error {
	tspec, ok := w.tables[tableName]
	if !ok {
		w.writeErrors.Inc()
		return fmt.Errorf("no insert template registered for table %s", tableName)
	}
	qualified := qualifiedTableName(w.schema, tableName)
	timer := metrics2.NewTimerFrom(w.writeLatency)
	defer timer.Stop()

	err := crdb.ExecuteTx(ctx, w.db, nil, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(deleteStatement, qualified), startTs, endTs); err != nil {
			return fmt.Errorf("deleting window from %s: %w", qualified, err)
		}
		return util.ChunkIter(len(rows), writeBatchSize, func(startIdx, endIdx int) error {
			var b bytes.Buffer
			if err := tspec.insertTmpl.Execute(&b, rows[startIdx:endIdx]); err != nil {
				return fmt.Errorf("rendering insert for %s: %w", qualified, err)
			}
			tag, err := tx.Exec(ctx, b.String())
			if err != nil {
				return fmt.Errorf("inserting into %s: %w", qualified, err)
			}
			if int(tag.RowsAffected()) != endIdx-startIdx {
				sklog.Warningf("Wrote %d rows to %s but expected %d.", tag.RowsAffected(), qualified, endIdx-startIdx)
			}
			w.rowsWritten.IncBy(int64(tag.RowsAffected()))
			return nil
		})
	})
	if err != nil {
		w.writeErrors.Inc()
	}
	return err
}

func qualifiedTableName(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

const deleteStatement = `DELETE FROM %s WHERE "TIMESTAMP" >= $1 AND "TIMESTAMP" < $2`

// insertTemplateText builds the per-table insert template text. Values
// are rendered as literal SQL (matching sqltracestore.go's own
// template style) rather than bound parameters, since a batch's row
// count varies per call; sqlLiteral quotes every string-shaped value.
func insertTemplateText(schema, tableName string, dims []string) string {
	qualified := qualifiedTableName(schema, tableName)
	var cols strings.Builder
	for _, d := range dims {
		cols.WriteString(", ")
		cols.WriteString(d)
	}
	return `INSERT INTO ` + qualified + ` (KEY` + cols.String() + `, VALUE_B, VALUE_N, VALUE_S, VALUE_T, LAST_UPDATE)
VALUES
{{ range $index, $r := . -}}
	{{ if $index }},{{ end }}
	( '{{ $r.Key }}'{{ range $r.Dims }}, {{ . }}{{ end }}, {{ numOrNull $r.ValueB }}, {{ numOrNull $r.ValueN }}, {{ strOrNull $r.ValueS }}, {{ tsOrNull $r.ValueT }}, CURRENT_TIMESTAMP )
{{ end -}}
`
}

func sqlLiteral(v interface{}) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Stage adapts a Writer into a payload.Stage so the builder can append
// it to a JobSpec phase like any other stage (spec.md §4.2 step 3/4:
// "append a writer stage"). It writes as a side effect and returns the
// frame unchanged, so merging its "output" back in is a no-op.
type Stage struct {
	name   string
	writer *Writer
	gran   string
	inputs map[string]struct{}
}

// NewStage builds the writer stage for one phase (the empty string for
// the input-level phase, or a granularity name).
func NewStage(name string, writer *Writer, granularity string) *Stage {
	inputs := map[string]struct{}{}
	for item := range writer.items {
		inputs[item] = struct{}{}
	}
	return &Stage{name: name, writer: writer, gran: granularity, inputs: inputs}
}

func (s *Stage) Name() string                  { return s.name }
func (s *Stage) Type() payload.StageType       { return payload.StageTypeWriter }
func (s *Stage) Granularity() string           { return s.gran }
func (s *Stage) InputSet() map[string]struct{} { return s.inputs }
func (s *Stage) OutputList() []string          { return nil }

// ExecuteWindowed writes the frame's current contents for [startTs,
// endTs) and returns it unchanged. The WindowedExecutor contract
// carries no context.Context, so cancellation of an in-flight write
// relies on statement_timeout at the driver/server level rather than
// ctx propagation.
func (s *Stage) ExecuteWindowed(df interface{}, startTs, endTs time.Time) (interface{}, error) {
	frame, ok := df.(*table.Frame)
	if !ok || frame == nil {
		return df, nil
	}
	if err := s.writer.Write(context.Background(), frame, startTs, endTs); err != nil {
		return nil, err
	}
	return frame, nil
}

// AllowEmptyDf lets the writer run (and no-op) even when the chunk's
// frame is empty, rather than halting the chunk.
func (s *Stage) AllowEmptyDf() bool { return true }

var insertFuncs = template.FuncMap{
	"numOrNull": func(v *float64) string {
		if v == nil {
			return "NULL"
		}
		return fmt.Sprintf("%v", *v)
	},
	"strOrNull": func(v *string) string {
		if v == nil {
			return "NULL"
		}
		return "'" + strings.ReplaceAll(*v, "'", "''") + "'"
	},
	"tsOrNull": func(v *time.Time) string {
		if v == nil {
			return "NULL"
		}
		return "'" + v.UTC().Format(time.RFC3339Nano) + "'"
	},
}
