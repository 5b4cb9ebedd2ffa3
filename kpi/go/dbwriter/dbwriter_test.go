package dbwriter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.kpiflow.build/go/testutils"
	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

func TestDimensionColumns(t *testing.T) {
	testutils.SmallTest(t)

	g := payload.Granularity{EntityID: "entity", Freq: "1d", Dimensions: []string{"region", "product"}}
	assert.Equal(t, []string{"ENTITY_ID", "TIMESTAMP", "region", "product"}, dimensionColumns(g))

	none := payload.Granularity{Dimensions: []string{"region"}}
	assert.Equal(t, []string{"region"}, dimensionColumns(none))
}

func TestIndexPositions(t *testing.T) {
	testutils.SmallTest(t)

	assert.Nil(t, indexPositions(payload.Granularity{}, 1))
	assert.Equal(t, []int{0, 1}, indexPositions(payload.Granularity{}, 2))

	g := payload.Granularity{EntityID: "entity", Freq: "1d", Dimensions: []string{"region"}}
	assert.Equal(t, []int{0, 1, 2}, indexPositions(g, 3))

	entityOnly := payload.Granularity{EntityID: "entity"}
	assert.Equal(t, []int{0}, indexPositions(entityOnly, 2))
}

func TestApplyTypedValue(t *testing.T) {
	testutils.SmallTest(t)

	var r valueRow
	require.True(t, applyTypedValue(&r, payload.ColumnBoolean, true))
	require.NotNil(t, r.ValueB)
	assert.Equal(t, 1.0, *r.ValueB)

	r = valueRow{}
	require.True(t, applyTypedValue(&r, payload.ColumnNumber, 3))
	require.NotNil(t, r.ValueN)
	assert.Equal(t, 3.0, *r.ValueN)

	r = valueRow{}
	assert.False(t, applyTypedValue(&r, payload.ColumnNumber, "not-a-number"))

	r = valueRow{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, applyTypedValue(&r, payload.ColumnTimestamp, now))
	require.NotNil(t, r.ValueT)
	assert.Equal(t, now, *r.ValueT)

	r = valueRow{}
	require.True(t, applyTypedValue(&r, payload.ColumnLiteral, "hello"))
	require.NotNil(t, r.ValueS)
	assert.Equal(t, "hello", *r.ValueS)
}

func TestSqlLiteral(t *testing.T) {
	testutils.SmallTest(t)

	assert.Equal(t, "'it''s'", sqlLiteral("it's"))
	assert.Equal(t, "1", sqlLiteral(true))
	assert.Equal(t, "0", sqlLiteral(false))
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "'"+ts.Format(time.RFC3339Nano)+"'", sqlLiteral(ts))
}

func TestNew_GroupsItemsByTableAndSkipsTransient(t *testing.T) {
	testutils.SmallTest(t)

	items := map[string]payload.DataItemMetadata{
		"revenue": {ColumnType: payload.ColumnNumber, SourceTableName: "kpi_values"},
		"count":   {ColumnType: payload.ColumnNumber, SourceTableName: "kpi_values"},
		"scratch": {ColumnType: payload.ColumnNumber, Transient: true, SourceTableName: "kpi_values"},
		"orphan":  {ColumnType: payload.ColumnNumber},
	}
	w, err := New(nil, "kpi", payload.Granularity{Name: "daily", EntityID: "entity", Freq: "1d"}, items)
	require.NoError(t, err)
	require.Contains(t, w.tables, "kpi_values")
	assert.Equal(t, []string{"ENTITY_ID", "TIMESTAMP"}, w.tables["kpi_values"].dimColumns)
}

func TestWriter_DimLiterals(t *testing.T) {
	testutils.SmallTest(t)

	f := table.New([]string{"entity", "ts"})
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.Index = []table.Key{{"e1", ts}}

	positions := indexPositions(payload.Granularity{EntityID: "entity", Freq: "1d"}, 2)
	lits := dimLiterals(f, 0, positions)
	require.Len(t, lits, 2)
	assert.Equal(t, "'e1'", lits[0])
	assert.Equal(t, "'"+ts.Format(time.RFC3339Nano)+"'", lits[1])
}

func TestInsertTemplateText_RendersRows(t *testing.T) {
	testutils.SmallTest(t)

	w, err := New(nil, "", payload.Granularity{EntityID: "entity"}, map[string]payload.DataItemMetadata{
		"revenue": {ColumnType: payload.ColumnNumber, SourceTableName: "kpi_values"},
	})
	require.NoError(t, err)

	n := 42.0
	rows := []valueRow{{Key: "revenue", Dims: []string{"'e1'"}, ValueN: &n}}
	tmpl := w.tables["kpi_values"].insertTmpl
	require.NotNil(t, tmpl)
	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, rows))
	assert.Contains(t, buf.String(), "'revenue'")
	assert.Contains(t, buf.String(), "'e1'")
	assert.Contains(t, buf.String(), "42")
	assert.Contains(t, buf.String(), "NULL")
}
