package jobspec

import (
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.kpiflow.build/go/testutils"
	"go.kpiflow.build/kpi/go/payload"
)

type fakeDataSource struct {
	name       string
	granular   string
	outputs    []string
	projection []string
}

func (s *fakeDataSource) Name() string                  { return s.name }
func (s *fakeDataSource) Type() payload.StageType       { return payload.StageTypeGetData }
func (s *fakeDataSource) Granularity() string           { return s.granular }
func (s *fakeDataSource) InputSet() map[string]struct{} { return map[string]struct{}{} }
func (s *fakeDataSource) OutputList() []string          { return s.outputs }
func (s *fakeDataSource) GetData(_, _ time.Time, _ []string, _ []string) (interface{}, error) {
	return nil, nil
}
func (s *fakeDataSource) SetProjection(columns []string) { s.projection = columns }

type fakeTransform struct {
	name     string
	granular string
	inputs   []string
	outputs  []string
}

func (s *fakeTransform) Name() string            { return s.name }
func (s *fakeTransform) Type() payload.StageType { return payload.StageTypeTransform }
func (s *fakeTransform) Granularity() string     { return s.granular }
func (s *fakeTransform) InputSet() map[string]struct{} {
	out := map[string]struct{}{}
	for _, in := range s.inputs {
		out[in] = struct{}{}
	}
	return out
}
func (s *fakeTransform) OutputList() []string { return s.outputs }

type fakeAggregator struct {
	name     string
	granular string
	in       string
	out      string
}

func (s *fakeAggregator) Name() string                  { return s.name }
func (s *fakeAggregator) Type() payload.StageType       { return payload.StageTypeSimpleAggregate }
func (s *fakeAggregator) Granularity() string           { return s.granular }
func (s *fakeAggregator) InputSet() map[string]struct{} { return map[string]struct{}{s.in: {}} }
func (s *fakeAggregator) OutputList() []string          { return []string{s.out} }
func (s *fakeAggregator) IsSimpleAggregate() bool       { return true }
func (s *fakeAggregator) AggFunction() string           { return "sum" }

func basePayload() *payload.Payload {
	return &payload.Payload{
		Name:   "revenue_kpi",
		Schema: "kpi",
		Schedules: map[string]payload.Schedule{
			"main": {Name: "main", Freq: 5 * time.Minute},
		},
		DataItems: map[string]payload.DataItemMetadata{},
		Granularities: map[string]payload.Granularity{
			"daily": {Name: "daily", Grouper: []string{"entity"}},
		},
	}
}

func stageNames(stages []payload.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}

func TestBuild_ResolvesInputLevelAndGranularityPhases(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	raw := &fakeDataSource{name: "raw", outputs: []string{"a", "b"}}
	transform := &fakeTransform{name: "derive_c", inputs: []string{"a"}, outputs: []string{"c"}}
	agg := &fakeAggregator{name: "sum_c", granular: "daily", in: "c", out: "total"}
	p.Stages = []payload.Stage{raw, transform, agg}

	js, err := Build(p, "main", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"input_level", "daily"}, js.Phases())
	assert.Equal(t, []string{"raw", "derive_c", "input_level_writer"}, stageNames(js.StagesIn("input_level")))
	assert.Equal(t, []string{"daily_aggregate", "daily_writer"}, stageNames(js.StagesIn("daily")))
}

func TestBuild_TrimsProjectionToRequiredColumns(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	raw := &fakeDataSource{name: "raw", outputs: []string{"a", "b"}}
	transform := &fakeTransform{name: "derive_c", inputs: []string{"a"}, outputs: []string{"c"}}
	p.Stages = []payload.Stage{raw, transform}

	_, err := Build(p, "main", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, raw.projection)
}

func TestBuild_MandatoryColumnsSurviveTrimming(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	p.MandatoryColumns = map[string]struct{}{"b": {}}
	raw := &fakeDataSource{name: "raw", outputs: []string{"a", "b"}}
	transform := &fakeTransform{name: "derive_c", inputs: []string{"a"}, outputs: []string{"c"}}
	p.Stages = []payload.Stage{raw, transform}

	_, err := Build(p, "main", nil, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, raw.projection)
}

func TestBuild_RemovesDataSourceWithNoConsumers(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	unused := &fakeDataSource{name: "unused", outputs: []string{"z"}}
	p.Stages = []payload.Stage{unused}

	js, err := Build(p, "main", nil, nil)
	require.NoError(t, err)

	assert.NotContains(t, stageNames(js.StagesIn("input_level")), "unused")
}

func TestBuild_CachesResolvedStageOrder(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	raw := &fakeDataSource{name: "raw", outputs: []string{"a"}}
	p.Stages = []payload.Stage{raw}
	cache, err := lru.New(8)
	require.NoError(t, err)

	_, err = Build(p, "main", nil, cache)
	require.NoError(t, err)

	v, ok := cache.Get(cacheKey(p.Name, "main"))
	require.True(t, ok)
	js := v.(*JobSpec)
	assert.Contains(t, stageNames(js.StagesIn("input_level")), "raw")
}

func TestBuild_CacheHitSkipsResolutionEntirely(t *testing.T) {
	testutils.SmallTest(t)

	p := basePayload()
	raw := &fakeDataSource{name: "raw", outputs: []string{"a"}}
	p.Stages = []payload.Stage{raw}
	cache, err := lru.New(8)
	require.NoError(t, err)

	first, err := Build(p, "main", nil, cache)
	require.NoError(t, err)

	// Mutating the stage set after the first build must not change a
	// cache hit's result: a genuine cache hit never re-runs resolution.
	extra := &fakeDataSource{name: "extra", outputs: []string{"z"}}
	p.Stages = append(p.Stages, extra)

	second, err := Build(p, "main", nil, cache)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NotContains(t, stageNames(second.StagesIn("input_level")), "extra")
}

func TestRemoveStage_DropsFromEveryPhase(t *testing.T) {
	testutils.SmallTest(t)

	js := newJobSpec()
	js.appendStage("p1", &fakeDataSource{name: "x"})
	js.appendStage("p2", &fakeDataSource{name: "x"})
	js.RemoveStage("x")

	assert.Empty(t, js.StagesIn("p1"))
	assert.Empty(t, js.StagesIn("p2"))
}
