// Package jobspec builds a JobSpec from a payload's stage metadata: an
// ordered "input_level" phase followed by one phase per granularity,
// each resolved by repeatedly admitting stages whose inputs are
// already available (gatherAvailable), then trims every data source's
// projection to the columns actually required downstream. Grounded on
// pipeline.py's build_stages_of_type / gather_available_stages /
// trim_source.
package jobspec

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/kpi/go/aggregate"
	"go.kpiflow.build/kpi/go/dbwriter"
	"go.kpiflow.build/kpi/go/payload"
)

// maxResolutionPasses bounds gatherAvailable's fixed-point loop, per
// pipeline.py's recursion limit on gather_available_stages.
const maxResolutionPasses = 99

const inputLevelPhase = "input_level"

// InputLevelPhase names the phase kpi/go/controller must restart every
// granularity phase from (each granularity's merger starts over from
// the input-level frame, not the previous granularity's result).
const InputLevelPhase = inputLevelPhase

// JobSpec is the ordered mapping phase -> stages that the controller
// executes in sequence. Insertion order of phases and of stages within
// a phase is significant and preserved.
type JobSpec struct {
	phaseOrder []string
	stages     map[string][]payload.Stage
}

func newJobSpec() *JobSpec {
	return &JobSpec{stages: map[string][]payload.Stage{}}
}

func (js *JobSpec) appendStage(phase string, s payload.Stage) {
	if _, ok := js.stages[phase]; !ok {
		js.phaseOrder = append(js.phaseOrder, phase)
	}
	js.stages[phase] = append(js.stages[phase], s)
}

// Phases returns the phases in build order.
func (js *JobSpec) Phases() []string {
	return js.phaseOrder
}

// StagesIn returns the stages assigned to phase, in selection order.
func (js *JobSpec) StagesIn(phase string) []payload.Stage {
	return js.stages[phase]
}

// RemoveStage deletes a stage by name from every phase it appears in.
// Per spec.md §9's "assume remove-from-all" resolution of the
// ambiguous remove_stage scope in pipeline.py.
func (js *JobSpec) RemoveStage(name string) {
	for _, phase := range js.phaseOrder {
		kept := js.stages[phase][:0]
		for _, s := range js.stages[phase] {
			if s.Name() != name {
				kept = append(kept, s)
			}
		}
		js.stages[phase] = kept
	}
}

// buildMetadata is the builder's phase-local working state (spec.md §3
// BuildMetadata).
type buildMetadata struct {
	schedule  string
	subsumed  map[string]struct{}
	available map[string]struct{}
	// availableColums is the deliberately reproduced misspelling from
	// pipeline.py: populated alongside `available`, never read back by
	// anything. Kept to match the original's dead-key behavior exactly
	// rather than silently dropping it.
	availableColums      map[string]struct{}
	requiredInputs       map[string]struct{}
	dataSourceProjection map[string]map[string]struct{}
}

func newBuildMetadata(schedule string, subsumed map[string]struct{}) *buildMetadata {
	return &buildMetadata{
		schedule:             schedule,
		subsumed:             subsumed,
		available:            map[string]struct{}{},
		availableColums:      map[string]struct{}{},
		requiredInputs:       map[string]struct{}{},
		dataSourceProjection: map[string]map[string]struct{}{},
	}
}

func (bm *buildMetadata) scheduleAdmitted(name string) bool {
	return ScheduleAdmitted(name, bm.schedule, bm.subsumed)
}

// ScheduleAdmitted reports whether a stage's effective schedule name
// should run on this tick: either it matches the schedule currently
// being built, or it was folded in by progressive subsumption. Exported
// for kpi/go/controller, which applies the identical admission check to
// preload stages before jobspec.Build ever sees them (preload stages
// aren't part of any phase jobspec.Build resolves).
func ScheduleAdmitted(effective, scheduleName string, subsumed map[string]struct{}) bool {
	if effective == scheduleName {
		return true
	}
	_, ok := subsumed[effective]
	return ok
}

func (bm *buildMetadata) subsetOfAvailable(inputSet map[string]struct{}) bool {
	for col := range inputSet {
		if _, ok := bm.available[col]; !ok {
			return false
		}
	}
	return true
}

func (bm *buildMetadata) record(s payload.Stage) {
	for _, out := range s.OutputList() {
		bm.available[out] = struct{}{}
	}
	for in := range s.InputSet() {
		bm.requiredInputs[in] = struct{}{}
	}
}

// Build resolves the full JobSpec for one schedule evaluation: an
// input-level phase over get_data/transform stages, followed by one
// phase per granularity collapsing simple aggregates and resolving
// that granularity's transforms. orderCache, if non-nil, is checked
// first: a hit for (payload name, schedule) returns the previously
// resolved JobSpec directly, skipping gatherAvailable's fixed-point
// passes and projection trimming entirely, since rebuilding them on
// every tick against an unchanged stage set is wasted work.
func Build(p *payload.Payload, scheduleName string, subsumed map[string]struct{}, orderCache *lru.Cache) (*JobSpec, error) {
	key := cacheKey(p.Name, scheduleName)
	if orderCache != nil {
		if cached, ok := orderCache.Get(key); ok {
			if js, ok := cached.(*JobSpec); ok {
				return js, nil
			}
		}
	}

	js := newJobSpec()
	bm := newBuildMetadata(scheduleName, subsumed)

	inputLevelCandidates := stagesOfTypes(p.Stages, "", payload.StageTypeGetData, payload.StageTypeTransform)
	gatherAvailable(inputLevelCandidates, inputLevelPhase, bm, js, p)

	writer, err := newWriterStage(p, inputLevelPhase, payload.Granularity{})
	if err != nil {
		return nil, err
	}
	js.appendStage(inputLevelPhase, writer)

	inputLevelOutputs := map[string]struct{}{}
	for col := range bm.available {
		inputLevelOutputs[col] = struct{}{}
	}

	for _, gran := range sortedGranularityNames(p.Granularities) {
		granularity := p.Granularities[gran]
		gbm := newBuildMetadata(scheduleName, subsumed)
		for col := range inputLevelOutputs {
			gbm.available[col] = struct{}{}
		}

		aggCandidates := stagesOfTypes(p.Stages, gran, payload.StageTypeSimpleAggregate, payload.StageTypeComplexAggregate)
		if len(aggCandidates) > 0 {
			aggStage, err := aggregate.Collapse(gran+"_aggregate", granularity, aggCandidates)
			if err != nil {
				return nil, err
			}
			js.appendStage(gran, aggStage)
			gbm.record(aggStage)
		}

		transformCandidates := stagesOfTypes(p.Stages, gran, payload.StageTypeTransform)
		gatherAvailable(transformCandidates, gran, gbm, js, p)
		for in := range gbm.requiredInputs {
			bm.requiredInputs[in] = struct{}{}
		}

		granWriter, err := newWriterStage(p, gran, granularity)
		if err != nil {
			return nil, err
		}
		js.appendStage(gran, granWriter)
	}

	trimProjections(js, bm, p.MandatoryColumns)
	if orderCache != nil {
		orderCache.Add(key, js)
	}
	return js, nil
}

// newWriterStage builds the Db2DataWriter appended to the end of every
// phase (spec.md §4.2 step 4), bound to this granularity's dimension
// columns and the payload's full data item metadata.
func newWriterStage(p *payload.Payload, phase string, granularity payload.Granularity) (payload.Stage, error) {
	w, err := dbwriter.New(p.DB, p.Schema, granularity, p.DataItems)
	if err != nil {
		return nil, fmt.Errorf("building writer for phase %s: %w", phase, err)
	}
	return dbwriter.NewStage(phase+"_writer", w, granularity.Name), nil
}

// gatherAvailable repeatedly admits stages from candidates whose
// schedule is current-or-subsumed and whose InputSet is already a
// subset of bm.available, until a pass admits nothing new or
// maxResolutionPasses is reached.
func gatherAvailable(candidates []payload.Stage, phase string, bm *buildMetadata, js *JobSpec, p *payload.Payload) {
	selected := map[string]bool{}
	for pass := 0; pass < maxResolutionPasses; pass++ {
		addedThisPass := false
		for _, s := range candidates {
			if selected[s.Name()] {
				continue
			}
			effective := EffectiveSchedule(s, p)
			if !bm.scheduleAdmitted(effective) {
				continue
			}
			if !bm.subsetOfAvailable(s.InputSet()) {
				continue
			}

			applySelection(s, effective, bm, js, phase, p)
			selected[s.Name()] = true
			addedThisPass = true
		}
		if !addedThisPass {
			return
		}
	}
	sklog.Warningf("Stage resolution for phase %s hit the %d-pass limit; some stages may remain unresolved.", phase, maxResolutionPasses)
}

func applySelection(s payload.Stage, effective string, bm *buildMetadata, js *JobSpec, phase string, p *payload.Payload) {
	if consumer, ok := s.(payload.EntityTypeConsumer); ok && p.EntityType != nil {
		consumer.SetEntityType(p.EntityType)
	}
	if sched, ok := s.(payload.Scheduled); ok && sched.Schedule() == "" {
		sched.SetSchedule(effective)
	}

	bm.record(s)
	for col := range s.InputSet() {
		bm.availableColums[col] = struct{}{}
	}

	if ds, ok := s.(payload.DataSource); ok {
		outputs := map[string]struct{}{}
		for _, out := range s.OutputList() {
			outputs[out] = struct{}{}
		}
		bm.dataSourceProjection[s.Name()] = outputs
		_ = ds
	}
	if cal, ok := s.(payload.CustomCalendar); ok && cal.IsCustomCalendar() {
		p.Calendar = s
	}
	if mp, ok := s.(payload.MetadataParams); ok {
		if p.Metadata == nil {
			p.Metadata = map[string]interface{}{}
		}
		for k, v := range mp.MetadataParams() {
			p.Metadata[k] = v
		}
	}

	js.appendStage(phase, s)
}

// EffectiveSchedule returns the schedule name a stage runs under: its
// own Schedule() if it implements Scheduled and declares one,
// otherwise the payload's default schedule. Exported for
// kpi/go/controller's preload-stage admission check.
func EffectiveSchedule(s payload.Stage, p *payload.Payload) string {
	if sched, ok := s.(payload.Scheduled); ok && sched.Schedule() != "" {
		return sched.Schedule()
	}
	return DefaultScheduleName(p)
}

// DefaultScheduleName returns the schedule with the shortest Freq,
// breaking ties by name, per spec.md §3 ("Schedules are totally
// ordered by duration; the shortest is the default.").
func DefaultScheduleName(p *payload.Payload) string {
	names := make([]string, 0, len(p.Schedules))
	for name := range p.Schedules {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := p.Schedules[names[i]], p.Schedules[names[j]]
		if si.Freq != sj.Freq {
			return si.Freq < sj.Freq
		}
		return names[i] < names[j]
	})
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func stagesOfTypes(stages []payload.Stage, granularity string, types ...payload.StageType) []payload.Stage {
	wanted := map[payload.StageType]struct{}{}
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	var out []payload.Stage
	for _, s := range stages {
		if s.Granularity() != granularity {
			continue
		}
		if _, ok := wanted[s.Type()]; ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedGranularityNames(grans map[string]payload.Granularity) []string {
	names := make([]string, 0, len(grans))
	for name := range grans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// trimProjections implements spec.md §4.2's "Projection trimming":
// for each recorded data source, needed = (requiredInputs ∪
// mandatoryColumns) ∩ stage.outputs. An empty intersection drops the
// stage entirely; a proper subset narrows its projection.
func trimProjections(js *JobSpec, bm *buildMetadata, mandatoryColumns map[string]struct{}) {
	for stageName, outputs := range bm.dataSourceProjection {
		var needed []string
		for out := range outputs {
			_, required := bm.requiredInputs[out]
			_, mandatory := mandatoryColumns[out]
			if required || mandatory {
				needed = append(needed, out)
			}
		}
		if len(needed) == 0 {
			js.RemoveStage(stageName)
			continue
		}
		if len(needed) < len(outputs) {
			applyProjection(js, stageName, needed)
		}
	}
}

func applyProjection(js *JobSpec, stageName string, needed []string) {
	for _, phase := range js.phaseOrder {
		for _, s := range js.stages[phase] {
			if s.Name() != stageName {
				continue
			}
			if ds, ok := s.(payload.DataSource); ok {
				ds.SetProjection(needed)
			}
		}
	}
}

func cacheKey(payloadName, scheduleName string) string {
	return payloadName + "\x1f" + scheduleName
}
