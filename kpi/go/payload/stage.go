// Package payload defines the contracts the job controller consumes:
// the Stage interface (realized through capability checks rather than
// a class hierarchy, per the polymorphic-stages design note) and the
// Payload the controller is configured with. It also carries the
// shared error vocabulary every component returns.
package payload

import "time"

// StageType groups stages for phase resolution.
type StageType string

const (
	StageTypePreload         StageType = "preload"
	StageTypeGetData         StageType = "get_data"
	StageTypeTransform       StageType = "transform"
	StageTypeSimpleAggregate StageType = "simple_aggregate"
	StageTypeComplexAggregate StageType = "complex_aggregate"
	// StageTypeAggregator is the type of the single collapsed
	// aggregator stage the builder synthesizes per granularity; it
	// isn't one of the external stage types, so it has no pipeline.py
	// counterpart name.
	StageTypeAggregator StageType = "aggregator"
	// StageTypeWriter is the type of the synthesized Db2DataWriter
	// stage appended to every phase.
	StageTypeWriter StageType = "writer"
)

// Stage is the minimal contract every stage must satisfy. Additional
// behavior is discovered through the capability interfaces below via a
// type assertion, never through reflection or inheritance. Type and
// Granularity place the stage in the builder's
// `(stageType, granularity?) → sequence<Stage>` grouping; Granularity
// is "" for input-level stages.
type Stage interface {
	Name() string
	Type() StageType
	Granularity() string
	InputSet() map[string]struct{}
	OutputList() []string
}

// Scheduled is implemented by stages with an explicit schedule; stages
// that don't implement it get the payload's default schedule assigned
// the first time they're selected.
type Scheduled interface {
	Schedule() string
	SetSchedule(name string)
}

// EntityTypeConsumer is implemented by stages that need the payload's
// entity-type object attached once selected. The entity-type object
// itself is an external collaborator the core only threads through,
// never inspects.
type EntityTypeConsumer interface {
	SetEntityType(entityType interface{})
}

// DataSource is implemented by stages that retrieve rows from outside
// the running frame (spec.md's "get_data" stages). The builder hands
// the stage its projection list through SetProjection, trimmed to the
// transitively required set after the job spec is fully resolved; the
// controller passes nil for GetData's columns argument.
type DataSource interface {
	GetData(startTs, endTs time.Time, entities []string, columns []string) (interface{}, error)
	SetProjection(columns []string)
}

// Preload is implemented by stages whose output becomes a constant
// applied to every chunk of the run, rather than a merged column.
type Preload interface {
	IsPreload() bool
}

// CustomCalendar is implemented by a stage that the builder should
// attach to the payload as its calendar once resolved.
type CustomCalendar interface {
	IsCustomCalendar() bool
}

// SimpleAggregate is implemented by single-input, single-output
// aggregator stages collapsible into one grouped aggregation.
type SimpleAggregate interface {
	IsSimpleAggregate() bool
	AggFunction() string
}

// ComplexAggregate is implemented by aggregator stages with arbitrary
// input/output cardinality, applied individually per group.
type ComplexAggregate interface {
	IsComplexAggregate() bool
}

// AllowEmptyDf is implemented by stages that opt out of the default
// StageRunner guard which halts a chunk rather than invoke a stage
// against an empty frame.
type AllowEmptyDf interface {
	AllowEmptyDf() bool
}

// DiscardPriorOnMerge is implemented by stages whose output should
// replace rather than merge into the running frame.
type DiscardPriorOnMerge interface {
	DiscardPriorOnMerge() bool
}

// MetadataParams is implemented by stages that carry parameters the
// builder should copy onto the payload once the stage is selected.
type MetadataParams interface {
	MetadataParams() map[string]interface{}
}

// WindowedExecutor is the richer of the two execute signatures
// (spec.md §4.4): StageRunner always tries it first.
type WindowedExecutor interface {
	ExecuteWindowed(df interface{}, startTs, endTs time.Time) (interface{}, error)
}

// SimpleExecutor is the legacy single-argument execute signature,
// wrapped rather than discovered by reflection.
type SimpleExecutor interface {
	ExecuteSimple(df interface{}) (interface{}, error)
}
