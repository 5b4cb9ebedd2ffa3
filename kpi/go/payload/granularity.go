package payload

// Granularity groups aggregation: name identifies the phase, Grouper is
// the set of columns the frame is grouped by, and EntityID/Freq/
// Dimensions describe how the writer derives a table's index positions
// (spec.md §4.7).
type Granularity struct {
	Name       string
	Grouper    []string
	EntityID   string // empty if not set
	Freq       string // empty if not set
	Dimensions []string
}

// HasEntityID reports whether this granularity carries an entity id
// slot in its index.
func (g Granularity) HasEntityID() bool {
	return g.EntityID != ""
}

// HasFreq reports whether this granularity carries a time-bucket slot
// in its index.
func (g Granularity) HasFreq() bool {
	return g.Freq != ""
}

// ColumnType enumerates the typed-value columns the writer routes
// frame values into.
type ColumnType string

const (
	ColumnBoolean   ColumnType = "BOOLEAN"
	ColumnNumber    ColumnType = "NUMBER"
	ColumnLiteral   ColumnType = "LITERAL"
	ColumnTimestamp ColumnType = "TIMESTAMP"
	ColumnUnknown   ColumnType = ""
)

// DataItemMetadata describes one output column: its storage type,
// whether it's transient (computed but never persisted), and which
// table it belongs to.
type DataItemMetadata struct {
	ColumnType      ColumnType
	Transient       bool
	SourceTableName string
}
