package payload

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Payload is the externally supplied configuration-and-stage bundle the
// controller drives (spec.md §6 "Payload contract"). Method values are
// all optional; a nil func field means "use the default" at the call
// site, mirroring the Python original's getattr-with-default access
// pattern without resorting to reflection.
type Payload struct {
	Name    string
	DB      *pgxpool.Pool
	Schema  string
	Context context.Context

	// EntityType is the external entity-type collaborator threaded
	// through to stages implementing EntityTypeConsumer; the core
	// never inspects it.
	EntityType interface{}

	Stages           []Stage
	Schedules        map[string]Schedule
	DataItems        map[string]DataItemMetadata
	Granularities    map[string]Granularity
	MandatoryColumns map[string]struct{}

	IsScheduleProgressive bool
	ChunkSize             time.Duration

	// Calendar, set by the builder if a stage implements CustomCalendar.
	Calendar Stage

	// Metadata accumulates entries copied in from stages implementing
	// MetadataParams as the builder selects them.
	Metadata map[string]interface{}

	GetEarlyTimestamp    func() (*time.Time, error)
	GetAdjustedStartDate func(start time.Time) (time.Time, error)
	GetEntityFilter      func() []string
	GetStartTsOverride   func() *time.Time
	GetEndTsOverride     func() *time.Time
}

// AdjustedStartDate applies GetAdjustedStartDate if the payload
// supplies one, otherwise returns start unchanged.
func (p *Payload) AdjustedStartDate(start time.Time) (time.Time, error) {
	if p.GetAdjustedStartDate == nil {
		return start, nil
	}
	return p.GetAdjustedStartDate(start)
}

// EarlyTimestamp applies GetEarlyTimestamp if the payload supplies one,
// otherwise reports "no early timestamp known".
func (p *Payload) EarlyTimestamp() (*time.Time, error) {
	if p.GetEarlyTimestamp == nil {
		return nil, nil
	}
	return p.GetEarlyTimestamp()
}
