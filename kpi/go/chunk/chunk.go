// Package chunk implements the Chunker: it splits a schedule's
// [startDate, endDate) extraction window into payload.ChunkSize-wide
// slices so the controller can process large backfills incrementally
// instead of loading one unbounded frame. Grounded on pipeline.py's
// get_chunks.
package chunk

import (
	"time"

	"go.kpiflow.build/kpi/go/schedule"
)

// Chunk is a single extraction window. Start is nil only for the
// degenerate single-chunk case where neither a start date nor an
// early timestamp is known — there is no lower bound to extract from.
type Chunk struct {
	Start *time.Time
	End   time.Time
}

// Params bundles the schedule-rounding and payload-callback inputs
// GetChunks needs, mirroring get_chunks's parameter list in
// pipeline.py rather than threading five separate arguments.
type Params struct {
	RoundHour *int
	RoundMin  *int
	Freq      time.Duration
	ChunkSize time.Duration

	GetEarlyTimestamp    func() (*time.Time, error)
	GetAdjustedStartDate func(time.Time) (time.Time, error)
}

const defaultChunkSize = 7 * 24 * time.Hour

// GetChunks computes the ordered chunk boundaries between startDate
// and endDate. If startDate is nil, p.GetEarlyTimestamp supplies a
// lower bound; if that is also nil (or unset), the whole window
// collapses to the single chunk (nil, endDate).
func GetChunks(p Params, startDate *time.Time, endDate time.Time) ([]Chunk, error) {
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	if startDate == nil && p.GetEarlyTimestamp != nil {
		early, err := p.GetEarlyTimestamp()
		if err != nil {
			return nil, err
		}
		startDate = early
	}
	if startDate == nil {
		return []Chunk{{Start: nil, End: endDate}}, nil
	}

	cs := *startDate
	if p.RoundHour != nil || p.RoundMin != nil {
		cs = schedule.AdjustToSchedule(cs, endDate, p.RoundHour, p.RoundMin, p.Freq)
	}
	cs, err := adjust(p, cs)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for {
		ce := cs.Add(chunkSize)
		if ce.After(endDate) {
			ce = endDate
		}
		start := cs
		chunks = append(chunks, Chunk{Start: &start, End: ce})
		if !ce.Before(endDate) {
			break
		}
		cs, err = adjust(p, ce.Add(time.Microsecond))
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func adjust(p Params, t time.Time) (time.Time, error) {
	if p.GetAdjustedStartDate == nil {
		return t, nil
	}
	return p.GetAdjustedStartDate(t)
}
