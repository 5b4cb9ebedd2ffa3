package payload

import "time"

// Backtrack is a tagged union over the three ways a schedule can
// control how far back data extraction reaches: a fixed duration, the
// literal "checkpoint" (extract from the last recorded completion),
// or none at all. Realized as an interface with a private marker
// method rather than a shared base type, per spec.md §9's guidance to
// avoid inheritance for polymorphic schedule/stage concepts.
type Backtrack interface {
	backtrack()
}

type BacktrackDuration time.Duration

func (BacktrackDuration) backtrack() {}

type BacktrackCheckpoint struct{}

func (BacktrackCheckpoint) backtrack() {}

type BacktrackNone struct{}

func (BacktrackNone) backtrack() {}

// Schedule is the (freq, roundHour?, roundMin?, backtrack) tuple from
// spec.md §3. Schedules are totally ordered by Freq; the shortest is
// the default.
type Schedule struct {
	Name      string
	Freq      time.Duration
	RoundHour *int
	RoundMin  *int
	Backtrack Backtrack
}
