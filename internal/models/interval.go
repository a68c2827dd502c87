package models

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports a.Start < b.End AND a.End > b.Start. The repository runs
// the same predicate in SQL. Back-to-back intervals do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}
