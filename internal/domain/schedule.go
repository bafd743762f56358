package domain

import (
	"fmt"
	"slices"
	"time"
)

const (
	// CycleInterval is the spacing between consecutive model runs.
	CycleInterval = 6 * time.Hour

	hourlyHorizon   = 120
	extendedHorizon = 384
	extendedStep    = 3

	// RequiredCount is the number of offsets in a complete run.
	RequiredCount = hourlyHorizon + 1 + (extendedHorizon-hourlyHorizon)/extendedStep

	runLayout = "2006010215"
)

// OffsetSet is a set of forecast offsets in hours.
type OffsetSet map[int]struct{}

// NewOffsetSet returns a set holding the given offsets.
func NewOffsetSet(offsets ...int) OffsetSet {
	s := make(OffsetSet, len(offsets))
	for _, o := range offsets {
		s[o] = struct{}{}
	}
	return s
}

func (s OffsetSet) Add(offset int)      { s[offset] = struct{}{} }
func (s OffsetSet) Has(offset int) bool { _, ok := s[offset]; return ok }
func (s OffsetSet) Len() int            { return len(s) }

// Sorted returns the offsets in ascending order.
func (s OffsetSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for o := range s {
		out = append(out, o)
	}
	slices.Sort(out)
	return out
}

// Min returns the lowest offset, or false for an empty set.
func (s OffsetSet) Min() (int, bool) {
	first := true
	lowest := 0
	for o := range s {
		if first || o < lowest {
			lowest = o
			first = false
		}
	}
	return lowest, !first
}

// Difference returns the offsets in s that are not in other.
func (s OffsetSet) Difference(other OffsetSet) OffsetSet {
	out := make(OffsetSet, len(s))
	for o := range s {
		if !other.Has(o) {
			out[o] = struct{}{}
		}
	}
	return out
}

// Required returns the offsets making up a complete run: every hour in
// [0,120] and every third hour in [123,384]. The result is a fresh set that
// callers may mutate.
func Required() OffsetSet {
	s := make(OffsetSet, RequiredCount)
	for o := 0; o <= hourlyHorizon; o++ {
		s[o] = struct{}{}
	}
	for o := hourlyHorizon + extendedStep; o <= extendedHorizon; o += extendedStep {
		s[o] = struct{}{}
	}
	return s
}

// RunSlot returns the 6-hour cycle boundary at or before t, in UTC.
func RunSlot(t time.Time) time.Time {
	return t.UTC().Truncate(CycleInterval)
}

// CandidateRuns returns the slot containing now followed by the n-1 slots
// before it, newest first.
func CandidateRuns(now time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	slot := RunSlot(now)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = slot.Add(-time.Duration(i) * CycleInterval)
	}
	return out
}

// ForecastTime returns run + offset hours.
func ForecastTime(run time.Time, offset int) time.Time {
	return run.UTC().Add(time.Duration(offset) * time.Hour)
}

// OffsetOf converts a forecast time back into whole hours after run.
// Forecast times before the run are rejected.
func OffsetOf(run, forecast time.Time) (int, bool) {
	d := forecast.Sub(run)
	if d < 0 {
		return 0, false
	}
	return int(d / time.Hour), true
}

// FormatRun renders a run time as YYYYMMDDHH.
func FormatRun(run time.Time) string {
	return run.UTC().Format(runLayout)
}

// ParseRun accepts YYYYMMDDHH or RFC 3339 and returns a slot-aligned UTC run time.
func ParseRun(s string) (time.Time, error) {
	t, err := time.Parse(runLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse run %q: expected YYYYMMDDHH or RFC3339", s)
		}
	}
	t = t.UTC()
	if !RunSlot(t).Equal(t) {
		return time.Time{}, fmt.Errorf("parse run %q: not aligned to a 6-hour cycle", s)
	}
	return t, nil
}
