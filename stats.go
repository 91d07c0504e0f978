package pooldb

import (
	"time"

	"go.uber.org/atomic"
)

// Stats accumulates operation counters and timings of a Database. All
// times are stored as nanoseconds.
type Stats struct {
	Queries      *atomic.Int64
	Inserts      *atomic.Int64
	Updates      *atomic.Int64
	Deletes      *atomic.Int64
	Executes     *atomic.Int64
	Begins       *atomic.Int64
	Commits      *atomic.Int64
	Rollbacks    *atomic.Int64
	Failures     *atomic.Int64
	PoolTimeouts *atomic.Int64

	QueryTime *atomic.Int64 // *time.Duration
	ExecTime  *atomic.Int64 // *time.Duration
	WaitTime  *atomic.Int64 // *time.Duration
}

func newStats() *Stats {
	return &Stats{
		Queries:      atomic.NewInt64(0),
		Inserts:      atomic.NewInt64(0),
		Updates:      atomic.NewInt64(0),
		Deletes:      atomic.NewInt64(0),
		Executes:     atomic.NewInt64(0),
		Begins:       atomic.NewInt64(0),
		Commits:      atomic.NewInt64(0),
		Rollbacks:    atomic.NewInt64(0),
		Failures:     atomic.NewInt64(0),
		PoolTimeouts: atomic.NewInt64(0),
		QueryTime:    atomic.NewInt64(0),
		ExecTime:     atomic.NewInt64(0),
		WaitTime:     atomic.NewInt64(0),
	}
}

func accountTime(t *atomic.Int64, since time.Time) {
	t.Add(time.Since(since).Nanoseconds())
}

func (s *Stats) counter(kind statementKind) *atomic.Int64 {
	switch kind {
	case kindInsert:
		return s.Inserts
	case kindUpdate:
		return s.Updates
	case kindDelete:
		return s.Deletes
	default:
		return s.Executes
	}
}
