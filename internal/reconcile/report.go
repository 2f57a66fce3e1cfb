package reconcile

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// RowFailure captures one bad row. A failed row is logged and skipped; it
// never aborts the batch.
type RowFailure struct {
	RowID string
	Err   string
}

// PlannedChange is a write a dry run would have made.
type PlannedChange struct {
	RowID       string
	Description string
}

// Report summarizes one job run. Successes already committed stay
// committed regardless of later failures.
type Report struct {
	RunID    string
	Job      string
	Apply    bool
	Examined int
	Repaired int
	Created  int
	Skipped  int
	Planned  []PlannedChange
	Failures []RowFailure
}

func newReport(job string, apply bool, now time.Time) *Report {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return &Report{
		RunID: ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		Job:   job,
		Apply: apply,
	}
}

func (r *Report) plan(rowID, format string, args ...any) {
	r.Planned = append(r.Planned, PlannedChange{
		RowID:       rowID,
		Description: fmt.Sprintf(format, args...),
	})
}

func (r *Report) fail(rowID string, err error) {
	r.Failures = append(r.Failures, RowFailure{RowID: rowID, Err: err.Error()})
}

// Failed reports whether any row failed irrecoverably.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}
