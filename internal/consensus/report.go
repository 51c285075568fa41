package consensus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"secmaster/internal/store"
	"secmaster/internal/types"
)

// InstrumentResult is the outcome for one tsid. Err is nil on success.
type InstrumentResult struct {
	TSID           types.TSID
	Periods        int
	Rows           int
	Gaps           int
	EmptyPeriods   int
	SkippedPeriods int
	Rejected       int
	ReplacedPrior  bool
	Deleted        int64
	Appended       int64
	Duration       time.Duration
	Err            error
}

type Report struct {
	RunID       string
	Table       string
	StartedAt   time.Time
	Duration    time.Duration
	DryRun      bool
	ConsensusID types.SourceID
	Excluded    []types.SourceID
	Unresolved  []string
	Instruments []InstrumentResult
}

func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Instruments {
		if res.Err == nil {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int { return len(r.Instruments) - r.Succeeded() }

func (r *Report) RowsWritten() int64 {
	var n int64
	for _, res := range r.Instruments {
		n += res.Appended
	}
	return n
}

func (r *Report) Gaps() int {
	n := 0
	for _, res := range r.Instruments {
		n += res.Gaps
	}
	return n
}

// Err joins every per-instrument failure, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Instruments {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.TSID, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Record converts the report into its persisted form.
func (r *Report) Record() store.RunRecord {
	rec := store.RunRecord{
		ID:          r.RunID,
		Table:       r.Table,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.StartedAt.Add(r.Duration),
		Instruments: len(r.Instruments),
		Succeeded:   r.Succeeded(),
		Failed:      r.Failed(),
		RowsWritten: r.RowsWritten(),
		Gaps:        r.Gaps(),
		DryRun:      r.DryRun,
	}
	for _, res := range r.Instruments {
		if res.Err == nil {
			continue
		}
		if rec.Errors == nil {
			rec.Errors = make(map[string]string)
		}
		rec.Errors[res.TSID] = res.Err.Error()
	}
	return rec
}

// Summary renders a multi-line run summary.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cross validation run %s on %s\n", r.RunID, r.Table)
	fmt.Fprintf(&b, "  instruments: %d (ok=%d failed=%d)\n", len(r.Instruments), r.Succeeded(), r.Failed())
	fmt.Fprintf(&b, "  rows written: %d  field gaps: %d  dry_run: %v\n", r.RowsWritten(), r.Gaps(), r.DryRun)
	fmt.Fprintf(&b, "  consensus vendor: %d  excluded: %v\n", r.ConsensusID, r.Excluded)
	if len(r.Unresolved) > 0 {
		fmt.Fprintf(&b, "  unresolved vendor names: %s\n", strings.Join(r.Unresolved, ", "))
	}
	for _, res := range r.Instruments {
		if res.Err != nil {
			fmt.Fprintf(&b, "  ! %s: %v\n", res.TSID, res.Err)
		}
	}
	fmt.Fprintf(&b, "  %d tsids cross validated in %.2f seconds", len(r.Instruments), r.Duration.Seconds())
	return b.String()
}
