package consensus

import (
	"context"
	"fmt"

	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/types"
)

// WriteResult reports what the reconciler did for one instrument.
type WriteResult struct {
	ReplacedPrior bool
	Deleted       int64
	Appended      int64
}

// Reconciler writes an Assembly so that repeated runs never duplicate or
// keep stale consensus rows. The delete and the append share one transaction
// and the append only runs after the delete succeeded.
type Reconciler struct {
	Store       store.Store
	ConsensusID types.SourceID
	DryRun      bool
}

func (r Reconciler) Write(ctx context.Context, table string, a Assembly) (WriteResult, error) {
	res := WriteResult{ReplacedPrior: a.Observed.Has(r.ConsensusID)}
	if r.DryRun {
		return res, nil
	}
	if !res.ReplacedPrior && len(a.Rows) == 0 {
		return res, nil
	}
	uow, err := r.Store.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin %s: %w", a.TSID, err)
	}
	prices := uow.Prices()
	if res.ReplacedPrior {
		n, err := prices.DeleteRows(ctx, table, a.TSID, r.ConsensusID)
		if err != nil {
			rollback(uow, a.TSID)
			return WriteResult{ReplacedPrior: true}, fmt.Errorf("%w: tsid=%s: %w", ErrDeleteFailed, a.TSID, err)
		}
		res.Deleted = n
	}
	n, err := prices.AppendRows(ctx, table, a.TSID, r.ConsensusID, a.Rows)
	if err != nil {
		rollback(uow, a.TSID)
		return WriteResult{ReplacedPrior: res.ReplacedPrior}, fmt.Errorf("%w: tsid=%s: %w", ErrAppendFailed, a.TSID, err)
	}
	res.Appended = n
	if err := uow.Commit(); err != nil {
		return WriteResult{ReplacedPrior: res.ReplacedPrior}, fmt.Errorf("commit %s: %w", a.TSID, err)
	}
	return res, nil
}

func rollback(uow store.UnitOfWork, tsid types.TSID) {
	if err := uow.Rollback(); err != nil {
		logger.Errorf("reconcile %s: rollback failed: %v", tsid, err)
	}
}
