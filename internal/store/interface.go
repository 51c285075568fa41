package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"secmaster/internal/types"
)

var (
	// ErrVendorNotFound is returned when a data vendor name has no id yet.
	ErrVendorNotFound = errors.New("data vendor not found")
	// ErrInvalidTable is returned for price table names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid price table name")
	// ErrRunNotFound is returned by RunRepository.Get.
	ErrRunNotFound = errors.New("validation run not found")
	// ErrDuplicateRow is returned when an append hits an existing (tsid, period, vendor) key.
	ErrDuplicateRow = errors.New("duplicate price row")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CheckTable validates a price table name before it is interpolated into SQL.
func CheckTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Prices returns the price repository within this transaction.
	Prices() PriceRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	Vendors() VendorRepository
	Prices() PriceRepository
	Runs() RunRepository
	// Close closes the store connection.
	Close() error
}

// Vendor is one row of the data_vendor table.
type Vendor struct {
	ID     types.SourceID `json:"data_vendor_id"`
	Name   string         `json:"name"`
	Weight *float64       `json:"consensus_weight,omitempty"`
}

// VendorRepository resolves data vendors and their consensus weights.
type VendorRepository interface {
	List(ctx context.Context) ([]Vendor, error)
	ResolveID(ctx context.Context, name string) (types.SourceID, error)
	// Ensure returns the id of name, registering the vendor when missing.
	Ensure(ctx context.Context, name string) (types.SourceID, error)
	// Weights returns every vendor that has a consensus weight.
	Weights(ctx context.Context) (types.SourceWeights, error)
	SetWeight(ctx context.Context, id types.SourceID, weight float64) error
}

// PriceRepository handles the per-source price tables.
type PriceRepository interface {
	ActiveTSIDs(ctx context.Context, table string) ([]types.TSID, error)
	Observations(ctx context.Context, table string, tsid types.TSID) ([]types.Observation, error)
	// Bars returns stored rows for tsid, optionally restricted to one source.
	Bars(ctx context.Context, table string, tsid types.TSID, source *types.SourceID) ([]types.PriceBar, error)
	InsertBars(ctx context.Context, table string, bars []types.PriceBar) error
	DeleteRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID) (int64, error)
	// AppendRows never overwrites; a duplicate key is an error.
	AppendRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID, rows []types.ConsensusRow) (int64, error)
}

// RunRecord is the persisted summary of one validation run.
type RunRecord struct {
	ID          string            `json:"id"`
	Table       string            `json:"table"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Instruments int               `json:"instruments"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	RowsWritten int64             `json:"rows_written"`
	Gaps        int               `json:"gaps"`
	DryRun      bool              `json:"dry_run"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// RunRepository keeps the history of validation runs.
type RunRepository interface {
	Save(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
}
