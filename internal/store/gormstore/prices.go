package gormstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"secmaster/internal/store"
	storemodel "secmaster/internal/store/model"
	"secmaster/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// tableRegistry remembers which price tables were already migrated.
type tableRegistry struct {
	mu    sync.Mutex
	ready map[string]bool
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{ready: make(map[string]bool)}
}

func (r *tableRegistry) isReady(table string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready[table]
}

func (r *tableRegistry) markReady(table string) {
	r.mu.Lock()
	r.ready[table] = true
	r.mu.Unlock()
}

// priceRepo implements store.PriceRepository. Inside a transaction the
// migration result is not cached because a rollback would undo it.
type priceRepo struct {
	db        *gorm.DB
	tables    *tableRegistry
	cacheable bool
}

func (r *priceRepo) ensureTable(ctx context.Context, table string) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	if r.tables != nil && r.tables.isReady(table) {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Table(table).AutoMigrate(&storemodel.PriceModel{}); err != nil {
		return fmt.Errorf("migrate %s: %w", table, err)
	}
	idx := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_tsid_period_vendor ON %s (tsid, period, data_vendor_id)", table, table)
	if err := db.Exec(idx).Error; err != nil {
		return fmt.Errorf("index %s: %w", table, err)
	}
	if r.cacheable && r.tables != nil {
		r.tables.markReady(table)
	}
	return nil
}

func (r *priceRepo) ActiveTSIDs(ctx context.Context, table string) ([]types.TSID, error) {
	if err := r.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Table(table).
		Distinct("tsid").
		Order("tsid").
		Pluck("tsid", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *priceRepo) Observations(ctx context.Context, table string, tsid types.TSID) ([]types.Observation, error) {
	bars, err := r.Bars(ctx, table, tsid, nil)
	if err != nil {
		return nil, err
	}
	out := make([]types.Observation, 0, len(bars)*len(types.Fields))
	for _, b := range bars {
		out = append(out, b.Observations()...)
	}
	return out, nil
}

func (r *priceRepo) Bars(ctx context.Context, table string, tsid types.TSID, source *types.SourceID) ([]types.PriceBar, error) {
	if err := r.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).Table(table).Where("tsid = ?", tsid)
	if source != nil {
		query = query.Where("data_vendor_id = ?", int64(*source))
	}
	var rows []storemodel.PriceModel
	if err := query.Order("period ASC, data_vendor_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.PriceBar, 0, len(rows))
	for _, m := range rows {
		out = append(out, priceModelToBar(m))
	}
	return out, nil
}

// InsertBars upserts raw source rows on (tsid, period, data_vendor_id).
func (r *priceRepo) InsertBars(ctx context.Context, table string, bars []types.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := r.ensureTable(ctx, table); err != nil {
		return err
	}
	now := time.Now().Unix()
	models := make([]storemodel.PriceModel, 0, len(bars))
	for _, b := range bars {
		models = append(models, newPriceModel(b, now))
	}
	return r.db.WithContext(ctx).
		Table(table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tsid"}, {Name: "period"}, {Name: "data_vendor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "updated_at"}),
		}).
		CreateInBatches(&models, insertBatchSize).Error
}

func (r *priceRepo) DeleteRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID) (int64, error) {
	if err := r.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Table(table).
		Where("tsid = ? AND data_vendor_id = ?", tsid, int64(source)).
		Delete(&storemodel.PriceModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *priceRepo) AppendRows(ctx context.Context, table string, tsid types.TSID, source types.SourceID, rows []types.ConsensusRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := r.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	models := make([]storemodel.PriceModel, 0, len(rows))
	for _, row := range rows {
		if row.TSID != tsid {
			return 0, fmt.Errorf("append %s: row tsid %s does not match", tsid, row.TSID)
		}
		models = append(models, newPriceModel(row.Bar(source), now))
	}
	res := r.db.WithContext(ctx).Table(table).CreateInBatches(&models, insertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func newPriceModel(b types.PriceBar, updatedAt int64) storemodel.PriceModel {
	return storemodel.PriceModel{
		TSID:         b.TSID,
		Period:       int64(b.Period),
		DataVendorID: int64(b.Source),
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Close:        b.Close,
		Volume:       b.Volume,
		UpdatedAt:    updatedAt,
	}
}

func priceModelToBar(m storemodel.PriceModel) types.PriceBar {
	return types.PriceBar{
		TSID:   m.TSID,
		Period: types.Period(m.Period),
		Source: types.SourceID(m.DataVendorID),
		Open:   m.Open,
		High:   m.High,
		Low:    m.Low,
		Close:  m.Close,
		Volume: m.Volume,
	}
}
