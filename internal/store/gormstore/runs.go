package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secmaster/internal/store"
	storemodel "secmaster/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type runRepo struct {
	db *gorm.DB
}

func (r *runRepo) Save(ctx context.Context, rec store.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id 必填")
	}
	errBytes, err := json.Marshal(rec.Errors)
	if err != nil {
		return err
	}
	m := storemodel.ValidationRunModel{
		ID:          rec.ID,
		PriceTable:  rec.Table,
		StartedAt:   rec.StartedAt.UnixMilli(),
		FinishedAt:  rec.FinishedAt.UnixMilli(),
		Instruments: rec.Instruments,
		Succeeded:   rec.Succeeded,
		Failed:      rec.Failed,
		RowsWritten: rec.RowsWritten,
		Gaps:        rec.Gaps,
		DryRun:      rec.DryRun,
		ErrorsJSON:  datatypes.JSON(errBytes),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (r *runRepo) Get(ctx context.Context, id string) (store.RunRecord, error) {
	var m storemodel.ValidationRunModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.RunRecord{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	if err != nil {
		return store.RunRecord{}, err
	}
	return runModelToRecord(m), nil
}

func (r *runRepo) List(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []storemodel.ValidationRunModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.RunRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, runModelToRecord(m))
	}
	return out, nil
}

func runModelToRecord(m storemodel.ValidationRunModel) store.RunRecord {
	rec := store.RunRecord{
		ID:          m.ID,
		Table:       m.PriceTable,
		StartedAt:   time.UnixMilli(m.StartedAt),
		FinishedAt:  time.UnixMilli(m.FinishedAt),
		Instruments: m.Instruments,
		Succeeded:   m.Succeeded,
		Failed:      m.Failed,
		RowsWritten: m.RowsWritten,
		Gaps:        m.Gaps,
		DryRun:      m.DryRun,
	}
	if len(m.ErrorsJSON) > 0 {
		_ = json.Unmarshal(m.ErrorsJSON, &rec.Errors)
	}
	return rec
}
