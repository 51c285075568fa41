package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"secmaster/internal/store"
	storemodel "secmaster/internal/store/model"
	"secmaster/internal/types"

	"gorm.io/gorm"
)

type vendorRepo struct {
	db *gorm.DB
}

func (r *vendorRepo) List(ctx context.Context) ([]store.Vendor, error) {
	var rows []storemodel.DataVendorModel
	if err := r.db.WithContext(ctx).Order("data_vendor_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Vendor, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.Vendor{ID: types.SourceID(m.ID), Name: m.Name, Weight: m.ConsensusWeight})
	}
	return out, nil
}

func (r *vendorRepo) ResolveID(ctx context.Context, name string) (types.SourceID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("vendor name 必填")
	}
	var m storemodel.DataVendorModel
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", store.ErrVendorNotFound, name)
	}
	if err != nil {
		return 0, err
	}
	return types.SourceID(m.ID), nil
}

func (r *vendorRepo) Ensure(ctx context.Context, name string) (types.SourceID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("vendor name 必填")
	}
	m := storemodel.DataVendorModel{Name: name}
	if err := r.db.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&m).Error; err != nil {
		return 0, err
	}
	return types.SourceID(m.ID), nil
}

func (r *vendorRepo) Weights(ctx context.Context) (types.SourceWeights, error) {
	var rows []storemodel.DataVendorModel
	if err := r.db.WithContext(ctx).
		Where("consensus_weight IS NOT NULL").
		Order("data_vendor_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(types.SourceWeights, len(rows))
	for _, m := range rows {
		out[types.SourceID(m.ID)] = *m.ConsensusWeight
	}
	return out, nil
}

func (r *vendorRepo) SetWeight(ctx context.Context, id types.SourceID, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("consensus_weight must be >= 0 (vendor=%d)", id)
	}
	res := r.db.WithContext(ctx).Model(&storemodel.DataVendorModel{}).
		Where("data_vendor_id = ?", int64(id)).
		Update("consensus_weight", weight)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", store.ErrVendorNotFound, id)
	}
	return nil
}
