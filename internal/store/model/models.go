package model

import "gorm.io/datatypes"

// DataVendorModel 对应 data_vendor 表；consensus_weight 为空表示该供应商不参与投票。
type DataVendorModel struct {
	ID              int64    `gorm:"column:data_vendor_id;primaryKey;autoIncrement"`
	Name            string   `gorm:"column:name;uniqueIndex;not null"`
	ConsensusWeight *float64 `gorm:"column:consensus_weight"`
	CreatedAtUnix   int64    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAtUnix   int64    `gorm:"column:updated_at;autoUpdateTime"`
}

func (DataVendorModel) TableName() string { return "data_vendor" }

// PriceModel is one row of a price table. The table name is chosen per call
// (daily_prices, minute_prices, ...), so it has no TableName method.
type PriceModel struct {
	ID           int64    `gorm:"column:id;primaryKey;autoIncrement"`
	TSID         string   `gorm:"column:tsid;not null"`
	Period       int64    `gorm:"column:period;not null"`
	DataVendorID int64    `gorm:"column:data_vendor_id;not null"`
	Open         *float64 `gorm:"column:open"`
	High         *float64 `gorm:"column:high"`
	Low          *float64 `gorm:"column:low"`
	Close        *float64 `gorm:"column:close"`
	Volume       *float64 `gorm:"column:volume"`
	UpdatedAt    int64    `gorm:"column:updated_at"`
}

type ValidationRunModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	PriceTable  string         `gorm:"column:price_table;index"`
	StartedAt   int64          `gorm:"column:started_at;index"`
	FinishedAt  int64          `gorm:"column:finished_at"`
	Instruments int            `gorm:"column:instruments"`
	Succeeded   int            `gorm:"column:succeeded"`
	Failed      int            `gorm:"column:failed"`
	RowsWritten int64          `gorm:"column:rows_written"`
	Gaps        int            `gorm:"column:gaps"`
	DryRun      bool           `gorm:"column:dry_run"`
	ErrorsJSON  datatypes.JSON `gorm:"column:errors_json;type:TEXT"`
}

func (ValidationRunModel) TableName() string { return "validation_runs" }
