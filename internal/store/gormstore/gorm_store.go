package gormstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"secmaster/internal/store"
	storemodel "secmaster/internal/store/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options 描述数据库连接方式。
type Options struct {
	Driver       string
	Path         string
	Postgres     PostgresOptions
	MaxOpenConns int
	Debug        bool
}

type PostgresOptions struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// BuildConnString builds a PostgreSQL connection string.
func BuildConnString(cfg PostgresOptions) string {
	escapedPassword := url.QueryEscape(cfg.Password)
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// GormStore implements store.Store using Gorm over SQLite or PostgreSQL.
type GormStore struct {
	db     *gorm.DB
	tables *tableRegistry
}

var _ store.Store = (*GormStore)(nil)

// Open connects to the configured database and migrates the fixed tables.
func Open(opts Options) (*GormStore, error) {
	dialector, err := opts.dialector()
	if err != nil {
		return nil, err
	}
	logMode := logger.Silent
	if opts.Debug {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logMode),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 2
	}
	return newGormStore(db, maxConns)
}

// NewGormStoreFromDB wraps an existing connection.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newGormStore(db, 0)
}

func newGormStore(db *gorm.DB, maxConns int) (*GormStore, error) {
	models := []interface{}{
		&storemodel.DataVendorModel{},
		&storemodel.ValidationRunModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if maxConns > 0 {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(maxConns)
			sqlDB.SetMaxIdleConns(maxConns)
		}
	}
	return &GormStore{db: db, tables: newTableRegistry()}, nil
}

func (o Options) dialector() (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(o.Driver)) {
	case "", DriverSQLite:
		path := strings.TrimSpace(o.Path)
		if path == "" {
			return nil, fmt.Errorf("database path cannot be empty")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
		return sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), nil
	case DriverPostgres:
		if strings.TrimSpace(o.Postgres.Host) == "" {
			return nil, fmt.Errorf("postgres host cannot be empty")
		}
		return postgres.Open(BuildConnString(o.Postgres)), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", o.Driver)
	}
}

// Begin starts a transaction scoped to the price tables.
func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx, tables: s.tables}, nil
}

func (s *GormStore) Vendors() store.VendorRepository { return &vendorRepo{db: s.db} }

func (s *GormStore) Prices() store.PriceRepository {
	return &priceRepo{db: s.db, tables: s.tables, cacheable: true}
}

func (s *GormStore) Runs() store.RunRepository { return &runRepo{db: s.db} }

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for pings and shutdown.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

type gormUnitOfWork struct {
	tx     *gorm.DB
	tables *tableRegistry
}

func (u *gormUnitOfWork) Prices() store.PriceRepository {
	return &priceRepo{db: u.tx, tables: u.tables}
}

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}
