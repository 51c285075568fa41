package app

import (
	"context"
	"fmt"

	"secmaster/internal/config"
	"secmaster/internal/consensus"
	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/store/gormstore"
	apihttp "secmaster/internal/transport/http/api"
	"secmaster/internal/weights"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn func(config.StoreConfig) (store.Store, error)
	httpFn  func(config.HTTPConfig, store.Store, apihttp.Trigger, string) (*apihttp.Server, error)

	storeOverride store.Store
}

type AppBuilderOption func(*AppBuilder)

// WithStore 使用外部传入的 store（测试或 dry run 的内存库），Build 不再打开数据库。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		storeFn: openStore,
		httpFn:  buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	st := b.storeOverride
	if st == nil {
		var err error
		st, err = b.storeFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	validator, err := consensus.NewValidator(st, validatorOptions(cfg.Validator))
	if err != nil {
		if b.storeOverride == nil {
			_ = st.Close()
		}
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		store:     st,
		validator: validator,
		weights:   weights.NewLoader(st.Vendors(), cfg.Weights),
		Summary:   newStartupSummary(cfg),
	}
	if cfg.HTTP.Enabled {
		srv, err := b.httpFn(cfg.HTTP, st, app, cfg.Validator.ConsensusVendor)
		if err != nil {
			if b.storeOverride == nil {
				_ = st.Close()
			}
			return nil, fmt.Errorf("build http server: %w", err)
		}
		app.http = srv
	}
	logger.Debugf("app built: driver=%s tables=%v http=%v", cfg.Store.Driver, cfg.Validator.Tables, cfg.HTTP.Enabled)
	return app, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	return gormstore.Open(gormstore.Options{
		Driver: cfg.Driver,
		Path:   cfg.Path,
		Postgres: gormstore.PostgresOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Name:     cfg.Name,
			User:     cfg.User,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		Debug:        cfg.Debug,
	})
}

func buildHTTPServer(cfg config.HTTPConfig, st store.Store, trigger apihttp.Trigger, consensusVendor string) (*apihttp.Server, error) {
	return apihttp.NewServer(apihttp.ServerConfig{
		Addr:            cfg.Addr,
		Store:           st,
		Trigger:         trigger,
		ConsensusVendor: consensusVendor,
	})
}

func validatorOptions(cfg config.ValidatorConfig) consensus.Options {
	return consensus.Options{
		ConsensusVendor:       cfg.ConsensusVendor,
		ExcludeVendors:        cfg.ExcludeVendors,
		Selection:             consensus.SelectionPolicy(cfg.Selection),
		PricePrecision:        cfg.PricePrecision,
		Workers:               cfg.Workers,
		DryRun:                cfg.DryRun,
		EnsureConsensusVendor: cfg.EnsureConsensusVendor,
		Verbose:               cfg.Verbose,
		RecordRuns:            cfg.RecordRuns,
	}
}
