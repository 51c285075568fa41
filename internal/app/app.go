package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"secmaster/internal/config"
	"secmaster/internal/consensus"
	"secmaster/internal/logger"
	"secmaster/internal/scheduler"
	"secmaster/internal/store"
	apihttp "secmaster/internal/transport/http/api"
	"secmaster/internal/types"
	"secmaster/internal/weights"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→执行或调度交叉验证。
type App struct {
	cfg       *config.Config
	store     store.Store
	validator *consensus.Validator
	weights   *weights.Loader
	http      *apihttp.Server
	Summary   *StartupSummary

	runMu sync.Mutex
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Store exposes the underlying store (CLI listing commands use it).
func (a *App) Store() store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

// RunOnce 对 table（为空时为所有配置表）执行一次交叉验证。tsids 为空时使用表中全部活跃 tsid。
func (a *App) RunOnce(ctx context.Context, table string, tsids []types.TSID) ([]*consensus.Report, error) {
	if a == nil || a.validator == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.run(ctx, table, tsids)
}

// Trigger implements apihttp.Trigger. It refuses to queue behind a running validation.
func (a *App) Trigger(ctx context.Context, req apihttp.RunRequest) (store.RunRecord, error) {
	if !a.runMu.TryLock() {
		return store.RunRecord{}, apihttp.ErrRunInProgress
	}
	defer a.runMu.Unlock()
	table := strings.TrimSpace(req.Table)
	if table == "" {
		table = a.cfg.Validator.Tables[0]
	}
	reports, err := a.run(ctx, table, req.TSIDs)
	if err != nil {
		return store.RunRecord{}, err
	}
	return reports[0].Record(), nil
}

func (a *App) run(ctx context.Context, table string, tsids []types.TSID) ([]*consensus.Report, error) {
	tables := a.cfg.Validator.Tables
	if table != "" {
		tables = []string{table}
	}
	w, err := a.weights.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	reports := make([]*consensus.Report, 0, len(tables))
	for _, t := range tables {
		ids := tsids
		if len(ids) == 0 {
			ids, err = a.store.Prices().ActiveTSIDs(ctx, t)
			if err != nil {
				return reports, fmt.Errorf("list tsids of %s: %w", t, err)
			}
		}
		if len(ids) == 0 {
			logger.Warnf("table %s has no tsids to validate", t)
		}
		report, err := a.validator.CrossValidate(ctx, t, ids, w)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Serve 启动 HTTP 服务与周期调度，直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	interval, err := scheduler.ParseInterval(a.cfg.Schedule.Interval)
	if err != nil {
		return err
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		sched := scheduler.NewAlignedScheduler(ctx, interval, time.Duration(a.cfg.Schedule.OffsetSeconds)*time.Second)
		sched.Name = "cross-validation"
		sched.RunImmediately = a.cfg.Schedule.RunImmediately
		sched.Start(func(ctx context.Context) {
			reports, err := a.RunOnce(ctx, "", nil)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("scheduled cross validation failed: %v", err)
			}
			for _, r := range reports {
				if rerr := r.Err(); rerr != nil {
					logger.Warnf("scheduled cross validation %s: %d instruments failed", r.RunID, r.Failed())
				}
			}
		})
		return nil
	})

	return group.Wait()
}
