package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultStoreDriver     = "sqlite"
	defaultStorePath       = "data/pySecMaster.db"
	defaultStorePort       = 5432
	defaultStoreMaxConns   = 2
	defaultTable           = "daily_prices"
	defaultConsensusVendor = "pySecMaster_Consensus"
	defaultSelection       = "max_value"
	defaultPricePrecision  = -1
	defaultWorkers         = 1
	defaultWeightsSource   = "database"
	defaultHTTPAddr        = ":9992"
	defaultScheduleEvery   = "1d"
	defaultScheduleOffset  = 1800
)

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(make(keySet))
	return &cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Validator.applyDefaults(keys)
	c.Weights.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		intFieldDefault("store.max_open_conns", &s.MaxOpenConns, defaultStoreMaxConns),
	)
	if s.Driver == defaultStoreDriver {
		applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
		return
	}
	applyFieldDefaults(keys, intFieldDefault("store.port", &s.Port, defaultStorePort))
}

func (v *ValidatorConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("validator.consensus_vendor", &v.ConsensusVendor, defaultConsensusVendor),
		stringFieldDefault("validator.selection", &v.Selection, defaultSelection),
		intFieldDefault("validator.workers", &v.Workers, defaultWorkers),
		boolFieldDefault("validator.ensure_consensus_vendor", &v.EnsureConsensusVendor, true),
		boolFieldDefault("validator.record_runs", &v.RecordRuns, true),
		fieldDefault{
			key:   "validator.price_precision",
			apply: func() { v.PricePrecision = defaultPricePrecision },
		},
	)
	v.Tables = normalizeList(v.Tables)
	if len(v.Tables) == 0 {
		v.Tables = []string{defaultTable}
	}
	v.ExcludeVendors = normalizeList(v.ExcludeVendors)
	if len(v.ExcludeVendors) == 0 {
		v.ExcludeVendors = []string{v.ConsensusVendor}
	}
	v.Selection = strings.ToLower(strings.TrimSpace(v.Selection))
}

func (w *WeightsConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	w.Source = strings.ToLower(strings.TrimSpace(w.Source))
	applyFieldDefaults(keys,
		stringFieldDefault("weights.source", &w.Source, defaultWeightsSource),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("schedule.interval", &s.Interval, defaultScheduleEvery),
		intFieldDefault("schedule.offset_seconds", &s.OffsetSeconds, defaultScheduleOffset),
	)
}

// Helper functions

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
