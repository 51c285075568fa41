package config

import "strings"

// Config 是 secmaster 交叉验证器的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Validator ValidatorConfig `toml:"validator"`
	Weights   WeightsConfig   `toml:"weights"`
	HTTP      HTTPConfig      `toml:"http"`
	Schedule  ScheduleConfig  `toml:"schedule"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
}

// StoreConfig 描述价格库连接。driver 为 sqlite 时只需 path。
type StoreConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Name         string `toml:"name"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"sslmode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	Debug        bool   `toml:"debug"`
}

// ValidatorConfig 控制交叉验证的投票与写回行为。
type ValidatorConfig struct {
	Tables                []string `toml:"tables"`
	ConsensusVendor       string   `toml:"consensus_vendor"`
	ExcludeVendors        []string `toml:"exclude_vendors"`
	Selection             string   `toml:"selection"`       // max_value | max_weight
	PricePrecision        int      `toml:"price_precision"` // -1 = exact equality
	Workers               int      `toml:"workers"`
	DryRun                bool     `toml:"dry_run"`
	EnsureConsensusVendor bool     `toml:"ensure_consensus_vendor"`
	Verbose               bool     `toml:"verbose"`
	RecordRuns            bool     `toml:"record_runs"`
}

// WeightsConfig 指定每次运行使用的数据源权重来源。
type WeightsConfig struct {
	Source    string             `toml:"source"` // database | file
	File      string             `toml:"file"`
	Overrides map[string]float64 `toml:"overrides"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type ScheduleConfig struct {
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
