package app

import (
	"fmt"
	"strings"

	"secmaster/internal/config"
)

type StartupSummary struct {
	Store     StoreSummary
	Validator ValidatorSummary
	Weights   string
	HTTPAddr  string
	Schedule  string
}

type StoreSummary struct {
	Driver string
	Target string
}

type ValidatorSummary struct {
	Tables          []string
	ConsensusVendor string
	Exclude         []string
	Selection       string
	Precision       int
	Workers         int
	DryRun          bool
}

func newStartupSummary(cfg *config.Config) *StartupSummary {
	s := &StartupSummary{
		Store: StoreSummary{Driver: cfg.Store.Driver, Target: cfg.Store.Path},
		Validator: ValidatorSummary{
			Tables:          cfg.Validator.Tables,
			ConsensusVendor: cfg.Validator.ConsensusVendor,
			Exclude:         cfg.Validator.ExcludeVendors,
			Selection:       cfg.Validator.Selection,
			Precision:       cfg.Validator.PricePrecision,
			Workers:         cfg.Validator.Workers,
			DryRun:          cfg.Validator.DryRun,
		},
		Weights:  cfg.Weights.Source,
		Schedule: fmt.Sprintf("every %s, offset %ds", cfg.Schedule.Interval, cfg.Schedule.OffsetSeconds),
	}
	if cfg.Store.Driver != "sqlite" {
		s.Store.Target = fmt.Sprintf("%s@%s:%d/%s", cfg.Store.User, cfg.Store.Host, cfg.Store.Port, cfg.Store.Name)
	}
	if cfg.Weights.Source == "file" {
		s.Weights = "file " + cfg.Weights.File
	}
	if n := len(cfg.Weights.Overrides); n > 0 {
		s.Weights += fmt.Sprintf(" (+%d overrides)", n)
	}
	if cfg.HTTP.Enabled {
		s.HTTPAddr = cfg.HTTP.Addr
	}
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[数据库 (STORE)]")
	fmt.Fprintf(&b, "  驱动: %s\n", s.Store.Driver)
	fmt.Fprintf(&b, "  目标: %s\n", s.Store.Target)
	fmt.Fprintln(&b)

	v := s.Validator
	fmt.Fprintln(&b, "[交叉验证 (CROSS VALIDATION)]")
	fmt.Fprintf(&b, "  价格表: %s\n", formatList(v.Tables))
	fmt.Fprintf(&b, "  共识数据源: %s\n", v.ConsensusVendor)
	fmt.Fprintf(&b, "  排除数据源: %s\n", formatList(v.Exclude))
	fmt.Fprintf(&b, "  选择规则: %s\n", v.Selection)
	if v.Precision < 0 {
		fmt.Fprintln(&b, "  价格精度: exact")
	} else {
		fmt.Fprintf(&b, "  价格精度: %d 位小数\n", v.Precision)
	}
	fmt.Fprintf(&b, "  并发数: %d\n", v.Workers)
	fmt.Fprintf(&b, "  dry run: %v\n", v.DryRun)
	fmt.Fprintf(&b, "  权重来源: %s\n", s.Weights)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[服务 (SERVE)]")
	if s.HTTPAddr == "" {
		fmt.Fprintln(&b, "  HTTP: (未启用)")
	} else {
		fmt.Fprintf(&b, "  HTTP: %s\n", s.HTTPAddr)
	}
	fmt.Fprintf(&b, "  调度: %s\n", s.Schedule)
	fmt.Fprint(&b, line)
	return b.String()
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
