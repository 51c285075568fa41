package config

import (
	"fmt"
	"regexp"
	"strings"

	"secmaster/internal/scheduler"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Validator.validate(); err != nil {
		return err
	}
	if err := c.Weights.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(s.Host) == "" || strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("store.host and store.name are required for postgres")
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("store.port out of range: %d", s.Port)
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", s.Driver)
	}
	if s.MaxOpenConns < 0 {
		return fmt.Errorf("store.max_open_conns must be >= 0")
	}
	return nil
}

func (v *ValidatorConfig) validate() error {
	for _, t := range v.Tables {
		if !tableNamePattern.MatchString(t) {
			return fmt.Errorf("validator.tables contains invalid table name %q", t)
		}
	}
	if strings.TrimSpace(v.ConsensusVendor) == "" {
		return fmt.Errorf("validator.consensus_vendor cannot be empty")
	}
	switch v.Selection {
	case "max_value", "max_weight":
	default:
		return fmt.Errorf("validator.selection must be max_value or max_weight, got %q", v.Selection)
	}
	if v.PricePrecision < -1 {
		return fmt.Errorf("validator.price_precision must be >= -1")
	}
	if v.Workers <= 0 {
		return fmt.Errorf("validator.workers must be > 0")
	}
	return nil
}

func (w *WeightsConfig) validate() error {
	switch w.Source {
	case "database":
	case "file":
		if strings.TrimSpace(w.File) == "" {
			return fmt.Errorf("weights.file is required when weights.source=file")
		}
	default:
		return fmt.Errorf("weights.source must be database or file, got %q", w.Source)
	}
	for name, weight := range w.Overrides {
		if weight < 0 {
			return fmt.Errorf("weights.overrides.%s must be >= 0", name)
		}
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if _, err := scheduler.ParseInterval(s.Interval); err != nil {
		return fmt.Errorf("schedule.interval: %w", err)
	}
	if s.OffsetSeconds < 0 {
		return fmt.Errorf("schedule.offset_seconds must be >= 0")
	}
	return nil
}
