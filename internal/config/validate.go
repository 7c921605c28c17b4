package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks cross-field constraints. It is used both at startup and as
// the Watch() validator so a bad edit never replaces a good running config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	c := cfg.Cycle
	if c.BeginHour < 0 || c.BeginHour > 23 {
		return fmt.Errorf("cycle.begin_hour must be in [0,23]")
	}
	if c.EndHour < 1 || c.EndHour > 24 {
		return fmt.Errorf("cycle.end_hour must be in [1,24]")
	}
	if c.EndHour <= c.BeginHour {
		return fmt.Errorf("cycle.end_hour must be greater than cycle.begin_hour")
	}
	window, err := ParseDurationField("cycle.window", c.Window)
	if err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("cycle.window is required")
	}
	grace, err := ParseDurationField("cycle.grace", c.Grace)
	if err != nil {
		return err
	}
	if grace <= 0 || grace >= window {
		return fmt.Errorf("cycle.grace must be > 0 and < cycle.window")
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("cycle.timezone: invalid %q: %w", tz, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if cfg.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}

	if mc := cfg.Maintenance; mc != nil && mc.Enabled {
		if s := strings.TrimSpace(mc.Schedule); s != "" {
			if _, err := cron.ParseStandard(s); err != nil {
				return fmt.Errorf("maintenance.schedule: invalid %q: %w", s, err)
			}
		}
		if mc.Keep < 0 {
			return fmt.Errorf("maintenance.keep must be >= 0")
		}
		if _, err := ParseDurationField("maintenance.stale_after", mc.StaleAfter); err != nil {
			return err
		}
	}

	return nil
}
