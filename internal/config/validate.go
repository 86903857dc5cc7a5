package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if c.Storage.TopK < 1 {
		return errors.New("storage.top_k must be >= 1")
	}
	if c.Storage.FlushRows < 1 {
		return errors.New("storage.flush_rows must be >= 1")
	}
	if c.Storage.FlushSeconds < 1 {
		return errors.New("storage.flush_seconds must be >= 1")
	}
	if c.Storage.BucketMinutes < 1 || c.Storage.BucketMinutes > 60 {
		return fmt.Errorf("storage.bucket_minutes must be in [1, 60], got %d", c.Storage.BucketMinutes)
	}

	enabled := 0
	for name, v := range c.Venues {
		if v == nil || !v.Enabled {
			continue
		}
		enabled++
		if err := v.validate("venues." + name); err != nil {
			return err
		}
	}
	if enabled == 0 && !c.Mock.Enabled {
		return errors.New("no venue enabled and mock disabled")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (v *VenueConfig) validate(prefix string) error {
	if v.WSURL == "" {
		return fmt.Errorf("%s.ws_url is required", prefix)
	}
	if v.MaxSubs < 1 {
		return fmt.Errorf("%s.max_subs must be >= 1", prefix)
	}
	if v.RotationPeriodSecs < 1 {
		return fmt.Errorf("%s.rotation_period_secs must be >= 1", prefix)
	}
	if v.SnapshotIntervalMSHot < 1 {
		return fmt.Errorf("%s.snapshot_interval_ms_hot must be >= 1", prefix)
	}
	if v.SnapshotIntervalMSWarm < 1 {
		return fmt.Errorf("%s.snapshot_interval_ms_warm must be >= 1", prefix)
	}
	if v.ChurnLimitPerMinute < 1 {
		return fmt.Errorf("%s.subscription_churn_limit_per_minute must be >= 1", prefix)
	}
	if v.MinHoursUntilClose < 0 {
		return fmt.Errorf("%s.min_hours_until_close must be >= 0", prefix)
	}
	return nil
}
