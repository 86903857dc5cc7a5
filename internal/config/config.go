package config

import (
	"sort"
	"time"
)

// Config is the root collector configuration.
type Config struct {
	Instance InstanceConfig          `yaml:"instance"`
	Storage  StorageConfig           `yaml:"storage"`
	Venues   map[string]*VenueConfig `yaml:"venues"`
	Rotation RotationConfig          `yaml:"rotation"`
	Mock     MockConfig              `yaml:"mock"`
	Metrics  MetricsConfig           `yaml:"metrics"`
}

// InstanceConfig identifies one collector process.
type InstanceConfig struct {
	// ID tags logs and health output. Defaults to a random UUID.
	ID string `yaml:"id"`
}

// StorageConfig controls the columnar output layout.
type StorageConfig struct {
	// Root is the base path for all outputs (snapshots, trades,
	// metadata, stats).
	Root string `yaml:"root"`

	// TopK is the number of depth levels kept per side in snapshots.
	TopK int `yaml:"top_k"`

	// FlushRows flushes a partition buffer when it reaches this size.
	FlushRows int `yaml:"flush_rows"`

	// FlushSeconds flushes a partition buffer this long after its
	// first row.
	FlushSeconds int `yaml:"flush_seconds"`

	// BucketMinutes is the width of one file bucket.
	BucketMinutes int `yaml:"bucket_minutes"`
}

// VenueConfig configures one venue connection.
type VenueConfig struct {
	Enabled bool   `yaml:"enabled"`
	WSURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`

	// Empty credentials mean unauthenticated public endpoints.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// MaxSubs is the total subscription capacity in tokens.
	MaxSubs int `yaml:"max_subs"`

	// HotCount is accepted for compatibility and ignored: the HOT set
	// is always ceil(max_subs/10), floor 1.
	HotCount int `yaml:"hot_count"`

	RotationPeriodSecs     int `yaml:"rotation_period_secs"`
	SnapshotIntervalMSHot  int `yaml:"snapshot_interval_ms_hot"`
	SnapshotIntervalMSWarm int `yaml:"snapshot_interval_ms_warm"`
	ChurnLimitPerMinute    int `yaml:"subscription_churn_limit_per_minute"`

	// ExcludeTitlePatterns drops universe markets whose title contains
	// any of these substrings (case-insensitive).
	ExcludeTitlePatterns []string `yaml:"exclude_title_patterns"`

	// MinHoursUntilClose drops markets resolving sooner.
	MinHoursUntilClose int `yaml:"min_hours_until_close"`
}

// RotationPeriod returns the WARM rotation period as a duration.
func (v *VenueConfig) RotationPeriod() time.Duration {
	return time.Duration(v.RotationPeriodSecs) * time.Second
}

// HotInterval returns the HOT snapshot cadence.
func (v *VenueConfig) HotInterval() time.Duration {
	return time.Duration(v.SnapshotIntervalMSHot) * time.Millisecond
}

// WarmInterval returns the WARM snapshot cadence.
func (v *VenueConfig) WarmInterval() time.Duration {
	return time.Duration(v.SnapshotIntervalMSWarm) * time.Millisecond
}

// HotSize returns the HOT set capacity: 10% of max_subs, floor 1.
func (v *VenueConfig) HotSize() int {
	hot := (v.MaxSubs + 9) / 10
	if hot < 1 {
		hot = 1
	}
	return hot
}

// RotationConfig is an operability escape hatch: setting enabled to
// false freezes the subscription set after the initial reconcile.
// Rotation is on unless explicitly disabled.
type RotationConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// RotationEnabled reports whether WARM rotation runs. Defaults to
// true when the key is absent.
func (c *Config) RotationEnabled() bool {
	return c.Rotation.Enabled == nil || *c.Rotation.Enabled
}

// MockConfig swaps the venue adapter for a synthetic source.
type MockConfig struct {
	Enabled      bool `yaml:"enabled"`
	UniverseSize int  `yaml:"universe_size"`
}

// MetricsConfig configures the metrics/health HTTP listener.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// EnabledVenues returns the names of enabled venues, sorted.
func (c *Config) EnabledVenues() []string {
	var names []string
	for name, v := range c.Venues {
		if v != nil && v.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
