package config

import "github.com/google/uuid"

// Default values for optional configuration fields.
const (
	DefaultStorageRoot            = "data"
	DefaultTopK                   = 50
	DefaultFlushRows              = 50_000
	DefaultFlushSeconds           = 5
	DefaultBucketMinutes          = 5
	DefaultMaxSubs                = 200
	DefaultRotationPeriodSecs     = 180
	DefaultSnapshotIntervalMSHot  = 2000
	DefaultSnapshotIntervalMSWarm = 10000
	DefaultChurnLimitPerMinute    = 20
	DefaultMockUniverseSize       = 1000
	DefaultMetricsPort            = 9090
	DefaultMetricsPath            = "/metrics"

	DefaultPolymarketWSURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultPolymarketRestURL = "https://gamma-api.polymarket.com"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	if c.Storage.Root == "" {
		c.Storage.Root = DefaultStorageRoot
	}
	if c.Storage.TopK == 0 {
		c.Storage.TopK = DefaultTopK
	}
	if c.Storage.FlushRows == 0 {
		c.Storage.FlushRows = DefaultFlushRows
	}
	if c.Storage.FlushSeconds == 0 {
		c.Storage.FlushSeconds = DefaultFlushSeconds
	}
	if c.Storage.BucketMinutes == 0 {
		c.Storage.BucketMinutes = DefaultBucketMinutes
	}

	for name, v := range c.Venues {
		if v == nil {
			continue
		}
		if name == "polymarket" {
			if v.WSURL == "" {
				v.WSURL = DefaultPolymarketWSURL
			}
			if v.RestURL == "" {
				v.RestURL = DefaultPolymarketRestURL
			}
		}
		if v.MaxSubs == 0 {
			v.MaxSubs = DefaultMaxSubs
		}
		if v.RotationPeriodSecs == 0 {
			v.RotationPeriodSecs = DefaultRotationPeriodSecs
		}
		if v.SnapshotIntervalMSHot == 0 {
			v.SnapshotIntervalMSHot = DefaultSnapshotIntervalMSHot
		}
		if v.SnapshotIntervalMSWarm == 0 {
			v.SnapshotIntervalMSWarm = DefaultSnapshotIntervalMSWarm
		}
		if v.ChurnLimitPerMinute == 0 {
			v.ChurnLimitPerMinute = DefaultChurnLimitPerMinute
		}
	}

	if c.Rotation.Enabled == nil {
		enabled := true
		c.Rotation.Enabled = &enabled
	}

	if c.Mock.UniverseSize == 0 {
		c.Mock.UniverseSize = DefaultMockUniverseSize
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
