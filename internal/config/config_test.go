package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
storage:
  root: /tmp/clobwatch
venues:
  polymarket:
    enabled: true
`

func TestLoadAndValidate_Defaults(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.Instance.ID == "" {
		t.Error("Instance.ID not defaulted")
	}
	if got, want := cfg.Storage.TopK, DefaultTopK; got != want {
		t.Errorf("TopK = %d, want %d", got, want)
	}
	if got, want := cfg.Storage.FlushRows, DefaultFlushRows; got != want {
		t.Errorf("FlushRows = %d, want %d", got, want)
	}

	pm := cfg.Venues["polymarket"]
	if pm.WSURL != DefaultPolymarketWSURL {
		t.Errorf("WSURL = %q, want default", pm.WSURL)
	}
	if got, want := pm.MaxSubs, DefaultMaxSubs; got != want {
		t.Errorf("MaxSubs = %d, want %d", got, want)
	}
	if got, want := pm.ChurnLimitPerMinute, DefaultChurnLimitPerMinute; got != want {
		t.Errorf("ChurnLimitPerMinute = %d, want %d", got, want)
	}
}

func TestRotationEnabled(t *testing.T) {
	// Absent key defaults to true; only an explicit false disables
	// rotation.
	cfg, err := LoadAndValidate(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}
	if !cfg.RotationEnabled() {
		t.Error("RotationEnabled = false with rotation key absent, want true")
	}
	if cfg.Rotation.Enabled == nil || !*cfg.Rotation.Enabled {
		t.Error("applyDefaults did not materialize rotation.enabled = true")
	}

	cfg, err = LoadAndValidate(writeConfig(t, minimal+`
rotation:
  enabled: false
`))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}
	if cfg.RotationEnabled() {
		t.Error("RotationEnabled = true with explicit false, want false")
	}

	// Directly constructed configs (no defaults pass) also rotate.
	if !(&Config{}).RotationEnabled() {
		t.Error("zero-value Config should default to rotation enabled")
	}
}

func TestHotSize(t *testing.T) {
	cases := []struct {
		maxSubs int
		want    int
	}{
		{200, 20},
		{10, 1},
		{5, 1},
		{1, 1},
		{15, 2},
	}
	for _, tc := range cases {
		v := &VenueConfig{MaxSubs: tc.maxSubs}
		if got := v.HotSize(); got != tc.want {
			t.Errorf("HotSize(max_subs=%d) = %d, want %d", tc.maxSubs, got, tc.want)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			"no venue and no mock",
			`
storage:
  root: /tmp/x
`,
		},
		{
			"bad bucket minutes",
			`
storage:
  root: /tmp/x
  bucket_minutes: 90
mock:
  enabled: true
`,
		},
		{
			"negative min hours",
			`
storage:
  root: /tmp/x
venues:
  polymarket:
    enabled: true
    min_hours_until_close: -1
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadAndValidate(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CLOBWATCH_TEST_ROOT", "/var/data/books")
	cfg, err := LoadWithDefaults(writeConfig(t, `
storage:
  root: ${CLOBWATCH_TEST_ROOT}
mock:
  enabled: true
`))
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if got, want := cfg.Storage.Root, "/var/data/books"; got != want {
		t.Errorf("Root = %q, want %q", got, want)
	}
}

func TestEnabledVenues(t *testing.T) {
	cfg := &Config{Venues: map[string]*VenueConfig{
		"polymarket": {Enabled: true},
		"kalshi":     {Enabled: false},
		"other":      {Enabled: true},
	}}
	got := cfg.EnabledVenues()
	if len(got) != 2 || got[0] != "other" || got[1] != "polymarket" {
		t.Errorf("EnabledVenues = %v, want [other polymarket]", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load on missing file returned nil error")
	}
}
