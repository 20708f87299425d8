package config

import (
	"fmt"
	"os"
	"time"

	"github.com/drewcsillag/notecove/pkg/compactor"
	"github.com/drewcsillag/notecove/pkg/gc"
	"github.com/drewcsillag/notecove/pkg/poller"
	"github.com/drewcsillag/notecove/pkg/wal"
	"gopkg.in/yaml.v3"
)

// Config is the effective engine configuration, in machine units.
type Config struct {
	// LogRotationSizeBytes is the append-log rotation threshold.
	LogRotationSizeBytes int64

	Compaction compactor.Config
	GC         gc.Config
	Polling    poller.Config

	// MetricsAddr exposes /metrics when non-empty.
	MetricsAddr string

	// AppVersion is stamped into presence records.
	AppVersion string
}

// Default returns the standard engine configuration.
func Default() Config {
	return Config{
		LogRotationSizeBytes: wal.DefaultRotationSize,
		Compaction:           compactor.DefaultConfig(),
		GC:                   gc.DefaultConfig(),
		Polling:              poller.DefaultConfig(),
	}
}

// Settings is the stored, human-unit form of the engine configuration.
// Nil fields mean "not set"; set fields layer over the defaults.
type Settings struct {
	LogRotationSizeMiB  *int64           `yaml:"logRotationSizeMiB"`
	SnapshotThreshold   *int             `yaml:"snapshotThreshold"`
	PackMinSize         *int             `yaml:"packMinSize"`
	PackAgingMinutes    *int             `yaml:"packAgingMinutes"`
	CompactionSeconds   *int             `yaml:"compactionSeconds"`
	SnapshotRetention   *int             `yaml:"snapshotRetention"`
	MinimumHistoryHours *int             `yaml:"minimumHistoryHours"`
	GCIntervalMinutes   *int             `yaml:"gcIntervalMinutes"`
	Polling             *poller.Settings `yaml:"polling"`
	MetricsAddr         *string          `yaml:"metricsAddr"`
}

// Load reads a YAML settings file and layers it (plus explicit overrides,
// last wins) over the defaults. A missing path yields pure defaults.
func Load(path string, overrides *Settings) (Config, error) {
	var stored *Settings
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read settings: %w", err)
		default:
			stored = &Settings{}
			if err := yaml.Unmarshal(data, stored); err != nil {
				return Config{}, fmt.Errorf("failed to parse settings: %w", err)
			}
		}
	}
	return Merge(stored, overrides), nil
}

// Merge layers settings over the defaults, field by field, later layers
// winning.
func Merge(layers ...*Settings) Config {
	cfg := Default()
	var pollingLayers []*poller.Settings
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.LogRotationSizeMiB != nil {
			cfg.LogRotationSizeBytes = *layer.LogRotationSizeMiB << 20
		}
		if layer.SnapshotThreshold != nil {
			cfg.Compaction.SnapshotThreshold = *layer.SnapshotThreshold
		}
		if layer.PackMinSize != nil {
			cfg.Compaction.PackMinSize = *layer.PackMinSize
		}
		if layer.PackAgingMinutes != nil {
			cfg.Compaction.AgingWindow = time.Duration(*layer.PackAgingMinutes) * time.Minute
		}
		if layer.CompactionSeconds != nil {
			cfg.Compaction.Interval = time.Duration(*layer.CompactionSeconds) * time.Second
		}
		if layer.SnapshotRetention != nil {
			cfg.GC.SnapshotRetentionCount = *layer.SnapshotRetention
		}
		if layer.MinimumHistoryHours != nil {
			cfg.GC.MinimumHistoryDuration = time.Duration(*layer.MinimumHistoryHours) * time.Hour
		}
		if layer.GCIntervalMinutes != nil {
			cfg.GC.Interval = time.Duration(*layer.GCIntervalMinutes) * time.Minute
		}
		if layer.MetricsAddr != nil {
			cfg.MetricsAddr = *layer.MetricsAddr
		}
		pollingLayers = append(pollingLayers, layer.Polling)
	}
	cfg.Polling = poller.MergeSettings(pollingLayers...)
	return cfg
}
