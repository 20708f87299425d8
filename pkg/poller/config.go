package poller

// Config is the dispatcher's effective configuration, in machine units.
type Config struct {
	// PollRatePerMinute is the sustained polling budget.
	PollRatePerMinute float64

	// HitRateMultiplier accelerates the rate by 1 + multiplier * hits
	// observed in the last second.
	HitRateMultiplier float64

	// MaxBurstPerSecond caps the accelerated rate and the bucket depth.
	MaxBurstPerSecond int

	// NormalPriorityReserve is the batch fraction reserved for
	// normal-priority entries.
	NormalPriorityReserve float64

	// RecentEditWindowMs is how long a recent-edit entry stays queued.
	RecentEditWindowMs int64

	// FullRepollIntervalMs is the configured full re-poll cadence. The
	// dispatcher carries it but does not schedule full re-polls itself;
	// full-repoll entries come from Upsert or from fast-path escalation.
	FullRepollIntervalMs int64

	// FastPathMaxDelayMs bounds how long a fast-path handoff may wait
	// before it is escalated to a full poll.
	FastPathMaxDelayMs int64
}

// DefaultConfig returns the standard polling budget.
func DefaultConfig() Config {
	return Config{
		PollRatePerMinute:     120,
		HitRateMultiplier:     0.25,
		MaxBurstPerSecond:     10,
		NormalPriorityReserve: 0.2,
		RecentEditWindowMs:    300_000,
		FullRepollIntervalMs:  1_800_000,
		FastPathMaxDelayMs:    60_000,
	}
}

// Settings is the stored, human-unit form of the polling configuration.
// Nil fields mean "not set".
type Settings struct {
	PollRatePerMinute       *float64 `yaml:"pollRatePerMinute" json:"pollRatePerMinute,omitempty"`
	HitRateMultiplier       *float64 `yaml:"hitRateMultiplier" json:"hitRateMultiplier,omitempty"`
	MaxBurstPerSecond       *int     `yaml:"maxBurstPerSecond" json:"maxBurstPerSecond,omitempty"`
	NormalPriorityReserve   *float64 `yaml:"normalPriorityReserve" json:"normalPriorityReserve,omitempty"`
	RecentEditWindowSeconds *int     `yaml:"recentEditWindowSeconds" json:"recentEditWindowSeconds,omitempty"`
	FullRepollMinutes       *int     `yaml:"fullRepollMinutes" json:"fullRepollMinutes,omitempty"`
	FastPathMaxDelaySeconds *int     `yaml:"fastPathMaxDelaySeconds" json:"fastPathMaxDelaySeconds,omitempty"`
}

// MergeSettings layers stored settings over the defaults, then explicit
// overrides over both. Later layers win field by field.
func MergeSettings(layers ...*Settings) Config {
	cfg := DefaultConfig()
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.PollRatePerMinute != nil {
			cfg.PollRatePerMinute = *layer.PollRatePerMinute
		}
		if layer.HitRateMultiplier != nil {
			cfg.HitRateMultiplier = *layer.HitRateMultiplier
		}
		if layer.MaxBurstPerSecond != nil {
			cfg.MaxBurstPerSecond = *layer.MaxBurstPerSecond
		}
		if layer.NormalPriorityReserve != nil {
			cfg.NormalPriorityReserve = *layer.NormalPriorityReserve
		}
		if layer.RecentEditWindowSeconds != nil {
			cfg.RecentEditWindowMs = int64(*layer.RecentEditWindowSeconds) * 1000
		}
		if layer.FullRepollMinutes != nil {
			cfg.FullRepollIntervalMs = int64(*layer.FullRepollMinutes) * 60_000
		}
		if layer.FastPathMaxDelaySeconds != nil {
			cfg.FastPathMaxDelayMs = int64(*layer.FastPathMaxDelaySeconds) * 1000
		}
	}
	return cfg
}
