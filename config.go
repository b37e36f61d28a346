package sampled

import "time"

// SamplerConfig holds the settable sampling parameters of one source. The
// sampler keeps the live config as an atomic immutable snapshot: writers copy
// and swap, the timing loop reads one pointer per tick, so a tick can never
// observe a half-written config.
type SamplerConfig struct {
	// Interval between ticks. Zero or negative means sample as fast as the
	// source allows.
	Interval time.Duration `mapstructure:"interval"`

	// Parameters holds source-specific named settings, validated by the
	// source before they are accepted.
	Parameters map[string]any `mapstructure:"parameters"`
}

// clone returns a deep copy, so the stored snapshot stays immutable.
func (c *SamplerConfig) clone() *SamplerConfig {
	out := &SamplerConfig{Interval: c.Interval}
	if c.Parameters != nil {
		out.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
