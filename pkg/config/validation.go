package config

import (
	"fmt"
	"strings"

	"github.com/dbehnke/nr-codec/pkg/segment"
)

var modulationOrders = map[int]bool{1: true, 2: true, 4: true, 6: true, 8: true}

// validate validates the configuration
func validate(cfg *Config) error {
	if err := validateCodec(&cfg.Codec); err != nil {
		return err
	}
	if err := validateLink(&cfg.Link, &cfg.Codec); err != nil {
		return err
	}

	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(cfg.Metrics.Prometheus.Path, "/") {
			return fmt.Errorf("metrics.prometheus.path must start with /")
		}
	}

	if cfg.Database.Enabled && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required when database is enabled")
	}

	if cfg.Capture.Enabled && cfg.Capture.Dir == "" {
		return fmt.Errorf("capture.dir is required when capture is enabled")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}

func validateCodec(c *CodecConfig) error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("codec.max_iterations must be positive")
	}
	if c.HarqProcesses <= 0 || c.HarqProcesses > 32 {
		return fmt.Errorf("codec.harq_processes must be between 1 and 32")
	}
	if c.MaxRBs <= 0 || c.MaxRBs > 273 {
		return fmt.Errorf("codec.max_rbs must be between 1 and 273")
	}
	if c.MaxLayers <= 0 || c.MaxLayers > 4 {
		return fmt.Errorf("codec.max_layers must be between 1 and 4")
	}
	if !c.Offload {
		if c.Workers <= 0 {
			return fmt.Errorf("codec.workers must be positive when offload is disabled")
		}
		if n := segment.Capacity(c.MaxRBs, c.MaxLayers); c.QueueDepth < n {
			return fmt.Errorf("codec.queue_depth must hold at least %d segments when offload is disabled", n)
		}
	}
	if c.TBSLBRMBytes < 0 {
		return fmt.Errorf("codec.tbslbrm_bytes must not be negative")
	}
	if c.GraphCacheSize <= 0 {
		return fmt.Errorf("codec.graph_cache_size must be positive")
	}
	return nil
}

func validateLink(l *LinkConfig, c *CodecConfig) error {
	if l.RNTI <= 0 || l.RNTI > 0xFFFF {
		return fmt.Errorf("link.rnti must be between 1 and 65535")
	}
	if l.RBs <= 0 || l.RBs > c.MaxRBs {
		return fmt.Errorf("link.rbs must be between 1 and codec.max_rbs (%d)", c.MaxRBs)
	}
	if !modulationOrders[l.Qm] {
		return fmt.Errorf("link.qm %d is not a supported modulation order", l.Qm)
	}
	if l.Layers <= 0 || l.Layers > c.MaxLayers {
		return fmt.Errorf("link.layers must be between 1 and codec.max_layers (%d)", c.MaxLayers)
	}
	if l.TargetRate <= 0 || l.TargetRate >= 1024 {
		return fmt.Errorf("link.target_rate must be between 1 and 1023")
	}
	if l.Symbols <= 0 || l.Symbols > 14 {
		return fmt.Errorf("link.symbols must be between 1 and 14")
	}
	if l.DMRSSymbols < 0 || l.DMRSSymbols >= l.Symbols {
		return fmt.Errorf("link.dmrs_symbols must leave at least one data symbol")
	}
	if l.DMRSRE < 0 || l.DMRSRE > 12 {
		return fmt.Errorf("link.dmrs_re must be between 0 and 12")
	}
	if l.LLRScale <= 0 {
		return fmt.Errorf("link.llr_scale must be positive")
	}
	if l.MaxRounds <= 0 || l.MaxRounds > 4 {
		return fmt.Errorf("link.max_rounds must be between 1 and 4")
	}
	return nil
}
