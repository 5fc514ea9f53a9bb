package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Codec    CodecConfig    `mapstructure:"codec"`
	Link     LinkConfig     `mapstructure:"link"`
	Web      WebConfig      `mapstructure:"web"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Capture  CaptureConfig  `mapstructure:"capture"`
}

// CodecConfig holds the transport channel codec settings
type CodecConfig struct {
	MaxIterations  int  `mapstructure:"max_iterations"`
	HarqProcesses  int  `mapstructure:"harq_processes"`
	Offload        bool `mapstructure:"offload"` // true decodes segments inline
	Workers        int  `mapstructure:"workers"`
	QueueDepth     int  `mapstructure:"queue_depth"`
	MaxRBs         int  `mapstructure:"max_rbs"`
	MaxLayers      int  `mapstructure:"max_layers"`
	TBSLBRMBytes   int  `mapstructure:"tbslbrm_bytes"` // 0 derives it from max_rbs/max_layers
	MCSTable256QAM bool `mapstructure:"mcs_table_256qam"`
	GraphCacheSize int  `mapstructure:"graph_cache_size"`
}

// LinkConfig holds the loopback link parameters
type LinkConfig struct {
	Listen      string  `mapstructure:"listen"` // UDP address for payload datagrams
	RNTI        int     `mapstructure:"rnti"`
	RBs         int     `mapstructure:"rbs"`
	Qm          int     `mapstructure:"qm"`
	Layers      int     `mapstructure:"layers"`
	TargetRate  int     `mapstructure:"target_rate"` // code rate x1024
	Symbols     int     `mapstructure:"symbols"`
	DMRSSymbols int     `mapstructure:"dmrs_symbols"`
	DMRSRE      int     `mapstructure:"dmrs_re"`
	SNRdB       float64 `mapstructure:"snr_db"`
	LLRScale    float64 `mapstructure:"llr_scale"`
	MaxRounds   int     `mapstructure:"max_rounds"`
	Seed        uint64  `mapstructure:"seed"`
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig holds the block log database settings
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CaptureConfig controls LLR dumps
type CaptureConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	OnNackOnly bool   `mapstructure:"on_nack_only"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/nr-codec")
	}

	viper.SetEnvPrefix("NRCODEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// no config file, defaults apply
		} else if os.IsNotExist(err) {
			// explicit file missing, defaults apply
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Codec defaults
	viper.SetDefault("codec.max_iterations", 5)
	viper.SetDefault("codec.harq_processes", 16)
	viper.SetDefault("codec.offload", false)
	viper.SetDefault("codec.workers", runtime.NumCPU())
	viper.SetDefault("codec.queue_depth", 256)
	viper.SetDefault("codec.max_rbs", 273)
	viper.SetDefault("codec.max_layers", 4)
	viper.SetDefault("codec.tbslbrm_bytes", 0)
	viper.SetDefault("codec.mcs_table_256qam", false)
	viper.SetDefault("codec.graph_cache_size", 32)

	// Link defaults
	viper.SetDefault("link.listen", "127.0.0.1:38412")
	viper.SetDefault("link.rnti", 0x4601)
	viper.SetDefault("link.rbs", 51)
	viper.SetDefault("link.qm", 4)
	viper.SetDefault("link.layers", 1)
	viper.SetDefault("link.target_rate", 490)
	viper.SetDefault("link.symbols", 12)
	viper.SetDefault("link.dmrs_symbols", 1)
	viper.SetDefault("link.dmrs_re", 12)
	viper.SetDefault("link.snr_db", 10.0)
	viper.SetDefault("link.llr_scale", 4.0)
	viper.SetDefault("link.max_rounds", 4)
	viper.SetDefault("link.seed", 1)

	// Web defaults
	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic_prefix", "nr/codec")
	viper.SetDefault("mqtt.client_id", "nr-codec")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retained", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")

	// Database defaults
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.path", "nr-codec.db")

	// Capture defaults
	viper.SetDefault("capture.enabled", false)
	viper.SetDefault("capture.dir", "captures")
	viper.SetDefault("capture.on_nack_only", true)
}
