package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	FlowCache FlowCacheConfig `yaml:"flow_cache"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Upload    UploadConfig    `yaml:"upload"`
}

// InputConfig selects the packet source: a live TZSP capture listener or
// replay from a pre-recorded pcap file.
type InputConfig struct {
	// Mode is "tzsp" (default) or "pcap".
	Mode       string `yaml:"mode"`
	ListenAddr string `yaml:"listen_addr"`
	BufferSize int    `yaml:"buffer_size"`
	PCAPFile   string `yaml:"pcap_file"`
}

// FlowCacheConfig carries the flow cache's timing/feature configuration
// (spec.md §4.6, §6).
type FlowCacheConfig struct {
	// HashMode is "exact" or "near" (§4.1, §6 flow_key_match_method).
	HashMode string `yaml:"hash_mode"`
	Bidir    bool   `yaml:"bidir"`

	InactiveWindowSeconds int `yaml:"inactive_window_seconds"`
	ActiveExtraSeconds    int `yaml:"active_extra_seconds"`

	IncludeZeroes    bool `yaml:"include_zeroes"`
	ByteDistribution bool `yaml:"byte_distribution"`
	ReportEntropy    bool `yaml:"report_entropy"`
	ReportWHT        bool `yaml:"report_wht"`
	ReportIDP        bool `yaml:"report_idp"`
	ReportHD         bool `yaml:"report_hd"`
	ReportDNS        bool `yaml:"report_dns"`
	IncludeTLS       bool `yaml:"include_tls"`
	IncludeClassifier bool `yaml:"include_classifier"`
	IncludeOS        bool `yaml:"include_os"`

	NumSubnets int `yaml:"num_subnets"`

	// StatsIntervalSeconds drives the periodic reporter of §4.8.
	StatsIntervalSeconds int `yaml:"stats_interval_seconds"`
	// SweepIntervalSeconds drives the cooperative expiration sweeper.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// InactiveWindow returns the configured inactive window as a Duration.
func (f FlowCacheConfig) InactiveWindow() time.Duration {
	return time.Duration(f.InactiveWindowSeconds) * time.Second
}

// ActiveExtra returns the configured active extra as a Duration.
func (f FlowCacheConfig) ActiveExtra() time.Duration {
	return time.Duration(f.ActiveExtraSeconds) * time.Second
}

// OutputConfig contains all output mode settings.
type OutputConfig struct {
	File    FileOutputConfig    `yaml:"file"`
	PCAP    PCAPOutputConfig    `yaml:"pcap"`
	NetFlow NetFlowOutputConfig `yaml:"netflow"`
	Webhook WebhookOutputConfig `yaml:"webhook"`
}

// FileOutputConfig contains the flow-record ndjson output settings.
type FileOutputConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OutputFile     string `yaml:"output_file"`
	Format         string `yaml:"format"`
	RecordsPerFile int    `yaml:"records_per_file"`
}

// PCAPOutputConfig contains PCAP capture-replay/record output settings.
type PCAPOutputConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// NetFlowOutputConfig contains NetFlow v5 export settings.
type NetFlowOutputConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CollectorAddr string `yaml:"collector_addr"`
	Version       int    `yaml:"version"`
}

// WebhookFilterConfig contains flow-record forwarding filter criteria,
// matched against the five-tuple of each emitted record (§6 contracts;
// adapted from the teacher's packet-level QingPing filter).
type WebhookFilterConfig struct {
	SrcIP    string `yaml:"src_ip"`
	DstIP    string `yaml:"dst_ip"`
	DstPort  uint16 `yaml:"dst_port"`
	Protocol string `yaml:"protocol"` // tcp, udp, icmp
}

// WebhookOutputConfig contains upstream flow-record JSON forwarding
// settings.
type WebhookOutputConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Filter           WebhookFilterConfig `yaml:"filter"`
	StrictJSON       bool                `yaml:"strict_json"`
	UpstreamURL      string              `yaml:"upstream_url"`
	IgnoreSSL        bool                `yaml:"ignore_ssl"`
	IgnoreHTTPErrors bool                `yaml:"ignore_http_errors"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleLevel  string `yaml:"console_level"`
	ConsoleFormat string `yaml:"console_format"`
}

// UploadConfig drives the rotated-output-file upload subprocess (§5).
type UploadConfig struct {
	Enabled   bool   `yaml:"enabled"`
	UploadKey string `yaml:"upload_key"`
}

// Load reads and parses the configuration file, filling in defaults for
// zero-valued fields exactly as the teacher does.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Input.Mode == "" {
		cfg.Input.Mode = "tzsp"
	}
	if cfg.Input.BufferSize == 0 {
		cfg.Input.BufferSize = 65536
	}

	if cfg.FlowCache.HashMode == "" {
		cfg.FlowCache.HashMode = "exact"
	}
	if cfg.FlowCache.InactiveWindowSeconds == 0 {
		cfg.FlowCache.InactiveWindowSeconds = 10
	}
	if cfg.FlowCache.ActiveExtraSeconds == 0 {
		cfg.FlowCache.ActiveExtraSeconds = 20
	}
	if cfg.FlowCache.StatsIntervalSeconds == 0 {
		cfg.FlowCache.StatsIntervalSeconds = 30
	}
	if cfg.FlowCache.SweepIntervalSeconds == 0 {
		cfg.FlowCache.SweepIntervalSeconds = 5
	}

	if cfg.Output.File.RecordsPerFile == 0 {
		cfg.Output.File.RecordsPerFile = 10000
	}
	if cfg.Output.NetFlow.Version == 0 {
		cfg.Output.NetFlow.Version = 5
	}
}
