// Package config defines the shape of the agent's static configuration tree.
//
// Loading this tree from a file or flags is the job of an external
// collaborator (CLI parsing and on-disk config loading are out of scope for
// the monitor core); this package only defines the struct shape, sane
// defaults, and field-level validation so the core always runs against a
// well-formed Config.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration tree for the agent core.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Bus       BusConfig       `yaml:"bus"`
	Poller    PollerConfig    `yaml:"poller"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Alert     AlertConfig     `yaml:"alert"`
	Builtin   BuiltinConfig   `yaml:"builtin"`
	Diag      DiagConfig      `yaml:"diag"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HostConfig describes how this agent identifies itself to the control plane.
type HostConfig struct {
	Hostname        string `yaml:"hostname" validate:"required"`
	RemoteHost      string `yaml:"remote_host" validate:"required"`
	CABundlePath    string `yaml:"ca_bundle_path"`
	DisableTLSCheck bool   `yaml:"disable_tls_verification"`
}

// BusConfig tunes the AMQP message bus client.
type BusConfig struct {
	AMQPPort        int `yaml:"amqp_port" validate:"required"`
	PingIntervalSec int `yaml:"ping_interval_sec" validate:"min=1"`
	MaxBackoffTries int `yaml:"max_backoff_tries" validate:"min=1,max=20"`
	DrainTimeoutMS  int `yaml:"drain_timeout_ms" validate:"min=1"`
	ProbeTimeoutMS  int `yaml:"probe_timeout_ms" validate:"min=1"`
	ProbeIntervalS  int `yaml:"probe_interval_sec" validate:"min=1"`
	ProbeURL        string `yaml:"probe_url"`
}

// PingInterval returns the keepalive interval as a duration.
func (b BusConfig) PingInterval() time.Duration {
	return time.Duration(b.PingIntervalSec) * time.Second
}

// DrainTimeout returns the AMQP drain poll timeout as a duration.
func (b BusConfig) DrainTimeout() time.Duration {
	return time.Duration(b.DrainTimeoutMS) * time.Millisecond
}

// ProbeTimeout returns the reachability probe timeout as a duration.
func (b BusConfig) ProbeTimeout() time.Duration {
	return time.Duration(b.ProbeTimeoutMS) * time.Millisecond
}

// ProbeInterval returns the delay between reachability probe attempts.
func (b BusConfig) ProbeInterval() time.Duration {
	return time.Duration(b.ProbeIntervalS) * time.Second
}

// PollerConfig bounds the worker pool used for blocking monitor operations.
type PollerConfig struct {
	CollectWorkers int `yaml:"collect_workers" validate:"min=1"`
	CollectTimeoutMS int `yaml:"collect_timeout_ms" validate:"min=1"`
}

// CollectTimeout returns the per-collect timeout as a duration.
func (p PollerConfig) CollectTimeout() time.Duration {
	return time.Duration(p.CollectTimeoutMS) * time.Millisecond
}

// DiscoveryConfig points the loader at the external monitor directory and
// supplies the fallbacks applied to a .mon file that omits its own
// poll/aggregation interval (spec.md §4.5).
type DiscoveryConfig struct {
	ExternalMonitorDir         string `yaml:"external_monitor_dir"`
	ScanIntervalSeconds        int    `yaml:"scan_interval_seconds" validate:"min=0"`
	DefaultPollIntervalSeconds int    `yaml:"default_poll_interval_seconds" validate:"min=1"`
	DefaultAggregationIntervalSeconds int `yaml:"default_aggregation_interval_seconds" validate:"min=1"`
}

// DefaultPollInterval returns the external-monitor poll interval fallback.
func (d DiscoveryConfig) DefaultPollInterval() time.Duration {
	return time.Duration(d.DefaultPollIntervalSeconds) * time.Second
}

// DefaultAggregationInterval returns the external-monitor aggregation
// interval fallback.
func (d DiscoveryConfig) DefaultAggregationInterval() time.Duration {
	return time.Duration(d.DefaultAggregationIntervalSeconds) * time.Second
}

// AlertConfig carries agent-wide defaults applied when a monitor descriptor
// omits the corresponding field.
type AlertConfig struct {
	DefaultImportance    int `yaml:"default_importance" validate:"min=1,max=10"`
	DefaultFlopThreshold int `yaml:"default_flop_threshold" validate:"min=1"`
	RepeatBackoffSeconds int `yaml:"repeat_backoff_seconds" validate:"min=0"`
}

// RepeatBackoff returns the configured alert re-emission suppression window.
// No component of the agent reads it, so repeated alerts are not suppressed
// whatever its value.
func (a AlertConfig) RepeatBackoff() time.Duration {
	return time.Duration(a.RepeatBackoffSeconds) * time.Second
}

// BuiltinConfig selects and tunes the compiled-in monitor catalog
// (spec.md §4.5's "an example compiled set"; internal/builtin).
type BuiltinConfig struct {
	Disks          []string              `yaml:"disks"`
	EnableProcess  bool                  `yaml:"enable_process_monitor"`
	EnableService  bool                  `yaml:"enable_service_monitor"`
	ServiceFamily  string                `yaml:"service_family" validate:"omitempty,oneof=systemd sysv winrm"`
	WinRMService   WinRMServiceConfig    `yaml:"winrm_service"`
	EnableAuthLog  bool                  `yaml:"enable_auth_log_monitor"`
	AuthLogPath    string                `yaml:"auth_log_path"`
	RemoteAuthLog  RemoteAuthLogConfig   `yaml:"remote_auth_log"`
	NetworkDevices []NetworkDeviceConfig `yaml:"network_devices"`
}

// WinRMServiceConfig addresses the remote Windows host internal/builtin's
// ServiceMonitor polls when ServiceFamily is "winrm", instead of a local
// systemd/sysv probe. A bad or unreachable target degrades to the service
// monitor being skipped at startup (internal/builtin.Default), not a fatal
// config error, so this carries no required-field validation of its own.
type WinRMServiceConfig struct {
	Target   string `yaml:"target"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain"`
	UseHTTPS bool   `yaml:"use_https"`
}

// RemoteAuthLogConfig addresses a remote host's auth log tailed over SSH,
// used in place of the local file tail when Enabled.
type RemoteAuthLogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// NetworkDeviceConfig addresses one SNMP-polled network device.
type NetworkDeviceConfig struct {
	Target        string `yaml:"target" validate:"required"`
	Port          int    `yaml:"port"`
	Community     string `yaml:"community"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

// Timeout returns the configured SNMP probe timeout as a duration,
// defaulting to 2s when unset.
func (n NetworkDeviceConfig) Timeout() time.Duration {
	if n.TimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.TimeoutMS) * time.Millisecond
}

// DiagConfig configures the loopback-only diagnostics HTTP server.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns a Config populated with the agent's built-in defaults.
// Callers typically unmarshal a file over this before calling Validate.
func Default() *Config {
	return &Config{
		Host: HostConfig{},
		Bus: BusConfig{
			AMQPPort:        5671,
			PingIntervalSec: 120,
			MaxBackoffTries: 10,
			DrainTimeoutMS:  1000,
			ProbeTimeoutMS:  1000,
			ProbeIntervalS:  5,
			ProbeURL:        "http://198.41.189.27",
		},
		Poller: PollerConfig{
			CollectWorkers:   8,
			CollectTimeoutMS: 30000,
		},
		Discovery: DiscoveryConfig{
			ExternalMonitorDir:                "/etc/sentrymon/monitors.d",
			ScanIntervalSeconds:               0,
			DefaultPollIntervalSeconds:        30,
			DefaultAggregationIntervalSeconds: 1800,
		},
		Alert: AlertConfig{
			DefaultImportance:    5,
			DefaultFlopThreshold: 6,
			RepeatBackoffSeconds: 0,
		},
		Builtin: BuiltinConfig{
			Disks:         []string{"/"},
			EnableProcess: true,
			EnableService: true,
			ServiceFamily: "systemd",
			EnableAuthLog: true,
		},
		Diag: DiagConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8732",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

var validate = validator.New()

// Validate checks the configuration tree for required fields and ranges.
// It never performs I/O; loading and parsing are the caller's job.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Load parses data as YAML over the built-in defaults and validates the
// result. Reading the file itself is left to the caller; config loading
// from disk is out of scope for the monitor core (spec.md §1), so this is
// the thinnest useful entry point: unmarshal plus Validate, nothing more.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DumpExampleConfig writes a fully-populated, commented-free example
// configuration to w, in the shape operators use to seed their own files.
func DumpExampleConfig(w io.Writer) error {
	example := Default()
	example.Host = HostConfig{
		Hostname:   "agent-01.example.internal",
		RemoteHost: "control.example.com",
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(example)
}
