// Package loader discovers the declarative external monitors configured in a
// directory (spec.md §4.5); the compiled built-in set comes from
// internal/builtin, which the controller calls separately. External monitors
// shell out to a configured command for each collection, in the spirit of
// the teacher's plugin executor (internal/pluginManager/executor.go) which
// ran a plugin binary over stdin/stdout; here the "plugin" is just a shell
// command and its contract is its stdout, not a binary protocol.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nmslite/sentrymon/internal/monitor"
)

var validate = validator.New()

// rawConfig is the on-disk shape of a .mon file, field names matching
// spec.md §4.5 exactly. Tags cover every rule validator.v10 can express as
// a single- or two-field constraint; the one rule it can't (usage requires
// sources OR default_type, gated on Type) stays hand-checked in build.
type rawConfig struct {
	UID         string   `json:"uid" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Type        string   `json:"type" validate:"required,oneof=usage status"`
	GetData     string   `json:"get_data" validate:"required"`
	ExtraData   string   `json:"extra_data,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	DefaultType string   `json:"default_type,omitempty"`
	States      []string `json:"states,omitempty" validate:"required_if=Type status"`
	Importance  int      `json:"importance,omitempty" validate:"omitempty,min=1,max=10"`
	Services    []string `json:"services,omitempty"`

	PollIntervalSeconds        int `json:"poll_interval_seconds,omitempty" validate:"omitempty,min=1"`
	AggregationIntervalSeconds int `json:"aggregation_interval_seconds,omitempty" validate:"omitempty,min=1"`
	FlopThreshold               int `json:"flop_threshold,omitempty" validate:"omitempty,min=1"`
}

// Defaults supplies agent-wide fallbacks applied when a .mon file omits the
// corresponding field, mirroring internal/config.AlertConfig /
// PollerConfig.
type Defaults struct {
	PollInterval        time.Duration
	AggregationInterval time.Duration
	Importance          int
	FlopThreshold        int
}

// ExternalMonitor is a monitor.Collector backed by a shell command. Collect
// runs GetData, parses its stdout as a JSON object, and returns it verbatim;
// the kernel's own source validation catches any mismatch against the
// descriptor's declared source set.
type ExternalMonitor struct {
	desc monitor.Descriptor

	getData   string
	extraData string
	services  []string

	logger *slog.Logger
}

// Descriptor implements monitor.Collector.
func (e *ExternalMonitor) Descriptor() monitor.Descriptor { return e.desc }

// Collect implements monitor.Collector by running GetData and parsing its
// stdout. A non-object result or a parse failure yields an empty datapoint
// and a logged warning rather than an error, per spec.md §4.5 — a
// misbehaving external monitor degrades to reporting nothing, it never
// takes down the polling loop.
func (e *ExternalMonitor) Collect(ctx context.Context) (map[string]any, error) {
	out, err := runShell(ctx, e.getData)
	if err != nil {
		e.logger.Warn("get_data command failed", "monitor", e.desc.Name, "error", err)
		return map[string]any{}, nil
	}

	values, ok := parseObject(out)
	if !ok {
		e.logger.Warn("get_data did not return a JSON object", "monitor", e.desc.Name, "output", truncate(out, 200))
		return map[string]any{}, nil
	}
	return values, nil
}

// ExtraAlertData implements monitor.ExtraAlertDataCapable when the config
// declares an extra_data command.
func (e *ExternalMonitor) ExtraAlertData(source string) (map[string]any, error) {
	if e.extraData == "" {
		return nil, nil
	}
	out, err := runShell(context.Background(), e.extraData)
	if err != nil {
		return nil, fmt.Errorf("extra_data command: %w", err)
	}
	values, ok := parseObject(out)
	if !ok {
		return nil, fmt.Errorf("extra_data did not return a JSON object")
	}
	return values, nil
}

func runShell(ctx context.Context, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func parseObject(raw []byte) (map[string]any, bool) {
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false
	}
	return values, true
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Discover reads every *.mon file in dir, validates it, and, when a config
// omits its source list, probes get_data once to populate it. Configs that
// fail validation are skipped with a logged warning — loader failures are
// fail-closed per monitor, not fatal to the agent (spec.md §4.5).
func Discover(ctx context.Context, dir string, defaults Defaults, logger *slog.Logger) ([]*ExternalMonitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loader")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read external monitor directory: %w", err)
	}

	var monitors []*ExternalMonitor
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mon") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read monitor config", "path", path, "error", err)
			continue
		}

		var cfg rawConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			logger.Warn("failed to parse monitor config", "path", path, "error", err)
			continue
		}

		em, err := build(ctx, cfg, defaults, logger)
		if err != nil {
			logger.Warn("monitor config failed validation", "path", path, "error", err)
			continue
		}
		monitors = append(monitors, em)
	}

	return monitors, nil
}

func build(ctx context.Context, cfg rawConfig, defaults Defaults, logger *slog.Logger) (*ExternalMonitor, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("monitor config validation failed: %w", err)
	}

	var kind monitor.Kind
	switch cfg.Type {
	case "usage":
		kind = monitor.KindUsage
	case "status":
		kind = monitor.KindStatus
	}

	sources := cfg.Sources
	if kind == monitor.KindUsage && len(sources) == 0 && cfg.DefaultType == "" {
		return nil, fmt.Errorf("usage monitor requires sources or default_type")
	}

	if len(sources) == 0 {
		discovered, err := probe(ctx, cfg.GetData)
		if err != nil {
			return nil, fmt.Errorf("initial probe to populate sources: %w", err)
		}
		sources = discovered
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("unable to determine any sources for monitor %q", cfg.Name)
	}

	// cfg.Importance is already range-checked by the struct tag above when
	// set; defaults.Importance comes from internal/config's own validated
	// AlertConfig, so neither side needs clamping here.
	importance := cfg.Importance
	if importance == 0 {
		importance = defaults.Importance
	}

	flopThreshold := cfg.FlopThreshold
	if flopThreshold <= 0 {
		flopThreshold = defaults.FlopThreshold
	}

	pollInterval := defaults.PollInterval
	if cfg.PollIntervalSeconds > 0 {
		pollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	aggregationInterval := defaults.AggregationInterval
	if cfg.AggregationIntervalSeconds > 0 {
		aggregationInterval = time.Duration(cfg.AggregationIntervalSeconds) * time.Second
	}

	sourceSet := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		sourceSet[s] = struct{}{}
	}

	desc := monitor.Descriptor{
		UID:                 cfg.UID,
		Name:                cfg.Name,
		Kind:                kind,
		Sources:             sourceSet,
		SourceOrder:         sources,
		Importance:          importance,
		PollInterval:        pollInterval,
		AggregationInterval: aggregationInterval,
		FlopThreshold:       flopThreshold,
	}

	return &ExternalMonitor{
		desc:      desc,
		getData:   cfg.GetData,
		extraData: cfg.ExtraData,
		services:  cfg.Services,
		logger:    logger,
	}, nil
}

// probe runs get_data once during discovery to learn a monitor's source set
// when the config doesn't declare one explicitly.
func probe(ctx context.Context, getData string) ([]string, error) {
	out, err := runShell(ctx, getData)
	if err != nil {
		return nil, err
	}
	values, ok := parseObject(out)
	if !ok {
		return nil, fmt.Errorf("probe output is not a JSON object")
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}
