package builtin

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/nmslite/sentrymon/internal/monitor"
)

// ServiceMonitorUID matches the fixed UID carried by the Python systemd
// service status monitor; sysv and Windows variants reuse it since they
// are the same logical monitor on a different OS family.
const ServiceMonitorUID = "cfdf70a7-d007-4dd6-9840-b390fcb340e6"

// ServiceProbe lists services and their current state. systemdProbe and
// sysvProbe satisfy it by shelling out locally; winrmProbe satisfies it by
// querying a remote Windows host's service manager over WinRM.
type ServiceProbe interface {
	// List returns service name -> state ("active"/"inactive"/"failed" for
	// systemd, "running"/"stopped" for Windows — the probe's own States
	// method reports which vocabulary it uses).
	List(ctx context.Context) (map[string]string, error)
	States() []string
}

// ServiceMonitor is a status monitor over an injected ServiceProbe, so the
// same polling/alerting logic covers systemd, sysvinit, and Windows
// services without duplicating the StatusMonitor wiring per OS family.
type ServiceMonitor struct {
	probe  ServiceProbe
	primed *monitor.Descriptor
}

// NewServiceMonitor wraps probe in a monitor.Collector.
func NewServiceMonitor(probe ServiceProbe) *ServiceMonitor {
	return &ServiceMonitor{probe: probe}
}

// Descriptor implements monitor.Collector. Until Prime has run, the source
// set is empty, matching the Python monitor's __init__-time service
// enumeration; since a probe call requires I/O, Prime is meant to be
// called once at startup before registering the monitor with the kernel.
func (s *ServiceMonitor) Descriptor() monitor.Descriptor {
	if s.primed != nil {
		return *s.primed
	}
	return monitor.Descriptor{
		UID:                 ServiceMonitorUID,
		Name:                "services",
		Kind:                monitor.KindStatus,
		PollInterval:        30 * time.Second,
		AggregationInterval: 30 * time.Minute,
		FlopThreshold:       6,
	}
}

// Prime populates the descriptor's source set from an initial probe call,
// caching it so subsequent Descriptor calls no longer need the probe.
func (s *ServiceMonitor) Prime(ctx context.Context) error {
	services, err := s.probe.List(ctx)
	if err != nil {
		return fmt.Errorf("initial service probe: %w", err)
	}
	desc := s.Descriptor()
	desc.SourceOrder = make([]string, 0, len(services))
	desc.Sources = make(map[string]struct{}, len(services))
	for name := range services {
		desc.SourceOrder = append(desc.SourceOrder, name)
		desc.Sources[name] = struct{}{}
	}
	s.primed = &desc
	return nil
}

// Collect implements monitor.Collector.
func (s *ServiceMonitor) Collect(ctx context.Context) (map[string]any, error) {
	states, err := s.probe.List(ctx)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(states))
	for name, state := range states {
		values[name] = state
	}
	return values, nil
}

// systemdProbe lists services via `systemctl list-units`, translated
// line-for-line from the Python monitor's subprocess parsing.
type systemdProbe struct{}

func NewSystemdProbe() ServiceProbe { return systemdProbe{} }

func (systemdProbe) States() []string { return []string{"active", "inactive", "failed"} }

func (systemdProbe) List(ctx context.Context) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "list-units", "-t", "service", "--all", "--no-legend")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("systemctl list-units: %w", err)
	}

	services := make(map[string]string)
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		services[fields[0]] = fields[2]
	}
	return services, nil
}

// sysvProbe lists services via `service --status-all`, the sysvinit
// equivalent of systemd's list-units.
type sysvProbe struct{}

func NewSysvProbe() ServiceProbe { return sysvProbe{} }

func (sysvProbe) States() []string { return []string{"running", "stopped"} }

func (sysvProbe) List(ctx context.Context) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "service", "--status-all")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// service --status-all exits nonzero if any service is stopped; stdout
	// is still meaningful, so only a real execution failure is fatal here.
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("service --status-all: %w", err)
		}
	}

	services := make(map[string]string)
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		name := strings.TrimSpace(strings.TrimPrefix(line[strings.LastIndex(line, "]")+1:], " "))
		if name == "" {
			continue
		}
		if strings.Contains(line, "+") {
			services[name] = "running"
		} else {
			services[name] = "stopped"
		}
	}
	return services, nil
}

// winrmProbe lists Windows services on a remote host via WinRM, grounded
// on the teacher's plugins/windows-winrm collector: PowerShell over the
// wire instead of a local shell command.
type winrmProbe struct {
	client *winrm.Client
}

// NewWinRMProbe wraps an established WinRM client for remote service
// status polling.
func NewWinRMProbe(client *winrm.Client) ServiceProbe {
	return &winrmProbe{client: client}
}

func (*winrmProbe) States() []string { return []string{"running", "stopped"} }

func (p *winrmProbe) List(ctx context.Context) (map[string]string, error) {
	const script = `Get-Service | ForEach-Object { "$($_.Name)|$($_.Status)" }`
	var stdout, stderr bytes.Buffer
	exitCode, err := p.client.Run(winrm.Powershell(script), &stdout, &stderr)
	if err != nil {
		return nil, fmt.Errorf("winrm Get-Service: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("winrm Get-Service exited %d: %s", exitCode, stderr.String())
	}

	services := make(map[string]string)
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "|", 2)
		if len(parts) != 2 {
			continue
		}
		name, status := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if name == "" {
			continue
		}
		if status == "Running" {
			services[name] = "running"
		} else {
			services[name] = "stopped"
		}
	}
	return services, nil
}
