package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/masterzen/winrm"
	"golang.org/x/crypto/ssh"

	"github.com/nmslite/sentrymon/internal/monitor"
)

// CatalogConfig is the subset of config.Config the built-in catalog needs,
// expressed as plain fields so this package never imports internal/config
// (spec.md §9's capability-composition note applies here too: the catalog
// only needs values, not the whole config tree).
type CatalogConfig struct {
	Disks          []string
	EnableProcess  bool
	EnableService  bool
	ServiceFamily  string
	WinRMService   WinRMServiceConfig
	EnableAuthLog  bool
	AuthLogPath    string
	RemoteAuthLog  *RemoteAuthLogSpec
	NetworkDevices []NetworkDeviceSpec
}

// WinRMServiceConfig addresses the remote Windows host serviceProbeFor
// dials when ServiceFamily is "winrm". Port defaults to 5985 (or 5986 over
// HTTPS) when zero.
type WinRMServiceConfig struct {
	Target   string
	Port     int
	Username string
	Password string
	Domain   string
	UseHTTPS bool
}

// RemoteAuthLogSpec addresses a remote host's auth log tailed over SSH in
// place of the local file tail NewAuthLogMonitor otherwise does.
type RemoteAuthLogSpec struct {
	Addr     string
	User     string
	Password string
}

// NetworkDeviceSpec addresses one SNMP-polled network device.
type NetworkDeviceSpec struct {
	Target    string
	Port      int
	Community string
	Timeout   time.Duration
}

// Default builds the compiled-in monitor set this host should run: the
// resource monitor always runs, the others are opt-in/auto-detected.
// Monitors whose startup probe fails (e.g. no systemd on this host) are
// skipped with a logged warning rather than aborting the whole catalog,
// matching internal/loader's fail-closed-per-monitor behavior.
func Default(ctx context.Context, cfg CatalogConfig, logger *slog.Logger) ([]monitor.Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "builtin.catalog")

	var collectors []monitor.Collector

	resources, err := NewResourceMonitor(cfg.Disks)
	if err != nil {
		return nil, fmt.Errorf("resource monitor: %w", err)
	}
	collectors = append(collectors, resources)

	if cfg.EnableProcess {
		collectors = append(collectors, NewProcessMonitor())
	}

	if cfg.EnableService {
		probe, err := serviceProbeFor(cfg.ServiceFamily, cfg.WinRMService)
		if err != nil {
			logger.Warn("service monitor probe unavailable, skipping", "service_family", cfg.ServiceFamily, "error", err)
		} else {
			svc := NewServiceMonitor(probe)
			if err := svc.Prime(ctx); err != nil {
				logger.Warn("service monitor unavailable on this host, skipping", "error", err)
			} else {
				collectors = append(collectors, svc)
			}
		}
	}

	if cfg.EnableAuthLog {
		if cfg.RemoteAuthLog != nil {
			collectors = append(collectors, NewRemoteAuthLogMonitor(cfg.AuthLogPath, SSHTailConfig{
				Addr: cfg.RemoteAuthLog.Addr,
				ClientConfig: &ssh.ClientConfig{
					User:            cfg.RemoteAuthLog.User,
					Auth:            []ssh.AuthMethod{ssh.Password(cfg.RemoteAuthLog.Password)},
					HostKeyCallback: ssh.InsecureIgnoreHostKey(),
					Timeout:         5 * time.Second,
				},
			}))
		} else {
			collectors = append(collectors, NewAuthLogMonitor(cfg.AuthLogPath))
		}
	}

	for _, dev := range cfg.NetworkDevices {
		collectors = append(collectors, NewNetworkDeviceMonitor(dev.Target, dev.Port, dev.Community, dev.Timeout))
	}

	return collectors, nil
}

// serviceProbeFor picks the service-manager probe for family: "sysv" shells
// out to `service --status-all`, "winrm" dials cfg's remote Windows host
// and polls it over WinRM, anything else (including the unset default)
// uses systemd.
func serviceProbeFor(family string, cfg WinRMServiceConfig) (ServiceProbe, error) {
	switch family {
	case "sysv":
		return NewSysvProbe(), nil
	case "winrm":
		client, err := dialWinRM(cfg)
		if err != nil {
			return nil, fmt.Errorf("dial winrm service target %s: %w", cfg.Target, err)
		}
		return NewWinRMProbe(client), nil
	default:
		return NewSystemdProbe(), nil
	}
}

// dialWinRM opens a WinRM connection the same way the windows-winrm
// get_data plugin does (Basic auth without a domain, NTLM with one),
// trusting whatever certificate the endpoint presents since it's reached
// only over a management network, not the public internet.
func dialWinRM(cfg WinRMServiceConfig) (*winrm.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 5985
		if cfg.UseHTTPS {
			port = 5986
		}
	}
	endpoint := winrm.NewEndpoint(cfg.Target, port, cfg.UseHTTPS, true, nil, nil, nil, 30*time.Second)

	if cfg.Domain != "" {
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
		return winrm.NewClientWithParameters(endpoint, fmt.Sprintf(`%s\%s`, cfg.Domain, cfg.Username), cfg.Password, params)
	}
	return winrm.NewClient(endpoint, cfg.Username, cfg.Password)
}
