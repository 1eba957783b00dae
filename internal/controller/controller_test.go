package controller

import (
	"testing"
	"time"

	"github.com/nmslite/sentrymon/internal/config"
)

func TestBuiltinCatalogConfigMapsBuiltinSection(t *testing.T) {
	cfg := config.Default()
	cfg.Builtin.Disks = []string{"/", "/data"}
	cfg.Builtin.EnableAuthLog = true
	cfg.Builtin.AuthLogPath = "/var/log/auth.log"
	cfg.Builtin.NetworkDevices = []config.NetworkDeviceConfig{
		{Target: "10.0.0.1", Port: 161, Community: "public", TimeoutMS: 500},
	}

	got := builtinCatalogConfig(cfg)

	if len(got.Disks) != 2 || got.Disks[1] != "/data" {
		t.Fatalf("disks not carried through: %v", got.Disks)
	}
	if !got.EnableAuthLog || got.AuthLogPath != "/var/log/auth.log" {
		t.Fatalf("auth log settings not carried through: %+v", got)
	}
	if len(got.NetworkDevices) != 1 {
		t.Fatalf("expected one network device, got %v", got.NetworkDevices)
	}
	dev := got.NetworkDevices[0]
	if dev.Target != "10.0.0.1" || dev.Port != 161 || dev.Community != "public" {
		t.Fatalf("network device fields not carried through: %+v", dev)
	}
	if dev.Timeout != 500*time.Millisecond {
		t.Fatalf("expected timeout to resolve via NetworkDeviceConfig.Timeout(), got %v", dev.Timeout)
	}
}

func TestBuiltinCatalogConfigDefaultsTimeoutWhenUnset(t *testing.T) {
	cfg := config.Default()
	cfg.Builtin.NetworkDevices = []config.NetworkDeviceConfig{
		{Target: "10.0.0.2", Port: 161},
	}

	got := builtinCatalogConfig(cfg)
	if got.NetworkDevices[0].Timeout != 2*time.Second {
		t.Fatalf("expected the 2s fallback timeout, got %v", got.NetworkDevices[0].Timeout)
	}
}

func TestBuiltinCatalogConfigMapsWinRMService(t *testing.T) {
	cfg := config.Default()
	cfg.Builtin.ServiceFamily = "winrm"
	cfg.Builtin.WinRMService = config.WinRMServiceConfig{
		Target:   "win-host.example.internal",
		Port:     5986,
		Username: "svc-monitor",
		Password: "hunter2",
		Domain:   "EXAMPLE",
		UseHTTPS: true,
	}

	got := builtinCatalogConfig(cfg)

	if got.ServiceFamily != "winrm" {
		t.Fatalf("expected service family winrm, got %q", got.ServiceFamily)
	}
	if got.WinRMService.Target != "win-host.example.internal" || got.WinRMService.Port != 5986 ||
		got.WinRMService.Username != "svc-monitor" || got.WinRMService.Domain != "EXAMPLE" || !got.WinRMService.UseHTTPS {
		t.Fatalf("winrm service settings not carried through: %+v", got.WinRMService)
	}
}

func TestBuiltinCatalogConfigRemoteAuthLogNilWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Builtin.RemoteAuthLog = config.RemoteAuthLogConfig{Addr: "10.0.0.5:22"}

	got := builtinCatalogConfig(cfg)
	if got.RemoteAuthLog != nil {
		t.Fatalf("expected nil RemoteAuthLog when Enabled is false, got %+v", got.RemoteAuthLog)
	}
}

func TestBuiltinCatalogConfigMapsRemoteAuthLogWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Builtin.RemoteAuthLog = config.RemoteAuthLogConfig{
		Enabled:  true,
		Addr:     "10.0.0.5:22",
		User:     "logreader",
		Password: "swordfish",
	}

	got := builtinCatalogConfig(cfg)
	if got.RemoteAuthLog == nil {
		t.Fatalf("expected non-nil RemoteAuthLog when Enabled is true")
	}
	if got.RemoteAuthLog.Addr != "10.0.0.5:22" || got.RemoteAuthLog.User != "logreader" || got.RemoteAuthLog.Password != "swordfish" {
		t.Fatalf("remote auth log fields not carried through: %+v", got.RemoteAuthLog)
	}
}
