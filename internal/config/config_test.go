package config

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultConfigFailsValidationWithoutHost(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing host fields")
	}
}

func TestValidConfigPasses(t *testing.T) {
	cfg := Default()
	cfg.Host.Hostname = "agent-01"
	cfg.Host.RemoteHost = "control.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestDumpExampleConfigProducesParseableYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := DumpExampleConfig(&buf); err != nil {
		t.Fatalf("DumpExampleConfig: %v", err)
	}
	if !strings.Contains(buf.String(), "remote_host:") {
		t.Fatalf("expected dumped config to contain remote_host, got:\n%s", buf.String())
	}
}

func TestLoadParsesAndValidates(t *testing.T) {
	yaml := []byte("host:\n  hostname: agent-01\n  remote_host: control.example.com\n")
	cfg, err := Load(yaml)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.Hostname != "agent-01" {
		t.Errorf("expected hostname override, got %q", cfg.Host.Hostname)
	}
	if cfg.Bus.AMQPPort != 5671 {
		t.Errorf("expected default AMQP port to survive the overlay, got %d", cfg.Bus.AMQPPort)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	if _, err := Load([]byte("bus:\n  amqp_port: 5671\n")); err == nil {
		t.Fatal("expected validation error for missing host fields")
	}
}

func TestDurationHelpers(t *testing.T) {
	b := BusConfig{PingIntervalSec: 120, DrainTimeoutMS: 1000, ProbeTimeoutMS: 500, ProbeIntervalS: 5}
	if b.PingInterval().Seconds() != 120 {
		t.Errorf("PingInterval: got %v", b.PingInterval())
	}
	if b.DrainTimeout().Milliseconds() != 1000 {
		t.Errorf("DrainTimeout: got %v", b.DrainTimeout())
	}
	if b.ProbeTimeout().Milliseconds() != 500 {
		t.Errorf("ProbeTimeout: got %v", b.ProbeTimeout())
	}
	if b.ProbeInterval().Seconds() != 5 {
		t.Errorf("ProbeInterval: got %v", b.ProbeInterval())
	}
}
