package sysinfo

import (
	"context"
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/nmslite/sentrymon/internal/builtin"
)

// ProcessesProvider reports every running process, the default
// cross-platform provider for the "processes" refresh item.
type ProcessesProvider struct{}

func (ProcessesProvider) Pull(ctx context.Context) (any, error) {
	return builtin.TopProcesses("", 0)
}

// NetworkProvider reports per-interface IO counters, the default
// cross-platform provider for the "network" refresh item.
type NetworkProvider struct{}

// NetworkInterfaceInfo summarizes one interface's counters.
type NetworkInterfaceInfo struct {
	Name      string `json:"name"`
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

func (NetworkProvider) Pull(ctx context.Context) (any, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("network io counters: %w", err)
	}
	out := make([]NetworkInterfaceInfo, 0, len(counters))
	for _, c := range counters {
		out = append(out, NetworkInterfaceInfo{Name: c.Name, BytesSent: c.BytesSent, BytesRecv: c.BytesRecv})
	}
	return out, nil
}

// RegisterDefaults wires the two default providers into registry under
// their spec.md §6 item names.
func RegisterDefaults(registry *Registry) {
	registry.Register("processes", ProcessesProvider{})
	registry.Register("network", NetworkProvider{})
}
