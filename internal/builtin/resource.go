// Package builtin holds the agent's compiled-in monitor catalog: resource
// usage, process resource usage, service status, an authentication log
// tail, and a network interface counter monitor over SNMP. Each type
// satisfies monitor.Collector, and some additionally satisfy
// monitor.ProcessSnapshotCapable / monitor.ExtraAlertDataCapable.
//
// Translated from the Python sources in monitors/resources.py,
// monitors/processes.py, monitors/systemd_service_status.py, and
// monitors/auth_log.py: same source sets, same extra-alert-data shape,
// reimplemented against gopsutil instead of psutil.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/nmslite/sentrymon/internal/monitor"
)

// ResourceMonitorUID matches the fixed UID the Python resource monitor
// carried, so that agent upgrades preserve existing alert history keyed by
// monitor UID on the control plane.
const ResourceMonitorUID = "2c72af48-37ce-4ea1-9e53-9f081a6bcb6b"

// ResourceMonitor reports CPU, RAM, disk, and network throughput usage.
type ResourceMonitor struct {
	disks []string

	lastCheck  time.Time
	lastIOSent uint64
	lastIORecv uint64
}

// NewResourceMonitor builds a ResourceMonitor covering the given mounted
// disk paths (e.g. ["/", "/data"]).
func NewResourceMonitor(disks []string) (*ResourceMonitor, error) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil {
		return nil, fmt.Errorf("initial network io counters: %w", err)
	}
	var sent, recv uint64
	if len(counters) > 0 {
		sent, recv = counters[0].BytesSent, counters[0].BytesRecv
	}
	return &ResourceMonitor{
		disks:      disks,
		lastCheck:  time.Now(),
		lastIOSent: sent,
		lastIORecv: recv,
	}, nil
}

// Descriptor implements monitor.Collector.
func (r *ResourceMonitor) Descriptor() monitor.Descriptor {
	sources := []string{"ram", "cpu", "bytes_sent", "bytes_recv"}
	for _, d := range r.disks {
		sources = append(sources, diskSourceName(d))
	}
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	return monitor.Descriptor{
		UID:                 ResourceMonitorUID,
		Name:                "resources",
		Kind:                monitor.KindUsage,
		Sources:             set,
		SourceOrder:         sources,
		PollInterval:        10 * time.Second,
		AggregationInterval: 30 * time.Minute,
		FlopThreshold:       6,
		PullsProcesses:      true,
	}
}

func diskSourceName(path string) string {
	return "disk_" + path
}

// Collect implements monitor.Collector.
func (r *ResourceMonitor) Collect(ctx context.Context) (map[string]any, error) {
	now := time.Now()
	timeDiff := now.Sub(r.lastCheck).Seconds()
	if timeDiff <= 0 {
		timeDiff = 1
	}

	ioCounters, err := gopsnet.IOCounters(false)
	if err != nil {
		return nil, fmt.Errorf("network io counters: %w", err)
	}
	var sent, recv uint64
	if len(ioCounters) > 0 {
		sent, recv = ioCounters[0].BytesSent, ioCounters[0].BytesRecv
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}

	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	values := map[string]any{
		"bytes_sent": float64(sent-r.lastIOSent) / timeDiff,
		"bytes_recv": float64(recv-r.lastIORecv) / timeDiff,
		"ram":        vmem.UsedPercent,
		"cpu":        cpuPercent,
	}

	for _, path := range r.disks {
		usage, err := disk.Usage(path)
		if err != nil {
			continue
		}
		values[diskSourceName(path)] = usage.UsedPercent
	}

	r.lastCheck = now
	r.lastIOSent, r.lastIORecv = sent, recv

	return values, nil
}

// ExtraAlertData implements monitor.ExtraAlertDataCapable, attaching
// resource-specific context (total/used/free) to an emitted alert.
func (r *ResourceMonitor) ExtraAlertData(source string) (map[string]any, error) {
	switch {
	case source == "ram":
		vmem, err := mem.VirtualMemory()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"resource":     "RAM",
			"total_memory": vmem.Total,
			"used_memory":  vmem.Used,
			"free_memory":  vmem.Free,
		}, nil
	case source == "cpu":
		return map[string]any{"resource": "CPU"}, nil
	case len(source) > len("disk_") && source[:5] == "disk_":
		path := source[5:]
		usage, err := disk.Usage(path)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"disk":        path,
			"total_space": usage.Total,
			"used_space":  usage.Used,
			"free_space":  usage.Free,
		}, nil
	default:
		return map[string]any{}, nil
	}
}

// ProcessSnapshot implements monitor.ProcessSnapshotCapable, returning the
// current process list. A sort key can only be chosen by calling
// TopProcesses directly; ProcessSnapshot here returns the full unsorted
// list, since the kernel has no per-source context at snapshot time.
func (r *ResourceMonitor) ProcessSnapshot() (any, error) {
	return TopProcesses("", 10)
}

// ProcessInfo is a minimal process summary attached to resource alerts.
type ProcessInfo struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float32 `json:"mem_percent"`
}

// TopProcesses returns every running process, optionally sorted descending
// by "cpu_percent" or "memory_percent" with the result capped to limit
// entries, mirroring sysinfo.pull_processes(top=...).
func TopProcesses(sortBy string, limit int) ([]ProcessInfo, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, _ := p.Name()
		cpuPct, _ := p.CPUPercent()
		memPct, _ := p.MemoryPercent()
		out = append(out, ProcessInfo{PID: p.Pid, Name: name, CPUPercent: cpuPct, MemPercent: memPct})
	}

	switch sortBy {
	case "cpu_percent":
		sortProcessesBy(out, func(a, b ProcessInfo) bool { return a.CPUPercent > b.CPUPercent })
	case "memory_percent":
		sortProcessesBy(out, func(a, b ProcessInfo) bool { return a.MemPercent > b.MemPercent })
	}

	if sortBy != "" && limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortProcessesBy(procs []ProcessInfo, less func(a, b ProcessInfo) bool) {
	for i := 1; i < len(procs); i++ {
		for j := i; j > 0 && less(procs[j], procs[j-1]); j-- {
			procs[j], procs[j-1] = procs[j-1], procs[j]
		}
	}
}
