package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/nmslite/sentrymon/internal/monitor"
)

// ProcessMonitorUID matches the fixed UID carried by the Python process
// resource monitor.
const ProcessMonitorUID = "7e7ef560-9b88-49fd-b8f2-a7f46315614e"

// ProcessMonitor reports per-process CPU and RAM usage as two sources per
// running process (<name>_cpu, <name>_ram). The source set is necessarily
// dynamic — it changes as processes come and go — so unlike the other
// built-ins its Descriptor is refreshed on every poll rather than fixed at
// construction.
type ProcessMonitor struct {
	mu        sync.Mutex
	nameToPID map[string]int32
	sources   map[string]struct{}
	order     []string
}

// NewProcessMonitor constructs a ProcessMonitor with an empty source set;
// the first Collect populates it from whatever processes are running.
func NewProcessMonitor() *ProcessMonitor {
	return &ProcessMonitor{
		nameToPID: make(map[string]int32),
		sources:   make(map[string]struct{}),
	}
}

// Descriptor implements monitor.Collector. It reflects the source set as of
// the most recent Collect call.
func (p *ProcessMonitor) Descriptor() monitor.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	order := make([]string, len(p.order))
	copy(order, p.order)
	set := make(map[string]struct{}, len(p.sources))
	for k := range p.sources {
		set[k] = struct{}{}
	}
	return monitor.Descriptor{
		UID:                 ProcessMonitorUID,
		Name:                "processes",
		Kind:                monitor.KindUsage,
		Sources:             set,
		SourceOrder:         order,
		PollInterval:        30 * time.Second,
		AggregationInterval: 30 * time.Minute,
		FlopThreshold:       6,
	}
}

// Collect implements monitor.Collector.
func (p *ProcessMonitor) Collect(ctx context.Context) (map[string]any, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	values := make(map[string]any, len(procs)*2)
	nameToPID := make(map[string]int32, len(procs))
	sources := make(map[string]struct{}, len(procs)*2)
	order := make([]string, 0, len(procs)*2)

	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil || name == "" {
			continue
		}
		cpuPct, _ := proc.CPUPercent()
		memPct, _ := proc.MemoryPercent()

		cpuSource := name + "_cpu"
		ramSource := name + "_ram"
		values[cpuSource] = cpuPct
		values[ramSource] = float64(memPct)
		nameToPID[name] = proc.Pid

		for _, s := range [2]string{cpuSource, ramSource} {
			if _, exists := sources[s]; !exists {
				sources[s] = struct{}{}
				order = append(order, s)
			}
		}
	}

	p.mu.Lock()
	p.nameToPID = nameToPID
	p.sources = sources
	p.order = order
	p.mu.Unlock()

	return values, nil
}

// ExtraAlertData implements monitor.ExtraAlertDataCapable, resolving the
// alerting source (e.g. "nginx_cpu") back to its process and returning its
// current resource snapshot.
func (p *ProcessMonitor) ExtraAlertData(source string) (map[string]any, error) {
	name := strings.TrimSuffix(strings.TrimSuffix(source, "_cpu"), "_ram")

	p.mu.Lock()
	pid, ok := p.nameToPID[name]
	p.mu.Unlock()
	if !ok {
		return map[string]any{}, nil
	}

	proc, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return map[string]any{}, nil // process has since exited
	}
	createTime, _ := proc.CreateTime()
	status, _ := proc.Status()

	return map[string]any{
		"pid":         pid,
		"create_time": createTime,
		"status":      status,
	}, nil
}
