package collector

import (
	"fmt"
	"log"

	"github.com/nmslite/plugins/windows-winrm/winrm"
)

// Collect runs every metric collector against client and flattens the
// result directly into the source->reading object the agent's external
// monitor loader expects from a get_data command (internal/loader's
// ExternalMonitor.Collect parses this exact shape). Partial success: one
// WMI query failing logs a warning and is simply absent from the result
// rather than aborting the whole poll.
func Collect(client *winrm.Client) (map[string]float64, error) {
	data := make(map[string]float64)
	var failures []string

	if cpu, err := CollectCPU(client); err != nil {
		log.Printf("[WARN] cpu collection failed for %s: %v", client.Target(), err)
		failures = append(failures, fmt.Sprintf("cpu: %v", err))
	} else {
		data["cpu_percent"] = cpu.Percent()
	}

	if mem, err := CollectMemory(client); err != nil {
		log.Printf("[WARN] memory collection failed for %s: %v", client.Target(), err)
		failures = append(failures, fmt.Sprintf("memory: %v", err))
	} else {
		data["memory_percent"] = mem.Percent()
	}

	if disk, err := CollectDisk(client); err != nil {
		log.Printf("[WARN] disk collection failed for %s: %v", client.Target(), err)
		failures = append(failures, fmt.Sprintf("disk: %v", err))
	} else {
		data["disk_percent"] = disk.Percent()
	}

	if net, err := CollectNetwork(client); err != nil {
		log.Printf("[WARN] network collection failed for %s: %v", client.Target(), err)
		failures = append(failures, fmt.Sprintf("network: %v", err))
	} else {
		data["net_in_bytes_per_sec"] = net.In.ValUsed
		data["net_out_bytes_per_sec"] = net.Out.ValUsed
	}

	if len(data) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all collectors failed: %v", failures)
	}
	return data, nil
}
