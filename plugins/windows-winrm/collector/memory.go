package collector

import (
	"encoding/json"
	"fmt"

	"github.com/nmslite/plugins/windows-winrm/models"
	"github.com/nmslite/plugins/windows-winrm/winrm"
)

// osMemory is the WMI shape for Win32_OperatingSystem's memory counters,
// reported in KB.
type osMemory struct {
	TotalVisibleMemorySize uint64 `json:"TotalVisibleMemorySize"`
	FreePhysicalMemory     uint64 `json:"FreePhysicalMemory"`
}

// CollectMemory queries Win32_OperatingSystem and returns host physical
// memory usage as a single host.memory percent reading.
func CollectMemory(client *winrm.Client) (models.Metric, error) {
	script := `Get-WmiObject Win32_OperatingSystem | Select-Object TotalVisibleMemorySize, FreePhysicalMemory | ConvertTo-Json -Compress`

	output, err := client.RunPowerShell(script)
	if err != nil {
		return models.Metric{}, fmt.Errorf("collect memory metrics: %w", err)
	}
	if output == "" {
		return models.Metric{}, fmt.Errorf("no memory data returned")
	}

	var mem osMemory
	if err := json.Unmarshal([]byte(output), &mem); err != nil {
		return models.Metric{}, fmt.Errorf("parse memory data: %w, raw output: %s", err, output)
	}
	if mem.TotalVisibleMemorySize == 0 {
		return models.Metric{}, fmt.Errorf("reported total memory is zero")
	}

	totalKB := float64(mem.TotalVisibleMemorySize)
	usedKB := totalKB - float64(mem.FreePhysicalMemory)

	return models.Metric{
		MetricGroup: "host.memory",
		Tags:        map[string]string{},
		ValUsed:     usedKB / totalKB * 100,
		ValTotal:    models.Float64Ptr(100),
	}, nil
}
