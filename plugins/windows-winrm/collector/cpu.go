package collector

import (
	"encoding/json"
	"fmt"

	"github.com/nmslite/plugins/windows-winrm/models"
	"github.com/nmslite/plugins/windows-winrm/winrm"
)

// coreUsage is the WMI shape for one logical processor's counter.
type coreUsage struct {
	Name                 string `json:"Name"`
	PercentProcessorTime uint64 `json:"PercentProcessorTime"`
}

// CollectCPU queries Win32_PerfFormattedData_PerfOS_Processor, averages
// every core's utilization (excluding the "_Total" aggregate row WMI
// already reports), and returns the result as a single host.cpu metric
// already expressed as a percent (ValTotal fixed at 100, so
// models.Metric.Percent() is a no-op identity on the way out — the
// averaging happens here, not at the get_data caller).
func CollectCPU(client *winrm.Client) (models.Metric, error) {
	script := `Get-WmiObject Win32_PerfFormattedData_PerfOS_Processor | Where-Object { $_.Name -ne '_Total' } | Select-Object Name, PercentProcessorTime | ConvertTo-Json -Compress`

	output, err := client.RunPowerShell(script)
	if err != nil {
		return models.Metric{}, fmt.Errorf("collect cpu metrics: %w", err)
	}
	if output == "" {
		return models.Metric{}, fmt.Errorf("no cpu data returned")
	}

	cores, err := decodeOneOrMany[coreUsage](output)
	if err != nil {
		return models.Metric{}, fmt.Errorf("parse cpu data: %w, raw output: %s", err, output)
	}
	if len(cores) == 0 {
		return models.Metric{}, fmt.Errorf("no cpu cores reported")
	}

	var sum float64
	for _, core := range cores {
		sum += float64(core.PercentProcessorTime)
	}

	return models.Metric{
		MetricGroup: "host.cpu",
		Tags:        map[string]string{"cores": fmt.Sprintf("%d", len(cores))},
		ValUsed:     sum / float64(len(cores)),
		ValTotal:    models.Float64Ptr(100),
	}, nil
}

// decodeOneOrMany unmarshals a PowerShell ConvertTo-Json result that WMI
// renders as a bare object instead of a one-element array when exactly one
// row matches the query.
func decodeOneOrMany[T any](output string) ([]T, error) {
	var list []T
	if err := json.Unmarshal([]byte(output), &list); err == nil {
		return list, nil
	}
	var single T
	if err := json.Unmarshal([]byte(output), &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}
