package collector

import (
	"fmt"

	"github.com/nmslite/plugins/windows-winrm/models"
	"github.com/nmslite/plugins/windows-winrm/winrm"
)

// volumeUsage is the WMI shape for one fixed logical disk.
type volumeUsage struct {
	DeviceID  string `json:"DeviceID"`
	Size      uint64 `json:"Size"`
	FreeSpace uint64 `json:"FreeSpace"`
}

// CollectDisk queries Win32_LogicalDisk (fixed drives only, DriveType=3)
// and reduces every volume's usage to the single worst-case host.storage
// reading, already expressed as a percent — the get_data caller wants one
// disk_percent number, not a per-mount breakdown.
func CollectDisk(client *winrm.Client) (models.Metric, error) {
	script := `Get-WmiObject Win32_LogicalDisk -Filter "DriveType=3" | Select-Object DeviceID, Size, FreeSpace | ConvertTo-Json -Compress`

	output, err := client.RunPowerShell(script)
	if err != nil {
		return models.Metric{}, fmt.Errorf("collect disk metrics: %w", err)
	}
	if output == "" {
		return models.Metric{}, fmt.Errorf("no disk data returned")
	}

	volumes, err := decodeOneOrMany[volumeUsage](output)
	if err != nil {
		return models.Metric{}, fmt.Errorf("parse disk data: %w, raw output: %s", err, output)
	}

	var worst volumeUsage
	var worstPercent float64
	seen := false
	for _, v := range volumes {
		if v.Size == 0 {
			continue // unmounted or reporting volume, nothing to alert on
		}
		used := float64(v.Size - v.FreeSpace)
		percent := used / float64(v.Size) * 100
		if !seen || percent > worstPercent {
			worst, worstPercent, seen = v, percent, true
		}
	}
	if !seen {
		return models.Metric{}, fmt.Errorf("no fixed volumes reported a usable size")
	}

	return models.Metric{
		MetricGroup: "host.storage",
		Tags:        map[string]string{"mount": worst.DeviceID},
		ValUsed:     worstPercent,
		ValTotal:    models.Float64Ptr(100),
	}, nil
}
