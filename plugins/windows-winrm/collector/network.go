package collector

import (
	"fmt"

	"github.com/nmslite/plugins/windows-winrm/models"
	"github.com/nmslite/plugins/windows-winrm/winrm"
)

// interfaceCounters is the WMI shape for one network interface's
// throughput counters.
type interfaceCounters struct {
	Name                string `json:"Name"`
	BytesReceivedPersec uint64 `json:"BytesReceivedPersec"`
	BytesSentPersec     uint64 `json:"BytesSentPersec"`
}

// NetworkTotals is the host-wide throughput the get_data caller reports:
// every interface's counters summed, not broken out per-NIC.
type NetworkTotals struct {
	In  models.Metric
	Out models.Metric
}

// CollectNetwork queries Win32_PerfFormattedData_Tcpip_NetworkInterface and
// sums received/sent bytes-per-second across every interface WMI reports.
func CollectNetwork(client *winrm.Client) (NetworkTotals, error) {
	script := `Get-WmiObject Win32_PerfFormattedData_Tcpip_NetworkInterface | Select-Object Name, BytesReceivedPersec, BytesSentPersec | ConvertTo-Json -Compress`

	output, err := client.RunPowerShell(script)
	if err != nil {
		return NetworkTotals{}, fmt.Errorf("collect network metrics: %w", err)
	}
	if output == "" {
		return NetworkTotals{}, fmt.Errorf("no network data returned")
	}

	interfaces, err := decodeOneOrMany[interfaceCounters](output)
	if err != nil {
		return NetworkTotals{}, fmt.Errorf("parse network data: %w, raw output: %s", err, output)
	}

	var in, out uint64
	for _, iface := range interfaces {
		in += iface.BytesReceivedPersec
		out += iface.BytesSentPersec
	}

	return NetworkTotals{
		In: models.Metric{
			MetricGroup: "net.interface",
			Tags:        map[string]string{"direction": "in", "interfaces": fmt.Sprintf("%d", len(interfaces))},
			ValUsed:     float64(in),
		},
		Out: models.Metric{
			MetricGroup: "net.interface",
			Tags:        map[string]string{"direction": "out", "interfaces": fmt.Sprintf("%d", len(interfaces))},
			ValUsed:     float64(out),
		},
	}, nil
}
