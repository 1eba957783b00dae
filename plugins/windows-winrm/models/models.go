package models

// Credentials holds authentication details for a WinRM connection, read
// from environment variables by main rather than a batch-task envelope:
// this binary is invoked as the get_data command of an external usage
// monitor (see the agent's internal/loader package), one process per poll.
type Credentials struct {
	Username string
	Password string
	Domain   string
	UseHTTPS bool
}

// Metric represents a single metric data point collected from the remote
// host.
type Metric struct {
	MetricGroup string            `json:"metric_group"`
	Tags        map[string]string `json:"tags"`
	ValUsed     float64           `json:"val_used"`
	ValTotal    *float64          `json:"val_total"` // Pointer allows JSON null for metrics without limits
}

// Float64Ptr creates a pointer to a float64 value.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Percent returns ValUsed/ValTotal*100, or 0 when ValTotal is unknown or zero.
func (m Metric) Percent() float64 {
	if m.ValTotal == nil || *m.ValTotal == 0 {
		return 0
	}
	return m.ValUsed / *m.ValTotal * 100
}
