package domain

const (
	ServiceStateActive       = "active"
	ServiceStateInactive     = "inactive"
	ServiceStateFailed       = "failed"
	ServiceStateActivating   = "activating"
	ServiceStateDeactivating = "deactivating"
	ServiceStateUnknown      = "unknown"
)

// DiskInfo is one mount point's usage as reported by an agent.
type DiskInfo struct {
	Mount      string  `json:"mount"`
	UsedBytes  int64   `json:"used_bytes"`
	TotalBytes int64   `json:"total_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

// GPUInfo is one card's stats. Fields a card failed to report stay nil
// and are ignored by aggregation, never coerced to zero.
type GPUInfo struct {
	Index        int      `json:"index"`
	Name         string   `json:"name,omitempty"`
	UtilPct      *float64 `json:"util_pct"`
	MemUsedMB    *int64   `json:"mem_used_mb"`
	MemTotalMB   *int64   `json:"mem_total_mb"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
}

// ServiceInfo is one systemd unit's state as reported by an agent.
type ServiceInfo struct {
	Name        string `json:"name"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
}

// Snapshot is a point-in-time measurement produced by an agent. Any
// scraper that failed contributes a nil or empty section; a snapshot is
// never wholly absent because of one scraper.
type Snapshot struct {
	NodeID   string        `json:"node_id"`
	TS       string        `json:"ts"`
	CPUPct   *float64      `json:"cpu_pct"`
	Disks    []DiskInfo    `json:"disks"`
	GPUs     []GPUInfo     `json:"gpus"`
	Services []ServiceInfo `json:"services"`
}

// FailedServiceCount counts units currently in the failed state.
func (s *Snapshot) FailedServiceCount() int {
	n := 0
	for _, svc := range s.Services {
		if svc.ActiveState == ServiceStateFailed {
			n++
		}
	}
	return n
}

// LatestSnapshot is the aggregator's derived current view of one
// server, held in memory for the UI's short-cycle refresh.
type LatestSnapshot struct {
	TS                  string    `json:"ts"`
	Online              bool      `json:"online"`
	CPUPct              *float64  `json:"cpu_pct"`
	DiskUsedPct         *float64  `json:"disk_used_pct"`
	DiskUsedBytes       *int64    `json:"disk_used_bytes"`
	DiskTotalBytes      *int64    `json:"disk_total_bytes"`
	GPUCount            int       `json:"gpu_count"`
	GPUUtilPct          *float64  `json:"gpu_util_pct"`
	GPUUtilPctAvg       *float64  `json:"gpu_util_pct_avg"`
	GPUMemUsedMB        *int64    `json:"gpu_mem_used_mb"`
	GPUMemTotalMB       *int64    `json:"gpu_mem_total_mb"`
	GPUs                []GPUInfo `json:"gpus,omitempty"`
	ServicesFailedCount int       `json:"services_failed_count"`
}

// BufferEntry is the raw per-sample slice of a snapshot the rollup
// engine aggregates over one hour.
type BufferEntry struct {
	TS             string
	CPUPct         *float64
	DiskUsedPct    *float64
	DiskUsedBytes  *int64
	DiskTotalBytes *int64
	GPUUtilPct     *float64
	GPUMemUsedMB   *int64
	GPUMemTotalMB  *int64
}

// HourlySample is one rollup row covering exactly one UTC hour for one
// server. ServerName is joined on read only.
type HourlySample struct {
	ID             int64    `json:"id"`
	ServerID       int64    `json:"server_id"`
	ServerName     string   `json:"server_name,omitempty"`
	TS             string   `json:"ts"`
	CPUPctAvg      *float64 `json:"cpu_pct_avg"`
	CPUPctMax      *float64 `json:"cpu_pct_max"`
	DiskUsedPct    *float64 `json:"disk_used_pct"`
	DiskUsedBytes  *int64   `json:"disk_used_bytes"`
	DiskTotalBytes *int64   `json:"disk_total_bytes"`
	GPUUtilPctAvg  *float64 `json:"gpu_util_pct_avg"`
	GPUUtilPctMax  *float64 `json:"gpu_util_pct_max"`
	GPUMemUsedMB   *int64   `json:"gpu_mem_used_mb"`
	GPUMemTotalMB  *int64   `json:"gpu_mem_total_mb"`
}

// TimeseriesPoint is one (ts, value) pair from the hourly store.
type TimeseriesPoint struct {
	TS    string   `json:"ts"`
	Value *float64 `json:"value"`
}

// ServiceCatalogItem is one discoverable systemd unit on an agent.
type ServiceCatalogItem struct {
	Name        string `json:"name"`
	ActiveState string `json:"active_state"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}
