package models

import (
	"sort"
	"time"
)

// Sample is one point-in-time snapshot of host resource usage.
// A Sample is treated as immutable once handed to the state store.
type Sample struct {
	Timestamp       time.Time       `json:"timestamp"`
	CPUUsage        float64         `json:"cpu_usage"` // percent, 0..100
	TotalMemory     uint64          `json:"total_memory"`
	UsedMemory      uint64          `json:"used_memory"`
	AvailableMemory uint64          `json:"available_memory"`
	LoadAverage     LoadAverage     `json:"load_average"`
	Processes       []ProcessMetric `json:"processes"`
	Disks           []DiskMetric    `json:"disks"`
	Networks        []NetworkMetric `json:"networks"`
	Temperatures    []Temperature   `json:"temperatures"`
}

// LoadAverage holds the 1, 5 and 15 minute system load.
type LoadAverage struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

// ProcessMetric describes a single running process.
type ProcessMetric struct {
	PID      int32   `json:"pid"`
	Name     string  `json:"name"`
	CPUUsage float64 `json:"cpu_usage"`
	Memory   uint64  `json:"memory"` // resident bytes
}

// DiskMetric describes one mounted filesystem.
type DiskMetric struct {
	Name       string `json:"name"`
	MountPoint string `json:"mount_point"`
	Total      uint64 `json:"total"`
	Available  uint64 `json:"available"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
}

// NetworkMetric holds cumulative counters for one interface.
type NetworkMetric struct {
	Interface       string `json:"interface"`
	RxBytes         uint64 `json:"rx_bytes"`
	TxBytes         uint64 `json:"tx_bytes"`
	ConnectionCount int    `json:"connection_count"`
}

// Temperature is one sensor reading in degrees Celsius.
type Temperature struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ProcessOrder selects the sort key for TopProcesses.
type ProcessOrder int

const (
	ByMemory ProcessOrder = iota
	ByCPU
)

// MemoryUsagePercent returns used/total memory as a percentage.
// It returns 0 when total memory is unknown.
func (s Sample) MemoryUsagePercent() float64 {
	if s.TotalMemory == 0 {
		return 0
	}
	return float64(s.UsedMemory) / float64(s.TotalMemory) * 100
}

// DiskUsagePercent returns the used share of d as a percentage.
func DiskUsagePercent(d DiskMetric) float64 {
	if d.Total == 0 {
		return 0
	}
	used := d.Total - min(d.Available, d.Total)
	return float64(used) / float64(d.Total) * 100
}

// MaxDiskUsagePercent returns the highest usage across all disks.
func (s Sample) MaxDiskUsagePercent() float64 {
	var highest float64
	for _, d := range s.Disks {
		highest = max(highest, DiskUsagePercent(d))
	}
	return highest
}

// MaxTemperature returns the hottest sensor reading, or 0 without sensors.
func (s Sample) MaxTemperature() float64 {
	var highest float64
	for _, t := range s.Temperatures {
		highest = max(highest, t.Value)
	}
	return highest
}

// TopProcesses returns a sorted copy of the n heaviest processes.
// n <= 0 returns every process.
func (s Sample) TopProcesses(n int, by ProcessOrder) []ProcessMetric {
	procs := make([]ProcessMetric, len(s.Processes))
	copy(procs, s.Processes)

	sort.SliceStable(procs, func(i, j int) bool {
		if by == ByCPU {
			return procs[i].CPUUsage > procs[j].CPUUsage
		}
		return procs[i].Memory > procs[j].Memory
	})

	if n > 0 && len(procs) > n {
		procs = procs[:n]
	}
	return procs
}

// TotalNetwork sums counters across all interfaces.
func (s Sample) TotalNetwork() NetworkMetric {
	total := NetworkMetric{Interface: "total"}
	for _, n := range s.Networks {
		total.RxBytes += n.RxBytes
		total.TxBytes += n.TxBytes
		total.ConnectionCount += n.ConnectionCount
	}
	return total
}
