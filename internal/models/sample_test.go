package models

import (
	"math"
	"testing"
)

func TestMemoryUsagePercent(t *testing.T) {
	tests := []struct {
		name  string
		used  uint64
		total uint64
		want  float64
	}{
		{"zero total", 10, 0, 0},
		{"half", 50, 100, 50},
		{"full", 100, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sample{UsedMemory: tt.used, TotalMemory: tt.total}
			if got := s.MemoryUsagePercent(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MemoryUsagePercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiskUsagePercent(t *testing.T) {
	if got := DiskUsagePercent(DiskMetric{Total: 0}); got != 0 {
		t.Errorf("empty disk = %v, want 0", got)
	}
	if got := DiskUsagePercent(DiskMetric{Total: 200, Available: 50}); got != 75 {
		t.Errorf("disk usage = %v, want 75", got)
	}

	s := Sample{Disks: []DiskMetric{
		{Total: 100, Available: 90},
		{Total: 100, Available: 20},
	}}
	if got := s.MaxDiskUsagePercent(); got != 80 {
		t.Errorf("MaxDiskUsagePercent() = %v, want 80", got)
	}
}

func TestTopProcesses(t *testing.T) {
	s := Sample{Processes: []ProcessMetric{
		{PID: 1, Memory: 10, CPUUsage: 50},
		{PID: 2, Memory: 30, CPUUsage: 5},
		{PID: 3, Memory: 20, CPUUsage: 90},
	}}

	byMem := s.TopProcesses(2, ByMemory)
	if len(byMem) != 2 || byMem[0].PID != 2 || byMem[1].PID != 3 {
		t.Errorf("unexpected memory order: %+v", byMem)
	}

	byCPU := s.TopProcesses(0, ByCPU)
	if len(byCPU) != 3 || byCPU[0].PID != 3 || byCPU[2].PID != 2 {
		t.Errorf("unexpected cpu order: %+v", byCPU)
	}

	// Original slice is untouched
	if s.Processes[0].PID != 1 {
		t.Error("TopProcesses mutated the sample")
	}
}

func TestTotalNetwork(t *testing.T) {
	s := Sample{Networks: []NetworkMetric{
		{Interface: "eth0", RxBytes: 10, TxBytes: 1, ConnectionCount: 2},
		{Interface: "lo", RxBytes: 5, TxBytes: 5, ConnectionCount: 1},
	}}

	total := s.TotalNetwork()
	if total.RxBytes != 15 || total.TxBytes != 6 || total.ConnectionCount != 3 {
		t.Errorf("unexpected total: %+v", total)
	}
}
