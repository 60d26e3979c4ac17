package sampler

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"hostwatch/internal/models"
)

// GopsutilOptions toggles the slower subsystems.
type GopsutilOptions struct {
	Temperatures bool
	Connections  bool
}

// cpuPrimeWindow is how long the first CPU reading measures. Later readings
// cover the time since the previous call.
const cpuPrimeWindow = 200 * time.Millisecond

// GopsutilProvider reads host metrics through gopsutil.
type GopsutilProvider struct {
	opts      GopsutilOptions
	cpuPrimed atomic.Bool
}

// NewGopsutilProvider creates the default OS provider.
func NewGopsutilProvider(opts GopsutilOptions) *GopsutilProvider {
	return &GopsutilProvider{opts: opts}
}

// cpuInterval returns the measurement window for the next CPU reading.
func (p *GopsutilProvider) cpuInterval() time.Duration {
	if p.cpuPrimed.CompareAndSwap(false, true) {
		return cpuPrimeWindow
	}
	return 0
}

func (p *GopsutilProvider) CPUUsage(ctx context.Context) (float64, error) {
	// interval 0 compares against the previous call and never blocks. The
	// first call has no useful baseline, so it measures over a short window.
	percents, err := cpu.PercentWithContext(ctx, p.cpuInterval(), false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("no cpu reading")
	}
	return percents[0], nil
}

func (p *GopsutilProvider) Memory(ctx context.Context) (MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{Total: vm.Total, Used: vm.Used, Available: vm.Available}, nil
}

func (p *GopsutilProvider) Load(ctx context.Context) (models.LoadAverage, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return models.LoadAverage{}, err
	}
	return models.LoadAverage{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}, nil
}

func (p *GopsutilProvider) Processes(ctx context.Context) ([]models.ProcessMetric, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ProcessMetric, 0, len(procs))
	for _, proc := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Processes can exit between listing and inspection; skip those.
		memInfo, err := proc.MemoryInfoWithContext(ctx)
		if err != nil || memInfo == nil {
			continue
		}
		name, _ := proc.NameWithContext(ctx)
		cpuPercent, _ := proc.CPUPercentWithContext(ctx)

		out = append(out, models.ProcessMetric{
			PID:      proc.Pid,
			Name:     name,
			CPUUsage: cpuPercent,
			Memory:   memInfo.RSS,
		})
	}
	return out, nil
}

func (p *GopsutilProvider) Disks(ctx context.Context) ([]models.DiskMetric, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	// IO counters are optional; a failure only leaves the byte counts at 0.
	counters, _ := disk.IOCountersWithContext(ctx)

	out := make([]models.DiskMetric, 0, len(parts))
	for _, part := range parts {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}

		name := filepath.Base(part.Device)
		dm := models.DiskMetric{
			Name:       name,
			MountPoint: part.Mountpoint,
			Total:      usage.Total,
			Available:  usage.Free,
		}
		if io, ok := counters[name]; ok {
			dm.ReadBytes = io.ReadBytes
			dm.WriteBytes = io.WriteBytes
		}
		out = append(out, dm)
	}
	return out, nil
}

func (p *GopsutilProvider) Networks(ctx context.Context) ([]models.NetworkMetric, error) {
	counters, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	var conns map[string]int
	if p.opts.Connections {
		conns = p.connectionsByInterface(ctx)
	}

	out := make([]models.NetworkMetric, 0, len(counters))
	for _, c := range counters {
		out = append(out, models.NetworkMetric{
			Interface:       c.Name,
			RxBytes:         c.BytesRecv,
			TxBytes:         c.BytesSent,
			ConnectionCount: conns[c.Name],
		})
	}
	return out, nil
}

// connectionsByInterface attributes each inet connection to the interface
// owning its local address. Wildcard listeners belong to no interface and
// are not counted.
func (p *GopsutilProvider) connectionsByInterface(ctx context.Context) map[string]int {
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil
	}

	owner := make(map[string]string)
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip != nil {
				owner[ip.String()] = iface.Name
			}
		}
	}

	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil
	}

	counts := make(map[string]int)
	for _, c := range conns {
		ip := net.ParseIP(strings.Trim(c.Laddr.IP, "[]"))
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		if name, ok := owner[ip.String()]; ok {
			counts[name]++
		}
	}
	return counts
}

func (p *GopsutilProvider) Temperatures(ctx context.Context) ([]models.Temperature, error) {
	if !p.opts.Temperatures {
		return []models.Temperature{}, nil
	}

	temps, err := host.SensorsTemperaturesWithContext(ctx)
	// Sensor reads commonly return warnings alongside valid readings.
	if err != nil && len(temps) == 0 {
		var warnings *host.Warnings
		if errors.As(err, &warnings) {
			return []models.Temperature{}, nil
		}
		return nil, err
	}

	out := make([]models.Temperature, 0, len(temps))
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		out = append(out, models.Temperature{Label: t.SensorKey, Value: t.Temperature})
	}
	return out, nil
}
