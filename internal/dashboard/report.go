package dashboard

import (
	"fmt"
	"io"
	"strings"

	"hostwatch/internal/models"
)

// Report writes a one-shot colored summary of s to w: memory and CPU bars,
// system load and the disk table, as configured by opts.
func Report(w io.Writer, s models.Sample, opts Options) error {
	opts = opts.withDefaults()

	var sb strings.Builder
	sb.WriteString(styleTitle.Render("System status") + " " + styleMuted.Render(s.Timestamp.Format("2006-01-02 15:04:05")) + "\n\n")

	fmt.Fprintf(&sb, "%s%s (%s / %s)\n",
		styleLabel.Render("Memory"),
		gauge(s.MemoryUsagePercent(), opts.BarWidth, opts.Warning, opts.Critical),
		formatBytes(s.UsedMemory), formatBytes(s.TotalMemory))
	fmt.Fprintf(&sb, "%s%s\n",
		styleLabel.Render("CPU"),
		gauge(s.CPUUsage, opts.BarWidth, opts.Warning, opts.Critical))

	if opts.ShowSystemLoad {
		fmt.Fprintf(&sb, "%s%.2f %.2f %.2f\n", styleLabel.Render("Load"),
			s.LoadAverage.One, s.LoadAverage.Five, s.LoadAverage.Fifteen)
	}

	if opts.ShowDiskInfo && len(s.Disks) > 0 {
		sb.WriteString("\n" + styleTableHd.Render(fmt.Sprintf("%-20s %-20s %12s %12s %7s", "DEVICE", "MOUNT", "TOTAL", "FREE", "USED%")) + "\n")
		for _, d := range s.Disks {
			fmt.Fprintf(&sb, "%-20s %-20s %12s %12s %6.1f%%\n",
				truncate(d.Name, 20), truncate(d.MountPoint, 20),
				formatBytes(d.Total), formatBytes(d.Available), models.DiskUsagePercent(d))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
