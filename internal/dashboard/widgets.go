package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// gauge renders a fixed-width bar colored by threshold, followed by the
// percentage.
func gauge(percent float64, width int, warning, critical float64) string {
	percent = math.Max(0, math.Min(100, percent))
	if width <= 0 {
		width = 20
	}

	filled := int(math.Round(percent / 100 * float64(width)))
	bar := lipgloss.NewStyle().
		Foreground(levelColor(percent, warning, critical)).
		Render(strings.Repeat("█", filled))

	return fmt.Sprintf("%s%s %5.1f%%", bar, strings.Repeat("░", width-filled), percent)
}

// sparkline renders the last width points of data scaled to [lo, hi].
// When lo == hi the range is taken from the data.
func sparkline(data []float64, width int, lo, hi float64, color lipgloss.Color) string {
	if len(data) == 0 {
		return ""
	}
	if width > 0 && len(data) > width {
		data = data[len(data)-width:]
	}

	if lo == hi {
		lo, hi = data[0], data[0]
		for _, v := range data {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	runes := make([]rune, len(data))
	for i, v := range data {
		if hi == lo {
			runes[i] = sparkBlocks[len(sparkBlocks)/2]
			continue
		}
		n := math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
		runes[i] = sparkBlocks[int(n*float64(len(sparkBlocks)-1))]
	}

	return lipgloss.NewStyle().Foreground(color).Render(string(runes))
}

// formatBytes renders b with a binary unit suffix.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
