// Package dashboard renders the shared state in the terminal, either as a
// live bubbletea program or as a one-shot text report.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hostwatch/internal/models"
)

// Reader is the read side of the shared state.
type Reader interface {
	Read() (models.Sample, []models.Sample, bool)
}

// Options controls what the dashboard shows.
type Options struct {
	RefreshRate    time.Duration
	BarWidth       int
	ShowDiskInfo   bool
	ShowSystemLoad bool
	ProcessRows    int
	Warning        float64
	Critical       float64
}

func (o Options) withDefaults() Options {
	if o.RefreshRate <= 0 {
		o.RefreshRate = time.Second
	}
	if o.BarWidth <= 0 {
		o.BarWidth = 50
	}
	if o.ProcessRows <= 0 {
		o.ProcessRows = 10
	}
	if o.Warning <= 0 {
		o.Warning = 80
	}
	if o.Critical <= 0 {
		o.Critical = 90
	}
	return o
}

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea model. It only ever reads from the store.
type Model struct {
	store  Reader
	opts   Options
	width  int
	height int

	latest  models.Sample
	history []models.Sample
	ready   bool

	sortBy      models.ProcessOrder
	paused      bool
	lastUpdated time.Time
}

// NewModel creates a dashboard model over store.
func NewModel(store Reader, opts Options) Model {
	return Model{store: store, opts: opts.withDefaults()}
}

// Init implements tea.Model. The first read happens immediately.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return tickMsg(time.Now()) }
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Sort):
			if m.sortBy == models.ByMemory {
				m.sortBy = models.ByCPU
			} else {
				m.sortBy = models.ByMemory
			}
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, keys.Disks):
			m.opts.ShowDiskInfo = !m.opts.ShowDiskInfo
		case key.Matches(msg, keys.Load):
			m.opts.ShowSystemLoad = !m.opts.ShowSystemLoad
		case key.Matches(msg, keys.Refresh):
			m.refresh(time.Now())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if !m.paused {
			m.refresh(time.Time(msg))
		}
		return m, tick(m.opts.RefreshRate)
	}

	return m, nil
}

func (m *Model) refresh(now time.Time) {
	latest, hist, ok := m.store.Read()
	m.latest, m.history, m.ready = latest, hist, ok
	m.lastUpdated = now
}

// View implements tea.Model.
func (m Model) View() string {
	title := styleHeader.Render("hostwatch")
	if !m.ready {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", styleMuted.Render("Waiting for first sample..."))
	}

	barWidth := m.opts.BarWidth
	if m.width > 0 {
		barWidth = min(barWidth, max(10, m.width-30))
	}

	sections := []string{
		title + " " + styleMuted.Render(m.latest.Timestamp.Format("2006-01-02 15:04:05")),
		m.renderUsage(barWidth),
	}
	if m.opts.ShowSystemLoad {
		sections = append(sections, renderLoad(m.latest.LoadAverage))
	}
	if m.opts.ShowDiskInfo {
		sections = append(sections, renderDisks(m.latest.Disks, barWidth/2, m.opts))
	}
	sections = append(sections,
		renderNetworks(m.latest.Networks),
		renderTemperatures(m.latest.Temperatures),
		m.renderProcesses(),
		m.renderFooter(),
	)

	var out []string
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, out...)
}

func (m Model) renderUsage(barWidth int) string {
	cpu := make([]float64, len(m.history))
	mem := make([]float64, len(m.history))
	for i, s := range m.history {
		cpu[i] = s.CPUUsage
		mem[i] = s.MemoryUsagePercent()
	}

	sparkWidth := barWidth + 7
	lines := []string{
		styleLabel.Render("Memory") + gauge(m.latest.MemoryUsagePercent(), barWidth, m.opts.Warning, m.opts.Critical) +
			styleMuted.Render(fmt.Sprintf("  %s / %s", formatBytes(m.latest.UsedMemory), formatBytes(m.latest.TotalMemory))),
		styleLabel.Render("") + sparkline(mem, sparkWidth, 0, 100, colorSecondary),
		styleLabel.Render("CPU") + gauge(m.latest.CPUUsage, barWidth, m.opts.Warning, m.opts.Critical),
		styleLabel.Render("") + sparkline(cpu, sparkWidth, 0, 100, colorPrimary),
	}
	return styleSection.Render(strings.Join(lines, "\n"))
}

func (m Model) renderProcesses() string {
	procs := m.latest.TopProcesses(m.opts.ProcessRows, m.sortBy)
	if len(procs) == 0 {
		return ""
	}

	by := "memory"
	if m.sortBy == models.ByCPU {
		by = "cpu"
	}

	lines := []string{
		styleTitle.Render("Top processes by " + by),
		styleTableHd.Render(fmt.Sprintf("%-8s %-24s %7s %10s", "PID", "NAME", "CPU%", "MEM")),
	}
	for _, p := range procs {
		lines = append(lines, fmt.Sprintf("%-8d %-24s %7.1f %10s", p.PID, truncate(p.Name, 24), p.CPUUsage, formatBytes(p.Memory)))
	}
	return styleSection.Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	var help []string
	for _, b := range keys.help() {
		help = append(help, b.Help().Key+": "+b.Help().Desc)
	}
	status := "Updated: " + m.lastUpdated.Format("15:04:05")
	if m.paused {
		status = "PAUSED"
	}
	return styleFooter.Render(strings.Join(help, " | ") + "  " + status)
}

func renderLoad(l models.LoadAverage) string {
	return styleSection.Render(styleLabel.Render("Load") +
		fmt.Sprintf("%.2f  %.2f  %.2f", l.One, l.Five, l.Fifteen) +
		styleMuted.Render("  (1m 5m 15m)"))
}

func renderDisks(disks []models.DiskMetric, barWidth int, opts Options) string {
	if len(disks) == 0 {
		return ""
	}
	lines := []string{styleTitle.Render("Disks")}
	for _, d := range disks {
		lines = append(lines, fmt.Sprintf("%-20s %s %10s free  r %s  w %s",
			truncate(d.MountPoint, 20),
			gauge(models.DiskUsagePercent(d), barWidth, opts.Warning, opts.Critical),
			formatBytes(d.Available),
			formatBytes(d.ReadBytes),
			formatBytes(d.WriteBytes)))
	}
	return styleSection.Render(strings.Join(lines, "\n"))
}

func renderNetworks(nets []models.NetworkMetric) string {
	if len(nets) == 0 {
		return ""
	}
	lines := []string{styleTitle.Render("Network")}
	for _, n := range nets {
		lines = append(lines, fmt.Sprintf("%-12s rx %10s  tx %10s  conns %d",
			truncate(n.Interface, 12), formatBytes(n.RxBytes), formatBytes(n.TxBytes), n.ConnectionCount))
	}
	if len(nets) > 1 {
		total := models.Sample{Networks: nets}.TotalNetwork()
		lines = append(lines, styleMuted.Render(fmt.Sprintf("%-12s rx %10s  tx %10s  conns %d",
			total.Interface, formatBytes(total.RxBytes), formatBytes(total.TxBytes), total.ConnectionCount)))
	}
	return styleSection.Render(strings.Join(lines, "\n"))
}

func renderTemperatures(temps []models.Temperature) string {
	if len(temps) == 0 {
		return ""
	}
	parts := make([]string, 0, len(temps))
	for _, t := range temps {
		parts = append(parts, fmt.Sprintf("%s %.0f°C", t.Label, t.Value))
	}
	return styleSection.Render(styleTitle.Render("Temperatures") + "\n" + strings.Join(parts, "  "))
}

// Run starts the live dashboard and blocks until the user quits or ctx is
// cancelled. bubbletea restores the terminal on every exit path, including
// panics inside the program.
func Run(ctx context.Context, store Reader, opts Options) error {
	p := tea.NewProgram(NewModel(store, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
