package tui

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"comfycli/internal/installer"
)

// InstallSetupResult holds the values selected in the install carousel.
type InstallSetupResult struct {
	Cancelled   bool
	GPU         installer.GPU
	SkipManager bool
}

var gpuInfo = []struct{ name, desc string }{
	{string(installer.GPUNvidia), "CUDA build of torch"},
	{string(installer.GPUAMD), "ROCm build, DirectML on Windows"},
	{string(installer.GPUIntelArc), "XPU build for Intel Arc"},
	{string(installer.GPUMSeries), "Nightly build with Metal support"},
	{string(installer.GPUCPU), "CPU only, slow but works everywhere"},
	{"skip", "Leave torch alone; install it yourself"},
}

var managerInfo = []struct{ name, desc string }{
	{"install", "Clone ComfyUI-Manager into custom_nodes"},
	{"skip", "Do not install the manager extension"},
}

const gpuNote = "The torch build must match your driver.\n" +
	"Re-run install with --restore to switch later."

type carouselRow struct {
	label   string
	options []string
	current int
}

type installSetupModel struct {
	rows      []carouselRow
	focused   int
	done      bool
	cancelled bool
}

func newInstallSetupModel(current InstallSetupResult) installSetupModel {
	gpus := make([]string, len(gpuInfo))
	for i, g := range gpuInfo {
		gpus[i] = g.name
	}
	gpu := string(current.GPU)
	if current.GPU == installer.GPUNone {
		gpu = "skip"
	}
	manager := "install"
	if current.SkipManager {
		manager = "skip"
	}
	managers := []string{"install", "skip"}
	return installSetupModel{
		rows: []carouselRow{
			{label: "GPU", options: gpus, current: findIdx(gpus, gpu, 0)},
			{label: "Manager", options: managers, current: findIdx(managers, manager, 0)},
		},
	}
}

func findIdx(options []string, value string, defaultIdx int) int {
	for i, o := range options {
		if o == value {
			return i
		}
	}
	return defaultIdx
}

func (m installSetupModel) Init() tea.Cmd { return nil }

func (m installSetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.focused > 0 {
			m.focused--
		}
	case "down", "j":
		if m.focused < len(m.rows)-1 {
			m.focused++
		}
	case "left", "h":
		row := m.rows[m.focused]
		row.current = (row.current - 1 + len(row.options)) % len(row.options)
		m.rows[m.focused] = row
	case "right", "l":
		row := m.rows[m.focused]
		row.current = (row.current + 1) % len(row.options)
		m.rows[m.focused] = row
	case "enter":
		m.done = true
		return m, tea.Quit
	case "esc", "q", "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m installSetupModel) View() string {
	faint := lipgloss.NewStyle().Faint(true)

	if m.cancelled {
		return faint.Render("  cancelled") + "\n"
	}

	var sb strings.Builder
	sb.WriteString("\n")
	if m.done {
		for _, row := range m.rows {
			fmt.Fprintf(&sb, "%s %s\n", faint.Render(fmt.Sprintf("  %-10s", row.label)), row.options[row.current])
		}
		sb.WriteString("\n")
		return sb.String()
	}

	focused := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	for i, row := range m.rows {
		prefix, label := "  ", faint.Render(fmt.Sprintf("%-10s", row.label))
		if i == m.focused {
			prefix, label = "▸ ", focused.Render(fmt.Sprintf("%-10s", row.label))
		}
		fmt.Fprintf(&sb, "%s%s ←  %-12s→\n", prefix, label, row.options[row.current])
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		BorderForeground(lipgloss.Color("8"))
	sb.WriteString("\n")
	row := m.rows[m.focused]
	if m.focused == 0 {
		sb.WriteString(panel.Render(listPanel(row.options[row.current], gpuInfo, gpuNote)))
	} else {
		sb.WriteString(panel.Render(listPanel(row.options[row.current], managerInfo, "")))
	}
	sb.WriteString("\n")
	sb.WriteString(faint.Render("  [↑↓] Navigate  [←→] Change  [Enter] Install  [Esc] Cancel"))
	sb.WriteString("\n")
	return sb.String()
}

func listPanel(current string, items []struct{ name, desc string }, note string) string {
	faint := lipgloss.NewStyle().Faint(true)
	bold := lipgloss.NewStyle().Bold(true)
	var sb strings.Builder
	for _, info := range items {
		prefix, name := "  ", faint.Render(fmt.Sprintf("%-10s", info.name))
		if info.name == current {
			prefix, name = "▸ ", bold.Render(fmt.Sprintf("%-10s", info.name))
		}
		fmt.Fprintf(&sb, "%s%s  %s\n", prefix, name, info.desc)
	}
	if note != "" {
		sb.WriteString("\n")
		for _, line := range strings.Split(note, "\n") {
			sb.WriteString(faint.Render("  "+line) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m installSetupModel) result() InstallSetupResult {
	if m.cancelled || !m.done {
		return InstallSetupResult{Cancelled: true}
	}
	res := InstallSetupResult{
		GPU:         installer.GPU(m.rows[0].options[m.rows[0].current]),
		SkipManager: m.rows[1].options[m.rows[1].current] == "skip",
	}
	if res.GPU == "skip" {
		res.GPU = installer.GPUNone
	}
	return res
}

// RunInstallSetup asks for the accelerator and manager choice before an
// install, starting from current.
func RunInstallSetup(in io.Reader, w io.Writer, current InstallSetupResult) (InstallSetupResult, error) {
	p := tea.NewProgram(newInstallSetupModel(current), tea.WithInput(in), tea.WithOutput(w))
	final, err := p.Run()
	if err != nil {
		return InstallSetupResult{}, err
	}
	return final.(installSetupModel).result(), nil
}
