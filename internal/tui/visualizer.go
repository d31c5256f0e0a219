// SPDX-License-Identifier: MIT
/*
Package tui renders the visualization feed in the terminal and provides
a device picker. Both are Bubble Tea programs; the visualizer polls the
feed once per refresh tick, exactly like any other renderer would.
*/
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"visualizer/internal/session"
	"visualizer/internal/visual"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	degradedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D08770")).
			Bold(true)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))
)

// refreshInterval is the render cadence, ~30 Hz.
const refreshInterval = 33 * time.Millisecond

// barWidth is how many character cells one equalizer bar spans.
const barWidth = 40

// eighths gives sub-character resolution on the bar tip.
var eighths = []rune{' ', '▏', '▎', '▍', '▌', '▋', '▊', '▉'}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// VisualizerModel is the Bubble Tea model for the live view. It reads
// the feed on every tick; it never writes to the pipeline.
type VisualizerModel struct {
	feed  *visual.Feed
	guard *session.Guard

	width  int
	height int
	ready  bool
}

// NewVisualizerModel creates the live view over a feed and guard.
func NewVisualizerModel(feed *visual.Feed, guard *session.Guard) VisualizerModel {
	return VisualizerModel{feed: feed, guard: guard}
}

// Init starts the refresh ticker.
func (m VisualizerModel) Init() tea.Cmd {
	return tick()
}

// Update handles resize, quit keys and refresh ticks.
func (m VisualizerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))) {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the current parameter set.
func (m VisualizerModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	snap := m.feed.LatestSnapshot()
	ps := snap.Params

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Audio Visualizer"))
	sb.WriteString("\n\n")
	sb.WriteString(m.renderState())
	sb.WriteString("\n\n")

	switch ps.Mode {
	case visual.ModeFractal:
		sb.WriteString(renderFractal(ps.Fractal))
	default:
		sb.WriteString(renderBars(ps.Equalizer.Bars))
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("q: Quit"))
	return sb.String()
}

// renderState shows the session state, highlighting degradation.
func (m VisualizerModel) renderState() string {
	state, reason := m.guard.State()
	if state == session.Degraded {
		return degradedStyle.Render(fmt.Sprintf("● %s (%s)", state, reason))
	}
	return highlightStyle.Render(fmt.Sprintf("● %s", state))
}

// renderBars draws one horizontal bar per band value.
func renderBars(bars []float64) string {
	var sb strings.Builder
	for i, v := range bars {
		sb.WriteString(fmt.Sprintf("%2d %s\n", i, barStyle.Render(gauge(v, barWidth))))
	}
	return sb.String()
}

// renderFractal shows the coefficients with a gauge per value, scaled
// to each coefficient's documented range.
func renderFractal(f visual.FractalParams) string {
	iterSpan := float64(visual.FractalMaxIterations - visual.FractalMinIterations)
	zoomSpan := visual.FractalMaxZoom - visual.FractalMinZoom

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Iterations %s %d\n",
		barStyle.Render(gauge(float64(f.Iterations-visual.FractalMinIterations)/iterSpan, barWidth)), f.Iterations))
	sb.WriteString(fmt.Sprintf("Zoom       %s %.2f\n",
		barStyle.Render(gauge((f.Zoom-visual.FractalMinZoom)/zoomSpan, barWidth)), f.Zoom))
	sb.WriteString(fmt.Sprintf("Deform     %s %.2f\n",
		barStyle.Render(gauge(f.Deform/visual.FractalMaxDeform, barWidth)), f.Deform))
	sb.WriteString(fmt.Sprintf("Phase      %.2f rad\n", f.Phase))
	return sb.String()
}

// gauge renders v in [0,1] as a fixed-width bar with an eighth-block
// tip.
func gauge(v float64, width int) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	cells := v * float64(width)
	full := int(cells)
	frac := int((cells - float64(full)) * 8)

	var sb strings.Builder
	for range full {
		sb.WriteRune('█')
	}
	if full < width {
		sb.WriteRune(eighths[frac])
		for i := full + 1; i < width; i++ {
			sb.WriteRune(' ')
		}
	}
	return sb.String()
}

// StartVisualizerUI runs the live view until the user quits.
func StartVisualizerUI(feed *visual.Feed, guard *session.Guard) error {
	p := tea.NewProgram(
		NewVisualizerModel(feed, guard),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
