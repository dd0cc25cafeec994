// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lfpscope/internal/transport"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8")).Width(10)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	cohStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5A9BD5"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

var barLevels = []rune(" ▁▂▃▄▅▆▇█")

// dynamicRangeDB is the span shown in decibel mode.
const dynamicRangeDB = 60.0

// FrameMsg delivers a result frame to the monitor.
type FrameMsg struct {
	Frame *transport.Frame
}

// StatusMsg replaces the status line under the plot.
type StatusMsg string

// MonitorModel draws one bar row per channel and per channel pair. Each
// column is the largest value among the frequencies it covers.
type MonitorModel struct {
	title    string
	frame    *transport.Frame
	frames   int
	width    int
	paused   bool
	decibels bool
	showCoh  bool
	status   string
}

// NewMonitorModel returns a monitor titled title.
func NewMonitorModel(title string) MonitorModel {
	return MonitorModel{title: title, width: 80, showCoh: true}
}

func (m MonitorModel) Init() tea.Cmd { return nil }

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case FrameMsg:
		m.frames++
		if !m.paused {
			m.frame = msg.Frame
		}

	case StatusMsg:
		m.status = string(msg)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyPause):
			m.paused = !m.paused
		case key.Matches(msg, keyLog):
			m.decibels = !m.decibels
		case key.Matches(msg, keyLayout):
			m.showCoh = !m.showCoh
		}
	}
	return m, nil
}

func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	f := m.frame
	if f == nil {
		sb.WriteString(dimStyle.Render("waiting for the first analysis window..."))
		sb.WriteString("\n")
	} else {
		cols := max(m.width-labelStyle.GetWidth()-24, 8)
		for i, row := range f.Power {
			ch := i
			if i < len(f.Channels) {
				ch = f.Channels[i]
			}
			freq, _ := f.PeakFrequency(i)
			values := make([]float64, len(row))
			for j, v := range row {
				values[j] = float64(v)
			}
			sb.WriteString(labelStyle.Render(fmt.Sprintf("ch %d", ch)))
			sb.WriteString(barStyle.Render(Bars(values, cols, m.decibels)))
			sb.WriteString(fmt.Sprintf("  peak %7.1f Hz", freq))
			if band := f.DominantBand(i); band != "" {
				sb.WriteString(dimStyle.Render(" • " + band))
			}
			sb.WriteString("\n")
		}
		if m.showCoh {
			for i, row := range f.Coherence {
				if i >= len(f.Pairs) {
					break
				}
				label := fmt.Sprintf("%d×%d", f.Pairs[i][0], f.Pairs[i][1])
				sb.WriteString(labelStyle.Render(label))
				sb.WriteString(cohStyle.Render(UnitBars(row, cols)))
				sb.WriteString("\n")
			}
		}
		if n := len(f.Frequencies); n > 0 {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("%s%.1f – %.1f Hz, %d bins, window %d",
				strings.Repeat(" ", labelStyle.GetWidth()), f.Frequencies[0], f.Frequencies[n-1], n, f.Seq)))
			sb.WriteString("\n")
		}
	}

	mode := "linear"
	if m.decibels {
		mode = "dB"
	}
	state := ""
	if m.paused {
		state = " • PAUSED"
	}
	sb.WriteString("\n")
	if m.status != "" {
		sb.WriteString(dimStyle.Render(m.status))
		sb.WriteString("\n")
	}
	sb.WriteString(infoStyle.Render(fmt.Sprintf("%d frames • %s%s • p: Pause • l: Linear/dB • c: Coherence • q: Quit", m.frames, mode, state)))
	return sb.String()
}

// pool reduces values to cols columns, each the max of its span.
func pool(values []float64, cols int) []float64 {
	if cols <= 0 || len(values) == 0 {
		return nil
	}
	cols = min(cols, len(values))
	out := make([]float64, cols)
	for c := range out {
		lo := c * len(values) / cols
		hi := max((c+1)*len(values)/cols, lo+1)
		best := math.Inf(-1)
		for _, v := range values[lo:hi] {
			best = max(best, v)
		}
		out[c] = best
	}
	return out
}

func level(x float64) rune {
	if math.IsNaN(x) || x <= 0 {
		return barLevels[0]
	}
	i := int(math.Ceil(x * float64(len(barLevels)-1)))
	return barLevels[min(i, len(barLevels)-1)]
}

// Bars renders values scaled to their own maximum, or over the top
// dynamicRangeDB decibels when decibels is set.
func Bars(values []float64, cols int, decibels bool) string {
	pooled := pool(values, cols)
	top := 0.0
	for _, v := range pooled {
		top = max(top, v)
	}

	var sb strings.Builder
	for _, v := range pooled {
		var x float64
		switch {
		case top <= 0:
		case decibels:
			if v > 0 {
				x = 1 + 10*math.Log10(v/top)/dynamicRangeDB
			}
		default:
			x = v / top
		}
		sb.WriteRune(level(x))
	}
	return sb.String()
}

// UnitBars renders values already in [0, 1].
func UnitBars(values []float64, cols int) string {
	var sb strings.Builder
	for _, v := range pool(values, cols) {
		sb.WriteRune(level(v))
	}
	return sb.String()
}

// ProgramTransport forwards frames to a running tea.Program. Only the
// newest undelivered frame is kept, so a busy terminal never stalls the
// poller.
type ProgramTransport struct {
	program *tea.Program
	mailbox chan *transport.Frame
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewProgramTransport starts forwarding to p.
func NewProgramTransport(p *tea.Program) *ProgramTransport {
	t := &ProgramTransport{
		program: p,
		mailbox: make(chan *transport.Frame, 1),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.forward()
	return t
}

func (t *ProgramTransport) forward() {
	defer t.wg.Done()
	for {
		select {
		case f := <-t.mailbox:
			t.program.Send(FrameMsg{Frame: f})
		case <-t.done:
			return
		}
	}
}

// Send replaces any frame still waiting for the terminal.
func (t *ProgramTransport) Send(frame *transport.Frame) error {
	for {
		select {
		case t.mailbox <- frame:
			return nil
		default:
		}
		select {
		case <-t.mailbox:
		default:
		}
	}
}

// Close stops forwarding. It does not stop the program.
func (t *ProgramTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
	return nil
}

var _ transport.Transport = (*ProgramTransport)(nil)
