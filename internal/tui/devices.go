// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"lfpscope/internal/audio"
)

// ScreenType selects the picker's page.
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Rates offered on the configuration screen, from open-ephys style
// acquisition boards down to sound cards.
var standardSampleRates = []float64{1000, 2000, 2500, 5000, 10000, 20000, 25000, 30000, 44100, 48000}

// Choice is the device and rate picked on the configuration screen.
type Choice struct {
	DeviceID   int
	Name       string
	SampleRate float64
	Channels   int
}

// DeviceListModel lists input devices and lets the user pick one and a rate.
type DeviceListModel struct {
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType
	choice        *Choice

	selectedSampleRate   float64
	availableSampleRates []float64
	sampleRateIndex      int
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// Init loads the device table.
func (m DeviceListModel) Init() tea.Cmd {
	return fetchDevices
}

func fetchDevices() tea.Msg {
	devices, err := audio.GetDevices()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

// Choice returns the confirmed selection, or nil.
func (m DeviceListModel) Choice() *Choice { return m.choice }

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case devicesMsg:
		m.devices = msg.devices
		m.refresh()
	case errMsg:
		m.err = msg.err
	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			return m, tea.Quit
		}
		if m.activeScreen == ListScreen {
			m.listKey(msg)
		} else if m.configKey(msg) {
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// resize sizes the viewport, leaving room for the title and help lines.
func (m *DeviceListModel) resize(width, height int) {
	if m.ready {
		m.viewport.Width, m.viewport.Height = width, height-4
		return
	}
	m.viewport = viewport.New(width, height-4)
	m.ready = true
	m.refresh()
}

// refresh re-renders whichever screen is active.
func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
		return
	}
	m.viewport.SetContent(m.renderDevices())
}

func (m *DeviceListModel) listKey(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, keyUp):
		m.selectedIndex = max(m.selectedIndex-1, 0)
	case key.Matches(msg, keyDown):
		m.selectedIndex = min(m.selectedIndex+1, max(len(m.devices)-1, 0))
	case key.Matches(msg, keyEnter):
		if len(m.devices) > 0 && m.devices[m.selectedIndex].MaxInputChannels > 0 {
			m.openConfig()
			return
		}
	}
	m.refresh()
}

// configKey handles the rate screen and reports whether a choice was made.
func (m *DeviceListModel) configKey(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, keyBack):
		m.activeScreen = ListScreen
	case key.Matches(msg, keyUp):
		m.stepRate(-1)
	case key.Matches(msg, keyDown):
		m.stepRate(+1)
	case key.Matches(msg, keyEnter):
		d := m.devices[m.selectedIndex]
		m.choice = &Choice{
			DeviceID:   d.ID,
			Name:       d.Name,
			SampleRate: m.selectedSampleRate,
			Channels:   d.MaxInputChannels,
		}
		return true
	}
	m.refresh()
	return false
}

func (m *DeviceListModel) stepRate(delta int) {
	i := m.sampleRateIndex + delta
	if i < 0 || i >= len(m.availableSampleRates) {
		return
	}
	m.sampleRateIndex = i
	m.selectedSampleRate = m.availableSampleRates[i]
}

// openConfig switches to the rate screen, preselecting the device default.
// A default outside the standard list is appended to it.
func (m *DeviceListModel) openConfig() {
	m.activeScreen = ConfigScreen
	m.selectedSampleRate = m.devices[m.selectedIndex].DefaultSampleRate
	m.availableSampleRates = append([]float64(nil), standardSampleRates...)
	m.sampleRateIndex = slices.Index(m.availableSampleRates, m.selectedSampleRate)
	if m.sampleRateIndex < 0 {
		m.availableSampleRates = append(m.availableSampleRates, m.selectedSampleRate)
		m.sampleRateIndex = len(m.availableSampleRates) - 1
	}
	m.refresh()
}

// View renders the active screen.
func (m DeviceListModel) View() string {
	switch {
	case !m.ready:
		return "Initializing..."
	case m.err != nil:
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	title, help := "Input Devices", "↑/↓: Navigate • Enter: Configure • q: Quit"
	if m.activeScreen == ConfigScreen {
		title, help = "Device Configuration", "↑/↓: Change Rate • Enter: Use • Esc: Back • q: Quit"
	}
	return titleStyle.Render(title) + "\n\n" + m.viewport.View() + "\n\n" + infoStyle.Render(help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		entry := fmt.Sprintf("[%d] %s (%s)\n    Input channels: %d, Output channels: %d\n    Default sample rate: %.0f Hz",
			d.ID, d.Name, d.Kind(), d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		if d.HostAPI != "" {
			entry += " via " + d.HostAPI
		}
		entry += "\n"
		if i == m.selectedIndex {
			entry = highlightStyle.Render(entry)
		}
		sb.WriteString(entry + "\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configure Device: %s\n\nSample Rate:\n", m.devices[m.selectedIndex].Name)
	for i, rate := range m.availableSampleRates {
		if i != m.sampleRateIndex {
			fmt.Fprintf(&sb, "    %.0f Hz\n", rate)
			continue
		}
		sb.WriteString(highlightStyle.Render(fmt.Sprintf("  ▶ %.0f Hz\n", rate)))
	}
	return sb.String()
}

// NewDeviceListModel starts on the device list.
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{activeScreen: ListScreen}
}

// RunDevicePicker runs the device list until the user confirms a choice or
// quits. A nil Choice means the user quit.
func RunDevicePicker() (*Choice, error) {
	p := tea.NewProgram(NewDeviceListModel(), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m, _ := final.(DeviceListModel)
	return m.Choice(), nil
}
