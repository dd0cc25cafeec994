// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/gordonklaus/portaudio"

	"lfpscope/internal/config"
)

// PortAudio entry points, replaced in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
	paDevicesFunc               = paDevices
)

// Initialize loads PortAudio. Every successful call needs a matching
// Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

// Terminate releases PortAudio.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("portaudio terminate: %w", err)
	}
	return nil
}

// HostDevices converts the PortAudio device table. PortAudio must be
// initialized.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		}
		if info.HostApi != nil {
			devices[i].HostAPI = info.HostApi.Name
		}
	}
	return devices, nil
}

// InputDevice resolves a capture device by table index, with
// config.DefaultInputDevice standing for the host default.
func InputDevice(id int) (*portaudio.DeviceInfo, error) {
	table, err := paDevicesFunc()
	switch {
	case err != nil:
		return nil, err
	case id == config.DefaultInputDevice:
		return paLibDefaultInputDeviceFunc()
	case id < 0 || id >= len(table):
		return nil, fmt.Errorf("invalid device ID: %d", id)
	case table[id].MaxInputChannels == 0:
		return nil, fmt.Errorf("device %d (%s) does not support input", id, table[id].Name)
	}
	return table[id], nil
}

// ListDevices writes the device table to w.
func ListDevices(w io.Writer) error {
	table, err := paDevicesFunc()
	if err != nil {
		return err
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	fmt.Fprintf(w, "\nAcquisition devices\n\n")
	for i, info := range table {
		kind := Device{MaxInputChannels: info.MaxInputChannels, MaxOutputChannels: info.MaxOutputChannels}.Kind()
		fmt.Fprintf(w, "[%d] %s (%s)\n"+
			"    Input channels: %d, Output channels: %d\n"+
			"    Default sample rate: %.0f Hz\n"+
			"    Latency: Low=%.2fms, High=%.2fms\n\n",
			i, info.Name, kind,
			info.MaxInputChannels, info.MaxOutputChannels,
			info.DefaultSampleRate,
			ms(info.DefaultLowInputLatency), ms(info.DefaultHighInputLatency))
	}
	return nil
}

// paDevices wraps the device table so an empty host yields an empty, non-nil
// slice.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	table, err := paLibDevicesFunc()
	switch {
	case err != nil:
		return nil, err
	case table == nil:
		return []*portaudio.DeviceInfo{}, nil
	}
	return table, nil
}
