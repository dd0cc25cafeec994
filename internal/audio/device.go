// SPDX-License-Identifier: MIT
package audio

// Device represents an acquisition device
type Device struct {
	ID                int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Kind describes the directions the device supports.
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	default:
		return "Unavailable"
	}
}

// GetDevices initializes PortAudio for the duration of the call and returns
// all available devices.
func GetDevices() ([]Device, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	defer Terminate()

	return HostDevices()
}
