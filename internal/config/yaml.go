// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lfpscope/internal/ingest"
	applog "lfpscope/internal/log"
)

var logger = applog.For("configuration")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug logging.
	LogLevel  string          `yaml:"log_level"`         // "debug", "info", "warn" or "error".
	Command   string          `yaml:"command,omitempty"` // One-off command instead of running the engine (e.g. "list").
	TUI       bool            `yaml:"tui"`               // Render the live monitor in the terminal.
	Audio     AudioConfig     `yaml:"audio"`             // Acquisition source settings.
	Analysis  AnalysisConfig  `yaml:"analysis"`          // Spectral engine settings.
	Transport TransportConfig `yaml:"transport"`         // Display layer settings.
}

// AudioConfig holds settings of the acquisition source.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Source sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low input latency.
	InputChannels   int     `yaml:"input_channels"`    // Channels opened on the device.
	FileBlockSizes  []int   `yaml:"file_block_sizes"`  // Block sizes (frames) cycled when replaying a file.
	FileRealtime    bool    `yaml:"file_realtime"`     // Pace file replay at the file's sample rate.
}

// AnalysisConfig holds the spectral engine settings. Lengths are in seconds,
// frequencies in Hz. Zero lengths select the derived defaults.
type AnalysisConfig struct {
	Channels        []int         `yaml:"channels"`         // Source channel per logical channel (max 8).
	TargetRate      float64       `yaml:"target_rate"`      // Analysis rate after decimation.
	FreqStart       float64       `yaml:"freq_start"`       // First frequency of interest.
	FreqEnd         float64       `yaml:"freq_end"`         // Upper bound (exclusive) of the frequency range.
	WindowLength    float64       `yaml:"window_length"`    // Kernel length; 0 picks one from the frequency span.
	SegmentLength   float64       `yaml:"segment_length"`   // Analysis window length; 0 uses window_length.
	HopLength       float64       `yaml:"hop_length"`       // Spacing of consecutive windows; 0 uses segment_length.
	StepLength      float64       `yaml:"step_length"`      // Spacing of times of interest within a window.
	InterpRatio     float64       `yaml:"interp_ratio"`     // Frequency oversampling: step = 1/(window*ratio).
	Alpha           float64       `yaml:"alpha"`            // Decay per window, 0 for a plain running mean.
	Window          string        `yaml:"window"`           // Ingest taper ("hann", "hamming", ...).
	Decimation      string        `yaml:"decimation"`       // "average" or "sample_hold".
	Extraction      string        `yaml:"extraction"`       // "bin" or "wavelet".
	Accumulation    string        `yaml:"accumulation"`     // "cumulative" or "instantaneous".
	CoherenceOutput string        `yaml:"coherence_output"` // "dispersion" or "mean".
	Display         string        `yaml:"display"`          // "power", "coherence" or "both".
	FFTBackend      string        `yaml:"fft_backend"`      // "gonum" or "godsp".
	PadPow2         bool          `yaml:"pad_pow2"`         // Round the transform length up to a power of two.
	PollInterval    time.Duration `yaml:"poll_interval"`    // Analysis worker sleep when idle.
}

// TransportConfig holds the display layer settings.
type TransportConfig struct {
	RefreshRate      float64       `yaml:"refresh_hz"`         // Result polling rate.
	LogFrames        bool          `yaml:"log_frames"`         // Log a summary of every forwarded frame.
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve frames over WebSocket.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for /ws and /status.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send power frames over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultInputDevice,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultInputChannels,
			FileBlockSizes:  []int{DefaultFramesPerBuffer},
		},
		Analysis: AnalysisConfig{
			Channels:        []int{0},
			TargetRate:      DefaultTargetRate,
			FreqStart:       DefaultFreqStart,
			FreqEnd:         DefaultFreqEnd,
			StepLength:      DefaultStepLength,
			InterpRatio:     DefaultInterpRatio,
			Alpha:           DefaultAlpha,
			Window:          "hann",
			Decimation:      "average",
			Extraction:      "bin",
			Accumulation:    "cumulative",
			CoherenceOutput: "dispersion",
			Display:         "power",
			FFTBackend:      "gonum",
			PollInterval:    DefaultPollInterval,
		},
		Transport: TransportConfig{
			RefreshRate:      DefaultRefreshRate,
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from the given .env files (".env" when
// none are named) into the process environment. Variables already set win.
// A missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logger.Debugf("loaded %s", path)
	}

	// Environment overrides apply after the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks everything that does not depend on the source sample
// rate. NewPlan completes the checks once the rate is known.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		return fmt.Errorf("%w: log_level %q", ErrBadOption, c.LogLevel)
	}

	if !(c.Audio.SampleRate >= MinSampleRate && c.Audio.SampleRate <= MaxSampleRate) {
		return fmt.Errorf("%w: audio.sample_rate %.0f outside [%d, %d]",
			ErrBadSampleRate, c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device %d below %d", c.Audio.InputDevice, MinDeviceID)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer %d outside [1, %d]", c.Audio.FramesPerBuffer, MaxBufferFrames)
	}
	for _, n := range c.Audio.FileBlockSizes {
		if n <= 0 {
			return fmt.Errorf("audio.file_block_sizes must be positive, got %d", n)
		}
	}

	if err := c.Analysis.validate(); err != nil {
		return err
	}

	t := c.Transport
	if !(t.RefreshRate > 0) || math.IsInf(t.RefreshRate, 0) {
		return fmt.Errorf("%w: transport.refresh_hz must be positive", ErrBadTransport)
	}
	if t.WebSocketEnabled && t.WebSocketAddr == "" {
		return fmt.Errorf("%w: transport.websocket_addr must be set when WebSocket is enabled", ErrBadTransport)
	}
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("%w: transport.udp_target_address '%s' appears invalid (missing port?)",
				ErrBadTransport, t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrBadTransport)
		}
	}
	return nil
}

func (a *AnalysisConfig) validate() error {
	if len(a.Channels) == 0 {
		return ErrNoChannels
	}
	if len(a.Channels) > ingest.MaxChannels {
		return fmt.Errorf("%w: %d selected, maximum is %d", ErrTooManyChannels, len(a.Channels), ingest.MaxChannels)
	}
	seen := make(map[int]bool, len(a.Channels))
	for _, ch := range a.Channels {
		if ch < 0 || seen[ch] {
			return fmt.Errorf("%w: %d (negative or repeated)", ErrBadChannel, ch)
		}
		seen[ch] = true
	}

	// Checks are written so NaN fails them.
	if !(a.TargetRate >= 0) {
		return fmt.Errorf("%w: analysis.target_rate %g", ErrBadSampleRate, a.TargetRate)
	}
	if !(a.FreqStart >= 0 && a.FreqEnd > a.FreqStart) {
		return fmt.Errorf("%w: [%g, %g]", ErrBadFrequency, a.FreqStart, a.FreqEnd)
	}
	if !(a.WindowLength >= 0 && a.SegmentLength >= 0 && a.HopLength >= 0 && a.StepLength >= 0) {
		return fmt.Errorf("%w: lengths must not be negative", ErrBadWindow)
	}
	if !(a.InterpRatio >= 0) {
		return fmt.Errorf("%w: analysis.interp_ratio %g", ErrBadFrequency, a.InterpRatio)
	}
	if !(a.Alpha >= 0 && a.Alpha <= 1) {
		return fmt.Errorf("%w: got %g", ErrBadAlpha, a.Alpha)
	}
	if !finite(a.TargetRate, a.FreqEnd, a.WindowLength, a.SegmentLength, a.HopLength, a.StepLength, a.InterpRatio) {
		return fmt.Errorf("%w: analysis rates, frequencies and lengths must be finite", ErrBadOption)
	}
	if a.PollInterval < 0 {
		return fmt.Errorf("analysis.poll_interval must not be negative")
	}

	_, err := parseOptions(*a)
	return err
}

// finite reports whether every value is neither NaN nor infinite.
func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// applyEnvOverrides applies ENV_* variables on top of the loaded file.
func (c *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			logger.Infof("overriding debug from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		logger.Infof("overriding log_level from env: %s", val)
	}

	// ENV_ANALYSIS_{...}
	if val, ok := os.LookupEnv("ENV_ANALYSIS_CHANNELS"); ok {
		if chans, err := ParseChannelList(val); err == nil {
			c.Analysis.Channels = chans
			logger.Infof("overriding analysis.channels from env: %v", chans)
		} else {
			logger.Warnf("ignoring ENV_ANALYSIS_CHANNELS: %v", err)
		}
	}
	if val, ok := os.LookupEnv("ENV_ANALYSIS_ALPHA"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Analysis.Alpha = f
			logger.Infof("overriding analysis.alpha from env: %g", f)
		}
	}

	// ENV_UDP_{...} and ENV_WS_{...}
	// These are specific to the transport layer.
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			logger.Infof("overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		logger.Infof("overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			logger.Infof("overriding transport.udp_send_interval from env: %s", dur)
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.WebSocketEnabled = bVal
			logger.Infof("overriding transport.websocket_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok {
		c.Transport.WebSocketAddr = val
		logger.Infof("overriding transport.websocket_addr from env: %s", val)
	}
}

// ParseChannelList parses a comma separated channel list such as "0,2,3".
func ParseChannelList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadChannel, field)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrNoChannels
	}
	return out, nil
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
