// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"lfpscope/internal/config"
	"lfpscope/pkg/build"
)

// Commands selected by ParseArgs.
const (
	CommandNone    = ""        // help or version was printed
	CommandRun     = "run"     // live acquisition
	CommandList    = "list"    // print input devices
	CommandAnalyze = "analyze" // replay a WAV file
	CommandInit    = "init"    // write a configuration file
)

// Invocation is the parsed command line: what to do and the effective
// configuration to do it with.
type Invocation struct {
	Command    string
	Config     *config.Config
	Path       string // WAV file for analyze, output file for init
	PickDevice bool   // choose the device interactively before running
	Force      bool   // overwrite an existing file on init
}

// flagValues receives the raw flags. Only flags the user set are copied
// onto the loaded configuration.
type flagValues struct {
	configPath string
	logLevel   string
	verbose    bool
	tui        bool

	device          int
	inputChannels   int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	blockSizes      []int
	realtime        bool

	channels        string
	targetRate      float64
	freqStart       float64
	freqEnd         float64
	windowLength    float64
	alpha           float64
	display         string
	coherenceOutput string
	extraction      string
	accumulation    string

	refresh float64
	ws      string
	udp     string
}

// ParseArgs parses args (without the program name) into an Invocation.
func ParseArgs(args []string) (*Invocation, error) {
	info := build.Get()
	inv := &Invocation{Command: CommandNone}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         build.Description,
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(fv.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cfg, cmd.Flags(), &fv); err != nil {
				return err
			}
			inv.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.Flags().BoolVarP(&inv.PickDevice, "pick", "p", false,
		"Choose the input device and sample rate interactively before starting")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Command = CommandList
			return nil
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Replay a PCM WAV recording through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Command = CommandAnalyze
			inv.Path = args[0]
			return nil
		},
	}
	analyzeCmd.Flags().IntSliceVar(&fv.blockSizes, "block-sizes", nil,
		"Block sizes in frames, cycled while replaying (e.g. 100,300)")
	analyzeCmd.Flags().BoolVar(&fv.realtime, "realtime", false,
		"Pace the replay at the file's sample rate")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	initCmd := &cobra.Command{
		Use:   "init [FILE]",
		Short: "Write the effective configuration as YAML (default config.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Command = CommandInit
			inv.Path = "config.yaml"
			if len(args) == 1 {
				inv.Path = args[0]
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&inv.Force, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(initCmd)

	rootCmd.AddCommand(listCmd, analyzeCmd, configCmd)

	pf := rootCmd.PersistentFlags()

	// General
	pf.StringVarP(&fv.configPath, "config", "f", "",
		"Configuration file (default: ./config.yaml if present)")
	pf.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVarP(&fv.verbose, "verbose", "v", false, "Log a summary of every result frame")
	pf.BoolVarP(&fv.tui, "tui", "t", false, "Show the live spectrum monitor in the terminal")

	// Acquisition
	pf.IntVarP(&fv.device, "device", "d", config.DefaultInputDevice,
		"Input device ID. Use the 'list' command to see available devices.")
	pf.IntVarP(&fv.inputChannels, "input-channels", "i", config.DefaultInputChannels,
		"Number of channels opened on the device")
	pf.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Source sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", false,
		"Use the device's low input latency")

	// Analysis
	pf.StringVarP(&fv.channels, "channels", "c", "0",
		"Comma separated source channels to analyse (at most 8)")
	pf.Float64Var(&fv.targetRate, "target-rate", config.DefaultTargetRate, "Analysis rate after decimation (Hz)")
	pf.Float64Var(&fv.freqStart, "freq-start", config.DefaultFreqStart, "First frequency of interest (Hz)")
	pf.Float64Var(&fv.freqEnd, "freq-end", config.DefaultFreqEnd, "Upper bound of the frequency range (Hz)")
	pf.Float64VarP(&fv.windowLength, "window", "w", 0, "Window length in seconds (0 derives it from the range)")
	pf.Float64Var(&fv.alpha, "alpha", config.DefaultAlpha, "Decay per window in [0, 1], 0 keeps a running mean")
	pf.StringVar(&fv.display, "display", "power", "What to compute: power, coherence or both")
	pf.StringVar(&fv.coherenceOutput, "coherence-output", "dispersion", "Coherence summary: dispersion or mean")
	pf.StringVar(&fv.extraction, "extraction", "bin", "Frequency extraction: bin or wavelet")
	pf.StringVar(&fv.accumulation, "accumulation", "cumulative", "Accumulation: cumulative or instantaneous")

	// Display
	pf.Float64Var(&fv.refresh, "refresh", config.DefaultRefreshRate, "Result polling rate (Hz)")
	pf.StringVar(&fv.ws, "ws", "", "Serve frames over WebSocket on this address (e.g. :8080)")
	pf.StringVar(&fv.udp, "udp", "", "Send frames as UDP packets to this address (e.g. 127.0.0.1:9090)")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return inv, nil
}

// applyFlags copies every flag the user set onto cfg and validates the
// result.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, fv *flagValues) error {
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		cfg.LogLevel = strings.ToLower(fv.logLevel)
	}
	if changed("verbose") {
		cfg.Transport.LogFrames = fv.verbose
	}
	if changed("tui") {
		cfg.TUI = fv.tui
	}

	a := &cfg.Audio
	if changed("device") {
		a.InputDevice = fv.device
	}
	if changed("input-channels") {
		a.InputChannels = fv.inputChannels
	}
	if changed("sample-rate") {
		a.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		a.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("low-latency") {
		a.LowLatency = fv.lowLatency
	}
	if changed("block-sizes") {
		a.FileBlockSizes = fv.blockSizes
	}
	if changed("realtime") {
		a.FileRealtime = fv.realtime
	}

	an := &cfg.Analysis
	if changed("channels") {
		chans, err := config.ParseChannelList(fv.channels)
		if err != nil {
			return err
		}
		an.Channels = chans
	}
	if changed("target-rate") {
		an.TargetRate = fv.targetRate
	}
	if changed("freq-start") {
		an.FreqStart = fv.freqStart
	}
	if changed("freq-end") {
		an.FreqEnd = fv.freqEnd
	}
	if changed("window") {
		an.WindowLength = fv.windowLength
	}
	if changed("alpha") {
		an.Alpha = fv.alpha
	}
	if changed("display") {
		an.Display = fv.display
	}
	if changed("coherence-output") {
		an.CoherenceOutput = fv.coherenceOutput
	}
	if changed("extraction") {
		an.Extraction = fv.extraction
	}
	if changed("accumulation") {
		an.Accumulation = fv.accumulation
	}

	t := &cfg.Transport
	if changed("refresh") {
		t.RefreshRate = fv.refresh
	}
	if changed("ws") {
		t.WebSocketEnabled = fv.ws != ""
		t.WebSocketAddr = fv.ws
	}
	if changed("udp") {
		t.UDPEnabled = fv.udp != ""
		t.UDPTargetAddress = fv.udp
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// ErrExists is returned by WriteConfig when the target exists and force is
// not set.
var ErrExists = errors.New("file already exists")

// WriteConfig saves cfg to path.
func WriteConfig(cfg *config.Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrExists, path)
		}
	}
	return cfg.Save(path)
}
