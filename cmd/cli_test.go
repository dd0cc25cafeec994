// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfpscope/internal/config"
	"lfpscope/internal/transport/udp"
	"lfpscope/pkg/testsignal"
)

func TestParseArgsDefaults(t *testing.T) {
	inv, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, CommandRun, inv.Command)
	assert.False(t, inv.PickDevice)
	require.NotNil(t, inv.Config)
	assert.Equal(t, config.Default().Analysis.Channels, inv.Config.Analysis.Channels)
	assert.Equal(t, float64(config.DefaultSampleRate), inv.Config.Audio.SampleRate)
}

func TestParseArgsFlagsOverride(t *testing.T) {
	inv, err := ParseArgs([]string{
		"-c", "0, 2,3", "-i", "4", "-s", "30000", "--freq-end", "200",
		"--display", "both", "--coherence-output", "mean", "--alpha", "0.5",
		"--ws", ":9000", "--udp", "127.0.0.1:9999", "-t", "-v", "--pick",
	})
	require.NoError(t, err)
	assert.Equal(t, CommandRun, inv.Command)
	assert.True(t, inv.PickDevice)

	cfg := inv.Config
	assert.Equal(t, []int{0, 2, 3}, cfg.Analysis.Channels)
	assert.Equal(t, 4, cfg.Audio.InputChannels)
	assert.Equal(t, 30000.0, cfg.Audio.SampleRate)
	assert.Equal(t, 200.0, cfg.Analysis.FreqEnd)
	assert.Equal(t, config.DefaultFreqStart, cfg.Analysis.FreqStart, "unset flags keep the loaded value")
	assert.Equal(t, "both", cfg.Analysis.Display)
	assert.Equal(t, "mean", cfg.Analysis.CoherenceOutput)
	assert.Equal(t, 0.5, cfg.Analysis.Alpha)
	assert.True(t, cfg.Transport.WebSocketEnabled)
	assert.Equal(t, ":9000", cfg.Transport.WebSocketAddr)
	assert.True(t, cfg.Transport.UDPEnabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Transport.UDPTargetAddress)
	assert.True(t, cfg.TUI)
	assert.True(t, cfg.Transport.LogFrames)
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lfp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  channels: [1, 3]
  freq_start: 2
  freq_end: 300
audio:
  input_channels: 4
`), 0o644))

	inv, err := ParseArgs([]string{"--config", path, "--freq-end", "250"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, inv.Config.Analysis.Channels)
	assert.Equal(t, 2.0, inv.Config.Analysis.FreqStart)
	assert.Equal(t, 250.0, inv.Config.Analysis.FreqEnd, "flags win over the file")
}

func TestParseArgsSubcommands(t *testing.T) {
	inv, err := ParseArgs([]string{"list"})
	require.NoError(t, err)
	assert.Equal(t, CommandList, inv.Command)

	inv, err = ParseArgs([]string{"analyze", "trial.wav", "--block-sizes", "100,300", "--realtime"})
	require.NoError(t, err)
	assert.Equal(t, CommandAnalyze, inv.Command)
	assert.Equal(t, "trial.wav", inv.Path)
	assert.Equal(t, []int{100, 300}, inv.Config.Audio.FileBlockSizes)
	assert.True(t, inv.Config.Audio.FileRealtime)

	inv, err = ParseArgs([]string{"config", "init"})
	require.NoError(t, err)
	assert.Equal(t, CommandInit, inv.Command)
	assert.Equal(t, "config.yaml", inv.Path)
	assert.False(t, inv.Force)

	inv, err = ParseArgs([]string{"config", "init", "out.yaml", "--force"})
	require.NoError(t, err)
	assert.Equal(t, "out.yaml", inv.Path)
	assert.True(t, inv.Force)

	_, err = ParseArgs([]string{"analyze"})
	assert.Error(t, err, "analyze needs a file")
}

func TestParseArgsVersion(t *testing.T) {
	inv, err := ParseArgs([]string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, CommandNone, inv.Command)
	assert.Nil(t, inv.Config)
}

func TestParseArgsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"bad channel", []string{"-c", "0,x"}, config.ErrBadChannel},
		{"repeated channel", []string{"-c", "1,1"}, config.ErrBadChannel},
		{"too many channels", []string{"-c", "0,1,2,3,4,5,6,7,8"}, config.ErrTooManyChannels},
		{"bad display", []string{"--display", "spectrogram"}, config.ErrBadOption},
		{"bad alpha", []string{"--alpha", "1.5"}, config.ErrBadAlpha},
		{"bad range", []string{"--freq-start", "50", "--freq-end", "10"}, config.ErrBadFrequency},
		{"bad refresh", []string{"--refresh", "0"}, config.ErrBadTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.Analysis.Channels = []int{2, 5}

	require.NoError(t, WriteConfig(cfg, path, false))
	assert.ErrorIs(t, WriteConfig(cfg, path, false), ErrExists)
	require.NoError(t, WriteConfig(cfg, path, true))

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, loaded.Analysis.Channels)
}

func TestAnalyzeSendsUDP(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	path := filepath.Join(t.TempDir(), "trial.wav")
	require.NoError(t, testsignal.WriteWAV(path, 2000,
		testsignal.Sine(4000, 2000, 100, 0.5, 0),
		testsignal.Sine(4000, 2000, 40, 0.5, 0)))

	cfg := config.Default()
	cfg.Analysis.Channels = []int{1}
	cfg.Analysis.FreqStart, cfg.Analysis.FreqEnd = 0, 1000
	cfg.Analysis.WindowLength = 0.25
	cfg.Audio.FileBlockSizes = []int{256}
	cfg.Transport.UDPEnabled = true
	cfg.Transport.UDPTargetAddress = conn.LocalAddr().String()
	cfg.Transport.UDPSendInterval = time.Millisecond

	require.NoError(t, Analyze(context.Background(), cfg, path))

	buf := make([]byte, 65536)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := udp.ParsePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, udp.KindPower, p.Kind)
	assert.Equal(t, uint8(1), p.Index)
	assert.Equal(t, 10, testsignal.FindPeakBin(p.Values, 0, len(p.Values)), "40 Hz at 4 Hz resolution")
}

func TestAnalyzeRejectsMissingChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	require.NoError(t, testsignal.WriteWAV(path, 2000, testsignal.DC(500, 0)))

	cfg := config.Default()
	cfg.Analysis.Channels = []int{0, 1}
	assert.ErrorIs(t, Analyze(context.Background(), cfg, path), config.ErrBadChannel)
}
