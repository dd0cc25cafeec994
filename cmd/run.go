// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"lfpscope/internal/audio"
	"lfpscope/internal/audio/wavfile"
	"lfpscope/internal/config"
	"lfpscope/internal/engine"
	applog "lfpscope/internal/log"
	"lfpscope/internal/transport"
	"lfpscope/internal/transport/udp"
	"lfpscope/internal/tui"
	"lfpscope/pkg/build"
)

var logger = applog.For("run")

const (
	statusInterval = time.Second
	drainTimeout   = 10 * time.Second
)

// errMonitorClosed ends the live run when the user quits the monitor.
var errMonitorClosed = errors.New("monitor closed")

// List prints the device table to w.
func List(w io.Writer) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()
	return audio.ListDevices(w)
}

// Init writes the invocation's configuration to its path.
func Init(inv *Invocation) error {
	if err := WriteConfig(inv.Config, inv.Path, inv.Force); err != nil {
		return err
	}
	logger.Infof("wrote %s", inv.Path)
	return nil
}

// openTransports builds the display outputs the configuration enables. The
// logging transport is always present.
func openTransports(cfg *config.Config) ([]transport.Transport, error) {
	out := []transport.Transport{transport.NewLoggingTransport(cfg.Transport.LogFrames)}
	fail := func(err error) ([]transport.Transport, error) {
		for _, t := range out {
			t.Close()
		}
		return nil, err
	}

	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddr)
		if err := ws.Start(); err != nil {
			return fail(err)
		}
		out = append(out, ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		pub, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender)
		if err != nil {
			sender.Close()
			return fail(err)
		}
		pub.Start()
		out = append(out, pub)
	}
	return out, nil
}

// RunLive captures from the configured device until ctx is cancelled or the
// monitor is closed.
func RunLive(ctx context.Context, inv *Invocation) error {
	cfg := inv.Config

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if inv.PickDevice {
		choice, err := tui.RunDevicePicker()
		if err != nil {
			return err
		}
		if choice == nil {
			return nil
		}
		cfg.Audio.InputDevice = choice.DeviceID
		cfg.Audio.SampleRate = choice.SampleRate
		cfg.Audio.InputChannels = choice.Channels
	}

	session, err := engine.NewSession(cfg.Analysis, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	source, err := audio.NewLiveSource(cfg.Audio, cfg.Analysis.Channels, session)
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Stop()

	transports, err := openTransports(cfg)
	if err != nil {
		return err
	}

	var program *tea.Program
	if cfg.TUI {
		restore, err := logToFile()
		if err != nil {
			return err
		}
		defer restore()
		program = tea.NewProgram(tui.NewMonitorModel(build.Get().Name), tea.WithAltScreen())
		transports = append(transports, tui.NewProgramTransport(program))
	}

	poller := transport.NewPoller(session, cfg.Transport.RefreshRate, transports...)
	poller.Start()
	defer func() {
		if err := poller.Close(); err != nil {
			logger.Errorf("closing transports: %v", err)
		}
	}()

	if err := source.Start(); err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Errorf("closing input stream: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report(gctx, session, source, program)
		return nil
	})
	if program != nil {
		g.Go(func() error {
			if _, err := program.Run(); err != nil {
				return err
			}
			return errMonitorClosed
		})
		g.Go(func() error {
			<-gctx.Done()
			program.Quit()
			return nil
		})
	}

	err = g.Wait()
	st := session.Stats()
	logger.Infof("session %s: %d windows published, %d absorbed, %d dropped, %d overruns, %d errors",
		st.Session, st.Published, st.Absorbed, st.Dropped, st.Overruns, st.Errors)
	if errors.Is(err, errMonitorClosed) {
		return nil
	}
	return err
}

// report publishes engine and input statistics once a second, to the
// monitor's status line when there is one and to the debug log otherwise.
func report(ctx context.Context, session *engine.Session, source *audio.LiveSource, program *tea.Program) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := session.Stats()
		line := fmt.Sprintf("%.0f Hz in • peak %.3f • %d clipped • %d windows • %d dropped • %d overruns",
			source.SampleRate(), source.Level().TakePeak(), source.Level().Clipped(),
			st.Absorbed, st.Dropped, st.Overruns)
		if program != nil {
			program.Send(tui.StatusMsg(line))
		} else {
			logger.Debugf("%s", line)
		}
	}
}

// logToFile moves log output off the terminal while the monitor owns it.
func logToFile() (restore func(), err error) {
	path := filepath.Join(os.TempDir(), build.Get().Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	applog.SetOutput(f)
	return func() {
		applog.SetOutput(os.Stderr)
		f.Close()
		logger.Infof("monitor log written to %s", path)
	}, nil
}

// Analyze replays a WAV recording through a session and forwards results
// to the configured transports. It returns once the file is exhausted and
// the last window has been analysed.
func Analyze(ctx context.Context, cfg *config.Config, path string) error {
	src, err := wavfile.Open(path, wavfile.Options{
		BlockSizes: cfg.Audio.FileBlockSizes,
		Realtime:   cfg.Audio.FileRealtime,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	for _, ch := range cfg.Analysis.Channels {
		if ch >= src.Channels() {
			return fmt.Errorf("%w: channel %d, %s has %d", config.ErrBadChannel, ch, path, src.Channels())
		}
	}

	session, err := engine.NewSession(cfg.Analysis, src.SampleRate())
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Stop()

	transports, err := openTransports(cfg)
	if err != nil {
		return err
	}
	poller := transport.NewPoller(session, cfg.Transport.RefreshRate, transports...)
	poller.Start()
	defer func() {
		if err := poller.Close(); err != nil {
			logger.Errorf("closing transports: %v", err)
		}
	}()

	stats, err := src.Stream(ctx, session)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := session.WaitIdle(drainCtx); err != nil {
		logger.Warnf("analysis did not catch up: %v", err)
	}
	poller.Stop()
	poller.Poll()

	st := session.Stats()
	logger.Infof("%s: %d frames in %d blocks, %d windows analysed, %d dropped, %d frames sent",
		filepath.Base(path), stats.Frames, stats.Blocks, st.Absorbed, st.Dropped, poller.Sent())
	return nil
}
