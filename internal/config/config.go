// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"time"
)

// Defaults and limits for the acquisition source and the analysis engine.
const (
	// Acquisition source
	DefaultInputDevice     = MinDeviceID // System default device
	DefaultSampleRate      = 44100       // Hz
	DefaultFramesPerBuffer = 1024
	DefaultInputChannels   = 2

	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 250    // Lowest usable source rate (Hz)
	MaxSampleRate   = 192000 // Highest supported source rate (Hz)
	MaxBufferFrames = 8192

	// Analysis
	DefaultTargetRate   = 2000.0 // Analysis rate after decimation (Hz)
	DefaultFreqStart    = 4.0
	DefaultFreqEnd      = 1000.0
	DefaultStepLength   = 0.1 // Seconds between times of interest
	DefaultInterpRatio  = 1.0
	DefaultAlpha        = 0.0
	DefaultPollInterval = 200 * time.Microsecond

	// Display
	DefaultRefreshRate     = 30.0 // Hz
	DefaultWebSocketAddr   = ":8080"
	DefaultUDPAddress      = "127.0.0.1:9090"
	DefaultUDPSendInterval = 33 * time.Millisecond
)

// Sentinel configuration errors. Validation wraps these with detail.
var (
	ErrNoChannels      = errors.New("no channels selected")
	ErrTooManyChannels = errors.New("too many channels selected")
	ErrBadChannel      = errors.New("invalid channel index")
	ErrBadSampleRate   = errors.New("invalid sample rate")
	ErrBadFrequency    = errors.New("invalid frequency range")
	ErrBadWindow       = errors.New("invalid window length")
	ErrBadAlpha        = errors.New("alpha must be within [0, 1]")
	ErrBadOption       = errors.New("unknown option")
	ErrBadTransport    = errors.New("invalid transport settings")
)
