// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"lfpscope/internal/engine"
	applog "lfpscope/internal/log"
)

var logger = applog.For("transport")

// ResultSource hands out the current result channels. The engine replaces
// them on reconfiguration, so the poller asks again on every tick.
type ResultSource interface {
	Results() engine.Results
}

// Poller is the single consumer of a session's result channels. It runs in
// its own goroutine managed by Start and Stop.
type Poller struct {
	source     ResultSource
	transports []Transport
	interval   time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // guards ticker and doneChan

	sent atomic.Uint64
}

// NewPoller polls source refreshHz times a second. A non-positive rate
// falls back to 30 Hz.
func NewPoller(source ResultSource, refreshHz float64, transports ...Transport) *Poller {
	if refreshHz <= 0 {
		logger.Warnf("invalid refresh rate %.1f Hz, defaulting to 30 Hz", refreshHz)
		refreshHz = 30
	}
	return &Poller{
		source:     source,
		transports: transports,
		interval:   time.Duration(float64(time.Second) / refreshHz),
	}
}

// Interval returns the polling period.
func (p *Poller) Interval() time.Duration { return p.interval }

// Sent returns the number of frames handed to the transports.
func (p *Poller) Sent() uint64 { return p.sent.Load() }

// Start begins polling. Subsequent calls are no-ops while running.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("poller already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Debugf("poller started (interval %s, %d transport(s))", p.interval, len(p.transports))
		for {
			select {
			case <-ticker.C:
				p.Poll()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the polling goroutine and waits for it to exit. Safe to call
// more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()
	p.wg.Wait()
	logger.Debugf("poller stopped after %d frames", p.sent.Load())
}

// Close stops polling and closes every transport.
func (p *Poller) Close() error {
	p.Stop()
	var errs []error
	for _, t := range p.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll takes whatever is new on the result channels and sends it. It reports
// whether a frame went out.
func (p *Poller) Poll() bool {
	frame := p.collect()
	if frame == nil {
		return false
	}
	for _, t := range p.transports {
		if err := t.Send(frame); err != nil {
			logger.Errorf("send seq %d: %v", frame.Seq, err)
		}
	}
	p.sent.Add(1)
	return true
}

func (p *Poller) collect() *Frame {
	results := p.source.Results()
	var frame *Frame

	if results.Power != nil && results.Power.HasUpdate() {
		r := results.Power.AcquireReader()
		if r.Valid() && r.Fresh() {
			frame = &Frame{}
			frame.copyPower(r.Value())
		}
		r.Release()
	}
	if results.Coherence != nil && results.Coherence.HasUpdate() {
		r := results.Coherence.AcquireReader()
		if r.Valid() && r.Fresh() {
			if frame == nil {
				frame = &Frame{}
			}
			frame.copyCoherence(r.Value())
		}
		r.Release()
	}

	if frame != nil {
		frame.Timestamp = time.Now().UnixNano()
	}
	return frame
}
