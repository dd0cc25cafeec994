// SPDX-License-Identifier: MIT
/*
Package engine wires the real-time ingester, the analysis worker and the
result channels into a Session.

Threads:
  - the acquisition callback calls ProcessBlock / ProcessInterleaved; it never
    blocks, locks or allocates
  - one analysis goroutine, locked to its OS thread, polls for trials,
    absorbs them into the estimator and publishes results
  - display goroutines only ever touch the Results channels

Reconfigure stops and joins the worker, builds a complete new pipeline and
swaps it in with one atomic store. A callback still running against the old
pipeline finishes harmlessly: nothing reads its output any more.
*/
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lfpscope/internal/analysis"
	"lfpscope/internal/config"
	"lfpscope/internal/estimator"
	"lfpscope/internal/exchange"
	"lfpscope/internal/ingest"
	applog "lfpscope/internal/log"
)

var logger = applog.For("engine")

// Compile-time checks for interface implementations.
var (
	_ analysis.Task                  = (*Session)(nil)
	_ analysis.Processor             = (*Session)(nil)
	_ analysis.ConfigurableProcessor = (*Session)(nil)
)

// pipeline is everything built from one Plan. The estimator is owned by the
// worker goroutine while it runs.
type pipeline struct {
	id       uuid.UUID
	plan     *config.Plan
	ingester *ingest.Ingester
	est      *estimator.Estimator
	results  Results
	pairs    [][2]int

	lastSeq  atomic.Uint64
	absorbed atomic.Uint64
	dropped  atomic.Uint64
	errors   atomic.Uint64
}

func newPipeline(plan *config.Plan) (*pipeline, error) {
	est, err := estimator.New(plan.EstimatorConfig())
	if err != nil {
		return nil, fmt.Errorf("building estimator: %w", err)
	}
	ingester := ingest.NewIngester(exchange.New[ingest.Trial]())
	if err := ingester.Configure(plan.IngestPlan()); err != nil {
		return nil, fmt.Errorf("configuring ingester: %w", err)
	}

	pairs := plan.Pairs()
	return &pipeline{
		id:       uuid.New(),
		plan:     plan,
		ingester: ingester,
		est:      est,
		results:  newResults(plan.Selection, plan.Frequencies(), pairs),
		pairs:    pairs,
	}, nil
}

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	Session   uuid.UUID
	Published uint64 // trials committed by the ingester
	Absorbed  uint64 // trials processed by the worker
	Dropped   uint64 // trials superseded before the worker got to them
	Overruns  uint64 // channel windows overwritten by unbalanced feeding
	Errors    uint64 // per-window failures logged and skipped
}

// Session is the streaming spectral engine.
type Session struct {
	mu  sync.Mutex // serializes Start, Stop and Reconfigure
	cur atomic.Pointer[pipeline]

	stop    atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewSession derives a plan for sourceRate and builds the pipeline. The
// worker is not started.
func NewSession(a config.AnalysisConfig, sourceRate float64) (*Session, error) {
	s := &Session{}
	if err := s.rebuild(a, sourceRate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) rebuild(a config.AnalysisConfig, sourceRate float64) error {
	plan, err := config.NewPlan(a, sourceRate)
	if err != nil {
		return err
	}
	for _, w := range plan.Warnings {
		logger.Warnf("%s", w)
	}
	p, err := newPipeline(plan)
	if err != nil {
		return err
	}
	s.cur.Store(p)

	logger.Infof("session %s: %d channel(s), %.1f Hz analysis rate (decimation %d), window %.3fs, segment %d samples, hop %d, nfft %d, %d freqs from %.2f Hz step %.3f Hz, %d time point(s), %v/%v, display %v",
		p.id, plan.Channels(), plan.SampleRate, plan.DownsampleFactor, plan.WindowLength,
		plan.BufferSize, plan.StepSize, plan.NFFT, plan.NFreqs, plan.FreqStart, plan.FreqStep,
		plan.NTimes, plan.Extraction, plan.Policy, plan.Display)
	return nil
}

// ProcessBlock feeds one block laid out [sourceChannel][frame].
func (s *Session) ProcessBlock(block [][]float32) {
	s.cur.Load().ingester.ProcessBlock(block)
}

// ProcessInterleaved feeds one interleaved block of numChannels channels.
func (s *Session) ProcessInterleaved(samples []float32, numChannels int) {
	s.cur.Load().ingester.ProcessInterleaved(samples, numChannels)
}

// Start launches the analysis goroutine. Starting a running session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	return nil
}

func (s *Session) startLocked() {
	if s.running.Load() {
		return
	}
	p := s.cur.Load()
	s.stop.Store(false)
	s.running.Store(true)
	s.wg.Add(1)
	go s.run(p)
	logger.Debugf("session %s: analysis worker started", p.id)
}

// Stop signals the analysis goroutine and waits for it to exit. A trial
// being absorbed is always finished first. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if !s.running.Load() {
		return
	}
	s.stop.Store(true)
	s.wg.Wait()
	s.running.Store(false)
	logger.Debugf("session %s: analysis worker stopped", s.cur.Load().id)
}

// Running reports whether the analysis goroutine is active.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Reconfigure stops the worker, rebuilds buffers, kernels and accumulators
// for the new settings, and restarts the worker if it was running. On error
// the previous pipeline stays in place.
func (s *Session) Reconfigure(a config.AnalysisConfig, sourceRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running.Load()
	s.stopLocked()

	err := s.rebuild(a, sourceRate)
	if wasRunning {
		s.startLocked()
	}
	return err
}

// ID returns the current session id. It changes on every reconfiguration.
func (s *Session) ID() uuid.UUID { return s.cur.Load().id }

// Plan returns the current analysis plan.
func (s *Session) Plan() *config.Plan { return s.cur.Load().plan }

// SampleRate returns the source sample rate the plan was built for.
func (s *Session) SampleRate() float64 { return s.cur.Load().plan.SourceRate }

// Results returns the current result channels.
func (s *Session) Results() Results { return s.cur.Load().results }

// Stats returns the counters of the current pipeline.
func (s *Session) Stats() Stats {
	p := s.cur.Load()
	return Stats{
		Session:   p.id,
		Published: p.ingester.Published(),
		Absorbed:  p.absorbed.Load(),
		Dropped:   p.dropped.Load(),
		Overruns:  p.ingester.Overruns(),
		Errors:    p.errors.Load(),
	}
}

// WaitIdle blocks until the worker has absorbed the latest published trial
// or ctx is done.
func (s *Session) WaitIdle(ctx context.Context) error {
	p := s.cur.Load()
	ticker := time.NewTicker(p.plan.PollInterval)
	defer ticker.Stop()
	for {
		if p.lastSeq.Load() == p.ingester.Published() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// run is the analysis loop: check the stop flag, take the newest trial if
// there is one, absorb it, publish, repeat. With nothing to do it sleeps for
// the poll interval.
func (s *Session) run(p *pipeline) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.wg.Done()

	trials := p.ingester.Output()
	poll := p.plan.PollInterval
	for !s.stop.Load() {
		if !trials.HasUpdate() {
			time.Sleep(poll)
			continue
		}
		s.absorb(p, trials)
	}
}

func (s *Session) absorb(p *pipeline, trials *exchange.Channel[ingest.Trial]) {
	r := trials.AcquireReader()
	if !r.Valid() {
		return
	}
	if !r.Fresh() {
		r.Release()
		return
	}
	trial := r.Value()
	seq := trial.Seq
	if last := p.lastSeq.Load(); seq > last+1 {
		p.dropped.Add(seq - last - 1)
	}

	for ch, samples := range trial.Samples {
		if err := p.est.AbsorbBuffer(ch, samples); err != nil {
			p.errors.Add(1)
			logger.Errorf("session %s: trial %d channel %d: %v", p.id, seq, ch, err)
		}
	}
	r.Release()

	if p.plan.Display.Power() {
		s.publishPower(p, seq)
	}
	if len(p.pairs) > 0 {
		s.publishCoherence(p, seq)
	}

	p.absorbed.Add(1)
	p.lastSeq.Store(seq)
}

func (s *Session) publishPower(p *pipeline, seq uint64) {
	w := p.results.Power.AcquireWriter()
	frame := w.Value()
	frame.Session = p.id
	frame.Seq = seq
	for ch := range frame.Power {
		if err := p.est.CurrentPower(ch, frame.Power[ch]); err != nil {
			p.errors.Add(1)
			logger.Errorf("session %s: power for channel %d: %v", p.id, ch, err)
		}
	}
	w.Commit()
}

func (s *Session) publishCoherence(p *pipeline, seq uint64) {
	w := p.results.Coherence.AcquireWriter()
	frame := w.Value()
	frame.Session = p.id
	frame.Seq = seq
	for i, pair := range p.pairs {
		if err := p.est.Coherence(pair[0], pair[1], frame.Coherence[i]); err != nil {
			p.errors.Add(1)
			logger.Errorf("session %s: coherence %v: %v", p.id, pair, err)
		}
	}
	w.Commit()
}
