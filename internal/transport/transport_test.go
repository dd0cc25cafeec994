// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfpscope/internal/config"
	"lfpscope/internal/engine"
	"lfpscope/pkg/testsignal"
)

// captureTransport keeps every frame it is sent.
type captureTransport struct {
	mu     sync.Mutex
	frames []*Frame
	closed bool
}

func (c *captureTransport) Send(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureTransport) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// runSession feeds a 100 Hz sine on channel 0 and a 250 Hz sine on channel 1
// and waits for the worker to publish.
func runSession(t *testing.T, display string) *engine.Session {
	t.Helper()
	a := config.Default().Analysis
	a.Channels = []int{0, 1}
	a.FreqStart, a.FreqEnd = 0, 1000
	a.WindowLength = 0.25
	a.Display = display
	s, err := engine.NewSession(a, 2000)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	s.ProcessBlock([][]float32{
		testsignal.Sine(1000, 2000, 100, 1, 0),
		testsignal.Sine(1000, 2000, 252, 1, 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
	return s
}

func TestPollerCopiesLatestResults(t *testing.T) {
	s := runSession(t, "both")
	capture := &captureTransport{}
	p := NewPoller(s, 30, capture)

	require.True(t, p.Poll())
	assert.False(t, p.Poll(), "nothing new on the second poll")
	require.Equal(t, 1, capture.count())
	assert.Equal(t, uint64(1), p.Sent())

	f := capture.frames[0]
	assert.Equal(t, s.ID().String(), f.Session)
	assert.Equal(t, uint64(2), f.Seq)
	assert.NotZero(t, f.Timestamp)
	assert.Equal(t, []int{0, 1}, f.Channels)
	assert.Equal(t, [][2]int{{0, 1}}, f.Pairs)
	require.True(t, f.HasPower())
	require.True(t, f.HasCoherence())

	freq, _ := f.PeakFrequency(0)
	assert.Equal(t, 100.0, freq)
	freq, _ = f.PeakFrequency(1)
	assert.Equal(t, 252.0, freq)

	// The frame is a copy: later results do not alter it.
	before := f.Power[0][25]
	s.ProcessBlock([][]float32{testsignal.DC(500, 0), testsignal.DC(500, 0)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
	require.True(t, p.Poll())
	assert.Equal(t, before, f.Power[0][25])
}

func TestPollerPowerOnly(t *testing.T) {
	s := runSession(t, "power")
	capture := &captureTransport{}
	p := NewPoller(s, 60, capture)

	require.True(t, p.Poll())
	f := capture.frames[0]
	assert.True(t, f.HasPower())
	assert.False(t, f.HasCoherence())
}

func TestPollerFollowsReconfigure(t *testing.T) {
	s := runSession(t, "power")
	capture := &captureTransport{}
	p := NewPoller(s, 30, capture)
	require.True(t, p.Poll())

	a := s.Plan()
	cfg := config.Default().Analysis
	cfg.Channels = []int{1}
	cfg.FreqStart, cfg.FreqEnd = 0, 1000
	cfg.WindowLength = a.WindowLength
	require.NoError(t, s.Reconfigure(cfg, 2000))
	assert.False(t, p.Poll(), "fresh channels have nothing yet")

	s.ProcessBlock([][]float32{testsignal.DC(500, 0), testsignal.Sine(500, 2000, 40, 1, 0)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))

	require.True(t, p.Poll())
	f := capture.frames[1]
	assert.Equal(t, s.ID().String(), f.Session)
	assert.Equal(t, []int{1}, f.Channels)
	freq, _ := f.PeakFrequency(0)
	assert.Equal(t, 40.0, freq)
}

func TestPollerStartStop(t *testing.T) {
	s := runSession(t, "power")
	capture := &captureTransport{}
	p := NewPoller(s, 200, capture)
	assert.Equal(t, 5*time.Millisecond, p.Interval())

	p.Start()
	p.Start()
	require.Eventually(t, func() bool { return capture.count() == 1 }, 2*time.Second, time.Millisecond)
	p.Stop()
	p.Stop()

	require.NoError(t, p.Close())
	assert.True(t, capture.closed)
}

func TestNewPollerDefaultsRate(t *testing.T) {
	p := NewPoller(nil, 0)
	assert.Equal(t, time.Second/30, p.Interval())
}

func TestSummary(t *testing.T) {
	f := &Frame{
		Seq:         7,
		Frequencies: []float64{4, 8, 12},
		Channels:    []int{3},
		Power:       [][]float32{{0.1, 0.9, 0.2}},
		Pairs:       [][2]int{{0, 1}},
		Coherence:   [][]float64{{0.2, 0.4, 0.6}},
	}
	line := Summary(f)
	assert.Equal(t, "seq 7 | ch3 peak 8.0 Hz (0.9) | coh 0-1 0.400", line)

	lt := NewLoggingTransport(false)
	require.NoError(t, lt.Send(f))
	assert.Equal(t, uint64(1), lt.Frames())
	assert.NoError(t, lt.Close())
}

func TestPeakFrequencyOutOfRange(t *testing.T) {
	f := &Frame{Power: [][]float32{{}}}
	freq, power := f.PeakFrequency(0)
	assert.Zero(t, freq)
	assert.Zero(t, power)
	freq, _ = f.PeakFrequency(5)
	assert.Zero(t, freq)
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, time.Millisecond)

	sent := &Frame{
		Session:     "abc",
		Seq:         3,
		Timestamp:   42,
		Frequencies: []float64{4, 8},
		Channels:    []int{2},
		Power:       [][]float32{{1, 2}},
	}
	require.NoError(t, wst.Send(sent))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, *sent, got)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, 1, st.Clients)
	assert.Equal(t, "abc", st.Session)
	assert.Equal(t, uint64(3), st.Seq)
}

func TestWebSocketPowerRoute(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	defer wst.Close()
	h := wst.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, get("/power/2").Code)

	require.NoError(t, wst.Send(&Frame{
		Seq:         9,
		Frequencies: []float64{4, 8},
		Channels:    []int{2, 5},
		Power:       [][]float32{{1, 2}, {3, 4}},
	}))

	rec := get("/power/5")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Channel int       `json:"channel"`
		Power   []float32 `json:"power"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Channel)
	assert.Equal(t, []float32{3, 4}, body.Power)

	assert.Equal(t, http.StatusNotFound, get("/power/1").Code)
	assert.Equal(t, http.StatusBadRequest, get("/power/x").Code)
}

func TestWebSocketBandsRoute(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	defer wst.Close()
	h := wst.Handler()

	require.NoError(t, wst.Send(&Frame{
		Seq:         2,
		Frequencies: []float64{2, 6, 10, 20},
		Channels:    []int{4},
		Power:       [][]float32{{1, 6, 2, 4}},
	}))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	var body struct {
		Channel int         `json:"channel"`
		Bands   []BandValue `json:"bands"`
	}
	rec := get("/bands/4")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Channel)
	assert.Equal(t, []BandValue{
		{Name: "delta", Low: 1, High: 4, Power: 1},
		{Name: "theta", Low: 4, High: 8, Power: 6},
		{Name: "alpha", Low: 8, High: 13, Power: 2},
		{Name: "beta", Low: 13, High: 30, Power: 4},
	}, body.Bands, "bands without bins are left out")

	rec = get("/bands/4?bands=slow:0-8,fast:8-40")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []BandValue{
		{Name: "slow", Low: 0, High: 8, Power: 3.5},
		{Name: "fast", Low: 8, High: 40, Power: 3},
	}, body.Bands)

	assert.Equal(t, http.StatusBadRequest, get("/bands/4?bands=nonsense").Code)
	assert.Equal(t, http.StatusNotFound, get("/bands/0").Code)
}

func TestFrameRowAndDominantBand(t *testing.T) {
	f := &Frame{
		Frequencies: []float64{2, 6, 10},
		Channels:    []int{3, 7},
		Power:       [][]float32{{0, 5, 1}, {4, 0, 0}},
	}
	row, ok := f.Row(7)
	require.True(t, ok)
	assert.Equal(t, 1, row)
	_, ok = f.Row(0)
	assert.False(t, ok)

	assert.Equal(t, "theta", f.DominantBand(0))
	assert.Equal(t, "delta", f.DominantBand(1))
	assert.Equal(t, "", f.DominantBand(2))
}

func TestWebSocketStartAndClose(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, wst.Start())
	assert.NotEqual(t, "127.0.0.1:0", wst.Addr())

	resp, err := http.Get("http://" + wst.Addr() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, wst.Close())
	assert.NoError(t, wst.Close())
	assert.ErrorIs(t, wst.Send(&Frame{}), ErrClosed)
}

func TestWebSocketSendRacingClose(t *testing.T) {
	for range 20 {
		wst := NewWebSocketTransport("127.0.0.1:0")

		var wg sync.WaitGroup
		start := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for range 200 {
					if err := wst.Send(&Frame{}); err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
				}
			}()
		}
		close(start)
		require.NoError(t, wst.Close())
		wg.Wait()
		assert.ErrorIs(t, wst.Send(&Frame{}), ErrClosed)
	}
}
