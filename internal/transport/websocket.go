// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"lfpscope/internal/analysis"
)

const broadcastQueue = 64

// WebSocketTransport pushes every frame as JSON to all connected clients and
// serves the latest frame over plain HTTP.
//
// Routes:
//
//	GET /ws                 websocket stream of frames
//	GET /status             client count, frame counters, session
//	GET /power/{channel}    latest power row of one channel
//	GET /bands/{channel}    mean power per frequency band of one channel
type WebSocketTransport struct {
	addr     string
	router   *chi.Mux
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex

	broadcast chan *Frame
	latest    atomic.Pointer[Frame]
	sent      atomic.Uint64
	dropped   atomic.Uint64

	// sendMu orders Send against closing the broadcast queue. Send holds it
	// shared and never blocks while holding it.
	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Status is the /status response.
type Status struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Session string `json:"session,omitempty"`
	Seq     uint64 `json:"seq"`
}

// NewWebSocketTransport creates a transport that will listen on addr once
// started. The broadcast loop runs immediately.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr:   addr,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // displays run on other origins
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan *Frame, broadcastQueue),
	}

	wst.router.Use(middleware.Recoverer)
	wst.router.Get("/ws", wst.handleWebSocket)
	wst.router.With(middleware.NoCache).Get("/status", wst.handleStatus)
	wst.router.With(middleware.NoCache).Get("/power/{channel}", wst.handlePower)
	wst.router.With(middleware.NoCache).Get("/bands/{channel}", wst.handleBands)

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Handler exposes the routes, for embedding or tests.
func (wst *WebSocketTransport) Handler() http.Handler { return wst.router }

// Start binds the listen address and serves in the background.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}
	wst.listener = ln
	wst.server = &http.Server{Handler: wst.router}

	go func() {
		logger.Infof("websocket server listening on %s", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (wst *WebSocketTransport) Addr() string {
	if wst.listener == nil {
		return wst.addr
	}
	return wst.listener.Addr().String()
}

// Clients returns the number of connected websocket clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	logger.Infof("client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients only listen; the first read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		conn.Close()
		logger.Infof("client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

func (wst *WebSocketTransport) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Clients: wst.Clients(),
		Sent:    wst.sent.Load(),
		Dropped: wst.dropped.Load(),
	}
	if f := wst.latest.Load(); f != nil {
		st.Session = f.Session
		st.Seq = f.Seq
	}
	writeJSON(w, http.StatusOK, st)
}

// latestRow resolves the {channel} parameter against the latest frame. It
// writes the error response itself and returns ok=false on failure.
func (wst *WebSocketTransport) latestRow(w http.ResponseWriter, r *http.Request) (f *Frame, ch, row int, ok bool) {
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		http.Error(w, "channel must be an integer", http.StatusBadRequest)
		return nil, 0, 0, false
	}
	f = wst.latest.Load()
	if f == nil || !f.HasPower() {
		http.Error(w, "no power published yet", http.StatusServiceUnavailable)
		return nil, 0, 0, false
	}
	row, found := f.Row(ch)
	if !found {
		http.Error(w, "channel not selected", http.StatusNotFound)
		return nil, 0, 0, false
	}
	return f, ch, row, true
}

func (wst *WebSocketTransport) handlePower(w http.ResponseWriter, r *http.Request) {
	f, ch, row, ok := wst.latestRow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     f.Session,
		"seq":         f.Seq,
		"channel":     ch,
		"frequencies": f.Frequencies,
		"power":       f.Power[row],
	})
}

// BandValue is one entry of the /bands response.
type BandValue struct {
	Name  string  `json:"name"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Power float64 `json:"power"`
}

// handleBands reports mean power per band for one channel. Bands default to
// the conventional rhythms and may be overridden with ?bands=theta:4-8,...
// Bands outside the analysed range are left out.
func (wst *WebSocketTransport) handleBands(w http.ResponseWriter, r *http.Request) {
	bands := analysis.DefaultBands
	if q := r.URL.Query().Get("bands"); q != "" {
		var err error
		if bands, err = analysis.ParseBands(q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	f, ch, row, ok := wst.latestRow(w, r)
	if !ok {
		return
	}

	values := make([]BandValue, 0, len(bands))
	for i, p := range analysis.BandPower(f.Frequencies, f.Power[row], bands) {
		if math.IsNaN(p) {
			continue
		}
		b := bands[i]
		values = append(values, BandValue{Name: b.Name, Low: b.Low, High: b.High, Power: p})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": f.Session,
		"seq":     f.Seq,
		"channel": ch,
		"bands":   values,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("writing response: %v", err)
	}
}

// handleBroadcasts sends queued frames to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for frame := range wst.broadcast {
		wst.clientsMu.Lock()
		for client := range wst.clients {
			if err := client.WriteJSON(frame); err != nil {
				logger.Warnf("sending to %s: %v", client.RemoteAddr(), err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
		wst.sent.Add(1)
	}
}

// Send queues the frame for broadcast. A full queue drops the frame: the next
// one supersedes it anyway.
func (wst *WebSocketTransport) Send(frame *Frame) error {
	wst.sendMu.RLock()
	defer wst.sendMu.RUnlock()
	if wst.closed {
		return ErrClosed
	}
	if frame.HasPower() {
		wst.latest.Store(frame)
	}
	select {
	case wst.broadcast <- frame:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Close shuts down the server and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		logger.Infof("closing websocket server")
		wst.sendMu.Lock()
		wst.closed = true
		close(wst.broadcast)
		wst.sendMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
		wst.wg.Wait()

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
