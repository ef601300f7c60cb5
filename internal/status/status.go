// Package status provides a local HTTP status endpoint reporting the
// switcher client's connection and tally state.
package status

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultAddr is the preferred listen address. If the port is busy,
// Start will bind to :0 and let the OS pick a free port.
const DefaultAddr = "127.0.0.1:8765"

// Server provides a local HTTP status endpoint over the switcher's
// live state.
type Server struct {
	mu          sync.RWMutex
	version     string
	switcherType string
	host        string
	port        int
	connected   bool
	initialized bool
	programIn   int
	previewIn   int
	tallyPacked uint64
	lastError   string
	startedAt   time.Time
	listenAddr  string

	mux            *http.ServeMux
	server         *http.Server
	metricsHandler http.Handler

	onQuit        func()
	onStateChange func(event, message string)
}

type statusResponse struct {
	Version       string `json:"version"`
	SwitcherType  string `json:"switcher_type"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Connected     bool   `json:"connected"`
	Initialized   bool   `json:"initialized"`
	ProgramInput  int    `json:"program_input"`
	PreviewInput  int    `json:"preview_input"`
	TallyPacked   uint64 `json:"tally_packed"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartedAt     string `json:"started_at"`
	LastError     string `json:"last_error,omitempty"`
	PID           int    `json:"pid"`
}

// New creates a status server for the given backend/host/port. Call
// HandleFunc (or SetMetricsHandler) to register additional routes
// before or after Start.
func New(version, switcherType, host string, port int) *Server {
	s := &Server{
		version:      version,
		switcherType: switcherType,
		host:         host,
		port:         port,
		startedAt:    time.Now(),
		mux:          http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/api/status", s.handleAPIStatus)
	s.mux.HandleFunc("/api/quit", s.handleQuit)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	})
	return s
}

// HandleFunc registers an additional handler on the server's mux.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// SetMetricsHandler mounts a Prometheus handler at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metricsHandler = h
	s.mux.Handle("/metrics", h)
}

// SetQuitHandler sets the callback invoked when POST /api/quit is received.
func (s *Server) SetQuitHandler(fn func()) {
	s.mu.Lock()
	s.onQuit = fn
	s.mu.Unlock()
}

// SetStateChangeHandler sets the callback invoked on connection state transitions.
func (s *Server) SetStateChangeHandler(fn func(event, message string)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// Start begins listening. Tries DefaultAddr first; if busy, binds to :0.
func (s *Server) Start() {
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", DefaultAddr)
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			fmt.Fprintf(os.Stderr, "[status] could not start status server: %v (non-fatal)\n", err)
			return
		}
	}

	s.mu.Lock()
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "[status] status server error: %v\n", err)
		}
	}()
}

// Addr returns the actual listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// Port returns the actual port the server bound to, or 0 if not started.
func (s *Server) Port() int {
	addr := s.Addr()
	if addr == "" {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Stop shuts down the status server.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *Server) SetError(err string) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// SetConnected updates connection state and fires the state-change
// callback on transitions only.
func (s *Server) SetConnected(connected bool) {
	s.mu.Lock()
	prev := s.connected
	s.connected = connected
	cb := s.onStateChange
	host, port := s.host, s.port
	s.mu.Unlock()

	if cb != nil && prev != connected {
		if connected {
			cb("connected", fmt.Sprintf("switcher connected (%s:%d)", host, port))
		} else {
			cb("disconnected", fmt.Sprintf("switcher disconnected (%s:%d)", host, port))
		}
	}
}

func (s *Server) SetInitialized(v bool) {
	s.mu.Lock()
	s.initialized = v
	s.mu.Unlock()
}

func (s *Server) SetState(programIn, previewIn int, tallyPacked uint64) {
	s.mu.Lock()
	s.programIn = programIn
	s.previewIn = previewIn
	s.tallyPacked = tallyPacked
	s.mu.Unlock()
}

func (s *Server) buildResponse() statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return statusResponse{
		Version:       s.version,
		SwitcherType:  s.switcherType,
		Host:          s.host,
		Port:          s.port,
		Connected:     s.connected,
		Initialized:   s.initialized,
		ProgramInput:  s.programIn,
		PreviewInput:  s.previewIn,
		TallyPacked:   s.tallyPacked,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		StartedAt:     s.startedAt.Format(time.RFC3339),
		LastError:     s.lastError,
		PID:           os.Getpid(),
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildResponse())
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildResponse())
}

// handleQuit triggers graceful shutdown via callback.
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST only", 405)
		return
	}

	s.mu.RLock()
	cb := s.onQuit
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if cb != nil {
		fmt.Fprint(w, `{"ok":true}`)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cb()
		}()
	} else {
		fmt.Fprint(w, `{"ok":false,"error":"no quit handler"}`)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"ok":true}`)
}
