package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fardale/chatrelay/pkg/database"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on debug logging to stderr.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Server is the relay: it accepts connections, runs one session per
// connection on a bounded worker pool, and owns the shared presence
// registry, router, and store handle.
type Server struct {
	db       *database.DB
	listener net.Listener
	registry *Registry
	router   *Router
	config   ServerConfig
	metrics  *Metrics

	metricsServer *http.Server
	publicServer  *http.Server

	shutdown chan struct{}
	wg       sync.WaitGroup

	// slots bounds concurrent sessions. Connections beyond capacity queue
	// unboundedly waiting for a free slot; nothing is rejected and no
	// backpressure signal reaches the client.
	slots chan struct{}

	nextSessionID atomic.Uint64

	sessionsMu sync.Mutex
	sessions   map[uint64]*Session

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	TCPPort             int
	HTTPPort            int // Public HTTP port for the /ws transport (0 = disabled)
	MetricsPort         int // Internal metrics/health port (0 = disabled)
	MaxSessions         int // Worker-pool ceiling for concurrent sessions
	WriteTimeoutSeconds int // Per-write deadline on outbound frames
}

// DefaultConfig returns default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:             12345,
		HTTPPort:            8080,
		MetricsPort:         9090,
		MaxSessions:         20,
		WriteTimeoutSeconds: 10,
	}
}

// NewServer creates a new server instance over the database at dbPath.
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultConfig().MaxSessions
	}

	metrics := NewMetrics()
	registry := NewRegistry()

	server := &Server{
		db:       db,
		registry: registry,
		router:   NewRouter(db, registry, metrics),
		config:   config,
		metrics:  metrics,
		shutdown: make(chan struct{}),
		slots:    make(chan struct{}, config.MaxSessions),
		sessions: make(map[uint64]*Session),
	}

	return server, nil
}

// Start binds the TCP listener and starts the accept loop and background
// goroutines. A bind failure is the only fatal startup error.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	log.Printf("Relay listening on %s (max %d concurrent sessions)", listener.Addr(), s.config.MaxSessions)

	// Internal metrics server - never expose publicly
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metrics.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public HTTP server carrying the same line protocol over WebSocket
	if s.config.HTTPPort > 0 {
		publicMux := http.NewServeMux()
		publicMux.HandleFunc("/ws", s.HandleWebSocket)
		s.publicServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.HTTPPort),
			Handler: publicMux,
		}
		go func() {
			log.Printf("Public HTTP server listening on %s (/ws)", s.publicServer.Addr)
			if err := s.publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to. Useful when the
// configured port is 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop gracefully stops the server: no new connections, all sessions
// closed, database flushed.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		log.Println("TCP listener closed")
	}

	// Stop the HTTP listeners before closing sessions so no new WebSocket
	// upgrade can slip in after the WaitGroup drains.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}
	}
	if s.publicServer != nil {
		if err := s.publicServer.Shutdown(ctx); err != nil {
			log.Printf("Public HTTP server shutdown error: %v", err)
		}
	}

	s.closeAllSessions()
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

func (s *Server) closeAllSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	for _, sess := range s.sessions {
		sess.Conn.Close()
	}
}

// HealthHandler reports liveness for the internal HTTP listener.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok sessions=%d online=%d\n", s.sessionCount(), s.registry.Count())
}

// acceptLoop accepts incoming connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		// The goroutine parks on the slot semaphore when the pool is at
		// capacity, so accepted connections queue without a cap until a
		// session slot frees up.
		s.wg.Add(1)
		go s.dispatch(conn)
	}
}

// dispatch admits a connection to the bounded session pool and runs it.
// Callers must add the goroutine to the WaitGroup before spawning it, so
// Stop's wg.Wait observes session cleanup before the database closes.
func (s *Server) dispatch(conn net.Conn) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	case <-s.shutdown:
		conn.Close()
		return
	}
	defer func() { <-s.slots }()

	s.runSession(conn)
}

// runSession drives one connection through the protocol state machine:
// authenticate, loop on commands, clean up.
func (s *Server) runSession(conn net.Conn) {
	defer conn.Close()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := newSession(
		s.nextSessionID.Add(1),
		conn,
		time.Duration(s.config.WriteTimeoutSeconds)*time.Second,
	)

	s.trackSession(sess)
	defer s.untrackSession(sess)

	s.metrics.RecordConnection()
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("Session %d: new connection from %s", sess.ID, sess.RemoteAddr)

	defer s.cleanupSession(sess)

	if !s.handleAuth(sess) {
		return
	}

	for {
		line, err := sess.readLine()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}
		s.handleCommand(sess, line)
	}
}

// cleanupSession terminates a session. If the session had completed
// authentication (LOGIN or REGISTER recorded a username), its presence is
// removed, the durable online flag is cleared, and remaining sessions get
// an updated presence broadcast.
func (s *Server) cleanupSession(sess *Session) {
	sess.setState(StateTerminated)
	s.disconnectionsSinceReport.Add(1)

	if sess.Username == "" {
		return
	}

	s.registry.Unregister(sess.Username, sess.Conn)
	if err := s.db.SetOnline(sess.Username, false); err != nil {
		errorLog.Printf("Failed to update status for %s: %v", sess.Username, err)
	}
	s.router.BroadcastPresence()
	log.Printf("%s disconnected", sess.Username)
}

func (s *Server) trackSession(sess *Session) {
	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.sessionsMu.Unlock()

	s.metrics.RecordActiveSessions(count)
}

func (s *Server) untrackSession(sess *Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.ID)
	count := len(s.sessions)
	s.sessionsMu.Unlock()

	s.metrics.RecordActiveSessions(count)
}

func (s *Server) sessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// metricsLoggingLoop periodically logs key counters.
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Active sessions: %d, online users: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				s.sessionCount(), s.registry.Count(), connected, disconnected, runtime.NumGoroutine())
		}
	}
}
