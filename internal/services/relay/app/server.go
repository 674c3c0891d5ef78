package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/polyglot.chat/internal/platform/timeouts"
	"github.com/louisbranch/polyglot.chat/internal/services/relay/translate"
)

const (
	defaultSweepInterval = 15 * time.Second
	defaultStaleAfter    = 30 * time.Second
	sweepFailureBackoff  = 5 * time.Second
)

// Config defines the inputs for the relay transport boundary.
type Config struct {
	HTTPAddr           string
	TranslatorBaseURL  string
	TranslateTimeout   time.Duration
	SweepInterval      time.Duration
	StaleAfter         time.Duration
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

// Server hosts the relay HTTP/WebSocket process and its heartbeat monitor.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	monitorStop     context.CancelFunc
	monitorDone     chan struct{}
}

// NewServer builds a configured relay server and starts the heartbeat
// monitor. Call Close to stop the monitor and release resources.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaultStaleAfter
	}

	gateway := translate.NewGatewayFromURL(config.TranslatorBaseURL, config.TranslateTimeout)
	relayCore := newCore(gateway)

	monitor := newHeartbeatMonitor(relayCore, config.SweepInterval, config.StaleAfter)
	monitorCtx, monitorStop := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.run(monitorCtx)
	}()

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(relayCore),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		monitorStop:     monitorStop,
		monitorDone:     monitorDone,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close stops the heartbeat monitor and waits for it to finish.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.monitorStop != nil {
		s.monitorStop()
	}
	if s.monitorDone != nil {
		<-s.monitorDone
	}
}
