package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/booking"
	"github.com/nerrad567/meshlab-core/internal/bridge"
	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/fanout"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/config"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/database"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/meshlab-core/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Commander sends device commands and reports the bus session.
// *bridge.Feed implements it.
type Commander interface {
	SendCommand(ctx context.Context, target string, payload map[string]any) error
	Status() bridge.Status
}

// PairingService drives pairing windows. *pairing.Coordinator implements it.
type PairingService interface {
	Start(ctx context.Context, duration time.Duration) (pairing.Status, error)
	Stop(ctx context.Context) error
	Status() pairing.Status
	ConfirmDevice(ctx context.Context, id string) (*device.Record, error)
	Discard(id string) error
	DefaultDuration() time.Duration
}

// GroupEditor applies operator metadata to bridge groups.
// *device.GroupDirectory implements it.
type GroupEditor interface {
	Update(ctx context.Context, id int, patch device.GroupMetaPatch) (*device.Group, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	LabID     string
	Logger    *logging.Logger
	Cache     *device.Cache
	Scheduler *booking.Scheduler
	Fanout    *fanout.Manager
	Commander Commander
	Pairing   PairingService
	Groups    GroupEditor
	AuditRepo audit.Repository // optional
	DB        *database.DB     // optional, for metrics
	Version   string
}

// Server is the HTTP API server for MeshLab Core.
//
// It manages the HTTP listener, routes, middleware and WebSocket upgrades.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secret    string
	labID     string
	logger    *logging.Logger
	cache     *device.Cache
	scheduler *booking.Scheduler
	fanout    *fanout.Manager
	commander Commander
	pairing   PairingService
	groups    GroupEditor
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	auditDone chan struct{}
	db        *database.DB
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	sockets  sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, cache, scheduler, fan-out, commander)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("device cache is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("booking scheduler is required")
	case deps.Fanout == nil:
		return nil, fmt.Errorf("fan-out manager is required")
	case deps.Commander == nil:
		return nil, fmt.Errorf("commander is required")
	case deps.Security.JWT.Secret == "":
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secret:    deps.Security.JWT.Secret,
		labID:     deps.LabID,
		logger:    deps.Logger,
		cache:     deps.Cache,
		scheduler: deps.Scheduler,
		fanout:    deps.Fanout,
		commander: deps.Commander,
		pairing:   deps.Pairing,
		groups:    deps.Groups,
		auditRepo: deps.AuditRepo,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a bad address is reported
// here rather than from the background goroutine.
//
// Parameters:
//   - ctx: Parent context for background goroutines (audit writer)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Hijacked
// WebSocket connections are not covered by Shutdown; they end when the
// fan-out manager closes them.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.closeMu.Lock()
	if s.closed || s.server == nil {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop background goroutines after requests finish so their audit
	// entries are still written.
	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Wait blocks until every WebSocket connection handler has returned.
func (s *Server) Wait() {
	s.sockets.Wait()
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
