package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/beacon/internal/automation"
	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
	"github.com/nerrad567/beacon/internal/infrastructure/logging"
	"github.com/nerrad567/beacon/internal/pubsub"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateService is the part of the state store the API uses.
type StateService interface {
	SetState(ctx context.Context, target device.DeviceTarget, raw any) (bool, error)
	Entry(target device.DeviceTarget) (device.StateEntry, bool)
	Snapshot() []device.StateChange
}

// ConductRequester accepts conduct requests.
type ConductRequester interface {
	RequestConduct(ctx context.Context, r conduct.Request, ignoreDelay bool) error
}

// HistoryReader lists recorded state changes.
type HistoryReader interface {
	List(ctx context.Context, target device.DeviceTarget, limit int) ([]device.HistoryEntry, error)
}

// ProcessLister returns the active automation processes.
type ProcessLister interface {
	Processes(ctx context.Context) ([]automation.StateTriggerProcess, error)
}

// CatalogRefresher reloads the device and process catalogs.
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) error
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	States    StateService
	StateHub  *pubsub.KeyedHub[device.DeviceTarget] // optional; feeds WebSocket broadcasts
	Conducts  ConductRequester
	History   HistoryReader    // optional
	Processes ProcessLister    // optional
	Catalog   CatalogRefresher // optional

	MetricsHandler http.Handler             // optional; mounted at Metrics.Path
	Health         map[string]HealthChecker // optional
	Version        string
}

// Server is the HTTP API server of the station.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	metrics   config.MetricsConfig
	logger    *logging.Logger
	states    StateService
	stateHub  *pubsub.KeyedHub[device.DeviceTarget]
	conducts  ConductRequester
	history   HistoryReader
	processes ProcessLister
	catalog   CatalogRefresher
	promHTTP  http.Handler
	health    map[string]HealthChecker
	version   string

	server   *http.Server
	listener net.Listener
	hub      *Hub
	stateSub *pubsub.Subscription
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, state store, conducts)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Conducts == nil {
		return nil, fmt.Errorf("conduct manager is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		states:    deps.States,
		stateHub:  deps.StateHub,
		conducts:  deps.Conducts,
		history:   deps.History,
		processes: deps.Processes,
		catalog:   deps.Catalog,
		promHTTP:  deps.MetricsHandler,
		health:    deps.Health,
		version:   deps.Version,
		hub:       NewHub(deps.WS, deps.Logger, deps.States.Snapshot),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to accepted state changes for
// broadcast, binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the hub and broadcast subscription
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if s.stateHub != nil {
		s.stateSub = s.stateHub.Subscribe("api", s.broadcastState)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.stateSub != nil {
		s.stateSub.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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

// broadcastState pushes an accepted change to WebSocket clients.
func (s *Server) broadcastState(_ context.Context, target device.DeviceTarget) error {
	entry, ok := s.states.Entry(target)
	if !ok {
		return nil
	}
	s.hub.BroadcastState(stateView{
		Target:    target,
		Value:     entry.Value,
		UpdatedAt: entry.UpdatedAt,
	})
	return nil
}
