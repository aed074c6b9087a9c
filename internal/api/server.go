package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zigbee/internal/metrics"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
	"github.com/nerrad567/gray-logic-zigbee/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the device supervisor as seen by the API.
// *supervisor.Supervisor implements it.
type Gateway interface {
	Devices() []supervisor.DeviceView
	Device(idOrName string) (supervisor.DeviceView, bool)
	Plan(idOrName, property string, value any, options map[string]any) (dispatch.Plan, error)
	Write(ctx context.Context, idOrName, property string, value any, options map[string]any) (dispatch.Result, error)
	Reconfigure(ctx context.Context, idOrName string) (configure.Outcome, error)
	StartPairing(ctx context.Context, seconds int, target string) (pairing.Status, error)
	StopPairing(ctx context.Context) error
	PairingStatus() pairing.Status
}

// HealthSource reports gateway health. *zigbee.HealthReporter implements it.
type HealthSource interface {
	Snapshot() zigbee.HealthMessage
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  Gateway
	Health   HealthSource     // optional
	Metrics  *metrics.Metrics // optional; /metrics is not served without it
	Hub      *Hub             // optional; created by New when nil
	Audit    audit.Repository // optional; mutating calls are not recorded without it
	// PairingDuration is used when a pairing request names no duration.
	PairingDuration int
	Version         string
}

// Server is the HTTP API server.
type Server struct {
	cfg             config.APIConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	gateway         Gateway
	health          HealthSource
	metrics         *metrics.Metrics
	hub             *Hub
	audit           audit.Repository
	tickets         *ticketStore
	pairingDuration int
	version         string
	startTime       time.Time
	server          *http.Server
	cancel          context.CancelFunc
}

// New creates a new API server. The server is not started until Start()
// is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.PairingDuration <= 0 {
		deps.PairingDuration = pairing.MaxDuration
	}

	s := &Server{
		cfg:             deps.Config,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		gateway:         deps.Gateway,
		health:          deps.Health,
		metrics:         deps.Metrics,
		hub:             deps.Hub,
		audit:           deps.Audit,
		tickets:         newTicketStore(),
		pairingDuration: deps.PairingDuration,
		version:         deps.Version,
		startTime:       time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub. It is an event sink for the
// supervisor.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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
