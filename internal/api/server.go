package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/account"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/audit"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/garden"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/logging"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Plants is the part of *plantcare.Processor the API drives.
type Plants interface {
	HandleMeasurements(ctx context.Context, plantID string, ms []entity.Measurement) ([]plantcare.Decision, error)
	WaterNow(ctx context.Context, plantID string, durationMs int64) (plantcare.Command, error)
	RequestReading(ctx context.Context, plantID string) error
	Calibrate(ctx context.Context, plantID, point string) (plantcare.Command, error)
}

// Services attaches and detaches garden services. *twin.Registry satisfies it.
type Services interface {
	AttachService(ctx context.Context, id, name string, config map[string]any) error
	DetachService(ctx context.Context, id, name string) error
}

// ActionLog lists recorded plant actions. *audit.SQLiteRepository satisfies it.
type ActionLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Gardens  *garden.Manager
	Accounts *account.Service
	Plants   Plants
	Services Services
	Actions  ActionLog
	Catalog  *twin.Catalog
	Schemas  *schema.Registry
	DB       DBStatser
	Broker   BrokerStatser

	// Checks are reported by /health; a failing check makes it 503.
	Checks map[string]HealthChecker

	// Hub is shared with the processor's event sink. When nil the server
	// creates its own.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	gardens  *garden.Manager
	accounts *account.Service
	plants   Plants
	services Services
	actions  ActionLog
	catalog  *twin.Catalog
	schemas  *schema.Registry
	db       DBStatser
	broker   BrokerStatser
	checks   map[string]HealthChecker
	version  string

	server      *http.Server
	hub         *Hub
	externalHub bool
	startTime   time.Time
	cancel      context.CancelFunc
}

// New creates a server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gardens == nil {
		return nil, fmt.Errorf("garden manager is required")
	}
	if deps.Accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if deps.Plants == nil {
		return nil, fmt.Errorf("plant processor is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		gardens:   deps.Gardens,
		accounts:  deps.Accounts,
		plants:    deps.Plants,
		services:  deps.Services,
		actions:   deps.Actions,
		catalog:   deps.Catalog,
		schemas:   deps.Schemas,
		db:        deps.DB,
		broker:    deps.Broker,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring it as the processor's event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the HTTP listener in the background. The hub runs until
// ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

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

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// stops the listener.
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

// HealthCheck reports whether the server has been started.
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
