package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/discovery"
	"github.com/nerrad567/mqtt-gateway/internal/gateway"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-gateway/internal/node"
	"github.com/nerrad567/mqtt-gateway/internal/nodes"
	"github.com/nerrad567/mqtt-gateway/internal/notice"
	"github.com/nerrad567/mqtt-gateway/internal/topics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the part of the running gateway the API drives.
// *gateway.Gateway satisfies it.
type Gateway interface {
	Status() gateway.Status
	Command(address string, cmd node.Command) error
	Discover(ctx context.Context) (discovery.Result, error)
	ReplaceDevices(ctx context.Context, raw []map[string]any) (device.LoadResult, discovery.Result, error)
	Store() *device.Store
	Nodes() *nodes.Registry
	Topics() *topics.Registry
	Notices() *notice.Board
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  Gateway
	Version  string
}

// Server is the HTTP API server of the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	gw      Gateway
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The hub is registered for node events and notice changes here. The HTTP
// listener is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		gw:      deps.Gateway,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger),
	}

	s.gw.Nodes().AddListener(func(e nodes.Event) {
		s.hub.Broadcast(string(e.Type), e)
	})
	s.gw.Notices().OnChange(func(list []notice.Notice) {
		s.hub.Broadcast(ChannelNotices, list)
	})

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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
