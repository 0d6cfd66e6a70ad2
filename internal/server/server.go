package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/plugin"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/internal/version"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// Server is the wolo HTTP API server.
type Server struct {
	httpServer *http.Server
	plugins    *plugin.Registry
	hosts      *registry.Registry
	bus        event.Bus
	gatherer   prometheus.Gatherer
	maxConns   int
	logger     *zap.Logger
	mux        *http.ServeMux
	listener   net.Listener
	auth       *tokenAuth
}

// Option configures a Server.
type Option func(*Server)

// WithBus enables the /api/v1/events stream.
func WithBus(b event.Bus) Option { return func(s *Server) { s.bus = b } }

// WithGatherer enables /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithTokenAuth requires an HS256 bearer token signed with secret on every
// non-GET request. A non-empty issuer must match the token's iss claim.
// An empty secret leaves the API open.
func WithTokenAuth(secret, issuer string) Option {
	return func(s *Server) {
		if secret != "" {
			s.auth = &tokenAuth{secret: []byte(secret), issuer: issuer}
		}
	}
}

// WithMaxConnections caps concurrently accepted connections. Zero means no cap.
func WithMaxConnections(n int) Option { return func(s *Server) { s.maxConns = n } }

// New creates a new Server instance.
func New(addr string, plugins *plugin.Registry, hosts *registry.Registry, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		plugins: plugins,
		hosts:   hosts,
		logger:  logger,
		mux:     mux,
	}
	for _, o := range opts {
		o(s)
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()
	if s.auth != nil {
		s.httpServer.Handler = s.auth.wrap(mux)
	}

	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("GET /api/v1/hosts", s.handleHosts)
	s.mux.HandleFunc("GET /api/v1/hosts/{key}", s.handleHost)
	if s.bus != nil {
		s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}.
func (s *Server) mountPluginRoutes() {
	if s.plugins == nil {
		return
	}
	allRoutes := s.plugins.AllRoutes()
	names := make([]string, 0, len(allRoutes))
	for name := range allRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, pluginName := range names {
		for _, route := range allRoutes[pluginName] {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start binds the listen address and serves in the background. Bind
// failures are returned so the caller can treat them as fatal.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.listener = ln
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.maxConns),
	)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Wolo-Version", version.Short())
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "wolo",
		"version": version.Map(),
		"hosts":   s.hostCount(),
	})
}

func (s *Server) hostCount() int {
	if s.hosts == nil {
		return 0
	}
	return s.hosts.Len()
}

// handlePlugins lists the registered modules and whether each is running.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	type pluginResponse struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Enabled bool   `json:"enabled"`
	}
	info := []pluginResponse{}
	if s.plugins != nil {
		for _, name := range s.plugins.Names() {
			p, _ := s.plugins.Get(name)
			info = append(info, pluginResponse{
				Name:    name,
				Version: p.Version(),
				Enabled: s.plugins.Enabled(name),
			})
		}
	}
	WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		Unavailable(w, "host registry not loaded", r.URL.Path)
		return
	}
	WriteJSON(w, http.StatusOK, s.hosts.Views())
}

// handleHost resolves {key} as a canonical key, alias or address.
func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		Unavailable(w, "host registry not loaded", r.URL.Path)
		return
	}
	name := r.PathValue("key")
	key, ok := s.hosts.Lookup(name)
	if !ok {
		NotFound(w, fmt.Sprintf("no host named %q", name), r.URL.Path)
		return
	}
	entry, err := s.hosts.Get(key)
	if err != nil {
		NotFound(w, err.Error(), r.URL.Path)
		return
	}
	WriteJSON(w, http.StatusOK, entry.View())
}

// handleEvents streams bus events to a websocket client as JSON. The
// optional topic query parameter filters the stream. Events are dropped
// for a client that cannot keep up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	// The stream outlives the server's request timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ch := make(chan event.Event, eventBuffer)
	unsubscribe := s.bus.SubscribeAll(func(_ context.Context, e event.Event) {
		if topic != "" && e.Topic != topic {
			return
		}
		select {
		case ch <- e:
		default:
			s.logger.Debug("event stream client lagging, dropping event",
				zap.String("remote", r.RemoteAddr),
				zap.String("topic", e.Topic),
			)
		}
	})
	defer unsubscribe()

	s.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr), zap.String("topic", topic))
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-ch:
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				s.logger.Debug("event stream closed", zap.String("remote", r.RemoteAddr), zap.Error(err))
				return
			}
		}
	}
}
