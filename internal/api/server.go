package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cncpanel/internal/channel"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"
	"cncpanel/internal/resolver"
	"cncpanel/pkg/plugin"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// streamBuffer is how many updates a slow websocket client may fall behind
	streamBuffer = 64

	// writeWait bounds one websocket write
	writeWait = 10 * time.Second
)

// Registry lists the running data plugins. Implemented by *plugin.Registry.
type Registry interface {
	List() []plugin.Plugin
	Get(protocol string) (plugin.Plugin, bool)
}

// Server provides HTTP API endpoints for the panel's data channels
type Server struct {
	registry Registry
	resolver *resolver.Resolver
	loop     *loop.Loop
	metrics  *metrics.Metrics
	logger   *zap.Logger
	readOnly bool
	upgrader websocket.Upgrader
	server   *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithLoop runs every channel access on the event loop
func WithLoop(l *loop.Loop) Option {
	return func(s *Server) { s.loop = l }
}

// WithMetrics exposes the instruments at /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadOnly rejects every write
func WithReadOnly(readOnly bool) Option {
	return func(s *Server) { s.readOnly = readOnly }
}

// NewServer creates a new API server
func NewServer(registry Registry, logger *zap.Logger, port int, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		resolver: resolver.New(registry, logger),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/channels", s.handleListChannels)
	mux.HandleFunc("/api/channel", s.handleChannel)
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// call runs fn on the event loop, or inline when there is none
func (s *Server) call(ctx context.Context, fn func()) error {
	if s.loop == nil {
		fn()
		return nil
	}
	return s.loop.Call(ctx, fn)
}

// ChannelInfo describes one channel in the listing
type ChannelInfo struct {
	URL         string `json:"url"`
	Type        string `json:"type"`
	Settable    bool   `json:"settable"`
	Description string `json:"description,omitempty"`
	Value       any    `json:"value"`
	Text        string `json:"text"`
}

// ChannelValue is the value of one resolved channel URL
type ChannelValue struct {
	URL   string `json:"url"`
	Value any    `json:"value"`
	Text  string `json:"text"`
}

// SetRequest is the body of a channel write
type SetRequest struct {
	URL   string `json:"url"`
	Value any    `json:"value"`
}

// handleListChannels returns every channel of every plugin
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var infos []ChannelInfo
	err := s.call(r.Context(), func() {
		for _, p := range s.registry.List() {
			channels := p.Channels()
			names := make([]string, 0, len(channels))
			for name := range channels {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				ch := channels[name]
				text, _ := ch.String(channel.Query{})
				infos = append(infos, ChannelInfo{
					URL:         p.Protocol() + ":" + name,
					Type:        ch.Type().String(),
					Settable:    ch.Settable(),
					Description: ch.Description(),
					Value:       ch.Raw(),
					Text:        text,
				})
			}
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if infos == nil {
		infos = []ChannelInfo{}
	}

	s.writeJSON(w, http.StatusOK, infos)
}

// handleChannel reads (GET ?url=) or writes (POST) one channel
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetChannel(w, r)
	case http.MethodPost, http.MethodPut:
		s.handleSetChannel(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")

	var out ChannelValue
	var lookupErr error
	err := s.call(r.Context(), func() {
		_, acc, err := s.resolver.Lookup(raw)
		if err != nil {
			lookupErr = err
			return
		}
		v, err := acc()
		if err != nil {
			lookupErr = err
			return
		}
		out = ChannelValue{URL: raw, Value: v, Text: channel.FormatValue(v)}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if lookupErr != nil {
		http.Error(w, lookupErr.Error(), statusFor(lookupErr))
		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	if s.readOnly {
		http.Error(w, "Panel is read-only", http.StatusForbidden)
		return
	}

	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var setErr error
	err := s.call(r.Context(), func() {
		ch, _, err := s.resolver.Lookup(req.URL)
		if err != nil {
			setErr = err
			return
		}
		setErr = ch.Set(req.Value)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if setErr != nil {
		s.logger.Warn("Channel write rejected",
			zap.String("url", req.URL),
			zap.Any("value", req.Value),
			zap.Error(setErr))
		http.Error(w, setErr.Error(), statusFor(setErr))
		return
	}

	s.logger.Info("Channel written via API",
		zap.String("url", req.URL),
		zap.Any("value", req.Value),
		zap.String("remote_addr", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps lookup and write errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, resolver.ErrMalformedURL),
		errors.Is(err, channel.ErrMalformedQuery),
		errors.Is(err, channel.ErrBadIndex),
		errors.Is(err, channel.ErrUnknownKey):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrUnknownProtocol), errors.Is(err, resolver.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrNotSettable):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleStream upgrades to a websocket and pushes every change of the
// channel named by ?url=, starting with its current value
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")

	updates := make(chan ChannelValue, streamBuffer)
	var sub *channel.Subscription
	var lookupErr error
	err := s.call(r.Context(), func() {
		ch, acc, err := s.resolver.Lookup(raw)
		if err != nil {
			lookupErr = err
			return
		}
		push := func() {
			v, err := acc()
			if err != nil {
				s.logger.Warn("Failed to read streamed channel", zap.String("url", raw), zap.Error(err))
				return
			}
			select {
			case updates <- ChannelValue{URL: raw, Value: v, Text: channel.FormatValue(v)}:
			default:
				s.logger.Warn("Dropping update for slow stream client", zap.String("url", raw))
			}
		}
		push()
		sub = ch.Notify(func(any) { push() }, channel.Query{})
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if lookupErr != nil {
		http.Error(w, lookupErr.Error(), statusFor(lookupErr))
		return
	}
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The server timeouts would otherwise end long-lived streams
	_ = conn.SetReadDeadline(time.Time{})

	// Reading detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("Stream opened", zap.String("url", raw), zap.String("remote_addr", r.RemoteAddr))
	for {
		select {
		case update := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				s.logger.Debug("Stream write failed", zap.String("url", raw), zap.Error(err))
				return
			}
		case <-closed:
			s.logger.Debug("Stream closed", zap.String("url", raw))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// HealthResponse reports the lifecycle state of every plugin
type HealthResponse struct {
	Status  string            `json:"status"`
	Plugins map[string]string `json:"plugins"`
}

// handleHealth returns "ok" unless a polling plugin has stopped
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: "ok", Plugins: make(map[string]string)}
	for _, p := range s.registry.List() {
		st, ok := p.(plugin.Stater)
		if !ok {
			resp.Plugins[p.Protocol()] = "running"
			continue
		}
		state := st.State()
		resp.Plugins[p.Protocol()] = state.String()
		if state == plugin.StateStopped {
			resp.Status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/api/channels", Method: "GET", Description: "List every channel with its current value"},
	{Path: "/api/channel?url=<url>", Method: "GET", Description: "Read one channel, e.g. status:position?axis=x"},
	{Path: "/api/channel", Method: "POST", Description: `Write a channel: {"url": "...", "value": ...}`},
	{Path: "/ws?url=<url>", Method: "GET", Description: "Websocket stream of a channel's changes"},
	{Path: "/health", Method: "GET", Description: "Plugin states - returns {\"status\": \"ok\"} while all are polling"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>cncpanel API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>cncpanel API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		// Plain text format for terminal
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "cncpanel API\n")
		fmt.Fprintf(w, "============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-24s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  curl 'http://localhost:8080/api/channel?url=status:task_state%%3Fstring'\n")
		fmt.Fprintf(w, "  curl -d '{\"url\": \"settings:jog.speed\", \"value\": 20}' http://localhost:8080/api/channel\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
