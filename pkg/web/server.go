package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/logging"
	"github.com/Bronek/clio/pkg/metrics"
	"github.com/Bronek/clio/pkg/rpc"
)

// RequestHandler consumes raw messages. *Dispatcher implements it.
type RequestHandler interface {
	OnRequest(msg []byte, conn Connection) error
	OnParseError(err error, conn Connection)
	OnError(err error, conn Connection)
}

// DOSGuard admits connections and requests per client IP.
type DOSGuard interface {
	Request(ctx context.Context, ip string) bool
	Connect(ip string) bool
	Disconnect(ip string)
}

// SubscriptionRegistrar makes websocket connections reachable by feeds.
type SubscriptionRegistrar interface {
	Register(connID string, s feed.Sender)
}

// Config holds web server configuration
type Config struct {
	Address string
	// AdminPassword switches admin verification from loopback IPs to the
	// password header.
	AdminPassword string
	// MaxRequestBytes bounds one-shot request bodies.
	MaxRequestBytes int64
	// WSQueueSize is the number of outgoing messages buffered per
	// websocket before the connection is dropped.
	WSQueueSize       int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig returns the web server defaults
func DefaultConfig() Config {
	return Config{
		Address:           ":51233",
		MaxRequestBytes:   1 << 20,
		WSQueueSize:       256,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type ServerOptions struct {
	Config        Config
	Handler       RequestHandler
	Guard         DOSGuard
	Subscriptions SubscriptionRegistrar
	Tags          *logging.TagFactory
	Logger        zerolog.Logger
}

// Server accepts JSON-RPC over HTTP POST and websocket sessions on the
// same root path, plus /health and /metrics.
type Server struct {
	config   Config
	handler  RequestHandler
	guard    DOSGuard
	subs     SubscriptionRegistrar
	admin    AdminVerifier
	tags     *logging.TagFactory
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	http   *http.Server
}

// NewServer creates a server. Call ListenAndServe to start it.
func NewServer(opts ServerOptions) *Server {
	tags := opts.Tags
	if tags == nil {
		tags = logging.NewTagFactory(logging.TagNone)
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:  opts.Config,
		handler: opts.Handler,
		guard:   opts.Guard,
		subs:    opts.Subscriptions,
		admin:   NewAdminVerifier(opts.Config.AdminPassword),
		tags:    tags,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: opts.Logger.With().Str("component", "WebServer").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.http = &http.Server{
		Addr:              opts.Config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Config.ReadHeaderTimeout,
		IdleTimeout:       opts.Config.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/", s.handleRPC).Methods(http.MethodPost)
	router.HandleFunc("/", s.handleWebsocket).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
			http.MethodHead},
	})
	return c.Handler(router)
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("address", s.config.Address).Msg("Starting web server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes open websocket sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	webRequests.WithLabelValues("http").Inc()
	ip := clientIP(r)
	conn := newHTTPConnection(s.tags.Make(), ip, s.admin.IsAdmin(r, ip))

	if !s.guard.Request(r.Context(), ip) {
		webSlowDowns.WithLabelValues("http").Inc()
		newErrorHelper(conn, nil).sendSlowDownError()
		writeReply(w, <-conn.replies)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes))
	if err != nil {
		s.logger.Debug().Err(err).Str("client_ip", ip).Msg("Failed to read request body")
		s.handler.OnParseError(err, conn)
		writeReply(w, <-conn.replies)
		return
	}

	if err := s.handler.OnRequest(body, conn); err != nil {
		writeReply(w, reply{body: []byte(rpc.NewStatus(rpc.CodeInternal).ErrorMessage()), status: http.StatusInternalServerError})
		return
	}

	select {
	case rep := <-conn.replies:
		writeReply(w, rep)
	case <-r.Context().Done():
		s.logger.Debug().Str("tag", conn.Tag()).Msg("Client went away before the reply was ready")
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected a websocket upgrade", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)
	if !s.guard.Connect(ip) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.guard.Disconnect(ip)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("client_ip", ip).Msg("Websocket upgrade failed")
		return
	}

	conn := newWSConnection(ws, uuid.NewString(), s.tags.Make(), ip, s.admin.IsAdmin(r, ip), s.config.WSQueueSize, s.logger)
	if s.subs != nil {
		s.subs.Register(conn.ID(), conn.feedSender())
	}

	wsConnections.Inc()
	defer wsConnections.Dec()
	s.logger.Debug().Str("conn_id", conn.ID()).Str("client_ip", ip).Msg("Websocket session started")

	err = conn.serve(s.ctx, func(msg []byte) error {
		webRequests.WithLabelValues("ws").Inc()
		if !s.guard.Request(s.ctx, ip) {
			webSlowDowns.WithLabelValues("ws").Inc()
			request, _ := parseRequest(msg)
			newErrorHelper(conn, request).sendSlowDownError()
			return nil
		}
		return s.handler.OnRequest(msg, conn)
	})

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Websocket session failed")
	}
	s.handler.OnError(err, conn)
}

func writeReply(w http.ResponseWriter, rep reply) {
	contentType := "text/plain; charset=utf-8"
	if json.Valid(rep.body) {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(rep.status)
	_, _ = w.Write(rep.body)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
