// Package api exposes the websocket streaming surface: a single
// token-authenticated relay connection receiving the response pipeline's
// streaming packets as text frames.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/service"
)

// Close codes for authentication failures.
const (
	CloseMissingToken websocket.StatusCode = 4001
	CloseInvalidToken websocket.StatusCode = 4002
)

// Service hosts the HTTP server carrying the /ws relay endpoint.
type Service struct {
	service.Base
	addr   string
	secret string
	relay  *Relay
	server *http.Server
}

// NewService builds the websocket surface listening on addr, validating
// bearer tokens against the shared secret.
func NewService(h *host.Host, addr, secret string) *Service {
	return &Service{
		Base:   service.NewBase(h.Bus(), h.Executor()),
		addr:   addr,
		secret: secret,
		relay:  &Relay{},
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "WebsocketService" }

// Relay returns the sink the response pipeline streams through.
func (s *Service) Relay() *Relay { return s.relay }

// InitAsync implements the service contract.
func (s *Service) InitAsync(_ context.Context) error { return nil }

// Start launches the HTTP server.
func (s *Service) Start(_ context.Context) error {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ws", func(c *gin.Context) {
		s.handleWS(c.Writer, c.Request)
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.RunBackground("websocket_server", func(_ context.Context) (any, error) {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return nil, fmt.Errorf("websocket server: %w", err)
		}
		return nil, nil
	})
	slog.Info("Websocket surface listening", "addr", s.addr)
	return nil
}

// Stop shuts the HTTP server down.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// handleWS upgrades the connection, validates the access token, and attaches
// the connection as the active relay until it closes.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("Websocket accept failed", "error", err)
		return
	}

	token := r.URL.Query().Get("access_token")
	if token == "" {
		_ = conn.Close(CloseMissingToken, "Missing token")
		return
	}
	if err := s.validateToken(token); err != nil {
		slog.Warn("Websocket token rejected", "error", err)
		_ = conn.Close(CloseInvalidToken, "Invalid token")
		return
	}

	s.relay.attach(conn)
	defer s.relay.detach(conn)

	// Read loop: the relay is write-only, but reading keeps close frames and
	// pings serviced until the client disconnects.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// validateToken checks the shared-secret HS256 signature.
func (s *Service) validateToken(token string) error {
	_, err := jwt.Parse(token, func(_ *jwt.Token) (any, error) {
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}
