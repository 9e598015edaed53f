// Package server exposes the device-facing HTTP API: registration,
// linking, command polling and settlement, telemetry ingest, and a
// websocket nudge stream that wakes devices when work is pending.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/auth"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// Server is the HTTP API server for device agents and operators.
type Server struct {
	cfg        config.ServerConfig
	store      *store.Store
	commands   *command.Manager
	tokens     *auth.TokenIssuer
	authorizer *auth.Authorizer
	interp     *interpret.Interpreter
	chans      *channels.Manager
	hub        *streamHub
	server     *http.Server
	logger     *slog.Logger
	startedAt  time.Time

	// onSettled fires after the first settlement of a command applies.
	onSettled func(commandID string)
}

// SetOnSettled registers a callback invoked exactly once per command,
// when its first settlement applies. Used to push results to chat.
func (s *Server) SetOnSettled(fn func(commandID string)) {
	s.onSettled = fn
}

// New creates a Server over the given collaborators. chans may be nil
// when no chat channels are configured; interp may be nil, disabling
// the analysis endpoints.
func New(cfg config.ServerConfig, st *store.Store, cmds *command.Manager, tokens *auth.TokenIssuer, authorizer *auth.Authorizer, interp *interpret.Interpreter, chans *channels.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	l := logger.With("component", "server")
	return &Server{
		cfg:        cfg,
		store:      st,
		commands:   cmds,
		tokens:     tokens,
		authorizer: authorizer,
		interp:     interp,
		chans:      chans,
		hub:        newStreamHub(l),
		logger:     l,
	}
}

// routes builds the full handler chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health is always public.
	mux.HandleFunc("/health", s.handleHealth)

	// Operator routes (admin token when configured).
	mux.Handle("/api/v1/users/register", s.adminOnly(http.HandlerFunc(s.handleRegisterUser)))
	mux.Handle("/api/v1/devices", s.adminOnly(http.HandlerFunc(s.handleListDevices)))
	mux.Handle("/api/v1/devices/unlink", s.adminOnly(http.HandlerFunc(s.handleUnlinkDevices)))
	mux.Handle("/api/v1/commands/execute", s.adminOnly(http.HandlerFunc(s.handleExecuteCommand)))
	mux.Handle("/api/v1/scheduled-tasks", s.adminOnly(http.HandlerFunc(s.handleScheduledTasks)))
	mux.Handle("/api/v1/logs", s.adminOnly(http.HandlerFunc(s.handleLogs)))
	mux.Handle("/api/v1/stats/", s.adminOnly(http.HandlerFunc(s.handleLatestStats)))
	mux.Handle("/api/v1/ai/analyze", s.adminOnly(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("/api/v1/ai/chat", s.adminOnly(http.HandlerFunc(s.handleAIChat)))

	// Device routes. Linking authenticates with the OTP itself; the
	// rest require the device token it mints.
	mux.HandleFunc("/api/v1/devices/link", s.handleLinkDevice)
	mux.Handle("/api/v1/devices/heartbeat", s.deviceOnly(s.handleHeartbeat))
	mux.Handle("/api/v1/devices/stream", s.deviceOnly(s.handleStream))
	mux.Handle("/api/v1/commands/pending", s.deviceOnly(s.handlePendingCommands))
	mux.Handle("/api/v1/commands/result", s.deviceOnly(s.handleCommandResult))
	mux.Handle("/api/v1/stats", s.deviceOnly(s.handleIngestStats))
	mux.Handle("/api/v1/files/upload", s.deviceOnly(s.handleUploadFile))

	return s.securityHeaders(s.requestLogging(mux))
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Warn when management routes are open on a non-loopback bind.
	if s.cfg.AdminToken == "" {
		host, _, _ := net.SplitHostPort(addr)
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			s.logger.Warn("SECURITY: no admin token configured and server bound to a non-loopback address",
				"address", addr)
		}
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()
	s.logger.Info("server started", "address", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("server stopping...")
	s.hub.closeAll()
	return s.server.Shutdown(ctx)
}

// NudgeDevice pushes a command_pending event to a connected device's
// stream, if any. Best effort; delivery stays poll-based.
func (s *Server) NudgeDevice(deviceID string) {
	s.hub.nudge(deviceID)
}
