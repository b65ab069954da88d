package smtp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-smtp"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":1025").
	Addr string

	// Domain is the server hostname used in the greeting and EHLO responses.
	Domain string

	// Username and Password are the accepted AUTH credentials. When both are
	// empty, DefaultUsername and DefaultPassword are used.
	Username string
	Password string

	// MaxMessageBytes bounds the size of DATA. Zero means unlimited.
	MaxMessageBytes int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Dispatcher receives parsed messages.
	Dispatcher Dispatcher

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server accepts SMTP connections and forwards every parsed message to its
// Dispatcher.
type Server struct {
	config ServerConfig
	logger *slog.Logger
	srv    *smtp.Server
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	be := &backend{
		auth:       NewAuthenticator(cfg.Username, cfg.Password),
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}

	srv := smtp.NewServer(be)
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	// Inbound traffic is plaintext; AUTH must still be offered.
	srv.AllowInsecureAuth = true
	srv.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)

	return &Server{config: cfg, logger: logger, srv: srv}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation it
// stops accepting new connections and waits up to 30 seconds for in-flight
// sessions to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"max_message_bytes", s.config.MaxMessageBytes,
	)

	stopped := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		s.logger.Info("shutting down SMTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
			s.srv.Close()
		} else {
			s.logger.Info("all sessions completed")
		}
		ln.Close()
	}()

	err := s.srv.Serve(ln)
	if ctx.Err() != nil {
		<-drained
		return nil
	}
	close(stopped)
	<-drained
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}
