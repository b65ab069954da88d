// Package main is the entry point for the mail2hooks server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/innovatingdev/mail2hooks/internal/config"
	"github.com/innovatingdev/mail2hooks/internal/metrics"
	"github.com/innovatingdev/mail2hooks/internal/router"
	"github.com/innovatingdev/mail2hooks/internal/smtp"
	"github.com/innovatingdev/mail2hooks/internal/webhook"
)

// drainTimeout bounds how long in-flight webhook deliveries may run after
// the SMTP server has stopped.
const drainTimeout = 30 * time.Second

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("mail2hooks failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mail2hooks",
		Usage: "forward inbound email to HTTP webhooks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the JSON or YAML configuration file",
				EnvVars: []string{"MAIL2HOOKS_CONFIG"},
				Value:   "config.json",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print webhook requests instead of sending them",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "validate the configuration and list the configured hooks",
				Action: check,
			},
		},
	}
}

// loadConfig loads the configuration named by --config and applies the
// command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		if err := cfg.SetLogLevel(lvl); err != nil {
			return nil, err
		}
	}
	if c.Bool("dry-run") {
		cfg.Delivery.DryRun = true
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// Setup structured logging
	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hooks := cfg.HookSet()
	deliverer, err := selectDeliverer(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rt := router.New(hooks, deliverer, logger)

	server := smtp.New(smtp.ServerConfig{
		Addr:            cfg.ListenAddr(),
		Username:        cfg.Username(),
		Password:        cfg.Password(),
		MaxMessageBytes: cfg.Server.MaxMessageSize,
		ReadTimeout:     cfg.ReadTimeout(),
		WriteTimeout:    cfg.WriteTimeout(),
		Dispatcher:      rt,
		Logger:          logger,
	})

	logger.Info("starting mail2hooks",
		"listen", cfg.ListenAddr(),
		"hooks", len(hooks),
		"deliverer", deliverer.Name(),
		"metrics", cfg.Metrics.Listen,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if cfg.Metrics.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("metrics listener: %w", err)
		}
		g.Go(func() error {
			return metrics.Serve(gctx, ln, logger)
		})
	}

	serveErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := rt.Shutdown(drainCtx); err != nil {
		logger.Warn("abandoned in-flight deliveries", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("mail2hooks stopped")
	return nil
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "configuration OK: listen %s, %d hook(s)\n", cfg.ListenAddr(), len(cfg.HookSet()))
	for _, h := range cfg.HookSet() {
		signed := ""
		if h.AWS != nil {
			signed = " (aws sigv4)"
		}
		fmt.Fprintf(w, "  %-24s %s -> %s %s%s\n", h.Name, h.Mailto, h.Method, h.Target, signed)
	}
	return nil
}

// selectDeliverer chooses the webhook backend: the dry-run writer when
// requested, HTTP otherwise.
func selectDeliverer(ctx context.Context, cfg *config.Config) (webhook.Deliverer, error) {
	if cfg.Delivery.DryRun {
		return webhook.NewWriter(os.Stdout), nil
	}
	d, err := webhook.NewHTTP(ctx, cfg.HookSet(), webhook.HTTPConfig{Timeout: cfg.DeliveryTimeout()})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP deliverer: %w", err)
	}
	return d, nil
}

// setupLogger configures the global slog logger with the given output format
// and level, and returns it.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
