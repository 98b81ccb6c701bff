package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/engine"
	"github.com/gofiber/fiber/v3"
)

// Server runs the engine next to its HTTP API.
type Server struct {
	engine          *engine.Engine
	app             *fiber.App
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewServer(engine *engine.Engine, app *fiber.App, logger *slog.Logger, shutdownTimeout time.Duration) *Server {
	return &Server{
		engine:          engine,
		app:             app,
		logger:          logger.With("module", "server"),
		shutdownTimeout: shutdownTimeout,
	}
}

// Run blocks until SIGINT or SIGTERM, or until the listener fails. SIGHUP
// reloads trigger configuration from storage.
func (s *Server) Run(ctx context.Context, port int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- s.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	s.logger.InfoContext(ctx, "Automation engine listening", "port", port)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var err error

loop:
	for {
		select {
		case sig := <-signals:
			s.logger.InfoContext(ctx, "Received signal", "signal", sig)

			if sig == syscall.SIGHUP {
				s.engine.OnWorkflowChange(ctx)

				continue
			}

			break loop
		case err = <-listenErr:
			break loop
		}
	}

	return errors.Join(err, s.shutdown(ctx))
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	httpErr := s.app.ShutdownWithContext(shutdownCtx)

	return errors.Join(httpErr, s.engine.Stop(shutdownCtx))
}
