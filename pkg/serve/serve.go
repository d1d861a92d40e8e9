// Package serve runs a long-lived endpoint until the process is told to
// stop.
//
// Usage in a main.go:
//
//	stub := tracestub.NewServer(listenURL, tracestub.WithLogger(logger))
//	return serve.Run(cmd.Context(), stub, logger)
package serve

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownTimeout bounds graceful shutdown. When it expires the server is
// closed with an already cancelled context, which drops remaining peers.
const ShutdownTimeout = 10 * time.Second

// Server is what Run drives. tracestub.Server satisfies it.
type Server interface {
	// Start begins serving in the background and returns the bound URL.
	Start() (string, error)
	// Close stops serving. It should return once ctx is done at the latest.
	Close(ctx context.Context) error
}

// Run starts srv and blocks until ctx is cancelled or SIGTERM/SIGINT is
// received, then shuts it down gracefully.
func Run(ctx context.Context, srv Server, logger *zap.Logger) error {
	return RunWithSignals(ctx, srv, logger, syscall.SIGTERM, syscall.SIGINT)
}

// RunWithSignals is like Run but lets you choose the stop signals. With no
// signals only ctx stops the server.
func RunWithSignals(ctx context.Context, srv Server, logger *zap.Logger, signals ...os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, signals...)
		defer stop()
	}

	url, err := srv.Start()
	if err != nil {
		return err
	}
	logger.Info("serving", zap.String("url", url))

	<-ctx.Done()
	logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))

	return shutdown(srv, logger, ShutdownTimeout)
}

func shutdown(srv Server, logger *zap.Logger, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Close(shutdownCtx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("graceful stop timed out; peers dropped", zap.Duration("timeout", timeout))
			return nil
		}
		return err
	case <-shutdownCtx.Done():
		logger.Warn("graceful stop timed out; forcing hard stop", zap.Duration("timeout", timeout))
		return shutdownCtx.Err()
	}
}
