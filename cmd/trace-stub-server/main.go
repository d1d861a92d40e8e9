// Command trace-stub-server runs a local stand-in for the tonapi streaming
// endpoint and can publish synthetic traces on a timer.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/organic-programming/go-tonapi/pkg/serve"
	"github.com/organic-programming/go-tonapi/pkg/tracestub"
	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

const defaultListen = "ws://127.0.0.1:8080" + tracestub.DefaultPath

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	listen   string
	interval time.Duration
	accounts []string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "trace-stub-server",
		Short:         "Serve a local tonapi trace streaming stub",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := zap.ParseAtomicLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			zc := zap.NewProductionConfig()
			zc.Level = lvl
			logger, err := zc.Build()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return run(cmd.Context(), opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.listen, "listen", "l", defaultListen, "ws:// bind URL")
	flags.DurationVar(&opts.interval, "publish-interval", 0, "publish a synthetic trace this often, 0 to disable")
	flags.StringArrayVarP(&opts.accounts, "account", "a", nil, "account the synthetic traces touch (repeatable)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

// run serves until SIGINT/SIGTERM or ctx ends.
func run(ctx context.Context, opts options, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stub := tracestub.NewServer(opts.listen, tracestub.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return serve.Run(gctx, stub, logger)
	})
	if opts.interval > 0 {
		if len(opts.accounts) == 0 {
			logger.Warn("publishing enabled without --account; traces reach no subscriber")
		}
		g.Go(func() error {
			publishLoop(gctx, stub, opts.accounts, opts.interval, logger)
			return nil
		})
	}
	return g.Wait()
}

type publisher interface {
	Publish(ctx context.Context, params wsclient.TraceParams) (int, error)
}

func publishLoop(ctx context.Context, pub publisher, accounts []string, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		params := wsclient.TraceParams{Accounts: accounts, Hash: syntheticHash()}
		n, err := pub.Publish(ctx, params)
		if err != nil {
			logger.Warn("publish failed", zap.String("hash", params.Hash), zap.Error(err))
			continue
		}
		logger.Debug("published", zap.String("hash", params.Hash), zap.Int("peers", n))
	}
}

// syntheticHash returns a random 64-character hex string shaped like a
// trace hash.
func syntheticHash() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
