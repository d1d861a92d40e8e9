// Command trace-client subscribes to tonapi trace events and prints every
// inbound message as one JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

var errStreamEnded = errors.New("stream ended")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var flags flagValues
	cmd := &cobra.Command{
		Use:   "trace-client",
		Short: "Stream tonapi trace events as JSON lines",
		Long: `trace-client opens a tonapi streaming session, subscribes to traces of the
given accounts and writes every inbound message to stdout, one JSON object
per line. Messages the client does not recognize are printed raw.

Example:
  trace-client --server testnet --account EQ... --account EQ...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := defaultConfig()
			if flags.configPath != "" {
				loaded, err := loadConfig(flags.configPath, cfg)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfg = flags.apply(cmd.Flags(), cfg)

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return run(cmd.Context(), cfg, out, logger)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// run streams until ctx is cancelled or the server ends the session.
func run(ctx context.Context, cfg config, out io.Writer, logger *zap.Logger) error {
	read, write, err := wsclient.Connect(ctx, wsclient.Config{
		Server:           cfg.Server,
		Transport:        cfg.dialer,
		TransportName:    cfg.Transport,
		HandshakeTimeout: cfg.HandshakeTimeout,
		SendLimit:        rate.Limit(cfg.SendRate),
		SendBurst:        1,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiveLoop(gctx, read, json.NewEncoder(out))
	})
	g.Go(func() error {
		if len(cfg.Accounts) > 0 {
			id, err := write.Execute(gctx, wsclient.SubscribeTrace{Accounts: cfg.Accounts})
			if err != nil {
				return err
			}
			logger.Info("subscribed", zap.Uint64("id", id), zap.Int("accounts", len(cfg.Accounts)))
		} else {
			logger.Warn("no accounts given; nothing will be streamed")
		}
		<-gctx.Done()
		_ = write.Close()
		return nil
	})

	err = g.Wait()
	_ = read.Close()
	if errors.Is(err, errStreamEnded) || (err != nil && ctx.Err() != nil) {
		return nil
	}
	return err
}

// line is the stdout shape of one inbound message.
type line struct {
	Kind    string           `json:"kind"`
	Message wsclient.Message `json:"message,omitempty"`
	Raw     string           `json:"raw,omitempty"`
}

func receiveLoop(ctx context.Context, read *wsclient.ReadClient, enc *json.Encoder) error {
	for {
		res, ok, err := read.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errStreamEnded
		}

		out := line{Kind: "raw", Raw: res.Raw}
		if res.Parsed() {
			out = line{Kind: res.Message.Method(), Message: res.Message}
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}
