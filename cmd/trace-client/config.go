package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/organic-programming/go-tonapi/pkg/server"
	"github.com/organic-programming/go-tonapi/pkg/transport"
)

// config is the merged view of the YAML file and the command-line flags.
type config struct {
	Server           server.Server `yaml:"server"`
	Transport        string        `yaml:"transport"`
	Accounts         []string      `yaml:"accounts"`
	SendRate         float64       `yaml:"send_rate"`
	LogLevel         string        `yaml:"log_level"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// dialer overrides Transport. Tests only.
	dialer transport.Dialer
}

func defaultConfig() config {
	return config{
		Server:           server.MainNet,
		Transport:        transport.DefaultName,
		LogLevel:         "info",
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
	}
}

// loadConfig reads path over base. Keys absent from the file keep their
// base values.
func loadConfig(path string, base config) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// flagValues holds what was typed on the command line.
type flagValues struct {
	configPath       string
	server           server.Server
	transport        string
	accounts         []string
	sendRate         float64
	logLevel         string
	handshakeTimeout time.Duration
}

func (f *flagValues) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	flags.VarP(&f.server, "server", "s", "endpoint: mainnet, testnet or a ws(s):// URL")
	flags.StringVarP(&f.transport, "transport", "t", transport.DefaultName, fmt.Sprintf("websocket adapter %v", transport.Names()))
	flags.StringArrayVarP(&f.accounts, "account", "a", nil, "account to subscribe to (repeatable)")
	flags.Float64Var(&f.sendRate, "send-rate", 0, "max outgoing frames per second, 0 for unlimited")
	flags.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.DurationVar(&f.handshakeTimeout, "handshake-timeout", transport.DefaultHandshakeTimeout, "websocket handshake timeout")
}

// apply overlays the flags the user actually set onto cfg.
func (f *flagValues) apply(flags *pflag.FlagSet, cfg config) config {
	if flags.Changed("server") {
		cfg.Server = f.server
	}
	if flags.Changed("transport") {
		cfg.Transport = f.transport
	}
	if flags.Changed("account") {
		cfg.Accounts = append([]string(nil), f.accounts...)
	}
	if flags.Changed("send-rate") {
		cfg.SendRate = f.sendRate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("handshake-timeout") {
		cfg.HandshakeTimeout = f.handshakeTimeout
	}
	return cfg
}

// newLogger builds a production logger writing to stderr at level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Sampling = nil
	return zc.Build()
}
