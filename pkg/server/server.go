// Package server selects the tonapi streaming endpoint a client connects to.
//
//	server.MainNet             // wss://tonapi.io/v2/websocket (zero value)
//	server.TestNet             // wss://testnet.tonapi.io/v2/websocket
//	server.Custom("ws://...")  // any other endpoint
package server

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// MainNetURL is the tonapi mainnet streaming endpoint.
	MainNetURL = "wss://tonapi.io/v2/websocket"
	// TestNetURL is the tonapi testnet streaming endpoint.
	TestNetURL = "wss://testnet.tonapi.io/v2/websocket"
)

// Kind identifies which endpoint a Server points at.
type Kind int

const (
	KindMainNet Kind = iota
	KindTestNet
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindMainNet:
		return "mainnet"
	case KindTestNet:
		return "testnet"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Server is an immutable endpoint selection. The zero value is MainNet.
type Server struct {
	kind Kind
	url  string
}

var (
	MainNet = Server{kind: KindMainNet}
	TestNet = Server{kind: KindTestNet}
)

// Custom returns a Server pointing at rawURL. The URL is used as given;
// use Parse to validate and normalize user input.
func Custom(rawURL string) Server {
	return Server{kind: KindCustom, url: rawURL}
}

// Kind reports which endpoint s selects.
func (s Server) Kind() Kind { return s.kind }

// URL returns the websocket URL of the endpoint.
func (s Server) URL() string {
	switch s.kind {
	case KindTestNet:
		return TestNetURL
	case KindCustom:
		return s.url
	default:
		return MainNetURL
	}
}

// String returns "mainnet", "testnet" or the custom URL.
func (s Server) String() string {
	if s.kind == KindCustom {
		return s.url
	}
	return s.kind.String()
}

// Parse accepts "mainnet", "testnet" (case-insensitive) or an endpoint URL.
// An empty string selects MainNet. http:// and https:// URLs are rewritten
// to ws:// and wss://.
func Parse(text string) (Server, error) {
	trimmed := strings.TrimSpace(text)
	switch strings.ToLower(trimmed) {
	case "", "mainnet":
		return MainNet, nil
	case "testnet":
		return TestNet, nil
	}

	normalized, err := NormalizeURL(trimmed)
	if err != nil {
		return Server{}, err
	}
	return Custom(normalized), nil
}

// NormalizeURL validates a websocket endpoint URL and maps http(s) schemes
// to ws(s).
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("server: invalid url %q: %w", rawURL, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
		parsed.Scheme = strings.ToLower(parsed.Scheme)
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "":
		return "", fmt.Errorf("server: url %q is missing a scheme (expected ws:// or wss://)", rawURL)
	default:
		return "", fmt.Errorf("server: unsupported scheme %q (expected ws://, wss://, http:// or https://)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("server: url %q is missing a host", rawURL)
	}
	return parsed.String(), nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Server) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so a Server can be
// decoded straight out of YAML or JSON config.
func (s *Server) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Set implements pflag.Value.
func (s *Server) Set(text string) error {
	return s.UnmarshalText([]byte(text))
}

// Type implements pflag.Value.
func (s *Server) Type() string { return "server" }
