// Package transport defines the websocket facade the tonapi client is
// written against, and ships the concrete adapters that satisfy it.
//
// The contract is split into independent capabilities so callers and test
// doubles only implement what they need:
//   - Dialer: establish a session
//   - Conn: consume a session into independent halves
//   - Reader: receive the next frame as text
//   - Writer: send one text frame
//
// Bundled adapters, selectable by name through the registry:
//   - nhooyr: nhooyr.io/websocket (default)
//   - gorilla: github.com/gorilla/websocket, surfaces ping/pong frames
//
// MemListener provides an in-process websocket endpoint for tests and
// composite programs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultHandshakeTimeout bounds the websocket handshake when the caller's
// context has no deadline of its own.
const DefaultHandshakeTimeout = 20 * time.Second

// ErrAlreadySplit is returned by Conn.Split on a connection that has
// already been consumed.
var ErrAlreadySplit = errors.New("transport: connection already split")

// Config is the endpoint configuration handed to a Dialer.
type Config struct {
	// URL is the ws:// or wss:// endpoint. Required.
	URL string
	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// Header is sent with the upgrade request.
	Header http.Header
	// ReadLimit caps the size of one inbound message in bytes. Zero keeps
	// the adapter default.
	ReadLimit int64
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &DialError{URL: c.URL, Err: errors.New("url is required")}
	}
	switch Scheme(c.URL) {
	case "ws", "wss":
		return nil
	default:
		return &DialError{URL: c.URL, Err: fmt.Errorf("unsupported scheme %q (expected ws:// or wss://)", Scheme(c.URL))}
	}
}

// Dialer establishes a websocket session.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// DialFunc adapts an ordinary function to the Dialer interface.
type DialFunc func(ctx context.Context, cfg Config) (Conn, error)

// Dial calls f(ctx, cfg).
func (f DialFunc) Dial(ctx context.Context, cfg Config) (Conn, error) {
	return f(ctx, cfg)
}

// Conn is an established session, exclusively owned until split.
type Conn interface {
	// Split consumes the connection and returns its read and write halves.
	// A second call returns ErrAlreadySplit.
	Split() (Reader, Writer, error)
}

// Reader is the receive-only half of a split connection.
type Reader interface {
	// Receive waits for the next frame and returns it as text. ok is false
	// with a nil error once the stream has ended cleanly.
	Receive(ctx context.Context) (text string, ok bool, err error)
}

// Writer is the send-only half of a split connection.
type Writer interface {
	// Send transmits one text frame.
	Send(ctx context.Context, text string) error
}

// FrameReader is implemented by readers that can report the kind of each
// frame instead of only its normalized text.
type FrameReader interface {
	ReceiveFrame(ctx context.Context) (Frame, bool, error)
}

// DialError reports a failed connection attempt.
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("transport: dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// IOError reports a send or receive failure on an established connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// splitOnce guards the one-way Split transition of a Conn.
type splitOnce struct {
	done atomic.Bool
}

func (s *splitOnce) claim() error {
	if !s.done.CompareAndSwap(false, true) {
		return ErrAlreadySplit
	}
	return nil
}

// Scheme extracts the scheme name from a URI for logging and validation.
func Scheme(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return strings.ToLower(uri[:i])
	}
	return uri
}
