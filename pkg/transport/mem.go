package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/grpc/test/bufconn"
)

const memBufSize = 1024 * 1024 // 1MB buffer

// MemURL is the URL handed to dialers of a MemListener when the caller
// leaves Config.URL empty. The host part is never resolved.
const MemURL = "ws://mem.local/v2/websocket"

// MemListener serves an http.Handler over an in-memory buffer so a client
// and a websocket endpoint can live in the same process without a socket.
type MemListener struct {
	*bufconn.Listener
	server *http.Server
}

// NewMemListener starts serving handler in-process. Use Dialer() to
// connect to it.
func NewMemListener(handler http.Handler) *MemListener {
	m := &MemListener{
		Listener: bufconn.Listen(memBufSize),
		server:   &http.Server{Handler: handler},
	}
	go func() {
		_ = m.server.Serve(m.Listener)
	}()
	return m
}

// Dialer returns a Dialer whose connections are routed through this
// listener. The websocket handshake itself is real (nhooyr adapter).
func (m *MemListener) Dialer() Dialer {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return m.Listener.DialContext(ctx)
			},
		},
	}
	return DialFunc(func(ctx context.Context, cfg Config) (Conn, error) {
		if cfg.URL == "" {
			cfg.URL = MemURL
		}
		return dialWebSocket(ctx, cfg, client)
	})
}

// Close stops the in-process server.
func (m *MemListener) Close() error {
	err := m.server.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// Addr returns the canonical in-memory listener address.
func (m *MemListener) Addr() net.Addr {
	return memAddr{}
}

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem://" }
