package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// DialWebSocket connects with nhooyr.io/websocket. It is registered as the
// "nhooyr" transport.
//
// Pings are answered inside the library and never reach the Reader; a
// close frame from the peer is reported once as "close", after which the
// stream ends.
func DialWebSocket(ctx context.Context, cfg Config) (Conn, error) {
	return dialWebSocket(ctx, cfg, nil)
}

func dialWebSocket(ctx context.Context, cfg Config, httpClient *http.Client) (Conn, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPClient: httpClient,
		HTTPHeader: cfg.Header,
	})
	if err != nil {
		return nil, &DialError{URL: cfg.URL, Err: err}
	}
	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}

	logger := cfg.Logger.With(zap.String("transport", "nhooyr"), zap.String("url", cfg.URL))
	logger.Info("websocket connected")

	return &wsConn{
		state:  &wsState{ws: ws},
		logger: logger,
	}, nil
}

// wsState is shared by both halves of one nhooyr session.
type wsState struct {
	ws     *websocket.Conn
	closed atomic.Bool
}

func (s *wsState) close(status websocket.StatusCode, reason string) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.ws.Close(status, reason)
}

type wsConn struct {
	state  *wsState
	logger *zap.Logger
	split  splitOnce
}

func (c *wsConn) Split() (Reader, Writer, error) {
	if err := c.split.claim(); err != nil {
		return nil, nil, err
	}
	return &wsReader{state: c.state, logger: c.logger.Named("read")},
		&wsWriter{state: c.state, logger: c.logger.Named("write")},
		nil
}

// wsReader is the receive half. It is not safe for concurrent Receive
// calls, but Close may be called from another goroutine to unblock one.
type wsReader struct {
	state  *wsState
	logger *zap.Logger
	ended  atomic.Bool
}

func (r *wsReader) Receive(ctx context.Context) (string, bool, error) {
	f, ok, err := r.ReceiveFrame(ctx)
	if !ok || err != nil {
		return "", ok, err
	}
	return Normalize(f), true, nil
}

func (r *wsReader) ReceiveFrame(ctx context.Context) (Frame, bool, error) {
	if r.ended.Load() {
		return Frame{}, false, nil
	}

	typ, data, err := r.state.ws.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			r.ended.Store(true)
			r.logger.Debug("peer closed websocket", zap.Int("status", int(ce.Code)), zap.String("reason", ce.Reason))
			return Frame{Kind: FrameClose, Payload: closePayload(ce)}, true, nil
		}
		if r.state.closed.Load() || errors.Is(err, io.EOF) {
			r.ended.Store(true)
			return Frame{}, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, false, &IOError{Op: "receive", Err: ctxErr}
		}
		return Frame{}, false, &IOError{Op: "receive", Err: err}
	}

	switch typ {
	case websocket.MessageText:
		return Frame{Kind: FrameText, Payload: data}, true, nil
	case websocket.MessageBinary:
		return Frame{Kind: FrameBinary, Payload: data}, true, nil
	default:
		return Frame{Kind: FrameControl, Payload: data}, true, nil
	}
}

// Close tears down the whole session; the write half fails afterwards.
func (r *wsReader) Close() error {
	r.ended.Store(true)
	if !r.state.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.state.ws.CloseNow()
}

// wsWriter is the send half. nhooyr serializes concurrent writes itself.
type wsWriter struct {
	state  *wsState
	logger *zap.Logger
}

func (w *wsWriter) Send(ctx context.Context, text string) error {
	if err := w.state.ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return &IOError{Op: "send", Err: err}
	}
	w.logger.Debug("frame sent", zap.Int("bytes", len(text)))
	return nil
}

// Close performs the closing handshake with a normal status.
func (w *wsWriter) Close() error {
	return w.state.close(websocket.StatusNormalClosure, "client close")
}

// closePayload encodes a close frame body as RFC 6455 §5.5.1 lays it out.
func closePayload(ce websocket.CloseError) []byte {
	out := make([]byte, 2, 2+len(ce.Reason))
	binary.BigEndian.PutUint16(out, uint16(ce.Code))
	return append(out, ce.Reason...)
}
