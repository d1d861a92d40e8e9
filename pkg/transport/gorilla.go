package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	gorillaBufferSize = 32 * 1024
	controlWriteWait  = time.Second
	// frameQueueSize bounds how far the read pump runs ahead of Receive.
	frameQueueSize = 16
)

// DialGorilla connects with github.com/gorilla/websocket. It is registered
// as the "gorilla" transport.
//
// Unlike the nhooyr adapter, every frame kind is observable: a single read
// pump reports text, binary, ping, pong and close frames in wire order.
// Pings and closes are still answered automatically.
func DialGorilla(ctx context.Context, cfg Config) (Conn, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   gorillaBufferSize,
		WriteBufferSize:  gorillaBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, &DialError{URL: cfg.URL, Err: errors.Join(err, errors.New(resp.Status))}
		}
		return nil, &DialError{URL: cfg.URL, Err: err}
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	logger := cfg.Logger.With(zap.String("transport", "gorilla"), zap.String("url", cfg.URL))
	logger.Info("websocket connected")

	return &gorillaConn{
		state:  &gorillaState{conn: conn},
		logger: logger,
	}, nil
}

type gorillaState struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func (s *gorillaState) shutdown() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

type gorillaConn struct {
	state  *gorillaState
	logger *zap.Logger
	split  splitOnce
}

func (c *gorillaConn) Split() (Reader, Writer, error) {
	if err := c.split.claim(); err != nil {
		return nil, nil, err
	}

	r := &gorillaReader{
		state:  c.state,
		logger: c.logger.Named("read"),
		frames: make(chan frameResult, frameQueueSize),
		done:   make(chan struct{}),
	}
	r.installHandlers()
	go r.pump()

	return r, &gorillaWriter{state: c.state, logger: c.logger.Named("write")}, nil
}

type frameResult struct {
	frame Frame
	err   error
}

// gorillaReader is the receive half. Control handlers run on the pump
// goroutine, so control and data frames share one ordered queue.
type gorillaReader struct {
	state     *gorillaState
	logger    *zap.Logger
	frames    chan frameResult
	done      chan struct{}
	closeOnce sync.Once
}

func (r *gorillaReader) installHandlers() {
	conn := r.state.conn

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !isTimeout(err) {
			return err
		}
		r.emit(frameResult{frame: Frame{Kind: FramePing, Payload: []byte(appData)}})
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		r.emit(frameResult{frame: Frame{Kind: FramePong, Payload: []byte(appData)}})
		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(controlWriteWait))
		r.logger.Debug("peer closed websocket", zap.Int("status", code), zap.String("reason", text))
		r.emit(frameResult{frame: Frame{Kind: FrameClose, Payload: gorillaClosePayload(code, text)}})
		return nil
	})
}

func (r *gorillaReader) pump() {
	defer close(r.frames)

	for {
		typ, data, err := r.state.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || r.state.closed.Load() {
				// The close handler already queued the close frame.
				return
			}
			r.emit(frameResult{err: err})
			return
		}

		kind := FrameControl
		switch typ {
		case websocket.TextMessage:
			kind = FrameText
		case websocket.BinaryMessage:
			kind = FrameBinary
		}
		if !r.emit(frameResult{frame: Frame{Kind: kind, Payload: data}}) {
			return
		}
	}
}

func (r *gorillaReader) emit(fr frameResult) bool {
	select {
	case r.frames <- fr:
		return true
	case <-r.done:
		return false
	}
}

func (r *gorillaReader) Receive(ctx context.Context) (string, bool, error) {
	f, ok, err := r.ReceiveFrame(ctx)
	if !ok || err != nil {
		return "", ok, err
	}
	return Normalize(f), true, nil
}

// ReceiveFrame waits for the next queued frame. A cancelled ctx leaves the
// pump running, so a later call resumes where this one stopped.
func (r *gorillaReader) ReceiveFrame(ctx context.Context) (Frame, bool, error) {
	select {
	case fr, ok := <-r.frames:
		if !ok {
			return Frame{}, false, nil
		}
		if fr.err != nil {
			return Frame{}, false, &IOError{Op: "receive", Err: fr.err}
		}
		return fr.frame, true, nil
	case <-ctx.Done():
		return Frame{}, false, &IOError{Op: "receive", Err: ctx.Err()}
	}
}

// Close stops the pump and drops the connection.
func (r *gorillaReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.state.shutdown()
	})
	return err
}

// gorillaWriter is the send half. gorilla allows one concurrent writer, so
// sends are serialized here.
type gorillaWriter struct {
	state  *gorillaState
	logger *zap.Logger
	mu     sync.Mutex
}

func (w *gorillaWriter) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "send", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := w.state.conn.SetWriteDeadline(deadline); err != nil {
		return &IOError{Op: "send", Err: err}
	}
	if err := w.state.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return &IOError{Op: "send", Err: err}
	}
	w.logger.Debug("frame sent", zap.Int("bytes", len(text)))
	return nil
}

// Close sends a normal close frame and drops the connection.
func (w *gorillaWriter) Close() error {
	if w.state.closed.Load() {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close")
	if err := w.state.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		w.logger.Debug("close frame not sent", zap.Error(err))
	}
	return w.state.shutdown()
}

func gorillaClosePayload(code int, text string) []byte {
	out := make([]byte, 2, 2+len(text))
	binary.BigEndian.PutUint16(out, uint16(code))
	return append(out, text...)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
