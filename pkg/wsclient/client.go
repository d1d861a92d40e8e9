package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/organic-programming/go-tonapi/pkg/server"
	"github.com/organic-programming/go-tonapi/pkg/transport"
)

// Config controls Connect.
type Config struct {
	// Server selects the endpoint. The zero value is MainNet.
	Server server.Server
	// Transport dials the session. When nil, the transport registered
	// under TransportName is used.
	Transport     transport.Dialer
	TransportName string

	HandshakeTimeout time.Duration
	Header           http.Header
	ReadLimit        int64

	// Registry decodes inbound messages. Defaults to NewRegistry().
	Registry *Registry
	// SendLimit throttles outgoing frames when positive.
	SendLimit rate.Limit
	SendBurst int

	Logger *zap.Logger
}

// Connect dials cfg.Server, splits the session and returns its two halves.
// Dial failures are reported as ErrConnection.
func Connect(ctx context.Context, cfg Config) (*ReadClient, *WriteClient, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tonapi").With(zap.String("session", uuid.NewString()))

	dialer := cfg.Transport
	if dialer == nil {
		d, err := transport.Lookup(cfg.TransportName)
		if err != nil {
			return nil, nil, fmt.Errorf("tonapi: %w", err)
		}
		dialer = d
	}

	url := cfg.Server.URL()
	conn, err := dialer.Dial(ctx, transport.Config{
		URL:              url,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Header:           cfg.Header,
		ReadLimit:        cfg.ReadLimit,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, &Error{Kind: ErrConnection, Op: "connect " + url, Err: err}
	}

	r, w, err := conn.Split()
	if err != nil {
		return nil, nil, fmt.Errorf("tonapi: split connection: %w", err)
	}
	logger.Info("connected", zap.Stringer("server", cfg.Server))

	opts := []Option{WithLogger(logger)}
	if cfg.Registry != nil {
		opts = append(opts, WithRegistry(cfg.Registry))
	}
	if cfg.SendLimit > 0 {
		opts = append(opts, WithSendLimit(cfg.SendLimit, cfg.SendBurst))
	}
	return NewReadClient(r, opts...), NewWriteClient(w, opts...), nil
}

// Option configures a ReadClient or WriteClient. Options that do not apply
// to a half are ignored by it.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	registry  *Registry
	sendLimit rate.Limit
	sendBurst int
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	return o
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the message registry used by a ReadClient.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithSendLimit throttles a WriteClient to limit frames per second with the
// given burst. A burst below 1 is raised to 1.
func WithSendLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.sendLimit = limit
		o.sendBurst = burst
	}
}

// ReadClient owns the read half of a split session. It is meant for a
// single consumer goroutine.
type ReadClient struct {
	reader   transport.Reader
	registry *Registry
	logger   *zap.Logger
}

// NewReadClient wraps a transport read half.
func NewReadClient(r transport.Reader, opts ...Option) *ReadClient {
	o := buildOptions(opts)
	return &ReadClient{
		reader:   r,
		registry: o.registry,
		logger:   o.logger.Named("read"),
	}
}

// Receive waits for the next frame. ok is false with a nil error once the
// stream has ended. Frames that do not decode are returned as Raw.
func (c *ReadClient) Receive(ctx context.Context) (Result, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	text, ok, err := c.reader.Receive(ctx)
	if err != nil {
		return Result{}, false, &Error{Kind: ErrTransport, Op: "receive", Err: err}
	}
	if !ok {
		c.logger.Debug("stream ended")
		return Result{}, false, nil
	}

	msg, err := c.registry.Decode(text)
	if err != nil {
		c.logger.Debug("unrecognized frame delivered raw", zap.Error(err), zap.Int("bytes", len(text)))
		return Result{Raw: text}, true, nil
	}
	return Result{Message: msg}, true, nil
}

// Close closes the read half when the transport supports it.
func (c *ReadClient) Close() error {
	if closer, ok := c.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteClient owns the write half of a split session. It is safe for
// concurrent use as long as the transport Writer is; both bundled
// adapters are.
type WriteClient struct {
	writer  transport.Writer
	limiter *rate.Limiter
	logger  *zap.Logger

	nextID atomic.Uint64
}

// NewWriteClient wraps a transport write half. Request ids start at 0.
func NewWriteClient(w transport.Writer, opts ...Option) *WriteClient {
	o := buildOptions(opts)
	c := &WriteClient{
		writer: w,
		logger: o.logger.Named("write"),
	}
	if o.sendLimit > 0 {
		burst := o.sendBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(o.sendLimit, burst)
	}
	return c
}

// NextID allocates the next request id. Ids are unique and strictly
// increasing across all callers.
func (c *WriteClient) NextID() uint64 {
	return c.nextID.Add(1) - 1
}

// Execute sends m as a JSON-RPC request under a fresh id and returns the id.
// Wire order between concurrent callers follows the transport, not the id.
func (c *WriteClient) Execute(ctx context.Context, m Method) (uint64, error) {
	if m == nil {
		return 0, &Error{Kind: ErrSerialization, Op: "execute", Err: fmt.Errorf("method is nil")}
	}
	req := NewRequest(c.NextID(), m)
	if err := c.send(ctx, "execute "+req.Method, req); err != nil {
		return 0, err
	}
	c.logger.Debug("request sent", zap.Uint64("id", req.ID), zap.String("method", req.Method))
	return req.ID, nil
}

// Send serializes v as JSON and sends it verbatim, without an envelope.
func (c *WriteClient) Send(ctx context.Context, v any) error {
	return c.send(ctx, "send", v)
}

func (c *WriteClient) send(ctx context.Context, op string, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return &Error{Kind: ErrSerialization, Op: op, Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: ErrTransport, Op: op, Err: err}
		}
	}
	if err := c.writer.Send(ctx, string(payload)); err != nil {
		return &Error{Kind: ErrTransport, Op: op, Err: err}
	}
	return nil
}

// Close closes the write half when the transport supports it.
func (c *WriteClient) Close() error {
	if closer, ok := c.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
