package tracestub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

// DefaultPath is the endpoint path used when the bind URL has none.
const DefaultPath = "/v2/websocket"

// Server is a standalone stub of the tonapi streaming endpoint. It either
// owns its own listener (Start) or is mounted on a caller's HTTP server or
// transport.MemListener through Handler.
type Server struct {
	address string
	logger  *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool

	peersMu sync.RWMutex
	peers   map[string]*peer

	routes *router

	// subscribeQ buffers up to 32 subscription events for WaitForSubscription.
	// When it is full, new events are dropped.
	subscribeQ chan Subscription

	nextPeerID atomic.Uint64
}

type peer struct {
	id     string
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a stub bound to bindURL, e.g. ws://127.0.0.1:0/v2/websocket.
// The URL is only used by Start.
func NewServer(bindURL string, opts ...Option) *Server {
	s := &Server{
		address:    bindURL,
		logger:     zap.NewNop(),
		peers:      make(map[string]*peer),
		routes:     newRouter(),
		subscribeQ: make(chan Subscription, 32),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("tracestub")
	return s
}

// Handler returns the websocket endpoint as an http.Handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

// Address returns the configured bind URL before Start and the resolved
// URL with the bound port after it.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Start listens on the bind URL and serves in the background. It returns
// the resolved endpoint URL.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("tracestub: server is closed")
	}
	if s.server != nil {
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	}
	bindURL := s.address
	s.mu.Unlock()

	parsed, err := url.Parse(bindURL)
	if err != nil {
		return "", fmt.Errorf("tracestub: invalid server URL: %w", err)
	}
	if parsed.Scheme != "ws" {
		return "", fmt.Errorf("tracestub: unsupported scheme %q (expected ws://)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := parsed.Port()
	if port == "" {
		port = "80"
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = DefaultPath
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return "", fmt.Errorf("tracestub: listen failed: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, s.Handler())

	srv := &http.Server{Handler: mux}
	go func() {
		_ = srv.Serve(lis)
	}()

	actual := fmt.Sprintf("ws://%s%s", lis.Addr().String(), path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = lis.Close()
		_ = srv.Close()
		return "", errors.New("tracestub: server is closed")
	}
	if s.server != nil {
		// A concurrent Start won the race.
		_ = lis.Close()
		_ = srv.Close()
		return s.address, nil
	}
	s.server = srv
	s.listener = lis
	s.address = actual

	s.logger.Info("listening", zap.String("url", actual))
	return actual, nil
}

// Close stops the listener and disconnects every peer.
func (s *Server) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.server
	s.server = nil
	lis := s.listener
	s.listener = nil
	s.mu.Unlock()

	var shutdownErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr = err
		}
	}
	if lis != nil {
		_ = lis.Close()
	}

	s.peersMu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*peer)
	s.peersMu.Unlock()

	for _, p := range peers {
		p.cancel()
		s.routes.drop(p.id)
		_ = p.ws.Close(websocket.StatusGoingAway, "server shutdown")
	}
	return shutdownErr
}

// PeerIDs returns the ids of connected peers in sorted order.
func (s *Server) PeerIDs() []string {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Accounts returns the accounts peerID is subscribed to.
func (s *Server) Accounts(peerID string) []string {
	return s.routes.accounts(peerID)
}

// WaitForSubscription blocks until a subscription is accepted or ctx ends.
func (s *Server) WaitForSubscription(ctx context.Context) (Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case sub := <-s.subscribeQ:
		return sub, nil
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
}

// Publish sends a trace event to every peer subscribed to one of
// params.Accounts and returns how many peers it reached.
func (s *Server) Publish(ctx context.Context, params wsclient.TraceParams) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	msg := newTrace(params)
	delivered := 0
	var errs []error
	for _, id := range s.routes.targets(params.Accounts) {
		p := s.peer(id)
		if p == nil {
			continue
		}
		if err := wsjson.Write(ctx, p.ws, msg); err != nil {
			s.logger.Warn("trace delivery failed", zap.String("peer", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			continue
		}
		delivered++
	}
	s.logger.Debug("trace published", zap.String("hash", params.Hash), zap.Int("delivered", delivered))
	return delivered, errors.Join(errs...)
}

// SendText writes an arbitrary text frame to one peer.
func (s *Server) SendText(ctx context.Context, peerID, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p := s.peer(peerID)
	if p == nil {
		return fmt.Errorf("tracestub: unknown peer %q", peerID)
	}
	return p.ws.Write(ctx, websocket.MessageText, []byte(text))
}

// Disconnect closes one peer's connection with a normal status. It blocks
// until the peer answers the closing handshake, which needs the peer to be
// reading, or for at most five seconds.
func (s *Server) Disconnect(peerID, reason string) error {
	p := s.peer(peerID)
	if p == nil {
		return fmt.Errorf("tracestub: unknown peer %q", peerID)
	}
	return p.ws.Close(websocket.StatusNormalClosure, reason)
}

func (s *Server) peer(id string) *peer {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return s.peers[id]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:     fmt.Sprintf("p%d", s.nextPeerID.Add(1)),
		ws:     c,
		ctx:    ctx,
		cancel: cancel,
	}

	s.peersMu.Lock()
	s.peers[p.id] = p
	s.peersMu.Unlock()
	s.logger.Info("peer connected", zap.String("peer", p.id))

	defer func() {
		cancel()
		s.peersMu.Lock()
		delete(s.peers, p.id)
		s.peersMu.Unlock()
		s.routes.drop(p.id)
		s.logger.Info("peer disconnected", zap.String("peer", p.id))
	}()

	for {
		kind, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		s.handleRequest(p, data)
	}
}

func (s *Server) handleRequest(p *peer, data []byte) {
	if !json.Valid(data) {
		s.reply(p, newError(nil, codeParseError, "parse error"))
		return
	}

	var req inboundRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(p, newError(nil, codeInvalidRequest, "invalid request"))
		return
	}
	id, err := req.id()
	if err != nil {
		s.reply(p, newError(nil, codeInvalidRequest, "id must be an unsigned integer"))
		return
	}
	var method string
	if err := json.Unmarshal(req.Method, &method); err != nil || method == "" {
		s.reply(p, newError(id, codeInvalidRequest, "invalid request"))
		return
	}

	switch method {
	case wsclient.MethodSubscribeTrace:
		if isNull(req.Params) {
			s.reply(p, newError(id, codeInvalidParams, "params must be an array of account strings"))
			return
		}
		var accounts []string
		if err := json.Unmarshal(req.Params, &accounts); err != nil {
			s.reply(p, newError(id, codeInvalidParams, "params must be an array of account strings"))
			return
		}
		added := s.routes.subscribe(p.id, accounts)
		s.logger.Debug("subscribed", zap.String("peer", p.id), zap.Strings("accounts", accounts), zap.Int("new", added))
		s.reply(p, newAck(id))

		select {
		case s.subscribeQ <- Subscription{PeerID: p.id, RequestID: id, Accounts: accounts}:
		default:
			s.logger.Warn("dropping subscription event: queue is full", zap.String("peer", p.id))
		}

	default:
		s.reply(p, newError(id, codeMethodNotFound, fmt.Sprintf("method %q not found", method)))
	}
}

func (s *Server) reply(p *peer, v any) {
	if err := wsjson.Write(p.ctx, p.ws, v); err != nil {
		s.logger.Debug("reply failed", zap.String("peer", p.id), zap.Error(err))
	}
}
