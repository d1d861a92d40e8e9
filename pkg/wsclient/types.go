// Package wsclient implements the tonapi streaming client (JSON-RPC 2.0
// over websocket text frames) on top of the transport facade.
//
// A connection is split into a ReadClient and a WriteClient that can be
// driven from different goroutines:
//
//	r, w, err := wsclient.Connect(ctx, wsclient.Config{Server: server.TestNet})
//	id, err := w.Execute(ctx, wsclient.SubscribeTrace{Accounts: accounts})
//	res, ok, err := r.Receive(ctx)
//
// Inbound frames decode into typed messages selected by their "method"
// field. Anything that does not decode is delivered as Raw text, never
// dropped and never reported as an error.
package wsclient

// JSONRPCVersion is the protocol version sent when a Method does not
// override it.
const JSONRPCVersion = "2.0"

// MethodSubscribeTrace is the method name of trace subscriptions and of
// their acknowledgments.
const MethodSubscribeTrace = "subscribe_trace"

// MethodTrace tags inbound trace events.
const MethodTrace = "trace"

// Method describes an outgoing request shape.
type Method interface {
	// Method returns the JSON-RPC method name.
	Method() string
	// Params returns the positional parameters.
	Params() []string
}

// Versioned is implemented by methods that need a jsonrpc version other
// than JSONRPCVersion.
type Versioned interface {
	JSONRPC() string
}

// Request is the JSON-RPC envelope written for every Execute call.
type Request struct {
	ID      uint64   `json:"id"`
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

// NewRequest builds the envelope for m under the given id.
func NewRequest(id uint64, m Method) Request {
	version := JSONRPCVersion
	if v, ok := m.(Versioned); ok {
		version = v.JSONRPC()
	}
	params := m.Params()
	if params == nil {
		params = []string{}
	}
	return Request{
		ID:      id,
		JSONRPC: version,
		Method:  m.Method(),
		Params:  params,
	}
}

// SubscribeTrace subscribes to trace events touching any of Accounts.
// Accounts are sent in order, without deduplication. Each entry is the
// text form of an account address, raw ("0:<hex>") or user-friendly
// base64; entries are not validated or canonicalized, so the server
// judges them and may reply with an error.
type SubscribeTrace struct {
	Accounts []string
}

func (SubscribeTrace) Method() string { return MethodSubscribeTrace }

func (s SubscribeTrace) Params() []string {
	out := make([]string, len(s.Accounts))
	copy(out, s.Accounts)
	return out
}
