package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errNoDiscriminant = errors.New(`message has no "method" field`)

// Message is an inbound protocol message.
type Message interface {
	// Method returns the discriminant the message was decoded under.
	Method() string
}

// Result is the outcome of one Receive: either a decoded Message or, when
// the frame matched no registered shape, the original text in Raw.
type Result struct {
	Message Message
	Raw     string
}

// Parsed reports whether the frame decoded into a Message.
func (r Result) Parsed() bool { return r.Message != nil }

// SubscriptionAck acknowledges a subscribe_trace request.
type SubscriptionAck struct {
	ID      *uint64 `json:"id"`
	JSONRPC string  `json:"jsonrpc"`
	Result  string  `json:"result"`
}

func (*SubscriptionAck) Method() string { return MethodSubscribeTrace }

// UnmarshalJSON matches keys exactly; "ID" or "Result" are not "id" or
// "result" on this wire.
func (m *SubscriptionAck) UnmarshalJSON(data []byte) error {
	fields, err := objectFields(data)
	if err != nil {
		return err
	}
	id, err := optionalUint64(fields, MethodSubscribeTrace, "id")
	if err != nil {
		return err
	}
	version, err := requiredString(fields, MethodSubscribeTrace, "jsonrpc")
	if err != nil {
		return err
	}
	result, err := requiredString(fields, MethodSubscribeTrace, "result")
	if err != nil {
		return err
	}
	*m = SubscriptionAck{ID: id, JSONRPC: version, Result: result}
	return nil
}

// TraceParams carries the accounts a trace touched and its hash.
type TraceParams struct {
	Accounts []string `json:"accounts"`
	Hash     string   `json:"hash"`
}

// TraceEvent is a trace notification for a subscribed account.
type TraceEvent struct {
	JSONRPC string      `json:"jsonrpc"`
	Params  TraceParams `json:"params"`
}

func (*TraceEvent) Method() string { return MethodTrace }

func (m *TraceEvent) UnmarshalJSON(data []byte) error {
	fields, err := objectFields(data)
	if err != nil {
		return err
	}
	version, err := requiredString(fields, MethodTrace, "jsonrpc")
	if err != nil {
		return err
	}
	raw, ok := fields["params"]
	if !ok || isNull(raw) {
		return missingField(MethodTrace, "params")
	}
	params, err := objectFields(raw)
	if err != nil {
		return fmt.Errorf("%s: field %q: %w", MethodTrace, "params", err)
	}
	rawAccounts, ok := params["accounts"]
	if !ok || isNull(rawAccounts) {
		return missingField(MethodTrace, "params.accounts")
	}
	var accounts []string
	if err := json.Unmarshal(rawAccounts, &accounts); err != nil {
		return fmt.Errorf("%s: field %q: %w", MethodTrace, "params.accounts", err)
	}
	hash, err := requiredString(params, MethodTrace, "params.hash")
	if err != nil {
		return err
	}
	*m = TraceEvent{JSONRPC: version, Params: TraceParams{Accounts: accounts, Hash: hash}}
	return nil
}

func missingField(method, field string) error {
	return fmt.Errorf("%s: missing field %q", method, field)
}

// Registry maps "method" discriminants to message factories. Registering a
// new variant needs no change to the read path.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Message
}

// NewRegistry returns a registry that knows subscribe_trace and trace.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Message)}
	r.Register(MethodSubscribeTrace, func() Message { return &SubscriptionAck{} })
	r.Register(MethodTrace, func() Message { return &TraceEvent{} })
	return r
}

// Register adds or replaces the factory for method. The factory must
// return a pointer that json.Unmarshal can decode into.
func (r *Registry) Register(method string, factory func() Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[method] = factory
}

// Methods returns the registered discriminants in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for m := range r.factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Decode selects a variant by the "method" field and decodes text into it.
// The discriminant key is matched exactly and may appear only once. Any
// failure (invalid JSON, absent or unknown discriminant, wrong shape) is
// returned as an error; callers turn it into a Raw result.
func (r *Registry) Decode(text string) (Message, error) {
	data := []byte(text)

	head, err := objectFields(data)
	if err != nil {
		return nil, err
	}
	raw, ok := head["method"]
	if !ok {
		return nil, errNoDiscriminant
	}
	var method string
	if err := json.Unmarshal(raw, &method); err != nil || isNull(raw) {
		return nil, fmt.Errorf(`"method" is not a string: %s`, raw)
	}

	r.mu.RLock()
	factory, ok := r.factories[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}

	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
