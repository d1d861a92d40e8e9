// Package tracestub is an in-process stand-in for the tonapi streaming
// endpoint. It speaks the same wire protocol as the real service:
//   - subscribe_trace requests are acknowledged with {"result":"success"}
//   - published traces are routed to every peer subscribed to one of the
//     trace's accounts
//   - anything else gets a JSON-RPC error object back
//
// It is meant for tests, demos and local development, not production.
package tracestub

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

// AckResult is the result string sent for an accepted subscription.
const AckResult = "success"

// JSON-RPC reserved error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Subscription describes one accepted subscribe_trace request.
type Subscription struct {
	PeerID    string
	RequestID *uint64
	Accounts  []string
}

// inboundRequest is what the stub expects from clients. Members stay raw
// so that a malformed id or method is told apart from unparseable text.
type inboundRequest struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// id decodes the request id. Absent and null both yield nil.
func (r inboundRequest) id() (*uint64, error) {
	if isNull(r.ID) {
		return nil, nil
	}
	var v uint64
	if err := json.Unmarshal(r.ID, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func isNull(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type ackMessage struct {
	Method  string  `json:"method"`
	ID      *uint64 `json:"id"`
	JSONRPC string  `json:"jsonrpc"`
	Result  string  `json:"result"`
}

type traceMessage struct {
	Method  string               `json:"method"`
	JSONRPC string               `json:"jsonrpc"`
	Params  wsclient.TraceParams `json:"params"`
}

// RPCError is the error object of a JSON-RPC error response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type errorMessage struct {
	ID      *uint64   `json:"id"`
	JSONRPC string    `json:"jsonrpc"`
	Error   *RPCError `json:"error"`
}

func newAck(id *uint64) ackMessage {
	return ackMessage{
		Method:  wsclient.MethodSubscribeTrace,
		ID:      id,
		JSONRPC: wsclient.JSONRPCVersion,
		Result:  AckResult,
	}
}

func newTrace(params wsclient.TraceParams) traceMessage {
	if params.Accounts == nil {
		params.Accounts = []string{}
	}
	return traceMessage{
		Method:  wsclient.MethodTrace,
		JSONRPC: wsclient.JSONRPCVersion,
		Params:  params,
	}
}

func newError(id *uint64, code int, message string) errorMessage {
	return errorMessage{
		ID:      id,
		JSONRPC: wsclient.JSONRPCVersion,
		Error:   &RPCError{Code: code, Message: message},
	}
}
