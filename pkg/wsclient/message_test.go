package wsclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

func u64(v uint64) *uint64 { return &v }

func TestDecodeSubscriptionAck(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *wsclient.SubscriptionAck
	}{
		{
			name: "with id",
			text: `{"method":"subscribe_trace","id":0,"jsonrpc":"2.0","result":"success"}`,
			want: &wsclient.SubscriptionAck{ID: u64(0), JSONRPC: "2.0", Result: "success"},
		},
		{
			name: "without id",
			text: `{"method":"subscribe_trace","jsonrpc":"2.0","result":"success! 2 new subscriptions"}`,
			want: &wsclient.SubscriptionAck{JSONRPC: "2.0", Result: "success! 2 new subscriptions"},
		},
		{
			name: "null id and extra fields",
			text: `{"id":null,"extra":true,"result":"ok","jsonrpc":"1.0","method":"subscribe_trace"}`,
			want: &wsclient.SubscriptionAck{JSONRPC: "1.0", Result: "ok"},
		},
	}

	reg := wsclient.NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := reg.Decode(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
			assert.Equal(t, wsclient.MethodSubscribeTrace, msg.Method())
		})
	}
}

func TestDecodeTraceEvent(t *testing.T) {
	msg, err := wsclient.NewRegistry().Decode(
		`{"method":"trace","jsonrpc":"2.0","params":{"accounts":["0:aa","0:bb"],"hash":"deadbeef"}}`)
	require.NoError(t, err)

	trace, ok := msg.(*wsclient.TraceEvent)
	require.True(t, ok)
	assert.Equal(t, "2.0", trace.JSONRPC)
	assert.Equal(t, []string{"0:aa", "0:bb"}, trace.Params.Accounts)
	assert.Equal(t, "deadbeef", trace.Params.Hash)
}

func TestDecodeRejectsUnrecognizedShapes(t *testing.T) {
	inputs := map[string]string{
		"no discriminant":           `{"unexpected":"shape"}`,
		"unknown method":            `{"method":"subscribe_mempool","jsonrpc":"2.0","result":"success"}`,
		"non-string method":         `{"method":7}`,
		"ack missing result":        `{"method":"subscribe_trace","jsonrpc":"2.0","id":1}`,
		"ack missing jsonrpc":       `{"method":"subscribe_trace","result":"success"}`,
		"ack negative id":           `{"method":"subscribe_trace","id":-1,"jsonrpc":"2.0","result":"success"}`,
		"ack result wrong type":     `{"method":"subscribe_trace","jsonrpc":"2.0","result":1}`,
		"trace missing params":      `{"method":"trace","jsonrpc":"2.0"}`,
		"trace missing hash":        `{"method":"trace","jsonrpc":"2.0","params":{"accounts":[]}}`,
		"trace null accounts":       `{"method":"trace","jsonrpc":"2.0","params":{"accounts":null,"hash":"h"}}`,
		"json-rpc error reply":      `{"id":3,"jsonrpc":"2.0","error":{"code":-32601,"message":"nope"}}`,
		"array":                     `[1,2,3]`,
		"sentinel text":             `binary`,
		"empty":                     ``,
		"truncated":                 `{"method":"trace"`,
		"upper-case discriminant":   `{"METHOD":"subscribe_trace","JsonRpc":"2.0","Result":"success"}`,
		"title-case keys":           `{"Method":"trace","JSONRPC":"2.0","Params":{"Accounts":["A"],"HASH":"h"}}`,
		"ack case-variant fields":   `{"method":"subscribe_trace","JSONRPC":"2.0","Result":"success"}`,
		"trace case-variant params": `{"method":"trace","jsonrpc":"2.0","params":{"Accounts":["A"],"hash":"h"}}`,
		"duplicate discriminant":    `{"method":"trace","method":"subscribe_trace","jsonrpc":"2.0","result":"success"}`,
		"duplicate field":           `{"method":"subscribe_trace","jsonrpc":"2.0","result":"a","result":"b"}`,
		"null discriminant":         `{"method":null,"jsonrpc":"2.0","result":"success"}`,
		"ack null jsonrpc":          `{"method":"subscribe_trace","jsonrpc":null,"result":"success"}`,
		"trailing data":             `{"method":"subscribe_trace","jsonrpc":"2.0","result":"success"} {}`,
	}

	reg := wsclient.NewRegistry()
	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			msg, err := reg.Decode(text)
			assert.Error(t, err)
			assert.Nil(t, msg)
		})
	}
}

type blockEvent struct {
	JSONRPC string `json:"jsonrpc"`
	Seqno   uint64 `json:"seqno"`
}

func (*blockEvent) Method() string { return "block" }

func TestRegistryAcceptsNewVariants(t *testing.T) {
	reg := wsclient.NewRegistry()
	assert.Equal(t, []string{"subscribe_trace", "trace"}, reg.Methods())

	_, err := reg.Decode(`{"method":"block","jsonrpc":"2.0","seqno":42}`)
	require.Error(t, err)

	reg.Register("block", func() wsclient.Message { return &blockEvent{} })
	msg, err := reg.Decode(`{"method":"block","jsonrpc":"2.0","seqno":42}`)
	require.NoError(t, err)
	assert.Equal(t, &blockEvent{JSONRPC: "2.0", Seqno: 42}, msg)
	assert.Equal(t, []string{"block", "subscribe_trace", "trace"}, reg.Methods())
}

func TestResultParsed(t *testing.T) {
	assert.False(t, wsclient.Result{Raw: "x"}.Parsed())
	assert.True(t, wsclient.Result{Message: &wsclient.TraceEvent{}}.Parsed())
}
