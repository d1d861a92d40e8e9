package wsclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/organic-programming/go-tonapi/pkg/server"
	"github.com/organic-programming/go-tonapi/pkg/tracestub"
	"github.com/organic-programming/go-tonapi/pkg/transport"
	"github.com/organic-programming/go-tonapi/pkg/wsclient"
)

const testAccount = "EQabc0000000000000000000000000000000000000000000"

type stubSetup func(t *testing.T, stub *tracestub.Server) wsclient.Config

func overTCP(name string) stubSetup {
	return func(t *testing.T, stub *tracestub.Server) wsclient.Config {
		url, err := stub.Start()
		require.NoError(t, err)
		return wsclient.Config{Server: server.Custom(url), TransportName: name}
	}
}

func overMem(t *testing.T, stub *tracestub.Server) wsclient.Config {
	mem := transport.NewMemListener(stub.Handler())
	t.Cleanup(func() { _ = mem.Close() })
	return wsclient.Config{Server: server.Custom(transport.MemURL), Transport: mem.Dialer()}
}

func TestEndToEndAgainstStub(t *testing.T) {
	setups := map[string]stubSetup{
		"nhooyr":  overTCP("nhooyr"),
		"gorilla": overTCP("gorilla"),
		"mem":     overMem,
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			logger := zaptest.NewLogger(t)
			stub := tracestub.NewServer("ws://127.0.0.1:0/v2/websocket", tracestub.WithLogger(logger))
			t.Cleanup(func() { _ = stub.Close(context.Background()) })

			cfg := setup(t, stub)
			cfg.Logger = logger
			r, w, err := wsclient.Connect(ctx, cfg)
			require.NoError(t, err)
			defer w.Close()
			defer r.Close()

			id, err := w.Execute(ctx, wsclient.SubscribeTrace{Accounts: []string{testAccount}})
			require.NoError(t, err)
			assert.Equal(t, uint64(0), id)

			sub, err := stub.WaitForSubscription(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{testAccount}, sub.Accounts)
			require.NotNil(t, sub.RequestID)
			assert.Equal(t, uint64(0), *sub.RequestID)

			res := nextNonControl(ctx, t, r)
			ack, ok := res.Message.(*wsclient.SubscriptionAck)
			require.True(t, ok, "expected ack, got %+v", res)
			require.NotNil(t, ack.ID)
			assert.Equal(t, uint64(0), *ack.ID)
			assert.Equal(t, tracestub.AckResult, ack.Result)
			assert.Equal(t, "2.0", ack.JSONRPC)

			require.NoError(t, stub.SendText(ctx, sub.PeerID, `{"unexpected":"shape"}`))
			res = nextNonControl(ctx, t, r)
			assert.Equal(t, wsclient.Result{Raw: `{"unexpected":"shape"}`}, res)

			delivered, err := stub.Publish(ctx, wsclient.TraceParams{Accounts: []string{testAccount, "EQother"}, Hash: "cafe"})
			require.NoError(t, err)
			assert.Equal(t, 1, delivered)

			res = nextNonControl(ctx, t, r)
			trace, ok := res.Message.(*wsclient.TraceEvent)
			require.True(t, ok, "expected trace, got %+v", res)
			assert.Equal(t, "cafe", trace.Params.Hash)
			assert.Equal(t, []string{testAccount, "EQother"}, trace.Params.Accounts)

			// The closing handshake completes only while the client reads.
			disconnected := make(chan error, 1)
			go func() { disconnected <- stub.Disconnect(sub.PeerID, "bye") }()

			res = nextNonControl(ctx, t, r)
			assert.Equal(t, wsclient.Result{Raw: "close"}, res)

			_, more, err := r.Receive(ctx)
			require.NoError(t, err)
			assert.False(t, more)

			select {
			case err := <-disconnected:
				require.NoError(t, err)
			case <-ctx.Done():
				t.Fatal("Disconnect did not return")
			}
		})
	}
}

func TestEndToEndUnknownMethodIsDeliveredRaw(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stub := tracestub.NewServer("ws://127.0.0.1:0/v2/websocket")
	t.Cleanup(func() { _ = stub.Close(context.Background()) })

	r, w, err := wsclient.Connect(ctx, overMem(t, stub))
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	require.NoError(t, w.Send(ctx, map[string]any{"id": 9, "jsonrpc": "2.0", "method": "subscribe_mempool", "params": []string{}}))

	res := nextNonControl(ctx, t, r)
	assert.False(t, res.Parsed())
	assert.JSONEq(t, `{"id":9,"jsonrpc":"2.0","error":{"code":-32601,"message":"method \"subscribe_mempool\" not found"}}`, res.Raw)
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	stub := tracestub.NewServer("ws://127.0.0.1:0/v2/websocket")
	url, err := stub.Start()
	require.NoError(t, err)
	require.NoError(t, stub.Close(context.Background()))

	for _, name := range transport.Names() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, _, err := wsclient.Connect(ctx, wsclient.Config{Server: server.Custom(url), TransportName: name})
			require.ErrorIs(t, err, wsclient.ErrConnection)

			var dialErr *transport.DialError
			assert.ErrorAs(t, err, &dialErr)
		})
	}
}

func TestConnectUnknownTransport(t *testing.T) {
	_, _, err := wsclient.Connect(context.Background(), wsclient.Config{TransportName: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

type splitFails struct{}

func (splitFails) Split() (transport.Reader, transport.Writer, error) {
	return nil, nil, transport.ErrAlreadySplit
}

func TestConnectSplitError(t *testing.T) {
	dialer := transport.DialFunc(func(context.Context, transport.Config) (transport.Conn, error) {
		return splitFails{}, nil
	})

	_, _, err := wsclient.Connect(context.Background(), wsclient.Config{Transport: dialer})
	require.ErrorIs(t, err, transport.ErrAlreadySplit)
	assert.False(t, errors.Is(err, wsclient.ErrConnection))
}

// nextNonControl skips ping and pong sentinels. Only the gorilla adapter
// surfaces them.
func nextNonControl(ctx context.Context, t *testing.T, r *wsclient.ReadClient) wsclient.Result {
	t.Helper()
	for {
		res, ok, err := r.Receive(ctx)
		require.NoError(t, err)
		require.True(t, ok, "stream ended early")
		if res.Raw == "ping" || res.Raw == "pong" {
			continue
		}
		return res
	}
}
