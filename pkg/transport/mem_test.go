package transport_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/organic-programming/go-tonapi/pkg/transport"
)

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	})
}

func TestMemListenerRoundTrip(t *testing.T) {
	mem := transport.NewMemListener(echoHandler())
	defer mem.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := mem.Dialer().Dial(ctx, transport.Config{})
	require.NoError(t, err)

	r, w, err := conn.Split()
	require.NoError(t, err)

	require.NoError(t, w.Send(ctx, "hello mem"))
	text, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello mem", text)
}

func TestMemListenerAddr(t *testing.T) {
	mem := transport.NewMemListener(http.NotFoundHandler())
	defer mem.Close()

	assert.Equal(t, "mem", mem.Addr().Network())
	assert.Equal(t, "mem://", mem.Addr().String())
}

func TestMemListenerClosedRefusesDial(t *testing.T) {
	mem := transport.NewMemListener(echoHandler())
	require.NoError(t, mem.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := mem.Dialer().Dial(ctx, transport.Config{})
	var dialErr *transport.DialError
	require.ErrorAs(t, err, &dialErr)
}
