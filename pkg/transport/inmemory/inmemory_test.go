package inmemory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
)

func TestSendControlDeliversToRegisteredHandler(t *testing.T) {
	net := NewNetwork()
	h1 := net.NewTransport("H1")
	h2 := net.NewTransport("H2")

	var gotFrom types.HelperIdentity
	h2.Handler(transport.RoutePrepareQuery, func(ctx context.Context, from types.HelperIdentity, msg transport.Message) ([]byte, error) {
		gotFrom = from
		return []byte("ack"), nil
	})

	resp, err := h1.SendControl(context.Background(), "H2", transport.Message{Route: transport.RoutePrepareQuery})
	require.NoError(t, err)
	assert.Equal(t, "ack", string(resp))
	assert.Equal(t, types.HelperIdentity("H1"), gotFrom)
}

func TestSendControlToUnknownHelperFails(t *testing.T) {
	net := NewNetwork()
	h1 := net.NewTransport("H1")

	_, err := h1.SendControl(context.Background(), "H2", transport.Message{Route: transport.RoutePrepareQuery})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPeerUnavailable))
}

func TestKilledHelperIsUnavailable(t *testing.T) {
	net := NewNetwork()
	h1 := net.NewTransport("H1")
	h2 := net.NewTransport("H2")
	h2.Handler(transport.RoutePrepareQuery, func(ctx context.Context, from types.HelperIdentity, msg transport.Message) ([]byte, error) {
		return nil, nil
	})

	net.Kill("H2")

	_, err := h1.SendControl(context.Background(), "H2", transport.Message{Route: transport.RoutePrepareQuery})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPeerUnavailable))
}

func TestRecordsStreamRoundTrip(t *testing.T) {
	net := NewNetwork()
	h1 := net.NewTransport("H1")
	h2 := net.NewTransport("H2")

	key := transport.RecordsKey{StepPath: "/mul/round-0", From: types.RoleH1, To: types.RoleH2}

	readerDone := make(chan []byte, 1)
	go func() {
		r, err := h2.OpenRecordsReader(context.Background(), "H1", key)
		require.NoError(t, err)
		defer r.Close()
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		readerDone <- b
	}()

	// Give the reader a moment to start waiting.
	time.Sleep(10 * time.Millisecond)

	w, err := h1.OpenRecordsWriter(context.Background(), "H2", key)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case got := <-readerDone:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for records stream")
	}
}

func TestDuplicateRecordsWriterOpenIsRejected(t *testing.T) {
	net := NewNetwork()
	h1 := net.NewTransport("H1")
	net.NewTransport("H2")

	key := transport.RecordsKey{StepPath: "/mul/round-0", From: types.RoleH1, To: types.RoleH2}

	_, err := h1.OpenRecordsWriter(context.Background(), "H2", key)
	require.NoError(t, err)

	_, err = h1.OpenRecordsWriter(context.Background(), "H2", key)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadState))
}
