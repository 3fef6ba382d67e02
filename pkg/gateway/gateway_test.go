package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/transport/inmemory"
	"github.com/ipaproto/helper/pkg/transport/transporttest"
	"github.com/ipaproto/helper/pkg/types"
)

// brokenWriter always fails Write, simulating a peer that accepted the
// stream but died mid-transfer.
type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }
func (brokenWriter) Close() error               { return nil }

func newTestPair(t *testing.T) (*Gateway, *Gateway, types.RoleAssignment) {
	t.Helper()
	roles, err := types.NewRoleAssignment("H1", []types.HelperIdentity{"H2", "H3"})
	require.NoError(t, err)

	net := inmemory.NewNetwork()
	trH1 := net.NewTransport("H1")
	trH2 := net.NewTransport("H2")

	qID := types.NewQueryID()
	cfg := DefaultConfig()
	cfg.BatchInterval = time.Millisecond
	gwH1 := New(qID, types.RoleH1, roles, trH1, cfg, nil)
	gwH2 := New(qID, types.RoleH2, roles, trH2, cfg, nil)
	return gwH1, gwH2, roles
}

func TestSendRecvSingleRecordRoundTrip(t *testing.T) {
	gwH1, gwH2, _ := newTestPair(t)
	p := step.Root.Narrow("mul").Narrow("round-0")

	send, err := gwH1.SendChannel(p, types.RoleH2)
	require.NoError(t, err)

	recvDone := make(chan []byte, 1)
	go func() {
		recv, err := gwH2.RecvChannel(p, types.RoleH1)
		require.NoError(t, err)
		got, err := recv.ReadRecord(context.Background(), 0, 4)
		require.NoError(t, err)
		recvDone <- got
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, send.WriteRecord(context.Background(), 0, []byte("abcd")))
	require.NoError(t, send.Close(context.Background()))

	select {
	case got := <-recvDone:
		assert.Equal(t, "abcd", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
	}
}

func TestOutOfOrderWriteIsRejected(t *testing.T) {
	gwH1, _, _ := newTestPair(t)
	p := step.Root.Narrow("mul")

	send, err := gwH1.SendChannel(p, types.RoleH2)
	require.NoError(t, err)

	err = send.WriteRecord(context.Background(), 1, []byte("x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStepMismatch))
}

func TestDuplicateChannelOpenIsRejected(t *testing.T) {
	gwH1, _, _ := newTestPair(t)
	p := step.Root.Narrow("mul")

	_, err := gwH1.SendChannel(p, types.RoleH2)
	require.NoError(t, err)

	_, err = gwH1.SendChannel(p, types.RoleH2)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadState))
}

func TestShortStreamOnEarlyClose(t *testing.T) {
	gwH1, gwH2, _ := newTestPair(t)
	p := step.Root.Narrow("mul")

	send, err := gwH1.SendChannel(p, types.RoleH2)
	require.NoError(t, err)

	recvErr := make(chan error, 1)
	go func() {
		recv, err := gwH2.RecvChannel(p, types.RoleH1)
		require.NoError(t, err)
		_, err = recv.ReadRecord(context.Background(), 0, 8)
		recvErr <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, send.WriteRecord(context.Background(), 0, []byte("ab")))
	require.NoError(t, send.Close(context.Background()))

	select {
	case err := <-recvErr:
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindShortStream))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for short-stream error")
	}
}

// TestFlushWrapsWriterFailureAsPeerUnavailable exercises the gateway
// against transporttest's generated-style MockTransport rather than
// the in-memory harness, so a mid-stream write failure can be induced
// directly instead of relying on inmemory.Network.Kill.
func TestFlushWrapsWriterFailureAsPeerUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	roles, err := types.NewRoleAssignment("H1", []types.HelperIdentity{"H2", "H3"})
	require.NoError(t, err)

	mockTr := transporttest.NewMockTransport(ctrl)
	mockTr.EXPECT().
		OpenRecordsWriter(gomock.Any(), types.HelperIdentity("H2"), gomock.Any()).
		Return(transport.RecordsWriter(brokenWriter{}), nil)

	cfg := DefaultConfig()
	cfg.HighWaterMarkBytes = 1 // force an immediate flush on the first write
	gw := New(types.NewQueryID(), types.RoleH1, roles, mockTr, cfg, nil)

	send, err := gw.SendChannel(step.Root.Narrow("mul"), types.RoleH2)
	require.NoError(t, err)

	err = send.WriteRecord(context.Background(), 0, []byte("abcd"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPeerUnavailable))
}

func TestBatchingCoalescesMultipleRecordsBeforeFlush(t *testing.T) {
	gwH1, gwH2, _ := newTestPair(t)
	p := step.Root.Narrow("sum")

	send, err := gwH1.SendChannel(p, types.RoleH2)
	require.NoError(t, err)

	recvDone := make(chan [2][]byte, 1)
	go func() {
		recv, err := gwH2.RecvChannel(p, types.RoleH1)
		require.NoError(t, err)
		first, err := recv.ReadRecord(context.Background(), 0, 2)
		require.NoError(t, err)
		second, err := recv.ReadRecord(context.Background(), 1, 2)
		require.NoError(t, err)
		recvDone <- [2][]byte{first, second}
	}()

	time.Sleep(5 * time.Millisecond)
	// Both writes land below BatchBytes, so they coalesce in the send
	// buffer and go out together, flushed by Close (or by the batch
	// timer, if it fires first) rather than one flush per write.
	require.NoError(t, send.WriteRecord(context.Background(), 0, []byte("ab")))
	require.NoError(t, send.WriteRecord(context.Background(), 1, []byte("cd")))
	require.NoError(t, send.Close(context.Background()))

	select {
	case got := <-recvDone:
		assert.Equal(t, "ab", string(got[0]))
		assert.Equal(t, "cd", string(got[1]))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batched records")
	}
}
