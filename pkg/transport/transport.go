// Package transport defines the uniform abstraction over the network
// layer: a Transport sends and receives control messages and
// records streams between helpers, with two implementations —
// transport/https (real mTLS network) and transport/inmemory
// (process-local, used by tests and pkg/endtoend).
package transport

import (
	"context"
	"io"

	"github.com/ipaproto/helper/pkg/types"
)

// Route identifies what kind of payload is carried by a Send/Receive
// call. The first five are control messages, delivered once each;
// Records is a records stream, delivered as a lazy byte stream keyed
// by (QueryId, StepPath).
type Route int

const (
	RouteReceiveQuery Route = iota
	RoutePrepareQuery
	RouteQueryInput
	RouteQueryStatus
	RouteCompleteQuery
	RouteRecords
)

func (r Route) String() string {
	switch r {
	case RouteReceiveQuery:
		return "ReceiveQuery"
	case RoutePrepareQuery:
		return "PrepareQuery"
	case RouteQueryInput:
		return "QueryInput"
	case RouteQueryStatus:
		return "QueryStatus"
	case RouteCompleteQuery:
		return "CompleteQuery"
	case RouteRecords:
		return "Records"
	default:
		return "unknown"
	}
}

// RecordsKey addresses a records stream: the query it belongs to, the
// StepPath-rendered channel it carries, and which ring direction
// (sender role -> receiver role) it flows.
type RecordsKey struct {
	QueryID  types.QueryID
	StepPath string
	From     types.Role
	To       types.Role
}

// Message is a control-message payload (everything but Route ==
// RouteRecords): an opaque, already-encoded body plus the QueryId it
// concerns. Encoding/decoding the body to/from a concrete Go struct is
// the caller's responsibility (pkg/query, pkg/network) — Transport
// itself only moves bytes and enforces the one-request, ack-on-return
// contract.
type Message struct {
	QueryID types.QueryID
	Route   Route
	Body    []byte
}

// RecordsWriter is a write handle onto one outbound records stream.
// Write returns once the peer has acknowledged receipt of the bytes
// written so far — the backpressure signal callers rely on. Close
// sends end-of-stream.
type RecordsWriter interface {
	io.WriteCloser
}

// RecordsReader is a read handle onto one inbound records stream. Read
// blocks cooperatively until bytes are available or the peer closes;
// io.EOF is returned once the stream is cleanly closed.
type RecordsReader interface {
	io.ReadCloser
}

// Transport is implemented once for HTTPS (transport/https) and once
// for same-process delivery (transport/inmemory).
type Transport interface {
	// SendControl delivers a control message to destination and waits
	// for the peer's acknowledgement, returning the peer's response
	// body (e.g. the allocated QueryId for RouteReceiveQuery, or an
	// empty body for routes that only ack). Fails with
	// apperr.KindPeerUnavailable, apperr.KindAuthenticationFailed, or
	// apperr.KindCanceled.
	SendControl(ctx context.Context, destination types.HelperIdentity, msg Message) ([]byte, error)

	// OpenRecordsWriter opens the one sender-side handle for a records
	// stream. Opening the same key twice is a programmer error;
	// transport/inmemory rejects it with apperr.KindBadState, while
	// transport/https does not check for it.
	OpenRecordsWriter(ctx context.Context, destination types.HelperIdentity, key RecordsKey) (RecordsWriter, error)

	// OpenRecordsReader opens the one receiver-side handle for a
	// records stream, blocking until the peer opens its writer side.
	OpenRecordsReader(ctx context.Context, source types.HelperIdentity, key RecordsKey) (RecordsReader, error)

	// Handler registers the callback invoked when this transport
	// receives a control message addressed to this helper on the given
	// route. The handler's returned bytes become the ack body.
	Handler(route Route, fn ControlHandler)

	// RecordsHandler registers the callback invoked when a peer opens a
	// records stream addressed to this helper; fn receives the reader
	// side and is responsible for closing it.
	RecordsHandler(fn RecordsHandler)

	// Self reports this transport's own HelperIdentity.
	Self() types.HelperIdentity
}

// ControlHandler processes one received control message and returns
// the ack body (or an error, which is surfaced to the sender).
type ControlHandler func(ctx context.Context, from types.HelperIdentity, msg Message) ([]byte, error)

// RecordsHandler processes one newly-opened inbound records stream.
type RecordsHandler func(ctx context.Context, from types.HelperIdentity, key RecordsKey, r RecordsReader)
