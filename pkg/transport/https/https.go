// Package https implements transport.Transport over mutually
// authenticated TLS: SendControl POSTs to the peer's
// `/query/{id}/prepare` or `/query/{id}/complete` endpoint and waits
// for the response; OpenRecordsWriter POSTs a chunked, unbounded body
// to `/query/{id}/step/{step_path}`, where step_path is already the
// caller's URL-safe, base64-segmented rendering of a step.Path (see
// step.Path.URLEncode/step.Decode), relying on the HTTP client's
// buffered-write backpressure as the flow-control signal. Inbound
// requests are handed to this Transport by pkg/network's mux handlers
// via HandlePrepare/HandleComplete/HandleRecords — this package owns
// the client and the registered-handler bookkeeping, not the listener
// itself.
package https

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
)

// AddressBook maps a peer HelperIdentity to the base URL of its H2H
// listener (e.g. "https://helper2.example.internal:9443").
type AddressBook map[types.HelperIdentity]string

// Config configures one helper's https.Transport.
type Config struct {
	Self      types.HelperIdentity
	Addresses AddressBook
	Client    *http.Client // must carry the mTLS client certificate and peer CA pool
}

// Transport is the HTTPS transport.Transport implementation.
type Transport struct {
	self      types.HelperIdentity
	addresses AddressBook
	client    *http.Client

	mu             sync.Mutex
	controlHandler map[transport.Route]transport.ControlHandler
	recordsHandler transport.RecordsHandler
	pendingReaders map[transport.RecordsKey]chan transport.RecordsReader
}

var _ transport.Transport = (*Transport)(nil)

// New constructs an https.Transport from cfg.
func New(cfg Config) *Transport {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{
		self:           cfg.Self,
		addresses:      cfg.Addresses,
		client:         client,
		controlHandler: make(map[transport.Route]transport.ControlHandler),
		pendingReaders: make(map[transport.RecordsKey]chan transport.RecordsReader),
	}
}

func (t *Transport) Self() types.HelperIdentity { return t.self }

func (t *Transport) Handler(route transport.Route, fn transport.ControlHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controlHandler[route] = fn
}

func (t *Transport) RecordsHandler(fn transport.RecordsHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordsHandler = fn
}

func (t *Transport) controlPath(base string, msg transport.Message) (method, url string) {
	switch msg.Route {
	case transport.RoutePrepareQuery:
		return http.MethodPost, fmt.Sprintf("%s/query/%s/prepare", base, msg.QueryID)
	case transport.RouteCompleteQuery:
		return http.MethodPost, fmt.Sprintf("%s/query/%s/complete", base, msg.QueryID)
	default:
		// ReceiveQuery/QueryInput/QueryStatus are collector-facing Query
		// API calls, not H2H calls — pkg/network dispatches those
		// locally into pkg/query without going through Transport. A
		// generic fallback path keeps SendControl total over Route for
		// tests that exercise it directly.
		return http.MethodPost, fmt.Sprintf("%s/h2h/control/%s/%s", base, msg.Route, msg.QueryID)
	}
}

func (t *Transport) SendControl(ctx context.Context, destination types.HelperIdentity, msg transport.Message) ([]byte, error) {
	base, ok := t.addresses[destination]
	if !ok {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("no known address for helper %s", destination))
	}

	method, url := t.controlPath(base, msg)
	req, err := http.NewRequestWithContext(ctx, method, url, newBodyReader(msg.Body))
	if err != nil {
		return nil, apperr.New(apperr.KindTransportError, err)
	}
	req.Header.Set("X-Helper-Identity", string(t.self))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.KindCanceled, ctx.Err())
		}
		return nil, apperr.New(apperr.KindPeerUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindPeerUnavailable, err)
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, apperr.New(apperr.KindAlreadyRunning, fmt.Errorf("prepare rejected: %s", string(body)))
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, apperr.New(apperr.KindAuthenticationFailed, fmt.Errorf("peer rejected identity: %s", string(body)))
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("peer returned %s: %s", resp.Status, string(body)))
	}
	return body, nil
}

func (t *Transport) OpenRecordsWriter(ctx context.Context, destination types.HelperIdentity, key transport.RecordsKey) (transport.RecordsWriter, error) {
	base, ok := t.addresses[destination]
	if !ok {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("no known address for helper %s", destination))
	}

	pr, pw := io.Pipe()
	url := fmt.Sprintf("%s/query/%s/step/%s?to=%s&from=%s", base, key.QueryID, key.StepPath, key.To, key.From)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, apperr.New(apperr.KindTransportError, err)
	}
	req.Header.Set("X-Helper-Identity", string(t.self))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = -1 // force chunked transfer encoding

	go func() {
		resp, err := t.client.Do(req)
		if err != nil {
			pr.CloseWithError(apperr.New(apperr.KindPeerUnavailable, err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			pr.CloseWithError(apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("peer returned %s: %s", resp.Status, string(body))))
		}
	}()

	return &writeCloser{pw}, nil
}

// OpenRecordsReader waits for HandleRecords to deliver an inbound
// stream matching key. Records arrive server-side (see
// pkg/network), so this rendezvous bridges the push-style HTTP
// handler with the pull-style Transport contract.
func (t *Transport) OpenRecordsReader(ctx context.Context, source types.HelperIdentity, key transport.RecordsKey) (transport.RecordsReader, error) {
	ch := t.waitChan(key)
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindCanceled, ctx.Err())
	}
}

func (t *Transport) waitChan(key transport.RecordsKey) chan transport.RecordsReader {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pendingReaders[key]
	if !ok {
		ch = make(chan transport.RecordsReader, 1)
		t.pendingReaders[key] = ch
	}
	return ch
}

// HandlePrepare is invoked by pkg/network's mux route for
// POST /query/{id}/prepare.
func (t *Transport) HandlePrepare(ctx context.Context, from types.HelperIdentity, queryID types.QueryID, body []byte) ([]byte, error) {
	return t.dispatchControl(ctx, transport.RoutePrepareQuery, from, queryID, body)
}

// HandleComplete is invoked by pkg/network's mux route for
// POST /query/{id}/complete.
func (t *Transport) HandleComplete(ctx context.Context, from types.HelperIdentity, queryID types.QueryID, body []byte) ([]byte, error) {
	return t.dispatchControl(ctx, transport.RouteCompleteQuery, from, queryID, body)
}

func (t *Transport) dispatchControl(ctx context.Context, route transport.Route, from types.HelperIdentity, queryID types.QueryID, body []byte) ([]byte, error) {
	t.mu.Lock()
	fn, ok := t.controlHandler[route]
	t.mu.Unlock()
	if !ok {
		return nil, apperr.Newf(apperr.KindBadState, "no handler registered for route %s", route)
	}
	return fn(ctx, from, transport.Message{QueryID: queryID, Route: route, Body: body})
}

// HandleRecords is invoked by pkg/network's mux route for
// POST /query/{id}/step/{step_path}; it either hands the request body
// to a directly-registered RecordsHandler or, if none is registered,
// parks it for a matching OpenRecordsReader call.
func (t *Transport) HandleRecords(ctx context.Context, from types.HelperIdentity, key transport.RecordsKey, body io.ReadCloser) {
	reader := &readCloser{body}
	t.mu.Lock()
	handler := t.recordsHandler
	t.mu.Unlock()
	if handler != nil {
		handler(ctx, from, key, reader)
		return
	}
	ch := t.waitChan(key)
	select {
	case ch <- reader:
	case <-ctx.Done():
		_ = reader.Close()
	}
}

type writeCloser struct{ *io.PipeWriter }

type readCloser struct{ io.ReadCloser }

func newBodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}
