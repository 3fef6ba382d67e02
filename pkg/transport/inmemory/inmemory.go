// Package inmemory implements transport.Transport entirely in-process,
// for unit tests and the pkg/endtoend end-to-end scenarios — no
// sockets, no TLS, just channels and io.Pipe wired through a shared
// Network.
package inmemory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
)

// Network is the shared rendezvous point a set of in-memory
// Transports register with; it plays the role real DNS/TLS would play
// for an HTTPS deployment.
type Network struct {
	mu         sync.Mutex
	transports map[types.HelperIdentity]*Transport
	pending    map[transport.RecordsKey]chan transport.RecordsReader
	openedW    map[transport.RecordsKey]bool
	openedR    map[transport.RecordsKey]bool
	killed     map[types.HelperIdentity]bool
}

// NewNetwork creates an empty in-memory network.
func NewNetwork() *Network {
	return &Network{
		transports: make(map[types.HelperIdentity]*Transport),
		pending:    make(map[transport.RecordsKey]chan transport.RecordsReader),
		openedW:    make(map[transport.RecordsKey]bool),
		openedR:    make(map[transport.RecordsKey]bool),
		killed:     make(map[types.HelperIdentity]bool),
	}
}

// NewTransport registers and returns a new in-memory Transport for
// self on this network.
func (n *Network) NewTransport(self types.HelperIdentity) *Transport {
	t := &Transport{self: self, network: n}
	n.mu.Lock()
	n.transports[self] = t
	n.mu.Unlock()
	return t
}

// Kill simulates a helper becoming unreachable: every subsequent
// SendControl/OpenRecordsWriter/OpenRecordsReader touching
// id fails with apperr.KindPeerUnavailable.
func (n *Network) Kill(id types.HelperIdentity) {
	n.mu.Lock()
	n.killed[id] = true
	n.mu.Unlock()
}

func (n *Network) isKilled(id types.HelperIdentity) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.killed[id]
}

func (n *Network) lookup(id types.HelperIdentity) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[id]
	return t, ok
}

func (n *Network) waitChan(key transport.RecordsKey) chan transport.RecordsReader {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.pending[key]
	if !ok {
		ch = make(chan transport.RecordsReader, 1)
		n.pending[key] = ch
	}
	return ch
}

func (n *Network) markWriterOpened(key transport.RecordsKey) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.openedW[key] {
		return apperr.New(apperr.KindBadState, fmt.Errorf("records writer already opened for %+v", key))
	}
	n.openedW[key] = true
	return nil
}

func (n *Network) markReaderOpened(key transport.RecordsKey) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.openedR[key] {
		return apperr.New(apperr.KindBadState, fmt.Errorf("records reader already opened for %+v", key))
	}
	n.openedR[key] = true
	return nil
}

// Transport is the in-memory transport.Transport implementation for
// one helper identity.
type Transport struct {
	self    types.HelperIdentity
	network *Network

	mu             sync.Mutex
	controlHandler map[transport.Route]transport.ControlHandler
	recordsHandler transport.RecordsHandler
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Self() types.HelperIdentity { return t.self }

func (t *Transport) Handler(route transport.Route, fn transport.ControlHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.controlHandler == nil {
		t.controlHandler = make(map[transport.Route]transport.ControlHandler)
	}
	t.controlHandler[route] = fn
}

func (t *Transport) RecordsHandler(fn transport.RecordsHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordsHandler = fn
}

func (t *Transport) SendControl(ctx context.Context, destination types.HelperIdentity, msg transport.Message) ([]byte, error) {
	if t.network.isKilled(destination) || t.network.isKilled(t.self) {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("helper %s unreachable", destination))
	}
	peer, ok := t.network.lookup(destination)
	if !ok {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("unknown helper %s", destination))
	}
	peer.mu.Lock()
	fn, ok := peer.controlHandler[msg.Route]
	peer.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("helper %s has no handler for route %s", destination, msg.Route))
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn(ctx, t.self, msg)
		done <- result{body, err}
	}()
	select {
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindCanceled, ctx.Err())
	case r := <-done:
		return r.body, r.err
	}
}

func (t *Transport) OpenRecordsWriter(ctx context.Context, destination types.HelperIdentity, key transport.RecordsKey) (transport.RecordsWriter, error) {
	if t.network.isKilled(destination) || t.network.isKilled(t.self) {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("helper %s unreachable", destination))
	}
	if _, ok := t.network.lookup(destination); !ok {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("unknown helper %s", destination))
	}
	if err := t.network.markWriterOpened(key); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	reader := &pipeRecordsReader{PipeReader: pr}
	peer, _ := t.network.lookup(destination)
	peer.mu.Lock()
	handler := peer.recordsHandler
	peer.mu.Unlock()
	if handler != nil {
		go handler(ctx, t.self, key, reader)
	} else {
		ch := t.network.waitChan(key)
		select {
		case ch <- reader:
		case <-ctx.Done():
			_ = pr.Close()
			_ = pw.Close()
			return nil, apperr.New(apperr.KindCanceled, ctx.Err())
		}
	}
	return &pipeRecordsWriter{PipeWriter: pw}, nil
}

func (t *Transport) OpenRecordsReader(ctx context.Context, source types.HelperIdentity, key transport.RecordsKey) (transport.RecordsReader, error) {
	if t.network.isKilled(source) || t.network.isKilled(t.self) {
		return nil, apperr.New(apperr.KindPeerUnavailable, fmt.Errorf("helper %s unreachable", source))
	}
	if err := t.network.markReaderOpened(key); err != nil {
		return nil, err
	}
	ch := t.network.waitChan(key)
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindCanceled, ctx.Err())
	}
}

type pipeRecordsWriter struct{ *io.PipeWriter }
type pipeRecordsReader struct{ *io.PipeReader }
