// Package gateway implements the per-query channel multiplexer: the
// layer sitting between protocol execution and transport that owns,
// for each (StepPath, peer role, direction), a lazily-built channel.
// It also enforces the record-index ordering contract — record index
// is a monotonically increasing per-channel counter the gateway
// verifies matches arrival order — since that check belongs with the
// same code that already knows each channel's arrival order.
package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
)

// Config tunes the gateway's batching/backpressure behavior.
type Config struct {
	// HighWaterMarkBytes is the per-channel buffered-bytes ceiling; a
	// write that would exceed it forces an immediate, blocking flush —
	// this is the backpressure signal exposed to protocol callers.
	HighWaterMarkBytes int
	// BatchBytes is the eager-flush threshold for small writes.
	BatchBytes int
	// BatchInterval is the timer trigger that flushes a channel with
	// pending bytes below BatchBytes.
	BatchInterval time.Duration
}

// DefaultConfig favors small, conservative buffers over large ones.
func DefaultConfig() Config {
	return Config{
		HighWaterMarkBytes: 64 << 10,
		BatchBytes:         4 << 10,
		BatchInterval:      5 * time.Millisecond,
	}
}

// BufferObserver receives channel-occupancy samples for metrics
// (pkg/metrics implements this); it is optional.
type BufferObserver interface {
	ObserveSendBufferBytes(n int)
}

type channelKey struct {
	step string
	// encodedStep is step's URL-safe rendering (step.Path.URLEncode),
	// used for the RecordsKey handed to Transport so it survives being
	// embedded in an HTTPS request path; step itself is only used for
	// the in-process channel map and error messages.
	encodedStep string
	from        types.Role
	to          types.Role
}

// Gateway is the per-query multiplexer. One Gateway exists per
// in-flight query on each helper.
type Gateway struct {
	queryID types.QueryID
	self    types.Role
	roles   types.RoleAssignment
	tr      transport.Transport
	cfg     Config
	obs     BufferObserver

	mu        sync.Mutex
	senders   map[channelKey]*SendHandle
	receivers map[channelKey]*RecvHandle
}

// New creates a Gateway for one query on one helper.
func New(queryID types.QueryID, self types.Role, roles types.RoleAssignment, tr transport.Transport, cfg Config, obs BufferObserver) *Gateway {
	return &Gateway{
		queryID:   queryID,
		self:      self,
		roles:     roles,
		tr:        tr,
		cfg:       cfg,
		obs:       obs,
		senders:   make(map[channelKey]*SendHandle),
		receivers: make(map[channelKey]*RecvHandle),
	}
}

// SendChannel returns the write handle for (step, self->to), building
// it on first reference. Opening the same channel twice is a
// programmer error.
func (g *Gateway) SendChannel(p *step.Path, to types.Role) (*SendHandle, error) {
	key := channelKey{step: p.String(), encodedStep: p.URLEncode(), from: g.self, to: to}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.senders[key]; exists {
		return nil, apperr.Newf(apperr.KindBadState, "duplicate send channel opened for step %q to %s", key.step, to)
	}
	h := &SendHandle{gw: g, key: key}
	g.senders[key] = h
	return h, nil
}

// RecvChannel returns the read handle for (step, from->self), building
// it on first reference.
func (g *Gateway) RecvChannel(p *step.Path, from types.Role) (*RecvHandle, error) {
	key := channelKey{step: p.String(), encodedStep: p.URLEncode(), from: from, to: g.self}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.receivers[key]; exists {
		return nil, apperr.Newf(apperr.KindBadState, "duplicate recv channel opened for step %q from %s", key.step, from)
	}
	h := &RecvHandle{gw: g, key: key}
	g.receivers[key] = h
	return h, nil
}

func (g *Gateway) identityFor(r types.Role) types.HelperIdentity {
	return g.roles.IdentityOf(r)
}

// SendHandle is the write side of one channel. Writes are ordered by
// record index and coalesced into batches before hitting the
// transport.
type SendHandle struct {
	gw  *Gateway
	key channelKey

	mu        sync.Mutex
	writer    transport.RecordsWriter
	buf       []byte
	nextIndex uint64
	timer     *time.Timer
	closed    bool
	err       error
}

// WriteRecord appends value (already-serialized bytes for one record)
// to the channel. index must equal the next expected index for this
// channel; otherwise the gateway's ordering invariant has been
// violated and KindStepMismatch is returned.
func (h *SendHandle) WriteRecord(ctx context.Context, index uint64, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}
	if h.closed {
		return apperr.Newf(apperr.KindBadState, "send channel %q is closed", h.key.step)
	}
	if index != h.nextIndex {
		return apperr.Newf(apperr.KindStepMismatch, "send channel %q: expected record index %d, got %d", h.key.step, h.nextIndex, index)
	}
	h.nextIndex++
	h.buf = append(h.buf, value...)

	switch {
	case len(h.buf) >= h.gw.cfg.HighWaterMarkBytes, len(h.buf) >= h.gw.cfg.BatchBytes:
		if h.timer != nil {
			h.timer.Stop()
		}
		if err := h.flushLocked(ctx); err != nil {
			h.err = err
			return err
		}
	default:
		h.armTimerLocked()
	}
	return nil
}

func (h *SendHandle) armTimerLocked() {
	if h.timer != nil {
		h.timer.Reset(h.gw.cfg.BatchInterval)
		return
	}
	h.timer = time.AfterFunc(h.gw.cfg.BatchInterval, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed || len(h.buf) == 0 {
			return
		}
		if err := h.flushLocked(context.Background()); err != nil {
			h.err = err
		}
	})
}

func (h *SendHandle) flushLocked(ctx context.Context) error {
	if len(h.buf) == 0 {
		return nil
	}
	if h.gw.obs != nil {
		h.gw.obs.ObserveSendBufferBytes(len(h.buf))
	}
	if h.writer == nil {
		dest := h.gw.identityFor(h.key.to)
		w, err := h.gw.tr.OpenRecordsWriter(ctx, dest, transport.RecordsKey{
			QueryID:  h.gw.queryID,
			StepPath: h.key.encodedStep,
			From:     h.key.from,
			To:       h.key.to,
		})
		if err != nil {
			return err
		}
		h.writer = w
	}
	if _, err := h.writer.Write(h.buf); err != nil {
		return apperr.New(apperr.KindPeerUnavailable, err)
	}
	h.buf = h.buf[:0]
	return nil
}

// Close flushes any buffered bytes and sends end-of-stream: dropping
// the handle without closing it would leave its last batch unsent.
func (h *SendHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if err := h.flushLocked(ctx); err != nil {
		return err
	}
	if h.writer != nil {
		return h.writer.Close()
	}
	return nil
}

// RecvHandle is the read side of one channel.
type RecvHandle struct {
	gw  *Gateway
	key channelKey

	mu        sync.Mutex
	reader    transport.RecordsReader
	nextIndex uint64
	closed    bool
}

// ReadRecord blocks until width bytes for record index are available
// or the peer closes the stream. index must equal the next expected
// index. A peer close with fewer bytes than width remaining fails with
// KindShortStream.
func (h *RecvHandle) ReadRecord(ctx context.Context, index uint64, width int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, apperr.Newf(apperr.KindBadState, "recv channel %q is closed", h.key.step)
	}
	if index != h.nextIndex {
		return nil, apperr.Newf(apperr.KindStepMismatch, "recv channel %q: expected record index %d, got %d", h.key.step, h.nextIndex, index)
	}
	if h.reader == nil {
		source := h.gw.identityFor(h.key.from)
		r, err := h.gw.tr.OpenRecordsReader(ctx, source, transport.RecordsKey{
			QueryID:  h.gw.queryID,
			StepPath: h.key.encodedStep,
			From:     h.key.from,
			To:       h.key.to,
		})
		if err != nil {
			return nil, err
		}
		h.reader = r
	}

	buf := make([]byte, width)
	if _, err := io.ReadFull(h.reader, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, apperr.New(apperr.KindShortStream, fmt.Errorf("recv channel %q: %w", h.key.step, err))
		}
		return nil, apperr.New(apperr.KindPeerUnavailable, err)
	}
	h.nextIndex++
	return buf, nil
}

// Close releases the underlying reader, if one was opened.
func (h *RecvHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.reader != nil {
		return h.reader.Close()
	}
	return nil
}
