// Package query implements the per-helper query processor: the state
// machine driving one query from Empty through Preparing,
// AwaitingInputs, Running, to a terminal Completed or Failed state,
// and the fan-out of `prepare` to followers when this helper is acting
// as leader.
package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/crypto"
	"github.com/ipaproto/helper/pkg/execctx"
	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/log"
	"github.com/ipaproto/helper/pkg/metrics"
	"github.com/ipaproto/helper/pkg/prss"
	"github.com/ipaproto/helper/pkg/registry"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/transport"
	"github.com/ipaproto/helper/pkg/types"
	"github.com/ipaproto/helper/pkg/validator"
)

// DefaultQueryTimeout is the wall-clock deadline applied to a query at
// Preparing time absent a more specific override.
const DefaultQueryTimeout = 30 * time.Second

// entry is the full per-query record the processor tracks; mu
// serializes operations on one QueryId while leaving distinct
// QueryIds independent.
type entry struct {
	mu sync.Mutex

	state    types.QueryState
	deadline time.Time
	cancel   context.CancelFunc

	gw  *gateway.Gateway
	ec  execctx.Context
	val validator.Validator

	// Leader-only PRSS bookkeeping while a prepare fan-out is pending.
	ownKeyPair prss.KeyPair

	// Follower-only PRSS bookkeeping between receiving prepareRequest
	// and prepareFinalize.
	pendingKeyPair prss.KeyPair
	pendingSeed    [32]byte
	pendingHasSeed bool

	pendingRecords [][]byte
	macKeyScalar   uint64

	startedRunning time.Time
}

// Processor is the per-helper singleton: one instance owns every
// in-flight QueryId on this helper.
type Processor struct {
	self    types.HelperIdentity
	tr      transport.Transport
	cipher  *crypto.RecordCipher
	gwCfg   gateway.Config
	gwObs   gateway.BufferObserver
	timeout time.Duration

	mu      sync.Mutex
	queries map[types.QueryID]*entry
}

// Config bundles the dependencies a Processor needs at construction.
type Config struct {
	Self            types.HelperIdentity
	Transport       transport.Transport
	Cipher          *crypto.RecordCipher
	GatewayConfig   gateway.Config
	GatewayObserver gateway.BufferObserver
	QueryTimeout    time.Duration
}

// New builds a Processor and registers its H2H control handlers on
// cfg.Transport.
func New(cfg Config) *Processor {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	p := &Processor{
		self:    cfg.Self,
		tr:      cfg.Transport,
		cipher:  cfg.Cipher,
		gwCfg:   cfg.GatewayConfig,
		gwObs:   cfg.GatewayObserver,
		timeout: cfg.QueryTimeout,
		queries: make(map[types.QueryID]*entry),
	}
	p.tr.Handler(transport.RoutePrepareQuery, p.handlePrepareControl)
	p.tr.Handler(transport.RouteCompleteQuery, p.handleCompleteControl)
	return p
}

func (p *Processor) getEntry(qid types.QueryID) (*entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.queries[qid]
	return e, ok
}

func (p *Processor) setEntry(qid types.QueryID, e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[qid] = e
}

func (p *Processor) setState(e *entry, tag types.QueryStateTag) {
	prev := e.state.Tag
	e.state.Tag = tag
	if prev != "" {
		metrics.QueriesByState.WithLabelValues(string(prev)).Dec()
	}
	metrics.QueriesByState.WithLabelValues(string(tag)).Inc()
}

func (p *Processor) fail(e *entry, reason types.FailureReason, detail string) {
	if e.state.Tag == types.StateCompleted || e.state.Tag == types.StateFailed {
		return
	}
	p.setState(e, types.StateFailed)
	e.state.FailureReason = reason
	e.state.FailureDetail = detail
	metrics.QueriesFailedTotal.WithLabelValues(string(reason)).Inc()
	if !e.startedRunning.IsZero() {
		metrics.QueryDuration.Observe(time.Since(e.startedRunning).Seconds())
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// CreateQuery is the leader-only Query API entry point for `POST
// /query`: it allocates a QueryId, assigns roles (this helper
// is always H1 by convention), and fans the `prepare` call out to both
// followers in parallel.
func (p *Processor) CreateQuery(ctx context.Context, cfg types.QueryConfig, followers []types.HelperIdentity) (types.QueryID, error) {
	qid := types.NewQueryID()
	roles, err := types.NewRoleAssignment(p.self, followers)
	if err != nil {
		return types.QueryID{}, apperr.New(apperr.KindBadInput, err)
	}

	logger := log.WithQueryID(qid.String())
	logger.Info().Msg("creating query as leader")

	qctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		state:    types.QueryState{Config: cfg, Roles: roles, Self: types.RoleH1},
		deadline: time.Now().Add(p.timeout),
		cancel:   cancel,
	}
	p.setState(e, types.StateEmpty)
	p.setEntry(qid, e)
	p.setState(e, types.StatePreparing)

	kp, err := prss.GenerateKeyPair(nil)
	if err != nil {
		p.fail(e, types.ReasonTransportError, err.Error())
		return qid, apperr.New(apperr.KindTransportError, err)
	}
	e.ownKeyPair = kp

	var macKeyScalar uint64
	if cfg.MaliciousSecurity {
		seed, err := prss.GenerateKeyPair(nil) // reuse the same CSPRNG source for an 8-byte scalar
		if err != nil {
			p.fail(e, types.ReasonTransportError, err.Error())
			return qid, apperr.New(apperr.KindTransportError, err)
		}
		for _, b := range seed.Private[:8] {
			macKeyScalar = macKeyScalar<<8 | uint64(b)
		}
	}
	e.macKeyScalar = macKeyScalar

	h2 := roles.IdentityOf(types.RoleH2)
	h3 := roles.IdentityOf(types.RoleH3)

	req := prepareRequest{Config: cfg, Roles: roles, LeaderPublic: kp.Public, MACKeyScalar: macKeyScalar}
	body := encodePrepareRequest(req)

	var h2Public, h3Public [32]byte
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		resp, err := p.tr.SendControl(gctx, h2, transport.Message{QueryID: qid, Route: transport.RoutePrepareQuery, Body: body})
		if err != nil {
			return err
		}
		if len(resp) != 32 {
			return apperr.Newf(apperr.KindPrepareRejected, "H2 returned malformed prepare ack")
		}
		copy(h2Public[:], resp)
		return nil
	})
	g.Go(func() error {
		resp, err := p.tr.SendControl(gctx, h3, transport.Message{QueryID: qid, Route: transport.RoutePrepareQuery, Body: body})
		if err != nil {
			return err
		}
		if len(resp) != 32 {
			return apperr.Newf(apperr.KindPrepareRejected, "H3 returned malformed prepare ack")
		}
		copy(h3Public[:], resp)
		return nil
	})
	if err := g.Wait(); err != nil {
		reason := types.ReasonPrepareRejected
		if k, ok := apperr.As(err); ok {
			reason = k.Kind.FailureReason()
		}
		p.fail(e, reason, err.Error())
		return qid, err
	}

	// Relay each follower's neighbor's public key so H2 and H3 can agree
	// their own pairwise seed without talking to each other directly.
	fin := errgroup.Group{}
	fin.Go(func() error {
		_, err := p.tr.SendControl(qctx, h2, transport.Message{QueryID: qid, Route: transport.RoutePrepareQuery, Body: encodePrepareFinalize(prepareFinalize{PeerPublic: h3Public})})
		return err
	})
	fin.Go(func() error {
		_, err := p.tr.SendControl(qctx, h3, transport.Message{QueryID: qid, Route: transport.RoutePrepareQuery, Body: encodePrepareFinalize(prepareFinalize{PeerPublic: h2Public})})
		return err
	})
	if err := fin.Wait(); err != nil {
		reason := types.ReasonPrepareRejected
		if k, ok := apperr.As(err); ok {
			reason = k.Kind.FailureReason()
		}
		p.fail(e, reason, err.Error())
		return qid, err
	}

	rightSeed, err := prss.Agree(kp, h2Public) // H1.Right() == H2
	if err != nil {
		p.fail(e, types.ReasonTransportError, err.Error())
		return qid, apperr.New(apperr.KindTransportError, err)
	}
	leftSeed, err := prss.Agree(kp, h3Public) // H1.Left() == H3
	if err != nil {
		p.fail(e, types.ReasonTransportError, err.Error())
		return qid, apperr.New(apperr.KindTransportError, err)
	}

	if err := p.armGateway(qid, e, prss.Keys{LeftSeed: leftSeed, RightSeed: rightSeed}); err != nil {
		p.fail(e, types.ReasonTransportError, err.Error())
		return qid, err
	}

	if cfg.RecordCount == 0 {
		p.completeEmpty(e)
		logger.Info().Msg("query completed with no input records")
		return qid, nil
	}

	p.setState(e, types.StateAwaitingInputs)
	logger.Info().Msg("query awaiting inputs")
	return qid, nil
}

// completeEmpty transitions a zero-record query straight to Completed
// with no output shares, without ever entering AwaitingInputs or
// exchanging a single step message: there are no records to drive a
// protocol over.
func (p *Processor) completeEmpty(e *entry) {
	e.state.OutputShares = []byte{}
	p.setState(e, types.StateCompleted)
}

func (p *Processor) armGateway(qid types.QueryID, e *entry, keys prss.Keys) error {
	gw := gateway.New(qid, e.state.Self, e.state.Roles, p.tr, p.gwCfg, p.gwObs)
	gen := prss.NewGenerator(keys)

	var val validator.Validator = validator.SemiHonest{}
	if e.state.Config.MaliciousSecurity {
		val = validator.NewMalicious(gw, e.state.Roles, e.state.Self, e.macKeyScalar)
	}

	e.gw = gw
	e.val = val
	e.ec = execctx.New(gw, gen, val, e.state.Self, e.state.Roles, e.state.Config.RecordCount)
	return nil
}

// handlePrepareControl is registered on RoutePrepareQuery; it
// dispatches to the request or finalize handling depending on the
// message's leading kind byte.
func (p *Processor) handlePrepareControl(ctx context.Context, from types.HelperIdentity, msg transport.Message) ([]byte, error) {
	req, fin, err := decodePrepareBody(msg.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindBadInput, err)
	}
	if req != nil {
		return p.handlePrepareRequest(ctx, msg.QueryID, *req)
	}
	return p.handlePrepareFinalize(ctx, msg.QueryID, *fin)
}

func (p *Processor) handlePrepareRequest(ctx context.Context, qid types.QueryID, req prepareRequest) ([]byte, error) {
	if _, exists := p.getEntry(qid); exists {
		return nil, apperr.Newf(apperr.KindAlreadyRunning, "query %s already prepared", qid)
	}

	self, ok := req.Roles.RoleOf(p.self)
	if !ok {
		return nil, apperr.Newf(apperr.KindBadInput, "prepare: this helper is not a party to query %s", qid)
	}

	logger := log.WithQueryID(qid.String())
	logger.Info().Str("role", self.String()).Msg("received prepare request")

	kp, err := prss.GenerateKeyPair(nil)
	if err != nil {
		return nil, apperr.New(apperr.KindTransportError, err)
	}

	_, cancel := context.WithCancel(context.Background())
	e := &entry{
		state:          types.QueryState{Config: req.Config, Roles: req.Roles, Self: self},
		deadline:       time.Now().Add(p.timeout),
		cancel:         cancel,
		pendingKeyPair: kp,
		macKeyScalar:   req.MACKeyScalar,
	}
	p.setState(e, types.StateEmpty)
	p.setEntry(qid, e)
	p.setState(e, types.StatePreparing)

	// This follower's one known neighbor so far is the leader (H1):
	// H2's left neighbor is H1; H3's right neighbor is H1.
	seed, err := prss.Agree(kp, req.LeaderPublic)
	if err != nil {
		p.fail(e, types.ReasonTransportError, err.Error())
		return nil, apperr.New(apperr.KindTransportError, err)
	}
	e.mu.Lock()
	e.pendingSeed = seed
	e.pendingHasSeed = true
	e.mu.Unlock()

	return kp.Public[:], nil
}

func (p *Processor) handlePrepareFinalize(ctx context.Context, qid types.QueryID, fin prepareFinalize) ([]byte, error) {
	e, ok := p.getEntry(qid)
	if !ok {
		return nil, apperr.Newf(apperr.KindBadState, "prepare finalize for unknown query %s", qid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	peerSeed, err := prss.Agree(e.pendingKeyPair, fin.PeerPublic)
	if err != nil {
		return nil, apperr.New(apperr.KindTransportError, err)
	}

	var keys prss.Keys
	switch e.state.Self {
	case types.RoleH2:
		keys = prss.Keys{LeftSeed: e.pendingSeed, RightSeed: peerSeed} // left=H1, right=H3
	case types.RoleH3:
		keys = prss.Keys{LeftSeed: peerSeed, RightSeed: e.pendingSeed} // left=H2, right=H1
	default:
		return nil, apperr.Newf(apperr.KindBadState, "prepare finalize received by leader role for query %s", qid)
	}

	if err := p.armGateway(qid, e, keys); err != nil {
		return nil, apperr.New(apperr.KindTransportError, err)
	}

	logger := log.WithQueryID(qid.String())
	if e.state.Config.RecordCount == 0 {
		p.completeEmpty(e)
		logger.Info().Msg("query completed with no input records")
		return nil, nil
	}

	p.setState(e, types.StateAwaitingInputs)
	logger.Info().Msg("query awaiting inputs")
	return nil, nil
}

// SubmitInput is the Query API entry point for `POST
// /query/{id}/input`: it accepts one encrypted record blob, decrypting
// and buffering it until RecordCount records have arrived, at which
// point it dispatches the protocol.
func (p *Processor) SubmitInput(ctx context.Context, qid types.QueryID, encrypted []byte) error {
	e, ok := p.getEntry(qid)
	if !ok {
		return apperr.Newf(apperr.KindBadState, "input for unknown query %s", qid)
	}

	e.mu.Lock()
	if e.state.Tag != types.StateAwaitingInputs {
		tag := e.state.Tag
		e.mu.Unlock()
		return apperr.Newf(apperr.KindBadState, "input rejected: query %s is in state %s, not awaiting_inputs", qid, tag)
	}

	plaintext := encrypted
	if p.cipher != nil {
		var err error
		plaintext, err = p.cipher.Open(encrypted)
		if err != nil {
			p.fail(e, types.ReasonBadInput, err.Error())
			e.mu.Unlock()
			return apperr.New(apperr.KindBadInput, err)
		}
	}
	e.pendingRecords = append(e.pendingRecords, plaintext)
	haveAll := uint32(len(e.pendingRecords)) >= e.state.Config.RecordCount
	var records [][]byte
	var ec execctx.Context
	var cfg types.QueryConfig
	if haveAll {
		p.setState(e, types.StateRunning)
		e.startedRunning = time.Now()
		records = e.pendingRecords
		ec = e.ec
		cfg = e.state.Config
	}
	e.mu.Unlock()

	if !haveAll {
		return nil
	}

	go p.runProtocol(qid, e, ec, cfg, records)
	return nil
}

func (p *Processor) runProtocol(qid types.QueryID, e *entry, ec execctx.Context, cfg types.QueryConfig, records [][]byte) {
	logger := log.WithQueryID(qid.String())

	f, err := field.Lookup(cfg.Field)
	if err != nil {
		p.terminalFail(e, apperr.New(apperr.KindBadInput, err))
		return
	}
	drv, err := registry.Lookup(cfg.Type)
	if err != nil {
		p.terminalFail(e, err)
		return
	}

	width := int(cfg.VectorWidth)
	if width < 1 {
		width = 1
	}
	inputs := make([]share.Share, 0, len(records))
	elemBytes := f.ElementBytes(width)
	for _, rec := range records {
		if len(rec) != 2*elemBytes {
			p.terminalFail(e, apperr.Newf(apperr.KindBadInput, "record has %d bytes, want %d", len(rec), 2*elemBytes))
			return
		}
		inputs = append(inputs, share.Share{Left: append([]byte(nil), rec[:elemBytes]...), Right: append([]byte(nil), rec[elemBytes:]...)})
	}

	out, err := drv(context.Background(), ec, f, cfg, inputs)
	if err != nil {
		p.terminalFail(e, err)
		return
	}
	if err := ec.Validator().Validate(context.Background()); err != nil {
		p.terminalFail(e, err)
		return
	}

	metrics.MultiplicationRoundsTotal.WithLabelValues(qid.String()).Add(float64(ec.MultiplicationRounds()))

	e.mu.Lock()
	e.state.OutputShares = append(out.Left, out.Right...)
	p.setState(e, types.StateCompleted)
	metrics.QueryDuration.Observe(time.Since(e.startedRunning).Seconds())
	e.mu.Unlock()
	logger.Info().Msg("query completed")
}

func (p *Processor) terminalFail(e *entry, err error) {
	reason := types.ReasonTransportError
	if k, ok := apperr.As(err); ok {
		reason = k.Kind.FailureReason()
	}
	e.mu.Lock()
	p.fail(e, reason, err.Error())
	e.mu.Unlock()
}

// Status is the Query API entry point for `GET /query/{id}/status`.
func (p *Processor) Status(qid types.QueryID) (types.QueryState, error) {
	e, ok := p.getEntry(qid)
	if !ok {
		return types.QueryState{}, apperr.Newf(apperr.KindBadState, "unknown query %s", qid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Results is the Query API entry point for `GET /query/{id}/results`.
func (p *Processor) Results(qid types.QueryID) ([]byte, error) {
	e, ok := p.getEntry(qid)
	if !ok {
		return nil, apperr.Newf(apperr.KindBadState, "unknown query %s", qid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Tag != types.StateCompleted {
		return nil, apperr.Newf(apperr.KindBadState, "query %s is %s, not completed", qid, e.state.Tag)
	}
	return e.state.OutputShares, nil
}

// handleCompleteControl is registered on RouteCompleteQuery: the
// leader tells followers a query is fully consumed and its state may
// be discarded.
func (p *Processor) handleCompleteControl(ctx context.Context, from types.HelperIdentity, msg transport.Message) ([]byte, error) {
	p.Discard(msg.QueryID)
	return nil, nil
}

// Complete is the leader-side call driving `complete` out to both
// followers, then discarding its own state.
func (p *Processor) Complete(ctx context.Context, qid types.QueryID) error {
	e, ok := p.getEntry(qid)
	if !ok {
		return apperr.Newf(apperr.KindBadState, "unknown query %s", qid)
	}
	roles := e.state.Roles
	h2 := roles.IdentityOf(types.RoleH2)
	h3 := roles.IdentityOf(types.RoleH3)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.tr.SendControl(gctx, h2, transport.Message{QueryID: qid, Route: transport.RouteCompleteQuery})
		return err
	})
	g.Go(func() error {
		_, err := p.tr.SendControl(gctx, h3, transport.Message{QueryID: qid, Route: transport.RouteCompleteQuery})
		return err
	})
	err := g.Wait()
	p.Discard(qid)
	return err
}

// Discard removes a query's state from the processor, cancelling any
// still-running protocol task.
func (p *Processor) Discard(qid types.QueryID) {
	p.mu.Lock()
	e, ok := p.queries[qid]
	if ok {
		delete(p.queries, qid)
	}
	p.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// Deadline reports qid's wall-clock deadline, for the timeout
// supervisor (timeout.go).
func (p *Processor) Deadline(qid types.QueryID) (time.Time, bool) {
	e, ok := p.getEntry(qid)
	if !ok {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deadline, e.state.Tag != types.StateCompleted && e.state.Tag != types.StateFailed
}

// ExpireIfOverdue moves qid to Failed(Timeout) if its deadline has
// passed and it has not already reached a terminal state.
func (p *Processor) ExpireIfOverdue(qid types.QueryID, now time.Time) {
	e, ok := p.getEntry(qid)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Tag == types.StateCompleted || e.state.Tag == types.StateFailed {
		return
	}
	if now.Before(e.deadline) {
		return
	}
	p.fail(e, types.ReasonTimeout, "query exceeded its wall-clock deadline")
}

// Queries lists every QueryId currently tracked, for the timeout
// supervisor's sweep.
func (p *Processor) Queries() []types.QueryID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]types.QueryID, 0, len(p.queries))
	for id := range p.queries {
		ids = append(ids, id)
	}
	return ids
}
