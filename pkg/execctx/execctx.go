// Package execctx implements the ExecutionContext: the
// immutable-plus-narrowing value threaded through protocol code. It
// carries the current StepPath, the helper's own Role, the query's
// RoleAssignment, and references to the gateway, PRSS generator, and
// validator; narrow() returns a copy with a new StepPath.
//
// The interactive multiplication primitive lives here rather
// than in pkg/share, since it is the one share operation that needs a
// gateway round-trip: it cannot be a method on share.Share without
// pkg/share importing both pkg/gateway and pkg/prss, which would
// invert the dependency order those packages were built in.
package execctx

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/prss"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/types"
	"github.com/ipaproto/helper/pkg/validator"
)

// shared is the per-query state every narrowed Context refers to: the
// gateway, PRSS generator, validator, and the channel-handle caches
// that let repeated Send/Recv/Multiply calls at the same step reuse
// one gateway handle instead of re-opening it, since opening the same
// channel twice is a programmer error.
type shared struct {
	gw        *gateway.Gateway
	prss      *prss.Generator
	validator validator.Validator

	mu           sync.Mutex
	sendHandles  map[string]*gateway.SendHandle
	recvHandles  map[string]*gateway.RecvHandle
	counters     map[string]uint64
	multiplyRounds uint64
}

// Context is the value threaded through protocol execution.
type Context struct {
	step         *step.Path
	self         types.Role
	roles        types.RoleAssignment
	totalRecords uint32
	state        *shared
}

// New builds the root ExecutionContext (StepPath "/") for a query.
func New(gw *gateway.Gateway, prssGen *prss.Generator, v validator.Validator, self types.Role, roles types.RoleAssignment, totalRecords uint32) Context {
	return Context{
		step:         step.Root,
		self:         self,
		roles:        roles,
		totalRecords: totalRecords,
		state: &shared{
			gw:          gw,
			prss:        prssGen,
			validator:   v,
			sendHandles: make(map[string]*gateway.SendHandle),
			recvHandles: make(map[string]*gateway.RecvHandle),
			counters:    make(map[string]uint64),
		},
	}
}

// Narrow returns a new context whose step path is narrowed by label.
// Labels must be unique among siblings at a given parent path; that
// invariant is enforced by step.Path.Narrow itself.
func (c Context) Narrow(label string) Context {
	c.step = c.step.Narrow(label)
	return c
}

// Step returns the context's current StepPath.
func (c Context) Step() *step.Path { return c.step }

// Role returns the helper's own role.
func (c Context) Role() types.Role { return c.self }

// Roles returns the query's RoleAssignment.
func (c Context) Roles() types.RoleAssignment { return c.roles }

// TotalRecords returns the channel-sizing hint.
func (c Context) TotalRecords() uint32 { return c.totalRecords }

// Validator returns the active validator for this query.
func (c Context) Validator() validator.Validator { return c.state.validator }

func (c Context) sendHandle(to types.Role) (*gateway.SendHandle, error) {
	key := c.step.String() + ">" + to.String()
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if h, ok := c.state.sendHandles[key]; ok {
		return h, nil
	}
	h, err := c.state.gw.SendChannel(c.step, to)
	if err != nil {
		return nil, err
	}
	c.state.sendHandles[key] = h
	return h, nil
}

func (c Context) recvHandle(from types.Role) (*gateway.RecvHandle, error) {
	key := c.step.String() + "<" + from.String()
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if h, ok := c.state.recvHandles[key]; ok {
		return h, nil
	}
	h, err := c.state.gw.RecvChannel(c.step, from)
	if err != nil {
		return nil, err
	}
	c.state.recvHandles[key] = h
	return h, nil
}

func (c Context) nextIndex(key string) uint64 {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	v := c.state.counters[key]
	c.state.counters[key] = v + 1
	return v
}

// Send writes value to the channel addressed by the context's current
// step and to. The record index is this channel's own monotonically
// increasing counter.
func (c Context) Send(ctx context.Context, to types.Role, value []byte) error {
	h, err := c.sendHandle(to)
	if err != nil {
		return err
	}
	idx := c.nextIndex("send:" + c.step.String() + ">" + to.String())
	return h.WriteRecord(ctx, idx, value)
}

// Recv reads the next record (width bytes) from the channel addressed
// by the context's current step and from.
func (c Context) Recv(ctx context.Context, from types.Role, width int) ([]byte, error) {
	h, err := c.recvHandle(from)
	if err != nil {
		return nil, err
	}
	idx := c.nextIndex("recv:" + c.step.String() + "<" + from.String())
	return h.ReadRecord(ctx, idx, width)
}

// PRSS returns the paired (left, right) pseudo-random values for this
// context's current step, advancing the step's internal counter.
func (c Context) PRSS(f field.Field, width int) (left, right []byte, err error) {
	idx := c.nextIndex("prss:" + c.step.String())
	return c.state.prss.Next(f, width, c.step, idx)
}

// Multiply is the interactive multiplication primitive: given
// this context's step path, it computes the cross terms, masks them
// with PRSS-derived correlated randomness, exchanges one value with
// each ring neighbor, and returns the resulting share. If the
// context's validator is malicious, the result is also recorded for
// later MAC checking.
func (c Context) Multiply(ctx context.Context, f field.Field, width int, a, b share.Share) (share.Share, error) {
	aLbL := f.Mul(width, a.Left, b.Left)
	aLbR := f.Mul(width, a.Left, b.Right)
	aRbL := f.Mul(width, a.Right, b.Left)

	sum := f.Add(width, aLbL, aLbR)
	sum = f.Add(width, sum, aRbL)

	rLeft, rRight, err := c.PRSS(f, width)
	if err != nil {
		return share.Share{}, fmt.Errorf("execctx: multiply prss: %w", err)
	}
	d := f.Add(width, sum, f.Sub(width, rLeft, rRight))

	left := c.self.Left()
	right := c.self.Right()

	if err := c.Send(ctx, left, d); err != nil {
		return share.Share{}, err
	}
	dRight, err := c.Recv(ctx, right, f.ElementBytes(width))
	if err != nil {
		return share.Share{}, err
	}

	result := share.Share{Left: d, Right: dRight}
	if c.state.validator != nil {
		c.state.validator.RecordMultiplication(f, width, result)
	}
	c.state.mu.Lock()
	c.state.multiplyRounds++
	c.state.mu.Unlock()
	return result, nil
}

// MultiplicationRounds reports how many interactive multiplication
// primitives this query's shared state has executed so far, across
// every narrowed Context derived from the same root — pkg/query reads
// this once a protocol driver returns to feed
// metrics.MultiplicationRoundsTotal.
func (c Context) MultiplicationRounds() uint64 {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.multiplyRounds
}
