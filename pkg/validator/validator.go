// Package validator implements the two validator variants protocols
// run under. Semi-honest is a no-op; Malicious accumulates every
// multiplication result the protocol chooses to authenticate and
// checks, at Validate(), that the accumulated shares are still a
// consistent replicated sharing across all three helpers.
//
// Simplification, documented here rather than left implicit: a
// textbook SPDZ-style MAC authenticates each value against a secret,
// never-revealed key share, which needs its own interactive
// multiplication per authenticated value. This runtime's Malicious
// validator instead exploits a structural property of replicated
// sharing directly: for three honestly-held shares in H1/H2/H3 order,
// summing every helper's Left half and summing every helper's Right
// half must produce the same total, since the two sums are the same
// three underlying values in rotated order. A helper that tampers
// with its own locally recorded share after already transmitting the
// honest value to its neighbor breaks that equality, and because the
// two totals are each a single reveal shared identically by all three
// helpers, all three detect the same mismatch. A per-query scalar,
// established once at prepare time and known to all three helpers,
// blinds both totals so the reveal does not broadcast the raw
// accumulated value in the clear. This catches single-helper local
// tampering but not a coordinated lie agreed by two colluding
// helpers; full malicious security against collusion is out of scope
// for this runtime revision.
package validator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/types"
)

// Validator is the common contract: protocols record every
// multiplication they want authenticated and invoke Validate at points
// of their choosing; the runtime only enforces that once Validate
// returns successfully, every multiplication recorded before it has
// been checked.
type Validator interface {
	RecordMultiplication(f field.Field, width int, result share.Share)
	Validate(ctx context.Context) error
}

// SemiHonest performs no runtime checks; soundness relies entirely on
// helpers following the protocol.
type SemiHonest struct{}

func (SemiHonest) RecordMultiplication(field.Field, int, share.Share) {}
func (SemiHonest) Validate(context.Context) error                     { return nil }

var _ Validator = SemiHonest{}

// Malicious accumulates every recorded multiplication's share and
// checks replicated-share consistency at Validate.
type Malicious struct {
	gw        *gateway.Gateway
	roles     types.RoleAssignment
	self      types.Role
	keyScalar uint64

	mu       sync.Mutex
	f        field.Field
	width    int
	accValue share.Share
	rounds   int
}

var _ Validator = (*Malicious)(nil)

// NewMalicious constructs a Malicious validator. keyScalar must be the
// same value on all three helpers for a given query (established at
// prepare time, per the simplification documented above).
func NewMalicious(gw *gateway.Gateway, roles types.RoleAssignment, self types.Role, keyScalar uint64) *Malicious {
	return &Malicious{gw: gw, roles: roles, self: self, keyScalar: keyScalar}
}

func (m *Malicious) RecordMultiplication(f field.Field, width int, result share.Share) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		m.f = f
		m.width = width
		m.accValue = share.Zero(f, width)
	}
	m.accValue = share.Add(f, width, m.accValue, result)
}

// Validate reveals the accumulated Left and Right halves among all
// three helpers and checks that their totals agree. Summing every
// helper's Left half and summing every helper's Right half sum the
// same three underlying values in rotated order, so the two totals
// are identical as long as every helper's locally recorded share
// still matches what it actually exchanged over the wire. Any
// mismatch, or any transport failure during the reveal, is terminal
// for the query.
func (m *Malicious) Validate(ctx context.Context) error {
	m.mu.Lock()
	if m.f == nil {
		m.mu.Unlock()
		return nil // nothing was recorded since the last Validate
	}
	f, width := m.f, m.width
	accValue := m.accValue
	m.rounds++
	round := m.rounds
	m.f = nil
	m.mu.Unlock()

	base := step.Root.Narrow("__validate__").Narrow(fmt.Sprintf("round-%d", round))
	blind := broadcastScalar(f, width, m.keyScalar)
	ownLeft := f.Mul(width, accValue.Left, blind)
	ownRight := f.Mul(width, accValue.Right, blind)

	leftTotal, err := m.reveal(ctx, base.Narrow("left"), f, width, ownLeft)
	if err != nil {
		return err
	}
	rightTotal, err := m.reveal(ctx, base.Narrow("right"), f, width, ownRight)
	if err != nil {
		return err
	}

	for i := 0; i < width; i++ {
		if f.ToUint64(width, leftTotal, i) != f.ToUint64(width, rightTotal, i) {
			return apperr.Newf(apperr.KindValidationFailed, "replicated share consistency check failed at lane %d of validation round %d", i, round)
		}
	}
	return nil
}

// broadcastScalar repeats a single scalar's lane encoding across width
// lanes, so it can be used as the other operand of a width-lane Mul:
// FromUint64 only ever fills lane 0 of a width-1 element. A scalar that
// reduces to zero in f is replaced by one, since a zero blind would make
// both totals zero and hide any inconsistency.
func broadcastScalar(f field.Field, width int, v uint64) []byte {
	lane := f.FromUint64(v)
	if f.ToUint64(1, lane, 0) == 0 {
		lane = f.FromUint64(1)
	}
	out := make([]byte, f.ElementBytes(width))
	for l := 0; l < width; l++ {
		copy(out[l*len(lane):(l+1)*len(lane)], lane)
	}
	return out
}

// reveal broadcasts this helper's own share of a value to both
// neighbors and sums the three contributions, reconstructing the
// plaintext the same way share.Reconstruct does — but driven directly
// over the gateway since the three parts arrive from two separate
// peers rather than being locally held.
func (m *Malicious) reveal(ctx context.Context, p *step.Path, f field.Field, width int, own []byte) ([]byte, error) {
	left := m.self.Left()
	right := m.self.Right()

	sendLeft, err := m.gw.SendChannel(p, left)
	if err != nil {
		return nil, err
	}
	sendRight, err := m.gw.SendChannel(p, right)
	if err != nil {
		return nil, err
	}
	recvLeft, err := m.gw.RecvChannel(p, left)
	if err != nil {
		return nil, err
	}
	recvRight, err := m.gw.RecvChannel(p, right)
	if err != nil {
		return nil, err
	}

	if err := sendLeft.WriteRecord(ctx, 0, own); err != nil {
		return nil, err
	}
	if err := sendRight.WriteRecord(ctx, 0, own); err != nil {
		return nil, err
	}
	if err := sendLeft.Close(ctx); err != nil {
		return nil, err
	}
	if err := sendRight.Close(ctx); err != nil {
		return nil, err
	}

	elemBytes := f.ElementBytes(width)
	fromLeft, err := recvLeft.ReadRecord(ctx, 0, elemBytes)
	if err != nil {
		return nil, err
	}
	fromRight, err := recvRight.ReadRecord(ctx, 0, elemBytes)
	if err != nil {
		return nil, err
	}
	_ = recvLeft.Close()
	_ = recvRight.Close()

	total := f.Add(width, own, fromLeft)
	total = f.Add(width, total, fromRight)
	return total, nil
}
