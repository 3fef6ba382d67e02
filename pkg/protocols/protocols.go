// Package protocols implements the concrete protocol drivers the
// registry dispatches to. Every driver has the same shape — root
// execution context, the query's field and config, and the decrypted
// input shares, vectorized lane-major per pkg/field's convention — and
// returns this helper's output share. What differs per driver is how
// it interprets the flat input slice and which circuit it runs.
package protocols

import (
	"context"
	"fmt"

	"github.com/ipaproto/helper/pkg/execctx"
	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/types"
)

// Driver is the registry's dispatch target: given the root
// execution context, the resolved field, the query config, and the
// decrypted input shares, it runs the circuit and returns this
// helper's output share.
type Driver func(ctx context.Context, ec execctx.Context, f field.Field, cfg types.QueryConfig, inputs []share.Share) (share.Share, error)

// extractLane pulls lane i (as a width-1 element) out of a
// vectorized element buffer.
func extractLane(f field.Field, buf []byte, i int) []byte {
	lb := f.LaneBytes()
	out := make([]byte, lb)
	copy(out, buf[i*lb:(i+1)*lb])
	return out
}

// sumLanes reduces a width-W share to a width-1 share by locally
// summing its lanes. Addition is always local, so this needs no
// network round trip regardless of width.
func sumLanes(f field.Field, width int, s share.Share) share.Share {
	accLeft := f.Zero(1)
	accRight := f.Zero(1)
	for i := 0; i < width; i++ {
		accLeft = f.Add(1, accLeft, extractLane(f, s.Left, i))
		accRight = f.Add(1, accRight, extractLane(f, s.Right, i))
	}
	return share.Share{Left: accLeft, Right: accRight}
}

// BooleanAND runs a single AND gate over two width-1 boolean shares.
// inputs must be exactly [a, b].
func BooleanAND(ctx context.Context, ec execctx.Context, f field.Field, cfg types.QueryConfig, inputs []share.Share) (share.Share, error) {
	if len(inputs) != 2 {
		return share.Share{}, fmt.Errorf("protocols: boolean AND expects 2 inputs, got %d", len(inputs))
	}
	gate := ec.Narrow("and")
	return gate.Multiply(ctx, f, 1, inputs[0], inputs[1])
}

// VectorSum sums every lane of a single vectorized input share down to
// a width-1 scalar. Purely local: addition never requires interaction.
func VectorSum(ctx context.Context, ec execctx.Context, f field.Field, cfg types.QueryConfig, inputs []share.Share) (share.Share, error) {
	if len(inputs) != 1 {
		return share.Share{}, fmt.Errorf("protocols: vector sum expects 1 input, got %d", len(inputs))
	}
	width := int(cfg.VectorWidth)
	if width < 1 {
		width = 1
	}
	return sumLanes(f, width, inputs[0]), nil
}

// IPA runs a tiny attribution circuit. Full IPA does its own private
// matching between impression and conversion
// records by sort and compare on match keys; that matching step is
// circuit compilation the runtime's Non-goals exclude, so this driver
// takes its inputs already paired by the caller (pkg/endtoend for
// tests): each matched conversion contributes a one-hot share over the
// breakdown-key dimension (width = cfg.Params["breakdowns"]) and a
// width-1 trigger-value share. inputs must be
// [oneHot_0, trigger_0, oneHot_1, trigger_1, ...] — two entries per
// matched conversion. For each conversion and each breakdown slot, the
// one-hot bit is multiplied against the trigger value (the interactive
// step — this is the only part of the circuit that needs the
// network) and the per-breakdown results are summed locally into the
// output histogram.
func IPA(ctx context.Context, ec execctx.Context, f field.Field, cfg types.QueryConfig, inputs []share.Share) (share.Share, error) {
	if len(inputs)%2 != 0 {
		return share.Share{}, fmt.Errorf("protocols: ipa expects (oneHot, trigger) pairs, got %d inputs", len(inputs))
	}
	breakdowns := int(cfg.Params["breakdowns"])
	if breakdowns < 1 {
		return share.Share{}, fmt.Errorf("protocols: ipa requires cfg.Params[\"breakdowns\"] >= 1")
	}

	histogram := share.Zero(f, breakdowns)
	numConversions := len(inputs) / 2
	for conv := 0; conv < numConversions; conv++ {
		oneHot := inputs[2*conv]
		trigger := inputs[2*conv+1]
		convCtx := ec.Narrow(fmt.Sprintf("conv-%d", conv))
		for b := 0; b < breakdowns; b++ {
			bit := share.Share{
				Left:  extractLane(f, oneHot.Left, b),
				Right: extractLane(f, oneHot.Right, b),
			}
			slotCtx := convCtx.Narrow(fmt.Sprintf("bk-%d", b))
			contribution, err := slotCtx.Multiply(ctx, f, 1, bit, trigger)
			if err != nil {
				return share.Share{}, err
			}
			histLeftLane := extractLane(f, histogram.Left, b)
			histRightLane := extractLane(f, histogram.Right, b)
			newLeft := f.Add(1, histLeftLane, contribution.Left)
			newRight := f.Add(1, histRightLane, contribution.Right)
			copy(histogram.Left[b*f.LaneBytes():(b+1)*f.LaneBytes()], newLeft)
			copy(histogram.Right[b*f.LaneBytes():(b+1)*f.LaneBytes()], newRight)
		}
	}
	return histogram, nil
}

// LogisticStub is the registry entry for QueryTypeLogistic. The
// QueryType enumeration lists it alongside IPA, but no logistic
// regression circuit is implemented here — matching a real closed
// registry, the type is present and explicitly documented as
// unimplemented rather than silently missing.
func LogisticStub(ctx context.Context, ec execctx.Context, f field.Field, cfg types.QueryConfig, inputs []share.Share) (share.Share, error) {
	return share.Share{}, fmt.Errorf("protocols: query type %q is registered but not implemented in this runtime revision", types.QueryTypeLogistic)
}
