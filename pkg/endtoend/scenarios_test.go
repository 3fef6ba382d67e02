// Scenarios mirrors six end-to-end walkthroughs one for one, driven
// against a real three-helper Cluster the way
// pkg/query/processor_test.go drives a single query against its
// smaller two/three-processor harness, generalized here into the
// reusable Cluster this package exports.
package endtoend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/execctx"
	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/prss"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/transport/inmemory"
	"github.com/ipaproto/helper/pkg/types"
	"github.com/ipaproto/helper/pkg/validator"
)

// vectorElement concatenates one lane buffer per value into a single
// vectorized element, per pkg/field's lane-major convention.
func vectorElement(f field.Field, values ...uint64) []byte {
	out := make([]byte, 0, f.LaneBytes()*len(values))
	for _, v := range values {
		out = append(out, f.FromUint64(v)...)
	}
	return out
}

// resultShare splits a Results() buffer back into its Left/Right
// halves for a width-lane element.
func resultShare(f field.Field, width int, raw []byte) share.Share {
	eb := f.ElementBytes(width)
	return share.Share{Left: raw[:eb], Right: raw[eb:]}
}

// Scenario 1: boolean AND of two scalar secrets, a=1 and b=1.
func TestScenario1BooleanAND(t *testing.T) {
	c := NewCluster(5 * time.Second)
	ctx := context.Background()

	f, err := field.Lookup(types.FieldBool1)
	require.NoError(t, err)

	cfg := types.QueryConfig{
		Type:        types.QueryTypeTestBooleanAnd,
		Field:       types.FieldBool1,
		RecordCount: 2,
		VectorWidth: 1,
	}
	qid, err := c.CreateQuery(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, c.SubmitSecret(ctx, qid, f, 1, f.FromUint64(1))) // a
	require.NoError(t, c.SubmitSecret(ctx, qid, f, 1, f.FromUint64(1))) // b

	states := AwaitTerminal(c, qid, 2*time.Second)
	for _, id := range Identities {
		require.Equal(t, types.StateCompleted, states[id].Tag, "helper %s", id)
	}

	outputs := [3]share.Share{}
	for i, id := range Identities {
		raw, err := c.Procs[id].Results(qid)
		require.NoError(t, err)
		outputs[i] = resultShare(f, 1, raw)
	}
	product := share.Reconstruct(f, 1, outputs)
	require.Equal(t, uint64(1), f.ToUint64(1, product, 0))
}

// Scenario 2: sum of the vector [3,5,7,9] over Fp31, expected 24.
func TestScenario2VectorSum(t *testing.T) {
	c := NewCluster(5 * time.Second)
	ctx := context.Background()

	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	cfg := types.QueryConfig{
		Type:        types.QueryTypeTestFieldSum,
		Field:       types.FieldFp31,
		RecordCount: 1,
		VectorWidth: 4,
	}
	qid, err := c.CreateQuery(ctx, cfg)
	require.NoError(t, err)

	secret := vectorElement(f, 3, 5, 7, 9)
	require.NoError(t, c.SubmitSecret(ctx, qid, f, 4, secret))

	states := AwaitTerminal(c, qid, 2*time.Second)
	for _, id := range Identities {
		require.Equal(t, types.StateCompleted, states[id].Tag, "helper %s", id)
	}

	outputs := [3]share.Share{}
	for i, id := range Identities {
		raw, err := c.Procs[id].Results(qid)
		require.NoError(t, err)
		outputs[i] = resultShare(f, 1, raw)
	}
	sum := share.Reconstruct(f, 1, outputs)
	require.Equal(t, uint64(24), f.ToUint64(1, sum, 0))
}

// Scenario 3: a tiny IPA attribution over 4 impressions (breakdown
// keys [0,1,0,1]) and 2 conversions matched to records 0 and 3, with
// trigger values 10 and 20, expecting histogram [10, 20]. The
// private matching step itself is out of this runtime's scope (see
// pkg/protocols), so this test hands the driver its inputs pre-paired
// exactly as a real collector's matching stage would have produced
// them.
func TestScenario3TinyIPA(t *testing.T) {
	c := NewCluster(5 * time.Second)
	ctx := context.Background()

	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	const breakdowns = 2
	cfg := types.QueryConfig{
		Type:        types.QueryTypeIPA,
		Field:       types.FieldFp31,
		RecordCount: 4,
		VectorWidth: breakdowns,
		Params:      map[string]uint32{"breakdowns": breakdowns},
	}
	qid, err := c.CreateQuery(ctx, cfg)
	require.NoError(t, err)

	// conversion 0 matched impression 0 (breakdown key 0), trigger 10
	oneHot0 := vectorElement(f, 1, 0)
	trigger0 := vectorElement(f, 10, 0)
	// conversion 1 matched impression 3 (breakdown key 1), trigger 20
	oneHot1 := vectorElement(f, 0, 1)
	trigger1 := vectorElement(f, 20, 0)

	for _, secret := range [][]byte{oneHot0, trigger0, oneHot1, trigger1} {
		shares, err := share.Split(f, breakdowns, secret, nil)
		require.NoError(t, err)
		require.NoError(t, c.SubmitShares(ctx, qid, shares))
	}

	states := AwaitTerminal(c, qid, 2*time.Second)
	for _, id := range Identities {
		require.Equal(t, types.StateCompleted, states[id].Tag, "helper %s", id)
	}

	outputs := [3]share.Share{}
	for i, id := range Identities {
		raw, err := c.Procs[id].Results(qid)
		require.NoError(t, err)
		outputs[i] = resultShare(f, breakdowns, raw)
	}
	histogram := share.Reconstruct(f, breakdowns, outputs)
	require.Equal(t, uint64(10), f.ToUint64(breakdowns, histogram, 0))
	require.Equal(t, uint64(20), f.ToUint64(breakdowns, histogram, 1))
}

// Scenario 4: the malicious validator catches H2 flipping one
// multiplication output bit between send and local store, so the
// query must terminate in Failed(ValidationFailed) on all three
// helpers before any result is revealed.
//
// query.Processor has no seam to make one in-process helper cheat —
// every helper it drives runs the same honest execctx.Multiply, and
// the protocol registry is a single fixed, process-wide map.
// A cheating helper is, by definition, running code that deviates
// from that honest path, so this test steps below Processor and wires
// pkg/gateway, pkg/prss, and pkg/validator directly for H1/H2/H3, the
// same three-party plumbing query.Processor.armGateway assembles,
// letting H2's goroutine replicate execctx.Context.Multiply by hand
// so it can corrupt its own locally recorded share after it has
// already sent the honest value to its neighbor.
func TestScenario4MaliciousValidatorCatchesCheating(t *testing.T) {
	ctx := context.Background()
	net := inmemory.NewNetwork()
	qid := types.NewQueryID()
	roles, err := types.NewRoleAssignment("H1", []types.HelperIdentity{"H2", "H3"})
	require.NoError(t, err)

	f, err := field.Lookup(types.FieldBool1)
	require.NoError(t, err)

	kpH1, err := prss.GenerateKeyPair(nil)
	require.NoError(t, err)
	kpH2, err := prss.GenerateKeyPair(nil)
	require.NoError(t, err)
	kpH3, err := prss.GenerateKeyPair(nil)
	require.NoError(t, err)

	seedH1H2, err := prss.Agree(kpH1, kpH2.Public)
	require.NoError(t, err)
	seedH1H3, err := prss.Agree(kpH1, kpH3.Public)
	require.NoError(t, err)
	seedH2H3, err := prss.Agree(kpH2, kpH3.Public)
	require.NoError(t, err)

	const macKeyScalar = 7

	gws := map[types.Role]*gateway.Gateway{
		types.RoleH1: gateway.New(qid, types.RoleH1, roles, net.NewTransport("H1"), gateway.DefaultConfig(), nil),
		types.RoleH2: gateway.New(qid, types.RoleH2, roles, net.NewTransport("H2"), gateway.DefaultConfig(), nil),
		types.RoleH3: gateway.New(qid, types.RoleH3, roles, net.NewTransport("H3"), gateway.DefaultConfig(), nil),
	}
	gens := map[types.Role]*prss.Generator{
		types.RoleH1: prss.NewGenerator(prss.Keys{LeftSeed: seedH1H3, RightSeed: seedH1H2}),
		types.RoleH2: prss.NewGenerator(prss.Keys{LeftSeed: seedH1H2, RightSeed: seedH2H3}),
		types.RoleH3: prss.NewGenerator(prss.Keys{LeftSeed: seedH2H3, RightSeed: seedH1H3}),
	}
	vals := map[types.Role]*validator.Malicious{
		types.RoleH1: validator.NewMalicious(gws[types.RoleH1], roles, types.RoleH1, macKeyScalar),
		types.RoleH2: validator.NewMalicious(gws[types.RoleH2], roles, types.RoleH2, macKeyScalar),
		types.RoleH3: validator.NewMalicious(gws[types.RoleH3], roles, types.RoleH3, macKeyScalar),
	}

	a, err := share.Split(f, 1, f.FromUint64(1), nil)
	require.NoError(t, err)
	b, err := share.Split(f, 1, f.FromUint64(1), nil)
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ec := execctx.New(gws[types.RoleH1], gens[types.RoleH1], vals[types.RoleH1], types.RoleH1, roles, 1)
		_, err := ec.Narrow("and").Multiply(gctx, f, 1, a[types.RoleH1], b[types.RoleH1])
		return err
	})
	g.Go(func() error {
		ec := execctx.New(gws[types.RoleH3], gens[types.RoleH3], vals[types.RoleH3], types.RoleH3, roles, 1)
		_, err := ec.Narrow("and").Multiply(gctx, f, 1, a[types.RoleH3], b[types.RoleH3])
		return err
	})
	g.Go(func() error {
		return cheatingH2Multiply(gctx, gws[types.RoleH2], gens[types.RoleH2], vals[types.RoleH2], f, a[types.RoleH2], b[types.RoleH2])
	})
	require.NoError(t, g.Wait())

	results := make(map[types.Role]error, 3)
	var mu sync.Mutex
	var vg sync.WaitGroup
	for role, v := range vals {
		role, v := role, v
		vg.Add(1)
		go func() {
			defer vg.Done()
			err := v.Validate(ctx)
			mu.Lock()
			results[role] = err
			mu.Unlock()
		}()
	}
	vg.Wait()

	for _, role := range types.AllRoles() {
		err := results[role]
		require.Error(t, err, "helper %s should have detected the cheat", role)
		require.True(t, apperr.Is(err, apperr.KindValidationFailed), "helper %s: got %v", role, err)
	}
}

// cheatingH2Multiply replicates execctx.Context.Multiply's honest
// steps for role H2, except it flips one bit of its own locally
// recorded result after sending the genuine value to its left
// neighbor (H1) and before handing it to the validator: flip a bit
// between send and local store.
func cheatingH2Multiply(ctx context.Context, gw *gateway.Gateway, gen *prss.Generator, val *validator.Malicious, f field.Field, a, b share.Share) error {
	path := step.Root.Narrow("and")

	aLbL := f.Mul(1, a.Left, b.Left)
	aLbR := f.Mul(1, a.Left, b.Right)
	aRbL := f.Mul(1, a.Right, b.Left)
	sum := f.Add(1, aLbL, aLbR)
	sum = f.Add(1, sum, aRbL)

	rLeft, rRight, err := gen.Next(f, 1, path, 0)
	if err != nil {
		return err
	}
	d := f.Add(1, sum, f.Sub(1, rLeft, rRight))

	left := types.RoleH2.Left()   // H1
	right := types.RoleH2.Right() // H3

	send, err := gw.SendChannel(path, left)
	if err != nil {
		return err
	}
	recv, err := gw.RecvChannel(path, right)
	if err != nil {
		return err
	}
	if err := send.WriteRecord(ctx, 0, d); err != nil { // honest value sent to H1
		return err
	}
	if err := send.Close(ctx); err != nil {
		return err
	}
	dRight, err := recv.ReadRecord(ctx, 0, f.ElementBytes(1))
	if err != nil {
		return err
	}
	_ = recv.Close()

	corrupted := append([]byte(nil), d...)
	corrupted[0] ^= 0x01 // tamper with the local copy only, after the honest send

	val.RecordMultiplication(f, 1, share.Share{Left: corrupted, Right: dRight})
	return nil
}

// Scenario 5: H3 becomes unreachable after prepare but before the
// protocol consumes its inputs; H1 and H2 must fail with
// Failed(PeerUnavailable).
func TestScenario5PeerUnavailable(t *testing.T) {
	c := NewCluster(5 * time.Second)
	ctx := context.Background()

	f, err := field.Lookup(types.FieldBool1)
	require.NoError(t, err)

	cfg := types.QueryConfig{
		Type:        types.QueryTypeTestBooleanAnd,
		Field:       types.FieldBool1,
		RecordCount: 2,
		VectorWidth: 1,
	}
	qid, err := c.CreateQuery(ctx, cfg)
	require.NoError(t, err)

	c.Kill("H3")

	require.NoError(t, c.SubmitSecret(ctx, qid, f, 1, f.FromUint64(1)))
	require.NoError(t, c.SubmitSecret(ctx, qid, f, 1, f.FromUint64(1)))

	states := AwaitTerminal(c, qid, 2*time.Second)
	for _, id := range []types.HelperIdentity{"H1", "H2"} {
		require.Equal(t, types.StateFailed, states[id].Tag, "helper %s", id)
		require.Equal(t, types.ReasonPeerUnavailable, states[id].FailureReason, "helper %s", id)
	}
}

// Scenario 6: a query stuck awaiting inputs past its wall-clock
// deadline fails with Failed(Timeout) on every helper.
func TestScenario6TimeoutPropagation(t *testing.T) {
	c := NewCluster(20 * time.Millisecond)
	ctx := context.Background()
	c.StartTimeoutSupervisors(5 * time.Millisecond)
	defer c.Stop()

	cfg := types.QueryConfig{
		Type:        types.QueryTypeTestBooleanAnd,
		Field:       types.FieldBool1,
		RecordCount: 2,
		VectorWidth: 1,
	}
	qid, err := c.CreateQuery(ctx, cfg)
	require.NoError(t, err)

	// No inputs submitted: every helper sits in AwaitingInputs until
	// its own supervisor notices the deadline has passed.
	states := AwaitTerminal(c, qid, time.Second)
	for _, id := range Identities {
		require.Equal(t, types.StateFailed, states[id].Tag, "helper %s", id)
		require.Equal(t, types.ReasonTimeout, states[id].FailureReason, "helper %s", id)
	}
}
