package protocols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipaproto/helper/pkg/execctx"
	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/prss"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/transport/inmemory"
	"github.com/ipaproto/helper/pkg/types"
	"github.com/ipaproto/helper/pkg/validator"
)

// trio wires up three in-memory-transport-backed execution contexts
// with ring-agreed PRSS keys, mirroring pkg/execctx's own test harness
// since drivers run through the same Context.Multiply plumbing.
type trio struct {
	ctxs [3]execctx.Context
}

func newTrio(t *testing.T, qID types.QueryID) trio {
	t.Helper()
	roles, err := types.NewRoleAssignment("H1", []types.HelperIdentity{"H2", "H3"})
	require.NoError(t, err)

	net := inmemory.NewNetwork()
	identities := [3]types.HelperIdentity{"H1", "H2", "H3"}

	kp := [3]prss.KeyPair{}
	for i := range kp {
		kp[i], err = prss.GenerateKeyPair(nil)
		require.NoError(t, err)
	}
	seed12, err := prss.Agree(kp[0], kp[1].Public)
	require.NoError(t, err)
	seed23, err := prss.Agree(kp[1], kp[2].Public)
	require.NoError(t, err)
	seed31, err := prss.Agree(kp[2], kp[0].Public)
	require.NoError(t, err)

	prssKeys := [3]prss.Keys{
		{RightSeed: seed12, LeftSeed: seed31},
		{RightSeed: seed23, LeftSeed: seed12},
		{RightSeed: seed31, LeftSeed: seed23},
	}

	var tr trio
	for i, role := range types.AllRoles() {
		transport := net.NewTransport(identities[i])
		gw := gateway.New(qID, role, roles, transport, gateway.DefaultConfig(), nil)
		gen := prss.NewGenerator(prssKeys[i])
		tr.ctxs[i] = execctx.New(gw, gen, validator.SemiHonest{}, role, roles, 1)
	}
	return tr
}

// runDriver invokes drv concurrently on all three helpers' contexts
// and returns the three output shares.
func runDriver(t *testing.T, drv Driver, tr trio, f field.Field, cfg types.QueryConfig, inputs [3][]share.Share) [3]share.Share {
	t.Helper()
	results := make([]share.Share, 3)
	errs := make([]error, 3)
	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			r, err := drv(context.Background(), tr.ctxs[i], f, cfg, inputs[i])
			results[i], errs[i] = r, err
			done <- i
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
	}
	return [3]share.Share{results[0], results[1], results[2]}
}

func TestBooleanANDTruthTable(t *testing.T) {
	f, err := field.Lookup(types.FieldBool1)
	require.NoError(t, err)

	cases := []struct{ a, b, want uint64 }{
		{0, 0, 0},
		{0, 1, 0},
		{1, 0, 0},
		{1, 1, 1},
	}
	for _, c := range cases {
		tr := newTrio(t, types.NewQueryID())
		sharesA, err := share.Split(f, 1, f.FromUint64(c.a), nil)
		require.NoError(t, err)
		sharesB, err := share.Split(f, 1, f.FromUint64(c.b), nil)
		require.NoError(t, err)

		inputs := [3][]share.Share{
			{sharesA[0], sharesB[0]},
			{sharesA[1], sharesB[1]},
			{sharesA[2], sharesB[2]},
		}
		results := runDriver(t, BooleanAND, tr, f, types.QueryConfig{Type: types.QueryTypeTestBooleanAnd}, inputs)
		got := share.Reconstruct(f, 1, results)
		require.Equal(t, c.want, f.ToUint64(1, got, 0))
	}
}

func TestVectorSumOverFp31(t *testing.T) {
	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	values := []uint64{3, 5, 7, 9}
	width := len(values)
	vec := f.Zero(width)
	for i, v := range values {
		lb := f.LaneBytes()
		copy(vec[i*lb:(i+1)*lb], f.FromUint64(v))
	}

	shares, err := share.Split(f, width, vec, nil)
	require.NoError(t, err)

	tr := newTrio(t, types.NewQueryID())
	cfg := types.QueryConfig{Type: types.QueryTypeTestFieldSum, VectorWidth: uint32(width)}
	inputs := [3][]share.Share{{shares[0]}, {shares[1]}, {shares[2]}}
	results := runDriver(t, VectorSum, tr, f, cfg, inputs)

	got := share.Reconstruct(f, 1, results)
	require.EqualValues(t, 24, f.ToUint64(1, got, 0))
}

func TestTinyIPAHistogram(t *testing.T) {
	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	// Two matched conversions, breakdown keys 0 and 1, trigger values
	// 10 and 20; expected histogram [10, 20].
	breakdowns := 2
	type conv struct {
		breakdown int
		trigger   uint64
	}
	convs := []conv{{0, 10}, {1, 20}}

	tr := newTrio(t, types.NewQueryID())
	cfg := types.QueryConfig{Type: types.QueryTypeIPA, Params: map[string]uint32{"breakdowns": uint32(breakdowns)}}

	inputs := [3][]share.Share{{}, {}, {}}
	for _, c := range convs {
		oneHot := f.Zero(breakdowns)
		lb := f.LaneBytes()
		copy(oneHot[c.breakdown*lb:(c.breakdown+1)*lb], f.FromUint64(1))
		oneHotShares, err := share.Split(f, breakdowns, oneHot, nil)
		require.NoError(t, err)
		triggerShares, err := share.Split(f, 1, f.FromUint64(c.trigger), nil)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			inputs[i] = append(inputs[i], oneHotShares[i], triggerShares[i])
		}
	}

	results := runDriver(t, IPA, tr, f, cfg, inputs)
	got := share.Reconstruct(f, breakdowns, results)
	require.EqualValues(t, 10, f.ToUint64(breakdowns, got, 0))
	require.EqualValues(t, 20, f.ToUint64(breakdowns, got, 1))
}
