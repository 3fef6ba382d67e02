package share

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/types"
)

func TestSplitReconstructRoundTrip(t *testing.T) {
	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	secret := f.FromUint64(17)
	shares, err := Split(f, 1, secret, nil)
	require.NoError(t, err)

	got := Reconstruct(f, 1, shares)
	require.Equal(t, f.ToUint64(1, secret, 0), f.ToUint64(1, got, 0))
}

func TestAddOfReconstructedSharesMatchesFieldAdd(t *testing.T) {
	f, err := field.Lookup(types.FieldBool8)
	require.NoError(t, err)

	a := f.FromUint64(0b1100)
	b := f.FromUint64(0b1010)

	sharesA, err := Split(f, 1, a, nil)
	require.NoError(t, err)
	sharesB, err := Split(f, 1, b, nil)
	require.NoError(t, err)

	var sum [3]Share
	for i := range sum {
		sum[i] = Add(f, 1, sharesA[i], sharesB[i])
	}

	got := Reconstruct(f, 1, sum)
	want := f.Add(1, a, b)
	require.Equal(t, f.ToUint64(1, want, 0), f.ToUint64(1, got, 0))
}

func TestZeroShareReconstructsToZero(t *testing.T) {
	f, err := field.Lookup(types.FieldFp32BitPrime)
	require.NoError(t, err)

	z := [3]Share{Zero(f, 2), Zero(f, 2), Zero(f, 2)}
	got := Reconstruct(f, 2, z)
	require.Equal(t, uint64(0), f.ToUint64(2, got, 0))
	require.Equal(t, uint64(0), f.ToUint64(2, got, 1))
}
