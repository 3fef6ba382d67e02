package prss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/step"
	"github.com/ipaproto/helper/pkg/types"
)

func TestAgreeIsSymmetric(t *testing.T) {
	a, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	b, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	seedAB, err := Agree(a, b.Public)
	require.NoError(t, err)
	seedBA, err := Agree(b, a.Public)
	require.NoError(t, err)

	assert.Equal(t, seedAB, seedBA)
}

func TestAgreeDifferentPeersProduceDifferentSeeds(t *testing.T) {
	a, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	b, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	c, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	seedAB, err := Agree(a, b.Public)
	require.NoError(t, err)
	seedAC, err := Agree(a, c.Public)
	require.NoError(t, err)

	assert.NotEqual(t, seedAB, seedAC)
}

func TestNeighborsDeriveMatchingPRSSValue(t *testing.T) {
	f, err := field.Lookup(types.FieldFp31)
	require.NoError(t, err)

	h1, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	h2, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	// H1's right-neighbor seed and H2's left-neighbor seed are the same
	// pairwise DH agreement computed from each side.
	seed, err := Agree(h1, h2.Public)
	require.NoError(t, err)
	seedReverse, err := Agree(h2, h1.Public)
	require.NoError(t, err)
	require.Equal(t, seed, seedReverse)

	genH1 := NewGenerator(Keys{RightSeed: seed})
	genH2 := NewGenerator(Keys{LeftSeed: seedReverse})

	p := step.Root.Narrow("mul").Narrow("round-0")
	_, h1Right, err := genH1.Next(f, 2, p, 7)
	require.NoError(t, err)
	h2Left, _, err := genH2.Next(f, 2, p, 7)
	require.NoError(t, err)

	assert.Equal(t, h1Right, h2Left)
}

func TestNextVariesByStepAndCounter(t *testing.T) {
	f, err := field.Lookup(types.FieldBool32)
	require.NoError(t, err)

	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	gen := NewGenerator(Keys{LeftSeed: seed})

	p := step.Root.Narrow("a")
	q := step.Root.Narrow("b")

	left1, _, err := gen.Next(f, 1, p, 0)
	require.NoError(t, err)
	left2, _, err := gen.Next(f, 1, p, 1)
	require.NoError(t, err)
	left3, _, err := gen.Next(f, 1, q, 0)
	require.NoError(t, err)

	assert.NotEqual(t, left1, left2)
	assert.NotEqual(t, left1, left3)
}

func TestNextIsDeterministicForSameInputs(t *testing.T) {
	f, err := field.Lookup(types.FieldFp32BitPrime)
	require.NoError(t, err)

	var seed [32]byte
	for i := range seed {
		seed[i] = byte(2 * i)
	}
	gen := NewGenerator(Keys{LeftSeed: seed, RightSeed: seed})

	p := step.Root.Narrow("x")
	left1, right1, err := gen.Next(f, 3, p, 42)
	require.NoError(t, err)
	left2, right2, err := gen.Next(f, 3, p, 42)
	require.NoError(t, err)

	assert.Equal(t, left1, left2)
	assert.Equal(t, right1, right2)
}
