// Package share implements replicated secret sharing over the field
// family selected for a query.
//
// A Share is the pair (Left, Right) of field elements one helper holds;
// the three helpers' pairs must form a consistent sharing such that no
// single helper's pair reveals the secret. This package only contains
// the *local*, non-interactive operations (construction, reconstruction,
// pointwise addition) — the interactive multiplication primitive, which
// needs a gateway and PRSS to exchange bytes with a peer, lives on
// execctx.Context (pkg/execctx), since interactive multiplication is
// the one operation that needs to be threaded through an
// ExecutionContext.
package share

import (
	"fmt"
	"io"

	"github.com/ipaproto/helper/pkg/field"
)

// Share is one helper's half of a replicated secret: Left and Right are
// vectorized field elements (each ElementBytes(width) long) such that,
// across the three helpers H1/H2/H3 holding shares s1,s2,s3 in role
// order, the secret is s1.Left + s2.Left + s3.Left (equivalently any
// rotation — see Reconstruct).
type Share struct {
	Left  []byte
	Right []byte
}

// Zero returns the additive identity share for width lanes of f.
func Zero(f field.Field, width int) Share {
	return Share{Left: f.Zero(width), Right: f.Zero(width)}
}

// Add combines two shares pointwise; addition on replicated shares is
// always local.
func Add(f field.Field, width int, a, b Share) Share {
	return Share{
		Left:  f.Add(width, a.Left, b.Left),
		Right: f.Add(width, a.Right, b.Right),
	}
}

// Sub subtracts b from a pointwise.
func Sub(f field.Field, width int, a, b Share) Share {
	return Share{
		Left:  f.Sub(width, a.Left, b.Left),
		Right: f.Sub(width, a.Right, b.Right),
	}
}

// ScalarMul multiplies every lane of a replicated share by a public
// (non-secret) per-lane constant, still entirely local.
func ScalarMul(f field.Field, width int, a Share, constant []byte) Share {
	return Share{
		Left:  f.Mul(width, a.Left, constant),
		Right: f.Mul(width, a.Right, constant),
	}
}

// Split produces a fresh replicated sharing of secret (a vectorized
// element of the given width) across the three helpers in H1, H2, H3
// role order. This is used at the input-decryption boundary, where a
// submitted record is split into each helper's local share, and by
// tests that need to hand each in-memory helper its share of a known
// plaintext.
func Split(f field.Field, width int, secret []byte, rnd io.Reader) ([3]Share, error) {
	x1, err := f.Random(width, rnd)
	if err != nil {
		return [3]Share{}, fmt.Errorf("share: split random x1: %w", err)
	}
	x2, err := f.Random(width, rnd)
	if err != nil {
		return [3]Share{}, fmt.Errorf("share: split random x2: %w", err)
	}
	x3 := f.Sub(width, f.Sub(width, secret, x1), x2)

	return [3]Share{
		{Left: x1, Right: x2}, // H1
		{Left: x2, Right: x3}, // H2
		{Left: x3, Right: x1}, // H3
	}, nil
}

// Reconstruct recovers the plaintext secret from the three helpers'
// shares, given in H1, H2, H3 role order. The secret is the sum of the
// three Left halves.
func Reconstruct(f field.Field, width int, shares [3]Share) []byte {
	sum := shares[0].Left
	sum = f.Add(width, sum, shares[1].Left)
	sum = f.Add(width, sum, shares[2].Left)
	return sum
}
