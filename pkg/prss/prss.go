// Package prss implements pairwise pseudo-random secret sharing: each
// role agrees on one Diffie-Hellman-derived seed
// with its left ring neighbor and one with its right ring neighbor.
// Seeds are combined with a StepPath and a monotonic counter (via
// HKDF) to derive the pseudo-random field elements protocols use for
// masking and correlated randomness.
//
// Key agreement uses X25519 (golang.org/x/crypto/curve25519) for the
// pairwise DH and HKDF (golang.org/x/crypto/hkdf) both to turn the raw
// DH output into a seed and to expand a seed plus (step, counter) into
// field-sized pseudorandom bytes — the latter by handing an HKDF stream
// straight to field.Field.Random, which already knows how to reduce an
// io.Reader's bytes into a valid element for its field.
package prss

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/step"
)

// KeyPair is an ephemeral X25519 key pair used once, for one query's
// PRSS setup.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair(rnd io.Reader) (KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var kp KeyPair
	if _, err := io.ReadFull(rnd, kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("prss: read private scalar: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("prss: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Agree performs the X25519 Diffie-Hellman exchange and derives a
// 32-byte seed from the shared secret via HKDF-Extract, salted with
// both parties' public keys so either ordering of the salt inputs
// (each side computes the same salt deterministically by concatenating
// the lexicographically smaller public key first) produces the same
// seed on both ends.
func Agree(self KeyPair, peerPublic [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(self.Private[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("prss: compute shared secret: %w", err)
	}
	salt := orderedConcat(self.Public, peerPublic)
	extracted := hkdf.Extract(sha256.New, shared, salt)
	var seed [32]byte
	copy(seed[:], extracted)
	return seed, nil
}

func orderedConcat(a, b [32]byte) []byte {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return append(append([]byte{}, a[:]...), b[:]...)
			}
			return append(append([]byte{}, b[:]...), a[:]...)
		}
	}
	return append(append([]byte{}, a[:]...), b[:]...)
}

// Keys is the pair of seeds one helper holds for one query: one shared
// with its ring Left neighbor, one shared with its ring Right neighbor.
type Keys struct {
	LeftSeed  [32]byte
	RightSeed [32]byte
}

// Generator derives pseudo-random field elements from Keys, a StepPath,
// and a counter.
type Generator struct {
	keys Keys
}

// NewGenerator wraps a completed Keys for use during circuit execution.
func NewGenerator(keys Keys) *Generator {
	return &Generator{keys: keys}
}

// Next derives the (left, right) pseudo-random pair for one PRSS call
// at the given step and counter: left is only known to this helper and
// its left neighbor, right only to this helper and its right neighbor.
// Both neighbors derive the identical value from their own copy of the
// matching seed, which is exactly the correlated randomness the
// multiplication primitive consumes.
func (g *Generator) Next(f field.Field, width int, p *step.Path, counter uint64) (left, right []byte, err error) {
	left, err = deriveElement(f, width, g.keys.LeftSeed, p, counter)
	if err != nil {
		return nil, nil, fmt.Errorf("prss: derive left: %w", err)
	}
	right, err = deriveElement(f, width, g.keys.RightSeed, p, counter)
	if err != nil {
		return nil, nil, fmt.Errorf("prss: derive right: %w", err)
	}
	return left, right, nil
}

func deriveElement(f field.Field, width int, seed [32]byte, p *step.Path, counter uint64) ([]byte, error) {
	info := fmt.Sprintf("%s#%d", p.String(), counter)
	r := hkdf.New(sha256.New, seed[:], nil, []byte(info))
	return f.Random(width, r)
}
