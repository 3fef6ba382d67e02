// Package field implements the two field families circuits compute
// over: boolean fields of fixed widths, where addition is XOR and
// multiplication is AND, and prime fields with modular arithmetic.
//
// A Field is selected once, at query-acceptance time, by the closed
// FieldID tag carried in QueryConfig — compile-time-parameterized
// code, runtime-dispatched selection. Every Field implementation
// operates on vectorized
// elements: a []byte holding W independently-addressable lanes, one
// per record packed into the same wire element, where W is the query's
// VectorWidth. Lanes are laid out consecutively lane-major (lane i
// occupies bytes [i*LaneBytes, (i+1)*LaneBytes)); the real production
// system bit-slices lanes across machine words for SIMD throughput,
// which is a performance detail this runtime does not reproduce — the
// functional contract (reconstruction correctness) only depends on Add
// and Mul being applied consistently per lane, not on the physical bit
// layout.
package field

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipaproto/helper/pkg/types"
)

// Field is the per-(family,width) arithmetic contract circuits and the
// share/multiplication primitive are built on.
type Field interface {
	ID() types.FieldID
	Kind() types.FieldKind
	// LaneBytes is the wire width of a single scalar lane.
	LaneBytes() int
	// ElementBytes is the wire width of a full vectorized element
	// packing `width` lanes.
	ElementBytes(width int) int
	Zero(width int) []byte
	Add(width int, a, b []byte) []byte
	Sub(width int, a, b []byte) []byte
	Mul(width int, a, b []byte) []byte
	Neg(width int, a []byte) []byte
	Random(width int, rnd io.Reader) ([]byte, error)
	// FromUint64 packs a single scalar value into a width=1 element.
	FromUint64(v uint64) []byte
	// ToUint64 reads lane i out of a vectorized element.
	ToUint64(width int, elem []byte, lane int) uint64
}

// Lookup resolves the closed FieldID tag to its Field implementation.
// This is the monomorphization point: code that needs to operate
// generically over fields switches once, here, rather than threading
// a type parameter through the whole runtime.
func Lookup(id types.FieldID) (Field, error) {
	if f, ok := registry[id]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("field: unknown field id %q", id)
}

var registry = map[types.FieldID]Field{
	types.FieldBool1:        booleanField{bitWidth: 1},
	types.FieldBool8:        booleanField{bitWidth: 8},
	types.FieldBool20:       booleanField{bitWidth: 20},
	types.FieldBool32:       booleanField{bitWidth: 32},
	types.FieldBool64:       booleanField{bitWidth: 64},
	types.FieldBool256:      booleanField{bitWidth: 256},
	types.FieldFp31:         primeField{id: types.FieldFp31, modulus: 31, laneBytes: 1},
	types.FieldFp32BitPrime: primeField{id: types.FieldFp32BitPrime, modulus: 4294967291, laneBytes: 4},
}

func randomBytes(rnd io.Reader, n int) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return nil, fmt.Errorf("field: read random bytes: %w", err)
	}
	return buf, nil
}

func putUint64At(buf []byte, off, n int, v uint64) {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	copy(buf[off:off+n], tmp[:n])
}

func getUint64At(buf []byte, off, n int) uint64 {
	tmp := make([]byte, 8)
	copy(tmp[:n], buf[off:off+n])
	return binary.LittleEndian.Uint64(tmp)
}
