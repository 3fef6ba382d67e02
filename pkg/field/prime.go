package field

import (
	"io"

	"github.com/ipaproto/helper/pkg/types"
)

// primeField implements modular arithmetic mod a fixed prime that fits
// in a uint64 lane (both Fp31 and Fp32BitPrime do, with room to spare,
// so multiplication never overflows uint64).
type primeField struct {
	id        types.FieldID
	modulus   uint64
	laneBytes int
}

func (f primeField) ID() types.FieldID      { return f.id }
func (f primeField) Kind() types.FieldKind  { return types.FieldKindPrime }
func (f primeField) LaneBytes() int         { return f.laneBytes }
func (f primeField) ElementBytes(w int) int { return f.laneBytes * w }

func (f primeField) Zero(w int) []byte {
	return make([]byte, f.ElementBytes(w))
}

func (f primeField) perLane(w int, a, b []byte, op func(x, y uint64) uint64) []byte {
	lb := f.laneBytes
	out := make([]byte, f.ElementBytes(w))
	for l := 0; l < w; l++ {
		x := getUint64At(a, l*lb, lb)
		y := getUint64At(b, l*lb, lb)
		putUint64At(out, l*lb, lb, op(x, y)%f.modulus)
	}
	return out
}

func (f primeField) Add(w int, a, b []byte) []byte {
	return f.perLane(w, a, b, func(x, y uint64) uint64 { return x + y })
}

func (f primeField) Sub(w int, a, b []byte) []byte {
	return f.perLane(w, a, b, func(x, y uint64) uint64 { return x + f.modulus - y })
}

func (f primeField) Mul(w int, a, b []byte) []byte {
	return f.perLane(w, a, b, func(x, y uint64) uint64 { return x * y })
}

func (f primeField) Neg(w int, a []byte) []byte {
	lb := f.laneBytes
	out := make([]byte, len(a))
	for l := 0; l*lb < len(a); l++ {
		x := getUint64At(a, l*lb, lb)
		v := uint64(0)
		if x != 0 {
			v = f.modulus - x
		}
		putUint64At(out, l*lb, lb, v)
	}
	return out
}

func (f primeField) Random(w int, rnd io.Reader) ([]byte, error) {
	out := make([]byte, f.ElementBytes(w))
	lb := f.laneBytes
	for l := 0; l < w; l++ {
		raw, err := randomBytes(rnd, lb+1) // extra byte to reduce modulo bias
		if err != nil {
			return nil, err
		}
		v := uint64(0)
		for _, b := range raw {
			v = v<<8 | uint64(b)
		}
		putUint64At(out, l*lb, lb, v%f.modulus)
	}
	return out, nil
}

func (f primeField) FromUint64(v uint64) []byte {
	buf := make([]byte, f.laneBytes)
	putUint64At(buf, 0, f.laneBytes, v%f.modulus)
	return buf
}

func (f primeField) ToUint64(w int, elem []byte, lane int) uint64 {
	return getUint64At(elem, lane*f.laneBytes, f.laneBytes)
}
