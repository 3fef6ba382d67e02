package field

import (
	"io"

	"github.com/ipaproto/helper/pkg/types"
)

// booleanField implements a boolean field of a fixed bit width: values
// are bitWidth-bit integers, addition is XOR, multiplication is AND.
type booleanField struct {
	bitWidth int
}

func (f booleanField) ID() types.FieldID      { return bitWidthToID[f.bitWidth] }
func (f booleanField) Kind() types.FieldKind  { return types.FieldKindBoolean }
func (f booleanField) LaneBytes() int         { return (f.bitWidth + 7) / 8 }
func (f booleanField) ElementBytes(w int) int { return f.LaneBytes() * w }

var bitWidthToID = map[int]types.FieldID{
	1:   types.FieldBool1,
	8:   types.FieldBool8,
	20:  types.FieldBool20,
	32:  types.FieldBool32,
	64:  types.FieldBool64,
	256: types.FieldBool256,
}

func (f booleanField) mask(lane []byte) {
	// Zero any bits above bitWidth in the most-significant byte of the
	// lane so XOR/AND results never carry stray high bits forward.
	extra := f.LaneBytes()*8 - f.bitWidth
	if extra == 0 {
		return
	}
	lane[len(lane)-1] &= byte(0xFF >> uint(extra))
}

func (f booleanField) Zero(w int) []byte {
	return make([]byte, f.ElementBytes(w))
}

func (f booleanField) perLane(w int, a, b []byte, op func(x, y byte) byte) []byte {
	lb := f.LaneBytes()
	out := make([]byte, f.ElementBytes(w))
	for i := 0; i < w*lb; i++ {
		out[i] = op(a[i], b[i])
	}
	for l := 0; l < w; l++ {
		f.mask(out[l*lb : (l+1)*lb])
	}
	return out
}

// Add is bitwise XOR.
func (f booleanField) Add(w int, a, b []byte) []byte {
	return f.perLane(w, a, b, func(x, y byte) byte { return x ^ y })
}

// Sub over GF(2) is the same as Add: x - y == x XOR y.
func (f booleanField) Sub(w int, a, b []byte) []byte {
	return f.Add(w, a, b)
}

// Mul is bitwise AND.
func (f booleanField) Mul(w int, a, b []byte) []byte {
	return f.perLane(w, a, b, func(x, y byte) byte { return x & y })
}

// Neg over GF(2) is the identity: -x == x.
func (f booleanField) Neg(w int, a []byte) []byte {
	out := make([]byte, len(a))
	copy(out, a)
	return out
}

func (f booleanField) Random(w int, rnd io.Reader) ([]byte, error) {
	buf, err := randomBytes(rnd, f.ElementBytes(w))
	if err != nil {
		return nil, err
	}
	lb := f.LaneBytes()
	for l := 0; l < w; l++ {
		f.mask(buf[l*lb : (l+1)*lb])
	}
	return buf, nil
}

func (f booleanField) FromUint64(v uint64) []byte {
	lb := f.LaneBytes()
	buf := make([]byte, lb)
	putUint64At(buf, 0, lb, v)
	f.mask(buf)
	return buf
}

func (f booleanField) ToUint64(w int, elem []byte, lane int) uint64 {
	lb := f.LaneBytes()
	return getUint64At(elem, lane*lb, lb)
}
