package objects

import (
	"go/constant"
	"math"
	"math/big"

	"github.com/go-delve/pywalk/pkg/layout"
)

func decodeBool(h *header) (Value, []Address, error) {
	v := h.int(layout.IntValue)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	return Value{Kind: Bool, Value: constant.MakeBool(v != 0)}, nil, nil
}

func decodeInt(h *header) (Value, []Address, error) {
	v := h.int(layout.IntValue)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	return Value{Kind: Int, Value: constant.MakeInt64(v)}, nil, nil
}

func decodeFloat(h *header) (Value, []Address, error) {
	f := h.float(layout.FloatValue)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	v := Value{Kind: Float}
	switch {
	case math.IsInf(f, +1):
		v.FloatSpecial = FloatIsPosInf
	case math.IsInf(f, -1):
		v.FloatSpecial = FloatIsNegInf
	case math.IsNaN(f):
		v.FloatSpecial = FloatIsNaN
	default:
		v.Value = constant.MakeFloat64(f)
	}
	return v, nil, nil
}

// decodeLong decodes a multi-word integer. The sign of the size field is
// the sign of the number and its magnitude the number of digits, stored
// least significant first.
func decodeLong(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	size := h.int(layout.VarSize)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	neg := size < 0
	n := size
	if neg {
		n = -n
	}
	if n < 0 || (lim.MaxLongDigits > 0 && n > lim.MaxLongDigits) {
		return Value{}, nil, h.errorf(nil, "implausible digit count %d", size)
	}
	digitSize, bits := h.d.LongDigit()
	raw, err := readTail(h, tail, h.addr+uint64(h.d.Offset(layout.LongDigits)), n, digitSize, "digits")
	if err != nil {
		return Value{}, nil, err
	}
	digits := make([]uint64, n)
	for i := range digits {
		digits[i] = h.d.DecodeUint(raw[i*digitSize:], digitSize)
		if digits[i]>>uint(bits) != 0 {
			return Value{}, nil, h.errorf(nil, "digit %d (%#x) does not fit in %d bits", i, digits[i], bits)
		}
	}
	x := DigitsToInt(neg, digits, uint(bits))
	return Value{Kind: Int, Value: constant.Make(x), Len: n}, nil, nil
}

// DigitsToInt reconstructs an integer from its sign and its digits, least
// significant first, each holding bits significant bits.
func DigitsToInt(neg bool, digits []uint64, bits uint) *big.Int {
	x := new(big.Int)
	d := new(big.Int)
	for i := len(digits) - 1; i >= 0; i-- {
		x.Lsh(x, bits)
		x.Or(x, d.SetUint64(digits[i]))
	}
	if neg {
		x.Neg(x)
	}
	return x
}
