package objects

import (
	"go/constant"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/go-delve/pywalk/pkg/layout"
)

// stringCount validates a declared string length and returns how many
// characters to read.
func stringCount(h *header, declared int64, lim Limits) (count int64, truncated bool, err error) {
	if declared < 0 || declared > maxTailLen {
		return 0, false, h.errorf(nil, "implausible length %d", declared)
	}
	count = declared
	if lim.MaxStringLen > 0 && count > int64(lim.MaxStringLen) {
		count = int64(lim.MaxStringLen)
		truncated = true
	}
	return count, truncated, nil
}

// decodeBytes decodes a byte string whose characters follow the header
// inline. No terminator is assumed.
func decodeBytes(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	size := h.int(layout.VarSize)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	count, truncated, err := stringCount(h, size, lim)
	if err != nil {
		return Value{}, nil, err
	}
	data, err := readTail(h, tail, h.addr+uint64(h.d.Offset(layout.BytesData)), count, 1, "characters")
	if err != nil {
		return Value{}, nil, err
	}
	return Value{
		Kind:      Bytes,
		Value:     constant.MakeString(string(data[:count])),
		Len:       size,
		Truncated: truncated,
	}, nil, nil
}

// decodeUnicode decodes a text string stored out of line as 2 or 4 byte
// code units.
func decodeUnicode(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	length := h.int(layout.UnicodeLength)
	data := h.uint(layout.UnicodeData)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	count, truncated, err := stringCount(h, length, lim)
	if err != nil {
		return Value{}, nil, err
	}
	if count > 0 && data == 0 {
		return Value{}, nil, h.errorf(nil, "length %d with no character buffer", length)
	}
	usz := h.d.UnicodeSize()
	raw, err := readTail(h, tail, data, count, usz, "code units")
	if err != nil {
		return Value{}, nil, err
	}
	var s string
	switch usz {
	case 2:
		units := make([]uint16, count)
		for i := range units {
			units[i] = uint16(h.d.DecodeUint(raw[i*2:], 2))
		}
		s = string(utf16.Decode(units))
	default:
		runes := make([]rune, count)
		for i := range runes {
			r := rune(h.d.DecodeUint(raw[i*4:], 4))
			if !utf8.ValidRune(r) {
				r = utf8.RuneError
			}
			runes[i] = r
		}
		s = string(runes)
	}
	return Value{
		Kind:      String,
		Value:     constant.MakeString(s),
		Len:       length,
		Truncated: truncated,
	}, nil, nil
}
