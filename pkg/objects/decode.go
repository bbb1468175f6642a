package objects

import (
	"fmt"

	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/remote"
)

// maxTailLen bounds the number of bytes read past the header of any
// object, whatever the limits. Larger declared lengths only come from
// stale or corrupted memory.
const maxTailLen = 1 << 28

// checkEndLen is the tail size above which the last byte of the tail is read
// before the whole tail is allocated.
const checkEndLen = 1 << 16

// DecodeError is returned when the bytes of an object were read but do not
// match the layout of the kind they were believed to be.
type DecodeError struct {
	Addr   uint64
	Kind   layout.Kind
	Reason string
	Err    error
}

func (err *DecodeError) Error() string {
	s := fmt.Sprintf("could not decode %v at %#x: %s", err.Kind, err.Addr, err.Reason)
	if err.Err != nil {
		s += ": " + err.Err.Error()
	}
	return s
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

// TailReader fulfills the additional reads a decoder needs past the fixed
// header of an object: inline character and item arrays, out-of-line
// buffers and hash tables. Errors are *remote.UnreadableError.
type TailReader interface {
	ReadTail(addr uint64, n int) ([]byte, error)
}

type memoryTail struct {
	mem remote.MemoryReader
}

func (t memoryTail) ReadTail(addr uint64, n int) ([]byte, error) {
	return remote.Read(t.mem, addr, n)
}

// Tail returns a TailReader reading directly from mem.
func Tail(mem remote.MemoryReader) TailReader {
	return memoryTail{mem}
}

// Limits are sanity bounds applied while decoding. A declared length above
// a bound is treated as corruption, except for MaxStringLen which truncates.
type Limits struct {
	// MaxStringLen is the maximum number of characters read from a string,
	// 0 reads all of them.
	MaxStringLen int
	// MaxSequenceLen is the maximum declared length of a tuple or list.
	MaxSequenceLen int64
	// MaxMapSlots is the maximum size of a dictionary hash table.
	MaxMapSlots int64
	// MaxLongDigits is the maximum number of digits of a long integer.
	MaxLongDigits int64
}

// DefaultLimits returns bounds generous enough for any live object.
func DefaultLimits() Limits {
	return Limits{
		MaxStringLen:   0,
		MaxSequenceLen: 1 << 26,
		MaxMapSlots:    1 << 26,
		MaxLongDigits:  1 << 20,
	}
}

// header reads fields out of a fixed-size object header. The first error
// is kept and every later read returns zero.
type header struct {
	d    *layout.Descriptor
	buf  []byte
	addr uint64
	kind layout.Kind
	err  error
}

func newHeader(d *layout.Descriptor, kind layout.Kind, buf []byte, addr uint64) *header {
	return &header{d: d, buf: buf, addr: addr, kind: kind}
}

func (h *header) int(f layout.Field) int64 {
	if h.err != nil {
		return 0
	}
	v, err := h.d.Int(h.buf, f)
	if err != nil {
		h.err = h.errorf(err, "bad header")
	}
	return v
}

func (h *header) uint(f layout.Field) uint64 {
	if h.err != nil {
		return 0
	}
	v, err := h.d.Uint(h.buf, f)
	if err != nil {
		h.err = h.errorf(err, "bad header")
	}
	return v
}

func (h *header) float(f layout.Field) float64 {
	if h.err != nil {
		return 0
	}
	v, err := h.d.Float(h.buf, f)
	if err != nil {
		h.err = h.errorf(err, "bad header")
	}
	return v
}

func (h *header) errorf(err error, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Addr: h.addr, Kind: h.kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Decode decodes the object at addr, of the given kind, from its fixed
// header buf. ti is the object's type. Variable-length parts are read
// through tail. It returns the value and the addresses the object refers
// to, in order.
//
// Decoding the zero address always yields Null, whatever the kind.
func Decode(d *layout.Descriptor, kind layout.Kind, ti *TypeInfo, buf []byte, addr uint64, tail TailReader, lim Limits) (Value, []Address, error) {
	if addr == 0 {
		return NullValue(), nil, nil
	}
	h := newHeader(d, kind, buf, addr)
	if want := d.Header(kind); len(buf) < want {
		return Value{}, nil, h.errorf(nil, "header is %d bytes, layout requires %d", len(buf), want)
	}
	switch kind {
	case layout.KindNone:
		return NullValue(), nil, nil
	case layout.KindBool:
		return decodeBool(h)
	case layout.KindInt:
		return decodeInt(h)
	case layout.KindLong:
		return decodeLong(h, tail, lim)
	case layout.KindFloat:
		return decodeFloat(h)
	case layout.KindBytes:
		return decodeBytes(h, tail, lim)
	case layout.KindUnicode:
		return decodeUnicode(h, tail, lim)
	case layout.KindTuple:
		return decodeTuple(h, tail, lim)
	case layout.KindList:
		return decodeList(h, tail, lim)
	case layout.KindDict:
		return decodeDict(h, tail, lim)
	case layout.KindType:
		return decodeTypeObject(h, tail)
	case layout.KindClass:
		return decodeClass(h, tail, lim)
	case layout.KindInstance:
		return decodeInstance(h, ti)
	case layout.KindObject:
		return decodeObject(h, ti, tail)
	}
	return Value{}, nil, h.errorf(nil, "no decoder for kind %v", kind)
}

// readTail reads count elements of size bytes at addr. Counts whose
// storage would exceed maxTailLen, and storage whose last byte can not be
// read, are DecodeErrors.
func readTail(h *header, tail TailReader, addr uint64, count int64, size int, what string) ([]byte, error) {
	if size <= 0 {
		return nil, h.errorf(nil, "bad %s size %d", what, size)
	}
	if count < 0 || count > maxTailLen/int64(size) {
		return nil, h.errorf(nil, "implausible %s count %d", what, count)
	}
	n := int(count) * size
	if n > checkEndLen {
		last := addr + uint64(n-1)
		if last < addr {
			return nil, h.errorf(nil, "%d %s at %#x wrap around the address space", count, what, addr)
		}
		if _, err := tail.ReadTail(last, 1); err != nil {
			return nil, h.errorf(nil, "%d %s declared but %#x is not readable", count, what, last)
		}
	}
	raw, err := tail.ReadTail(addr, n)
	if err != nil {
		return nil, err
	}
	if len(raw) < n {
		return nil, h.errorf(nil, "read %d bytes of %s, need %d", len(raw), what, n)
	}
	return raw, nil
}

// readPointers reads n pointers at addr.
func readPointers(h *header, tail TailReader, addr uint64, n int64) ([]uint64, error) {
	ptrSize := h.d.PtrSize()
	raw, err := readTail(h, tail, addr, n, ptrSize, "items")
	if err != nil {
		return nil, err
	}
	items := make([]uint64, n)
	for i := range items {
		items[i] = h.d.Pointer(raw[i*ptrSize:])
	}
	return items, nil
}
