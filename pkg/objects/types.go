package objects

import (
	"bytes"
	"go/constant"

	"github.com/go-delve/pywalk/pkg/layout"
)

// cstringChunk is the granularity of C string reads. Chunks are aligned
// so that a read never crosses a page boundary the string itself does not
// cross.
const cstringChunk = 64

// TypeInfo is the part of a type object needed to choose and drive a
// decoder for its instances.
type TypeInfo struct {
	Addr       uint64
	Name       string
	BasicSize  int64
	ItemSize   int64
	Flags      uint64
	DictOffset int64
	Base       uint64
}

// DecodeType decodes the type object at addr from its fixed header buf.
// The name is read through tail.
func DecodeType(d *layout.Descriptor, buf []byte, addr uint64, tail TailReader) (*TypeInfo, error) {
	h := newHeader(d, layout.KindType, buf, addr)
	if want := d.Header(layout.KindType); len(buf) < want {
		return nil, h.errorf(nil, "header is %d bytes, layout requires %d", len(buf), want)
	}
	ti := &TypeInfo{
		Addr:       addr,
		BasicSize:  h.int(layout.TypeBasicSize),
		ItemSize:   h.int(layout.TypeItemSize),
		Flags:      h.uint(layout.TypeFlags),
		DictOffset: h.int(layout.TypeDictOffset),
		Base:       h.uint(layout.TypeBase),
	}
	namePtr := h.uint(layout.TypeName)
	if h.err != nil {
		return nil, h.err
	}
	if ti.BasicSize < 0 || ti.ItemSize < 0 {
		return nil, h.errorf(nil, "negative basic size %d or item size %d", ti.BasicSize, ti.ItemSize)
	}
	if namePtr == 0 {
		return nil, h.errorf(nil, "type has no name")
	}
	name, err := readCString(tail, namePtr, d.MaxTypeName())
	if err != nil {
		return nil, err
	}
	if !plausibleName(name) {
		return nil, h.errorf(nil, "implausible type name %q", name)
	}
	ti.Name = name
	return ti, nil
}

// readCString reads a NUL terminated string of at most max bytes.
// A string with no terminator within max bytes is cut at max.
func readCString(tail TailReader, addr uint64, max int) (string, error) {
	var out []byte
	for len(out) < max {
		cur := addr + uint64(len(out))
		n := cstringChunk - int(cur%cstringChunk)
		if rem := max - len(out); n > rem {
			n = rem
		}
		chunk, err := tail.ReadTail(cur, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}

func plausibleName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return false
		}
	}
	return true
}

func decodeTypeObject(h *header, tail TailReader) (Value, []Address, error) {
	ti, err := DecodeType(h.d, h.buf, h.addr, tail)
	if err != nil {
		return Value{}, nil, err
	}
	v := Value{Kind: Type, Name: ti.Name}
	var edges []Address
	if ti.Base != 0 {
		v.Refs = []Ref{{Name: "__base__", Addr: ti.Base}}
		edges = []Address{{Addr: ti.Base, Expect: layout.KindType}}
	}
	return v, edges, nil
}

// decodeClass decodes an old-style class. Its name is a byte string object
// which is decoded in place, best effort; it is also returned as an edge.
func decodeClass(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	bases := h.uint(layout.ClassBases)
	dict := h.uint(layout.ClassDict)
	name := h.uint(layout.ClassName)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	v := Value{
		Kind: Type,
		Refs: []Ref{{"__bases__", bases}, {"__dict__", dict}, {"__name__", name}},
	}
	if name != 0 {
		v.Name = className(h.d, name, tail, lim)
	}
	return v, []Address{
		{Addr: bases, Expect: layout.KindTuple},
		{Addr: dict, Expect: layout.KindDict},
		{Addr: name, Expect: layout.KindBytes},
	}, nil
}

func className(d *layout.Descriptor, addr uint64, tail TailReader, lim Limits) string {
	buf, err := tail.ReadTail(addr, d.Header(layout.KindBytes))
	if err != nil {
		return ""
	}
	v, _, err := decodeBytes(newHeader(d, layout.KindBytes, buf, addr), tail, lim)
	if err != nil || !plausibleName(constant.StringVal(v.Value)) {
		return ""
	}
	return constant.StringVal(v.Value)
}

// decodeInstance decodes an instance of an old-style class.
func decodeInstance(h *header, ti *TypeInfo) (Value, []Address, error) {
	class := h.uint(layout.InstanceClass)
	dict := h.uint(layout.InstanceDict)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	v := Value{
		Kind: Object,
		Refs: []Ref{{"__class__", class}, {"__dict__", dict}},
	}
	if ti != nil {
		v.Name = ti.Name
	}
	return v, []Address{
		{Addr: class, Expect: layout.KindClass},
		{Addr: dict, Expect: layout.KindDict},
	}, nil
}

// decodeObject decodes an object of any other type. Its only reference
// is its attribute dictionary, found through the type's dictionary
// offset: a positive offset is from the start of the object, a negative
// one from the end of a variable-size object, rounded up to a word.
func decodeObject(h *header, ti *TypeInfo, tail TailReader) (Value, []Address, error) {
	v := Value{Kind: Object}
	if ti == nil {
		return v, nil, nil
	}
	v.Name = ti.Name
	if ti.DictOffset == 0 {
		return v, nil, nil
	}
	ptrSize := int64(h.d.PtrSize())
	var off int64
	if ti.DictOffset > 0 {
		if ti.BasicSize > 0 && ti.DictOffset+ptrSize > ti.BasicSize {
			return Value{}, nil, h.errorf(nil, "dict offset %d outside %d byte object", ti.DictOffset, ti.BasicSize)
		}
		off = ti.DictOffset
	} else {
		raw, err := tail.ReadTail(h.addr, h.d.Offset(layout.VarSize)+h.d.Width(layout.VarSize))
		if err != nil {
			return Value{}, nil, err
		}
		size, err := h.d.Int(raw, layout.VarSize)
		if err != nil {
			return Value{}, nil, h.errorf(err, "bad header")
		}
		if size < 0 {
			size = -size
		}
		if size < 0 || size > maxTailLen || (ti.ItemSize > 0 && size > maxTailLen/ti.ItemSize) {
			return Value{}, nil, h.errorf(nil, "implausible size %d", size)
		}
		off = ti.BasicSize + size*ti.ItemSize + ti.DictOffset
		off = (off + ptrSize - 1) / ptrSize * ptrSize
		if off < 0 {
			return Value{}, nil, h.errorf(nil, "dict offset %d before start of object", off)
		}
	}
	raw, err := tail.ReadTail(h.addr+uint64(off), int(ptrSize))
	if err != nil {
		return Value{}, nil, err
	}
	dict := h.d.Pointer(raw)
	if dict == 0 {
		return v, nil, nil
	}
	v.Refs = []Ref{{"__dict__", dict}}
	return v, []Address{{Addr: dict, Expect: layout.KindDict}}, nil
}
