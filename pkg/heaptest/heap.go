// Package heaptest lays out fake interpreter heaps in a remote.Image, so
// that decoders and the walker can be tested without a live target.
//
// Objects are bump allocated in one contiguous arena, each allocation
// rounded to 64 bytes. Byte order, pointer size and field offsets follow
// the descriptor the heap was created with.
package heaptest

import (
	"fmt"
	"math"
	"math/big"
	"unicode/utf16"

	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/remote"
)

const (
	// Base is the address of the first byte of the arena.
	Base uint64 = 0x100000
	// Unmapped is an address no heap maps.
	Unmapped uint64 = 0xdead0000

	arenaSize = 1 << 20
	align     = 64
)

// Heap is a fake interpreter heap.
type Heap struct {
	d     *layout.Descriptor
	img   *remote.Image
	arena []byte
	next  uint64
	types map[string]uint64
	none  uint64
}

// New returns an empty heap for d. It panics if the arena cannot be mapped.
func New(d *layout.Descriptor) *Heap {
	h := &Heap{
		d:     d,
		img:   remote.NewImage(),
		arena: make([]byte, arenaSize),
		next:  Base,
		types: map[string]uint64{},
	}
	if err := h.img.Map(Base, h.arena); err != nil {
		panic(err)
	}
	return h
}

// Descriptor returns the layout of the heap.
func (h *Heap) Descriptor() *layout.Descriptor { return h.d }

// Image returns the address space holding the heap. Objects allocated
// later are visible through it.
func (h *Heap) Image() *remote.Image { return h.img }

// Contents returns the allocated part of the arena, which starts at Base.
func (h *Heap) Contents() []byte {
	return h.arena[:h.next-Base]
}

// Alloc returns the address of n zeroed bytes.
func (h *Heap) Alloc(n int) uint64 {
	if n <= 0 {
		n = 1
	}
	addr := h.next
	sz := (uint64(n) + align - 1) / align * align
	if addr+sz > Base+arenaSize {
		panic(fmt.Sprintf("heaptest: arena exhausted allocating %d bytes", n))
	}
	h.next += sz
	return addr
}

// Bytes returns the arena bytes backing [addr, addr+n).
func (h *Heap) Bytes(addr uint64, n int) []byte {
	off := addr - Base
	return h.arena[off : off+uint64(n)]
}

// Write copies b into the heap at addr.
func (h *Heap) Write(addr uint64, b []byte) {
	copy(h.Bytes(addr, len(b)), b)
}

// PutUint stores v at addr as an integer of the given width.
func (h *Heap) PutUint(addr uint64, width int, v uint64) {
	b := h.Bytes(addr, width)
	bo := h.d.ByteOrder()
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		bo.PutUint16(b, uint16(v))
	case 4:
		bo.PutUint32(b, uint32(v))
	case 8:
		bo.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("heaptest: bad width %d", width))
	}
}

// Set stores v in field f of the object at obj.
func (h *Heap) Set(obj uint64, f layout.Field, v uint64) {
	s, ok := h.d.Field(f)
	if !ok {
		panic(fmt.Sprintf("heaptest: layout %s has no field %s", h.d.Name(), f))
	}
	h.PutUint(obj+uint64(s.Offset), s.Width, v)
}

// SetInt is Set for signed values.
func (h *Heap) SetInt(obj uint64, f layout.Field, v int64) {
	h.Set(obj, f, uint64(v))
}

// Get reads back field f of the object at obj.
func (h *Heap) Get(obj uint64, f layout.Field) uint64 {
	s, _ := h.d.Field(f)
	return h.d.DecodeUint(h.Bytes(obj+uint64(s.Offset), s.Width), s.Width)
}

// CString stores a NUL terminated copy of s and returns its address.
func (h *Heap) CString(s string) uint64 {
	addr := h.Alloc(len(s) + 1)
	h.Write(addr, []byte(s))
	return addr
}

// NewType creates a type object.
func (h *Heap) NewType(name string, basicSize, itemSize, dictOffset int64, flags, base uint64) uint64 {
	t := h.Object(h.Type("type"), h.d.Header(layout.KindType))
	h.Set(t, layout.TypeName, h.CString(name))
	h.SetInt(t, layout.TypeBasicSize, basicSize)
	h.SetInt(t, layout.TypeItemSize, itemSize)
	h.SetInt(t, layout.TypeDictOffset, dictOffset)
	h.Set(t, layout.TypeFlags, flags)
	h.Set(t, layout.TypeBase, base)
	return t
}

// Type returns the type object called name, creating it the first time.
// Builtin type names get the header size of their kind.
func (h *Heap) Type(name string) uint64 {
	if t, ok := h.types[name]; ok {
		return t
	}
	if name == "type" {
		// type is its own type.
		t := h.Alloc(h.d.Header(layout.KindType))
		h.types[name] = t
		h.Set(t, layout.ObjectRefcnt, 1)
		h.Set(t, layout.ObjectType, t)
		h.Set(t, layout.TypeName, h.CString(name))
		h.SetInt(t, layout.TypeBasicSize, int64(h.d.Header(layout.KindType)))
		return t
	}
	basic := int64(h.d.Header(layout.KindObject))
	var item int64
	if k, ok := h.d.KindOf(name); ok {
		basic = int64(h.d.Header(k))
		switch k {
		case layout.KindTuple:
			item = int64(h.d.PtrSize())
		case layout.KindBytes:
			item = 1
		case layout.KindLong:
			item = int64(h.d.Width(layout.LongDigits))
		}
	}
	t := h.NewType(name, basic, item, 0, 0, 0)
	h.types[name] = t
	return t
}

// Object allocates an object of n bytes with the given type.
func (h *Heap) Object(typ uint64, n int) uint64 {
	obj := h.Alloc(n)
	h.Set(obj, layout.ObjectRefcnt, 1)
	h.Set(obj, layout.ObjectType, typ)
	return obj
}

// None returns the None singleton.
func (h *Heap) None() uint64 {
	if h.none == 0 {
		h.none = h.Object(h.Type("NoneType"), h.d.Header(layout.KindNone))
	}
	return h.none
}

// Bool allocates a bool.
func (h *Heap) Bool(v bool) uint64 {
	obj := h.Object(h.Type("bool"), h.d.Header(layout.KindBool))
	if v {
		h.SetInt(obj, layout.IntValue, 1)
	}
	return obj
}

// Int allocates a machine word integer.
func (h *Heap) Int(v int64) uint64 {
	obj := h.Object(h.Type("int"), h.d.Header(layout.KindInt))
	h.SetInt(obj, layout.IntValue, v)
	return obj
}

// Long allocates an arbitrary precision integer.
func (h *Heap) Long(x *big.Int) uint64 {
	_, bits := h.d.LongDigit()
	mag := new(big.Int).Abs(x)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits)), big.NewInt(1))
	var digits []uint64
	for mag.Sign() > 0 {
		digits = append(digits, new(big.Int).And(mag, mask).Uint64())
		mag.Rsh(mag, uint(bits))
	}
	return h.LongDigits(x.Sign() < 0, digits)
}

// LongDigits allocates an integer from raw digits, least significant
// first. Digits are not checked.
func (h *Heap) LongDigits(neg bool, digits []uint64) uint64 {
	size, _ := h.d.LongDigit()
	off := h.d.Offset(layout.LongDigits)
	obj := h.Object(h.Type("long"), off+len(digits)*size)
	n := int64(len(digits))
	if neg {
		n = -n
	}
	h.SetInt(obj, layout.VarSize, n)
	for i, dg := range digits {
		h.PutUint(obj+uint64(off+i*size), size, dg)
	}
	return obj
}

// Float allocates a float.
func (h *Heap) Float(v float64) uint64 {
	obj := h.Object(h.Type("float"), h.d.Header(layout.KindFloat))
	if h.d.Width(layout.FloatValue) == 4 {
		h.Set(obj, layout.FloatValue, uint64(math.Float32bits(float32(v))))
	} else {
		h.Set(obj, layout.FloatValue, math.Float64bits(v))
	}
	return obj
}

// Str allocates a byte string.
func (h *Heap) Str(s string) uint64 {
	off := h.d.Offset(layout.BytesData)
	obj := h.Object(h.Type("str"), off+len(s)+1)
	h.SetInt(obj, layout.VarSize, int64(len(s)))
	h.Write(obj+uint64(off), []byte(s))
	return obj
}

// Unicode allocates a text string, encoded with the unicode width of the
// layout.
func (h *Heap) Unicode(s string) uint64 {
	obj := h.Object(h.Type("unicode"), h.d.Header(layout.KindUnicode))
	usz := h.d.UnicodeSize()
	var units []uint64
	if usz == 2 {
		for _, u := range utf16.Encode([]rune(s)) {
			units = append(units, uint64(u))
		}
	} else {
		for _, r := range s {
			units = append(units, uint64(r))
		}
	}
	data := h.Alloc((len(units) + 1) * usz)
	for i, u := range units {
		h.PutUint(data+uint64(i*usz), usz, u)
	}
	h.SetInt(obj, layout.UnicodeLength, int64(len(units)))
	h.Set(obj, layout.UnicodeData, data)
	return obj
}

func (h *Heap) putPointers(addr uint64, ptrs []uint64) {
	for i, p := range ptrs {
		h.PutUint(addr+uint64(i*h.d.PtrSize()), h.d.PtrSize(), p)
	}
}

// Tuple allocates a tuple.
func (h *Heap) Tuple(items ...uint64) uint64 {
	off := h.d.Offset(layout.TupleItems)
	obj := h.Object(h.Type("tuple"), off+len(items)*h.d.PtrSize())
	h.SetInt(obj, layout.VarSize, int64(len(items)))
	h.putPointers(obj+uint64(off), items)
	return obj
}

// List allocates a list with no spare capacity.
func (h *Heap) List(items ...uint64) uint64 {
	return h.ListCap(len(items), items...)
}

// ListCap allocates a list whose item buffer has room for allocated
// items. Spare slots are filled with garbage pointers.
func (h *Heap) ListCap(allocated int, items ...uint64) uint64 {
	obj := h.Object(h.Type("list"), h.d.Header(layout.KindList))
	h.SetInt(obj, layout.VarSize, int64(len(items)))
	h.SetInt(obj, layout.ListAllocated, int64(allocated))
	if allocated > 0 {
		buf := h.Alloc(allocated * h.d.PtrSize())
		h.putPointers(buf, items)
		for i := len(items); i < allocated; i++ {
			h.PutUint(buf+uint64(i*h.d.PtrSize()), h.d.PtrSize(), Unmapped)
		}
		h.Set(obj, layout.ListItems, buf)
	}
	return obj
}

// Entry is one slot of a dictionary hash table. An entry with a key but
// no value is a deleted slot.
type Entry struct {
	Key, Value uint64
}

// Dict allocates a dictionary from alternating keys and values.
func (h *Heap) Dict(kv ...uint64) uint64 {
	if len(kv)%2 != 0 {
		panic("heaptest: odd number of arguments to Dict")
	}
	entries := make([]Entry, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		entries = append(entries, Entry{kv[i], kv[i+1]})
	}
	slots := 8
	for slots*2 < len(entries)*3 {
		slots *= 2
	}
	return h.DictTable(slots, entries)
}

// DictTable allocates a dictionary whose table has the given number of
// slots, with entries stored at the start of the table. Counts are
// computed from the entries.
func (h *Heap) DictTable(slots int, entries []Entry) uint64 {
	obj := h.Object(h.Type("dict"), h.d.Header(layout.KindDict))
	stride := h.d.Width(layout.DictEntry)
	table := h.Alloc(slots * stride)
	used := 0
	for i, e := range entries {
		slot := table + uint64(i*stride)
		h.Set(slot, layout.DictEntryHash, e.Key)
		h.Set(slot, layout.DictEntryKey, e.Key)
		h.Set(slot, layout.DictEntryValue, e.Value)
		if e.Value != 0 {
			used++
		}
	}
	h.SetInt(obj, layout.DictFill, int64(len(entries)))
	h.SetInt(obj, layout.DictUsed, int64(used))
	h.SetInt(obj, layout.DictMask, int64(slots-1))
	h.Set(obj, layout.DictTable, table)
	return obj
}

// Class allocates an old-style class.
func (h *Heap) Class(name string, bases, dict uint64) uint64 {
	obj := h.Object(h.Type("classobj"), h.d.Header(layout.KindClass))
	h.Set(obj, layout.ClassBases, bases)
	h.Set(obj, layout.ClassDict, dict)
	h.Set(obj, layout.ClassName, h.Str(name))
	return obj
}

// Instance allocates an instance of an old-style class.
func (h *Heap) Instance(class, dict uint64) uint64 {
	obj := h.Object(h.Type("instance"), h.d.Header(layout.KindInstance))
	h.Set(obj, layout.InstanceClass, class)
	h.Set(obj, layout.InstanceDict, dict)
	return obj
}

// Generic allocates an object of a new-style user type called typeName
// with an attribute dictionary stored right after the object header.
func (h *Heap) Generic(typeName string, dict uint64) uint64 {
	t, ok := h.types[typeName]
	hdr := h.d.Header(layout.KindObject)
	if !ok {
		t = h.NewType(typeName, int64(hdr+h.d.PtrSize()), 0, int64(hdr), 0, h.Type("object"))
		h.types[typeName] = t
	}
	obj := h.Object(t, hdr+h.d.PtrSize())
	h.PutUint(obj+uint64(hdr), h.d.PtrSize(), dict)
	return obj
}
