// Package layout describes the binary layout of interpreter objects for
// one interpreter build.
//
// A Descriptor is pure data: pointer size, byte order, the offset and width
// of every field the decoders use, the fixed header size of each kind of
// object and the discriminants (type names and subclass flag bits) that
// select a kind. Descriptors are loaded from YAML files, so supporting a
// new build means adding a file, never touching decoder logic.
package layout

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Descriptor is the layout of one interpreter build. Descriptors are
// immutable once built.
type Descriptor struct {
	name          string
	ptrSize       int
	byteOrder     binary.ByteOrder
	longDigitSize int
	longDigitBits int
	unicodeSize   int
	maxTypeName   int

	kinds         map[string]Kind
	subclassFlags map[Kind]uint64
	headers       map[Kind]int
	fields        map[Field]Slot
}

// Name returns the name the descriptor is registered under.
func (d *Descriptor) Name() string { return d.name }

// PtrSize returns the size of a pointer in the target.
func (d *Descriptor) PtrSize() int { return d.ptrSize }

// ByteOrder returns the byte order of the target.
func (d *Descriptor) ByteOrder() binary.ByteOrder { return d.byteOrder }

// LongDigit returns the size in bytes and the number of significant bits of
// one digit of a multi-word integer.
func (d *Descriptor) LongDigit() (size, bits int) { return d.longDigitSize, d.longDigitBits }

// UnicodeSize returns the size of one code unit of a unicode object.
func (d *Descriptor) UnicodeSize() int { return d.unicodeSize }

// MaxTypeName returns the maximum number of bytes read for a type name.
func (d *Descriptor) MaxTypeName() int { return d.maxTypeName }

// Field returns the position of f.
func (d *Descriptor) Field(f Field) (Slot, bool) {
	s, ok := d.fields[f]
	return s, ok
}

// Offset returns the offset of f, or 0 if the descriptor does not define it.
// Validated descriptors define every field the decoders use.
func (d *Descriptor) Offset(f Field) int {
	return d.fields[f].Offset
}

// Width returns the width of f.
func (d *Descriptor) Width(f Field) int {
	return d.fields[f].Width
}

// Header returns the size of the fixed part of objects of kind k.
func (d *Descriptor) Header(k Kind) int {
	return d.headers[k]
}

// TypeNames returns the type names mapped to a kind, sorted.
func (d *Descriptor) TypeNames() []string {
	r := make([]string, 0, len(d.kinds))
	for name := range d.kinds {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// KindOf returns the kind mapped to the given type name.
func (d *Descriptor) KindOf(typeName string) (Kind, bool) {
	k, ok := d.kinds[typeName]
	return k, ok
}

// Classify selects the decoder kind for an object whose type has the
// given name and flags. Exact type names win; otherwise subclasses of
// builtin containers are recognized by their flag bits and decoded as
// their base kind. Everything else is a generic object.
func (d *Descriptor) Classify(typeName string, flags uint64) Kind {
	if k, ok := d.kinds[typeName]; ok {
		return k
	}
	for _, k := range Kinds() {
		bit, ok := d.subclassFlags[k]
		if ok && bit != 0 && flags&bit != 0 {
			return k
		}
	}
	return KindObject
}

// FieldError is returned when a field does not fit in the buffer it is
// read from.
type FieldError struct {
	Field  Field
	Slot   Slot
	BufLen int
}

func (err *FieldError) Error() string {
	if err.Slot.Width == 0 {
		return fmt.Sprintf("field %s not defined by layout", err.Field)
	}
	return fmt.Sprintf("field %s [%d:%d] outside %d byte buffer", err.Field, err.Slot.Offset, err.Slot.End(), err.BufLen)
}

func (d *Descriptor) slice(buf []byte, f Field) ([]byte, error) {
	s, ok := d.fields[f]
	if !ok || s.Width == 0 || s.Offset < 0 || s.End() > len(buf) {
		return nil, &FieldError{Field: f, Slot: s, BufLen: len(buf)}
	}
	return buf[s.Offset:s.End()], nil
}

// Uint reads f from buf as an unsigned integer.
func (d *Descriptor) Uint(buf []byte, f Field) (uint64, error) {
	b, err := d.slice(buf, f)
	if err != nil {
		return 0, err
	}
	return d.DecodeUint(b, len(b)), nil
}

// Int reads f from buf as a sign-extended integer.
func (d *Descriptor) Int(buf []byte, f Field) (int64, error) {
	b, err := d.slice(buf, f)
	if err != nil {
		return 0, err
	}
	return d.DecodeInt(b, len(b)), nil
}

// Float reads f from buf as an IEEE 754 value of the field's width.
func (d *Descriptor) Float(buf []byte, f Field) (float64, error) {
	b, err := d.slice(buf, f)
	if err != nil {
		return 0, err
	}
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(d.byteOrder.Uint32(b))), nil
	case 8:
		return math.Float64frombits(d.byteOrder.Uint64(b)), nil
	}
	return 0, &FieldError{Field: f, Slot: d.fields[f], BufLen: len(buf)}
}

// DecodeUint decodes an unsigned integer of the given width from the start
// of b using the target's byte order. Widths other than 1, 2, 4 and 8
// decode as 0.
func (d *Descriptor) DecodeUint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(d.byteOrder.Uint16(b))
	case 4:
		return uint64(d.byteOrder.Uint32(b))
	case 8:
		return d.byteOrder.Uint64(b)
	}
	return 0
}

// DecodeInt is like DecodeUint but sign extends the result.
func (d *Descriptor) DecodeInt(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(d.byteOrder.Uint16(b)))
	case 4:
		return int64(int32(d.byteOrder.Uint32(b)))
	case 8:
		return int64(d.byteOrder.Uint64(b))
	}
	return 0
}

// Pointer decodes a target pointer from the start of b.
func (d *Descriptor) Pointer(b []byte) uint64 {
	return d.DecodeUint(b, d.ptrSize)
}

// ValidationError lists everything wrong with a descriptor.
type ValidationError struct {
	Layout   string
	Problems []string
}

func (err *ValidationError) Error() string {
	s := fmt.Sprintf("invalid layout %q: ", err.Layout)
	for i, p := range err.Problems {
		if i > 0 {
			s += "; "
		}
		s += p
	}
	return s
}

func validWidth(w int) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}

// Validate checks that d defines everything the decoders need, consistently.
func (d *Descriptor) Validate() error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.name == "" {
		addf("missing name")
	}
	if d.ptrSize != 4 && d.ptrSize != 8 {
		addf("pointer size %d is not 4 or 8", d.ptrSize)
	}
	if d.byteOrder == nil {
		addf("missing byte order")
	}
	if d.longDigitSize != 2 && d.longDigitSize != 4 {
		addf("long digit size %d is not 2 or 4", d.longDigitSize)
	}
	if d.longDigitBits <= 0 || d.longDigitBits > 8*d.longDigitSize {
		addf("long digit bits %d do not fit in %d bytes", d.longDigitBits, d.longDigitSize)
	}
	if d.unicodeSize != 2 && d.unicodeSize != 4 {
		addf("unicode size %d is not 2 or 4", d.unicodeSize)
	}
	if d.maxTypeName <= 0 {
		addf("max type name must be positive")
	}

	// Objects of every mapped kind are decoded, and every object has a
	// header and a type object.
	used := map[Kind]bool{KindObject: true, KindType: true}
	for name, k := range d.kinds {
		if k == KindAny || k >= numKinds {
			addf("type %q mapped to invalid kind %v", name, k)
			continue
		}
		used[k] = true
	}
	for k := range d.subclassFlags {
		used[k] = true
	}

	objEnd := 0
	for _, f := range requiredFields[KindObject] {
		if s, ok := d.fields[f]; ok && s.End() > objEnd {
			objEnd = s.End()
		}
	}
	for _, k := range Kinds() {
		if !used[k] {
			continue
		}
		hdr, ok := d.headers[k]
		if !ok || hdr <= 0 {
			addf("missing header size for %v", k)
			continue
		}
		if hdr < objEnd {
			addf("header of %v (%d bytes) smaller than the object header (%d bytes)", k, hdr, objEnd)
		}
		fields := append([]Field{}, requiredFields[KindObject]...)
		for _, f := range append(fields, requiredFields[k]...) {
			s, ok := d.fields[f]
			if !ok {
				addf("missing field %s required by %v", f, k)
				continue
			}
			switch {
			case f == DictEntry:
				if s.Width <= 0 {
					addf("field %s has invalid stride %d", f, s.Width)
				}
			case !validWidth(s.Width):
				addf("field %s has invalid width %d", f, s.Width)
			}
			if s.Offset < 0 {
				addf("field %s has negative offset", f)
			}
			switch {
			case entryFields[f]:
				if entry, ok := d.fields[DictEntry]; ok && s.End() > entry.Width {
					addf("field %s does not fit in a %d byte dict entry", f, entry.Width)
				}
			case tailFields[f]:
			default:
				if s.End() > hdr {
					addf("field %s [%d:%d] does not fit in the %d byte %v header", f, s.Offset, s.End(), hdr, k)
				}
			}
		}
	}
	if s, ok := d.fields[TupleItems]; ok && s.Width != d.ptrSize {
		addf("field %s width %d is not the pointer size", TupleItems, s.Width)
	}
	if s, ok := d.fields[LongDigits]; ok && s.Width != d.longDigitSize {
		addf("field %s width %d is not the long digit size %d", LongDigits, s.Width, d.longDigitSize)
	}

	if len(problems) > 0 {
		return &ValidationError{Layout: d.name, Problems: problems}
	}
	return nil
}

func (d *Descriptor) clone() *Descriptor {
	r := *d
	r.kinds = make(map[string]Kind, len(d.kinds))
	for k, v := range d.kinds {
		r.kinds[k] = v
	}
	r.subclassFlags = make(map[Kind]uint64, len(d.subclassFlags))
	for k, v := range d.subclassFlags {
		r.subclassFlags[k] = v
	}
	r.headers = make(map[Kind]int, len(d.headers))
	for k, v := range d.headers {
		r.headers[k] = v
	}
	r.fields = make(map[Field]Slot, len(d.fields))
	for k, v := range d.fields {
		r.fields[k] = v
	}
	return &r
}
