// Package objects decodes interpreter objects from raw target memory.
//
// Decoders are selected by layout.Kind and written only against the
// abstract field names of package layout. Each decoder turns the fixed
// header of one object, plus whatever variable-length tail it asks for,
// into a Value and the ordered list of addresses the object refers to.
package objects

import (
	"fmt"
	"go/constant"
	"math/big"

	"github.com/go-delve/pywalk/pkg/layout"
)

// Address is a remote address tagged with the kind of object expected to
// live there. The zero address means "no object" and is never read.
type Address struct {
	Addr   uint64
	Expect layout.Kind
}

// Null reports whether a is the zero address.
func (a Address) Null() bool {
	return a.Addr == 0
}

func (a Address) String() string {
	if a.Expect == layout.KindAny {
		return fmt.Sprintf("%#x", a.Addr)
	}
	return fmt.Sprintf("%#x(%v)", a.Addr, a.Expect)
}

// Kind is the kind of a decoded value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Float
	// Bytes is a byte string. Its constant value holds the raw bytes.
	Bytes
	// String is a text string decoded from code units.
	String
	Sequence
	Mapping
	Type
	Object
	// Opaque is a value that could not be decoded.
	Opaque
)

var kindNames = [...]string{
	Null:     "null",
	Bool:     "bool",
	Int:      "int",
	Float:    "float",
	Bytes:    "bytes",
	String:   "string",
	Sequence: "sequence",
	Mapping:  "mapping",
	Type:     "type",
	Object:   "object",
	Opaque:   "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type FloatSpecial uint8

const (
	FloatIsNormal FloatSpecial = iota
	FloatIsNaN
	FloatIsPosInf
	FloatIsNegInf
)

// Pair is one occupied slot of a mapping.
type Pair struct {
	Key   uint64
	Value uint64
}

// Ref is a named reference held by a type or an object, such as its
// attribute dictionary.
type Ref struct {
	Name string
	Addr uint64
}

// Value is a decoded snapshot of one object. It holds no reference to the
// memory it was read from.
type Value struct {
	Kind Kind

	// Value holds the payload of Bool, Int, Float, Bytes and String values.
	// Integers are arbitrary precision.
	Value        constant.Value
	FloatSpecial FloatSpecial

	// Len is the length declared by the object: characters for strings,
	// items for sequences, used slots for mappings.
	Len int64
	// Truncated is set when a string was longer than the configured
	// maximum and only a prefix was read.
	Truncated bool

	// Tuple distinguishes immutable sequences from lists.
	Tuple bool
	Items []uint64
	Pairs []Pair

	// Name is the name of a Type, or of the type of an Object.
	Name string
	Refs []Ref

	// Reason explains an Opaque value.
	Reason string
}

// NullValue returns the value of the zero address.
func NullValue() Value {
	return Value{Kind: Null}
}

// OpaqueValue returns an Opaque value with the given reason.
func OpaqueValue(reason string) Value {
	return Value{Kind: Opaque, Reason: reason}
}

// Ref returns the named reference, or 0.
func (v *Value) Ref(name string) uint64 {
	for _, r := range v.Refs {
		if r.Name == name {
			return r.Addr
		}
	}
	return 0
}

// Int64 returns the value of an Int that fits in an int64.
func (v *Value) Int64() (int64, bool) {
	if v.Kind != Int {
		return 0, false
	}
	return constant.Int64Val(v.Value)
}

// BigInt returns the value of an Int.
func (v *Value) BigInt() *big.Int {
	if v.Kind != Int {
		return nil
	}
	switch x := constant.Val(v.Value).(type) {
	case int64:
		return big.NewInt(x)
	case *big.Int:
		return new(big.Int).Set(x)
	}
	return nil
}

// Str returns the contents of a Bytes or String value.
func (v *Value) Str() string {
	if v.Kind != Bytes && v.Kind != String {
		return ""
	}
	return constant.StringVal(v.Value)
}

func (v Value) String() string {
	switch v.Kind {
	case Null:
		return "None"
	case Bool:
		if constant.BoolVal(v.Value) {
			return "True"
		}
		return "False"
	case Int:
		return v.Value.ExactString()
	case Float:
		switch v.FloatSpecial {
		case FloatIsNaN:
			return "nan"
		case FloatIsPosInf:
			return "inf"
		case FloatIsNegInf:
			return "-inf"
		}
		f, _ := constant.Float64Val(v.Value)
		return fmt.Sprintf("%g", f)
	case Bytes, String:
		s := fmt.Sprintf("%q", constant.StringVal(v.Value))
		if v.Kind == String {
			s = "u" + s
		}
		if v.Truncated {
			s += fmt.Sprintf("... (len %d)", v.Len)
		}
		return s
	case Sequence:
		if v.Tuple {
			return fmt.Sprintf("tuple[%d]", len(v.Items))
		}
		return fmt.Sprintf("list[%d]", len(v.Items))
	case Mapping:
		return fmt.Sprintf("dict[%d]", len(v.Pairs))
	case Type:
		return fmt.Sprintf("<type %s>", v.Name)
	case Object:
		return fmt.Sprintf("<%s object>", v.Name)
	case Opaque:
		return fmt.Sprintf("<opaque: %s>", v.Reason)
	}
	return v.Kind.String()
}
