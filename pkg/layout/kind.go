package layout

import "fmt"

// Kind identifies which object decoder handles a block of memory.
// The set of kinds is closed: every layout maps interpreter type names
// onto these values.
type Kind uint8

const (
	// KindAny is used by typed addresses that carry no expectation.
	KindAny Kind = iota
	KindNone
	KindBool
	KindInt
	KindLong
	KindFloat
	KindBytes
	KindUnicode
	KindTuple
	KindList
	KindDict
	KindType
	KindClass
	KindInstance
	// KindObject is any other object. Its attributes, if it has a
	// dictionary, are reachable through the type's dictionary offset.
	KindObject

	numKinds
)

var kindNames = [...]string{
	KindAny:      "any",
	KindNone:     "none",
	KindBool:     "bool",
	KindInt:      "int",
	KindLong:     "long",
	KindFloat:    "float",
	KindBytes:    "bytes",
	KindUnicode:  "unicode",
	KindTuple:    "tuple",
	KindList:     "list",
	KindDict:     "dict",
	KindType:     "type",
	KindClass:    "class",
	KindInstance: "instance",
	KindObject:   "object",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind with the given name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindAny, fmt.Errorf("unknown kind %q", s)
}

// Kinds returns every concrete kind, in declaration order.
func Kinds() []Kind {
	r := make([]Kind, 0, numKinds-1)
	for k := KindNone; k < numKinds; k++ {
		r = append(r, k)
	}
	return r
}
