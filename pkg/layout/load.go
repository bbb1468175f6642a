package layout

import (
	"encoding/binary"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"
)

// file is the on-disk form of a Descriptor. A file with a base inherits
// everything from the named layout and overrides what it sets.
type file struct {
	Name      string `yaml:"name"`
	Base      string `yaml:"base"`
	PtrSize   int    `yaml:"ptr-size"`
	ByteOrder string `yaml:"byte-order"`
	LongDigit struct {
		Size int `yaml:"size"`
		Bits int `yaml:"bits"`
	} `yaml:"long-digit"`
	UnicodeSize   int               `yaml:"unicode-size"`
	MaxTypeName   int               `yaml:"max-type-name"`
	Kinds         map[string]string `yaml:"kinds"`
	SubclassFlags map[string]uint64 `yaml:"subclass-flags"`
	Headers       map[string]int    `yaml:"headers"`
	Fields        map[string]Slot   `yaml:"fields"`
}

func parseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}

func parseFile(data []byte) (*file, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, err
	}
	if f.Name == "" {
		return nil, fmt.Errorf("layout has no name")
	}
	return &f, nil
}

// build applies f on top of base, which may be nil.
func (f *file) build(base *Descriptor) (*Descriptor, error) {
	var d *Descriptor
	if base != nil {
		d = base.clone()
	} else {
		d = &Descriptor{
			kinds:         map[string]Kind{},
			subclassFlags: map[Kind]uint64{},
			headers:       map[Kind]int{},
			fields:        map[Field]Slot{},
		}
	}
	d.name = f.Name
	if f.PtrSize != 0 {
		d.ptrSize = f.PtrSize
	}
	if f.ByteOrder != "" {
		bo, err := parseByteOrder(f.ByteOrder)
		if err != nil {
			return nil, fmt.Errorf("layout %q: %v", f.Name, err)
		}
		d.byteOrder = bo
	}
	if f.LongDigit.Size != 0 {
		d.longDigitSize = f.LongDigit.Size
	}
	if f.LongDigit.Bits != 0 {
		d.longDigitBits = f.LongDigit.Bits
	}
	if f.UnicodeSize != 0 {
		d.unicodeSize = f.UnicodeSize
	}
	if f.MaxTypeName != 0 {
		d.maxTypeName = f.MaxTypeName
	}
	for name, ks := range f.Kinds {
		k, err := ParseKind(ks)
		if err != nil {
			return nil, fmt.Errorf("layout %q: type %q: %v", f.Name, name, err)
		}
		d.kinds[name] = k
	}
	for ks, bit := range f.SubclassFlags {
		k, err := ParseKind(ks)
		if err != nil {
			return nil, fmt.Errorf("layout %q: subclass flag: %v", f.Name, err)
		}
		d.subclassFlags[k] = bit
	}
	for ks, size := range f.Headers {
		k, err := ParseKind(ks)
		if err != nil {
			return nil, fmt.Errorf("layout %q: header: %v", f.Name, err)
		}
		d.headers[k] = size
	}
	for name, slot := range f.Fields {
		d.fields[Field(name)] = slot
	}
	return d, nil
}

// Parse builds a descriptor from YAML. If the layout names a base, lookup
// is used to find it.
func Parse(data []byte, lookup func(name string) (*Descriptor, error)) (*Descriptor, error) {
	f, err := parseFile(data)
	if err != nil {
		return nil, err
	}
	var base *Descriptor
	if f.Base != "" {
		if lookup == nil {
			return nil, fmt.Errorf("layout %q: no way to resolve base %q", f.Name, f.Base)
		}
		base, err = lookup(f.Base)
		if err != nil {
			return nil, fmt.Errorf("layout %q: base: %w", f.Name, err)
		}
	}
	d, err := f.build(base)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
