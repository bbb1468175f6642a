package layout

// Field is the abstract name of a value stored at a fixed offset in an
// interpreter object. Decoders only refer to fields by these names;
// offsets and widths come from the Descriptor.
type Field string

const (
	ObjectRefcnt Field = "object.refcnt"
	ObjectType   Field = "object.type"
	VarSize      Field = "var.size"

	TypeName       Field = "type.name"
	TypeBasicSize  Field = "type.basicsize"
	TypeItemSize   Field = "type.itemsize"
	TypeFlags      Field = "type.flags"
	TypeBase       Field = "type.base"
	TypeDictOffset Field = "type.dictoffset"

	IntValue   Field = "int.value"
	FloatValue Field = "float.value"
	// LongDigits is the offset of the inline digit array. Its width is
	// the size of one digit.
	LongDigits Field = "long.digits"
	// BytesData is the offset of the inline character array.
	BytesData     Field = "bytes.data"
	UnicodeLength Field = "unicode.length"
	UnicodeData   Field = "unicode.data"
	// TupleItems is the offset of the inline item array. Its width is
	// the item stride.
	TupleItems    Field = "tuple.items"
	ListItems     Field = "list.items"
	ListAllocated Field = "list.allocated"

	DictFill  Field = "dict.fill"
	DictUsed  Field = "dict.used"
	DictMask  Field = "dict.mask"
	DictTable Field = "dict.table"
	// DictEntry describes one slot of the hash table: its width is the
	// slot stride. The DictEntry* fields are relative to the slot.
	DictEntry      Field = "dict.entry"
	DictEntryHash  Field = "dict.entry.hash"
	DictEntryKey   Field = "dict.entry.key"
	DictEntryValue Field = "dict.entry.value"

	ClassBases    Field = "class.bases"
	ClassDict     Field = "class.dict"
	ClassName     Field = "class.name"
	InstanceClass Field = "instance.class"
	InstanceDict  Field = "instance.dict"
)

// Slot is the position of a field inside an object.
type Slot struct {
	Offset int `yaml:"offset"`
	Width  int `yaml:"width"`
}

// End returns the offset one past the last byte of the slot.
func (s Slot) End() int {
	return s.Offset + s.Width
}

var requiredFields = map[Kind][]Field{
	KindObject:   {ObjectRefcnt, ObjectType},
	KindType:     {VarSize, TypeName, TypeBasicSize, TypeItemSize, TypeFlags, TypeBase, TypeDictOffset},
	KindBool:     {IntValue},
	KindInt:      {IntValue},
	KindLong:     {VarSize, LongDigits},
	KindFloat:    {FloatValue},
	KindBytes:    {VarSize, BytesData},
	KindUnicode:  {UnicodeLength, UnicodeData},
	KindTuple:    {VarSize, TupleItems},
	KindList:     {VarSize, ListItems, ListAllocated},
	KindDict:     {DictFill, DictUsed, DictMask, DictTable, DictEntry, DictEntryHash, DictEntryKey, DictEntryValue},
	KindClass:    {ClassBases, ClassDict, ClassName},
	KindInstance: {InstanceClass, InstanceDict},
}

// tailFields start the variable-length part of an object and may lie at or
// beyond the end of the fixed header.
var tailFields = map[Field]bool{
	LongDigits: true,
	BytesData:  true,
	TupleItems: true,
	DictEntry:  true,
}

var entryFields = map[Field]bool{
	DictEntryHash:  true,
	DictEntryKey:   true,
	DictEntryValue: true,
}
