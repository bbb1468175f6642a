package objects_test

import (
	"errors"
	"math"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/go-delve/pywalk/pkg/heaptest"
	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/remote"
)

func mustLayout(t *testing.T, name string) *layout.Descriptor {
	t.Helper()
	d, err := layout.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return d
}

// decodeAt does by hand what the walker does for one node.
func decodeAt(h *heaptest.Heap, addr uint64, lim objects.Limits) (objects.Value, []objects.Address, error) {
	d := h.Descriptor()
	mem := h.Image()
	obj, err := remote.Read(mem, addr, d.Header(layout.KindObject))
	if err != nil {
		return objects.Value{}, nil, err
	}
	typ, _ := d.Uint(obj, layout.ObjectType)
	tbuf, err := remote.Read(mem, typ, d.Header(layout.KindType))
	if err != nil {
		return objects.Value{}, nil, err
	}
	ti, err := objects.DecodeType(d, tbuf, typ, objects.Tail(mem))
	if err != nil {
		return objects.Value{}, nil, err
	}
	kind := d.Classify(ti.Name, ti.Flags)
	buf, err := remote.Read(mem, addr, d.Header(kind))
	if err != nil {
		return objects.Value{}, nil, err
	}
	return objects.Decode(d, kind, ti, buf, addr, objects.Tail(mem), lim)
}

func mustDecode(t *testing.T, h *heaptest.Heap, addr uint64) (objects.Value, []objects.Address) {
	t.Helper()
	v, edges, err := decodeAt(h, addr, objects.DefaultLimits())
	if err != nil {
		t.Fatalf("decoding %#x: %v", addr, err)
	}
	return v, edges
}

func assertDecodeError(t *testing.T, err error, reason string) {
	t.Helper()
	var derr *objects.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v (%T)", err, err)
	}
	if !strings.Contains(derr.Reason, reason) {
		t.Errorf("reason %q does not mention %q", derr.Reason, reason)
	}
}

func TestDecodeZeroAddress(t *testing.T) {
	for _, name := range layout.Names() {
		d := mustLayout(t, name)
		for _, k := range layout.Kinds() {
			v, edges, err := objects.Decode(d, k, nil, nil, 0, nil, objects.DefaultLimits())
			if err != nil {
				t.Errorf("%s %v: %v", name, k, err)
				continue
			}
			if v.Kind != objects.Null || len(edges) != 0 {
				t.Errorf("%s %v: got %v with %d edges", name, k, v, len(edges))
			}
		}
	}
}

func TestDigitsToInt(t *testing.T) {
	x := objects.DigitsToInt(true, []uint64{0x3FFFFFFF, 0x1}, 30)
	want := new(big.Int).Add(big.NewInt(0x3FFFFFFF), new(big.Int).Lsh(big.NewInt(1), 30))
	want.Neg(want)
	if x.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", x, want)
	}
	if x := objects.DigitsToInt(false, nil, 30); x.Sign() != 0 {
		t.Fatalf("no digits: got %v", x)
	}
}

func TestDecodeScalars(t *testing.T) {
	huge, _ := new(big.Int).SetString("-123456789012345678901234567890", 10)
	for _, name := range layout.Names() {
		h := heaptest.New(mustLayout(t, name))
		tests := []struct {
			addr uint64
			kind objects.Kind
			want string
		}{
			{h.None(), objects.Null, "None"},
			{h.Bool(true), objects.Bool, "True"},
			{h.Bool(false), objects.Bool, "False"},
			{h.Int(-42), objects.Int, "-42"},
			{h.Long(big.NewInt(0)), objects.Int, "0"},
			{h.Long(big.NewInt(1 << 40)), objects.Int, "1099511627776"},
			{h.Long(huge), objects.Int, huge.String()},
			{h.Float(1.5), objects.Float, "1.5"},
			{h.Float(math.Inf(-1)), objects.Float, "-inf"},
			{h.Float(math.NaN()), objects.Float, "nan"},
			{h.Str("hello"), objects.Bytes, `"hello"`},
			{h.Str(""), objects.Bytes, `""`},
			{h.Unicode("héllo \U0001F600"), objects.String, "u\"héllo \U0001F600\""},
		}
		for _, tc := range tests {
			v, edges := mustDecode(t, h, tc.addr)
			if v.Kind != tc.kind {
				t.Errorf("%s: kind %v, want %v", name, v.Kind, tc.kind)
			}
			if got := v.String(); got != tc.want {
				t.Errorf("%s: got %s, want %s", name, got, tc.want)
			}
			if len(edges) != 0 {
				t.Errorf("%s: %s has %d edges", name, tc.want, len(edges))
			}
		}
	}
}

func TestLongRoundTrip(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	v, _ := mustDecode(t, h, h.LongDigits(true, []uint64{0x3FFFFFFF, 0x1}))
	want := -(int64(0x3FFFFFFF) + 1<<30)
	if x, ok := v.Int64(); !ok || x != want {
		t.Fatalf("got %v, want %d", v, want)
	}
	if v.Len != 2 {
		t.Errorf("digit count %d", v.Len)
	}
}

func TestLongBadDigit(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	_, _, err := decodeAt(h, h.LongDigits(false, []uint64{1 << 30}), objects.DefaultLimits())
	assertDecodeError(t, err, "does not fit")
}

func TestBigEndian(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-s390x"))
	if v, _ := mustDecode(t, h, h.Int(0x0102030405)); v.String() != "4328719365" {
		t.Errorf("int: got %v", v)
	}
	if v, _ := mustDecode(t, h, h.Float(-2.25)); v.String() != "-2.25" {
		t.Errorf("float: got %v", v)
	}
	raw := h.Bytes(h.Int(1), 24)
	if raw[23] != 1 {
		t.Errorf("int value not stored big endian: % x", raw)
	}
}

func TestStringTruncation(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	lim := objects.DefaultLimits()
	lim.MaxStringLen = 3
	for _, addr := range []uint64{h.Str("abcdef"), h.Unicode("abcdef")} {
		v, _, err := decodeAt(h, addr, lim)
		if err != nil {
			t.Fatal(err)
		}
		if v.Str() != "abc" || !v.Truncated || v.Len != 6 {
			t.Errorf("got %q truncated=%v len=%d", v.Str(), v.Truncated, v.Len)
		}
		if !strings.HasSuffix(v.String(), "... (len 6)") {
			t.Errorf("String() = %s", v.String())
		}
	}
}

func TestStringImplausibleLength(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	s := h.Str("abc")
	h.SetInt(s, layout.VarSize, -1)
	_, _, err := decodeAt(h, s, objects.DefaultLimits())
	assertDecodeError(t, err, "implausible length")

	u := h.Unicode("abc")
	h.Set(u, layout.UnicodeData, 0)
	_, _, err = decodeAt(h, u, objects.DefaultLimits())
	assertDecodeError(t, err, "no character buffer")
}

func TestUCS2(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64-ucs2"))
	v, _ := mustDecode(t, h, h.Unicode("x\U0001F600"))
	if v.Str() != "x\U0001F600" {
		t.Errorf("got %q", v.Str())
	}
	if v.Len != 3 {
		t.Errorf("code units: got %d, want 3", v.Len)
	}
}

func TestSequences(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	a, b := h.Int(1), h.Int(2)

	v, edges := mustDecode(t, h, h.Tuple(a, b, 0))
	if !v.Tuple || v.Len != 3 || !reflect.DeepEqual(v.Items, []uint64{a, b, 0}) {
		t.Errorf("tuple: %#v", v)
	}
	if len(edges) != 3 || edges[2].Addr != 0 {
		t.Errorf("tuple edges: %v", edges)
	}

	v, edges = mustDecode(t, h, h.ListCap(8, a, b))
	if v.Tuple || !reflect.DeepEqual(v.Items, []uint64{a, b}) {
		t.Errorf("list: %#v", v)
	}
	if len(edges) != 2 {
		t.Errorf("spare capacity surfaced: %v", edges)
	}

	v, _ = mustDecode(t, h, h.ListCap(0))
	if v.Kind != objects.Sequence || len(v.Items) != 0 {
		t.Errorf("empty list: %#v", v)
	}
}

func TestListLengthExceedsCapacity(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	l := h.ListCap(2, h.Int(1), h.Int(2))
	h.SetInt(l, layout.VarSize, 3)
	_, _, err := decodeAt(h, l, objects.DefaultLimits())
	assertDecodeError(t, err, "exceeds allocated capacity")

	tup := h.Tuple(h.Int(1))
	h.SetInt(tup, layout.VarSize, 1<<40)
	_, _, err = decodeAt(h, tup, objects.DefaultLimits())
	assertDecodeError(t, err, "implausible length")
}

func TestUnreadableTail(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	l := h.List(h.Int(1))
	h.Set(l, layout.ListItems, heaptest.Unmapped)
	_, _, err := decodeAt(h, l, objects.DefaultLimits())
	var uerr *remote.UnreadableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnreadableError, got %v", err)
	}
	if uerr.Addr != heaptest.Unmapped || uerr.Len != 8 {
		t.Errorf("got %#x+%d", uerr.Addr, uerr.Len)
	}
}

func TestDict(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	k1, v1 := h.Str("a"), h.Int(1)
	k2 := h.Str("gone")
	k3, v3 := h.Str("b"), h.Int(2)
	d := h.DictTable(8, []heaptest.Entry{{Key: k1, Value: v1}, {Key: k2}, {Key: k3, Value: v3}})

	v, edges := mustDecode(t, h, d)
	want := []objects.Pair{{Key: k1, Value: v1}, {Key: k3, Value: v3}}
	if !reflect.DeepEqual(v.Pairs, want) {
		t.Errorf("pairs: got %v, want %v", v.Pairs, want)
	}
	if v.Len != 2 || len(edges) != 4 {
		t.Errorf("len %d, %d edges", v.Len, len(edges))
	}
	for _, e := range edges {
		if e.Addr == k2 {
			t.Errorf("deleted key surfaced")
		}
	}
}

func TestDictInconsistent(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	tests := []struct {
		field  layout.Field
		value  int64
		reason string
	}{
		{layout.DictMask, 6, "power of two"},
		{layout.DictUsed, 2, "occupied slots"},
		{layout.DictFill, 9, "inconsistent counts"},
		{layout.DictTable, 0, "no hash table"},
	}
	for _, tc := range tests {
		d := h.Dict(h.Str("a"), h.Int(1))
		h.SetInt(d, layout.DictFill, 3)
		h.SetInt(d, tc.field, tc.value)
		_, _, err := decodeAt(h, d, objects.DefaultLimits())
		assertDecodeError(t, err, tc.reason)
	}
}

func TestDecodeIdempotent(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	for _, addr := range []uint64{
		h.Dict(h.Str("k"), h.Long(big.NewInt(-7))),
		h.Unicode("same"),
		h.Float(3.25),
	} {
		v1, e1 := mustDecode(t, h, addr)
		v2, e2 := mustDecode(t, h, addr)
		if !reflect.DeepEqual(v1, v2) || !reflect.DeepEqual(e1, e2) {
			t.Errorf("%#x decoded differently: %v / %v", addr, v1, v2)
		}
	}
}

func TestOldStyleClasses(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	bases := h.Tuple()
	cdict := h.Dict()
	class := h.Class("Foo", bases, cdict)

	v, edges := mustDecode(t, h, class)
	if v.Kind != objects.Type || v.Name != "Foo" {
		t.Errorf("class: %v", v)
	}
	if v.Ref("__bases__") != bases || v.Ref("__dict__") != cdict {
		t.Errorf("class refs: %v", v.Refs)
	}
	if len(edges) != 3 || edges[0].Expect != layout.KindTuple || edges[2].Expect != layout.KindBytes {
		t.Errorf("class edges: %v", edges)
	}

	idict := h.Dict(h.Str("x"), h.Int(1))
	v, edges = mustDecode(t, h, h.Instance(class, idict))
	if v.Kind != objects.Object || v.Ref("__class__") != class || v.Ref("__dict__") != idict {
		t.Errorf("instance: %#v", v)
	}
	if len(edges) != 2 || edges[0].Expect != layout.KindClass {
		t.Errorf("instance edges: %v", edges)
	}
}

func TestGenericObject(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	dict := h.Dict()
	v, edges := mustDecode(t, h, h.Generic("Point", dict))
	if v.Kind != objects.Object || v.Name != "Point" || v.Ref("__dict__") != dict {
		t.Errorf("got %#v", v)
	}
	if len(edges) != 1 || edges[0] != (objects.Address{Addr: dict, Expect: layout.KindDict}) {
		t.Errorf("edges: %v", edges)
	}

	v, edges = mustDecode(t, h, h.Generic("Point", 0))
	if len(v.Refs) != 0 || len(edges) != 0 {
		t.Errorf("object without dict: %v %v", v.Refs, edges)
	}
}

func TestNegativeDictOffset(t *testing.T) {
	d := mustLayout(t, "cpython-2.7-amd64")
	h := heaptest.New(d)
	// A variable-size object of 3 items of 8 bytes after a 24 byte
	// header, with its dict in the last word.
	typ := h.NewType("VarThing", 24, 8, -8, 0, 0)
	obj := h.Object(typ, 24+3*8)
	h.SetInt(obj, layout.VarSize, 3)
	dict := h.Dict()
	h.PutUint(obj+24+3*8-8, 8, dict)

	v, edges := mustDecode(t, h, obj)
	if v.Ref("__dict__") != dict || len(edges) != 1 {
		t.Errorf("got %v %v", v.Refs, edges)
	}
}

func TestBadDictOffset(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	typ := h.NewType("Broken", 16, 0, 16, 0, 0)
	_, _, err := decodeAt(h, h.Object(typ, 32), objects.DefaultLimits())
	assertDecodeError(t, err, "outside")
}

func TestTypeObjects(t *testing.T) {
	h := heaptest.New(mustLayout(t, "cpython-2.7-amd64"))
	long := strings.Repeat("n", 150)
	base := h.Type("object")
	typ := h.NewType(long, 32, 0, 0, 0, base)

	v, edges := mustDecode(t, h, typ)
	if v.Kind != objects.Type || v.Name != long {
		t.Errorf("got %v", v)
	}
	if len(edges) != 1 || edges[0] != (objects.Address{Addr: base, Expect: layout.KindType}) {
		t.Errorf("edges: %v", edges)
	}

	bad := h.NewType("bad\x01name", 32, 0, 0, 0, 0)
	_, _, err := decodeAt(h, h.Object(bad, 16), objects.DefaultLimits())
	assertDecodeError(t, err, "implausible type name")

	neg := h.NewType("neg", -1, 0, 0, 0, 0)
	_, _, err = decodeAt(h, h.Object(neg, 16), objects.DefaultLimits())
	assertDecodeError(t, err, "negative basic size")
}

func TestSubclassByFlags(t *testing.T) {
	d := mustLayout(t, "cpython-2.7-amd64")
	h := heaptest.New(d)
	sub := h.NewType("MyList", int64(d.Header(layout.KindList)), 0, 0, 0x02000000, h.Type("list"))
	l := h.List(h.Int(5))
	h.Set(l, layout.ObjectType, sub)

	v, edges := mustDecode(t, h, l)
	if v.Kind != objects.Sequence || len(edges) != 1 {
		t.Errorf("got %v", v)
	}
}

func TestShortHeader(t *testing.T) {
	d := mustLayout(t, "cpython-2.7-amd64")
	_, _, err := objects.Decode(d, layout.KindDict, nil, make([]byte, 8), 0x1000, nil, objects.DefaultLimits())
	assertDecodeError(t, err, "layout requires")
}
