package dump

import (
	"bytes"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/go-delve/pywalk/pkg/heaptest"
	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/walker"
)

func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	d, err := layout.Lookup(layout.DefaultLayout)
	if err != nil {
		t.Fatal(err)
	}
	h := heaptest.New(d)
	list := h.List(h.Int(2), h.Float(3.5), heaptest.Unmapped)
	root := h.Dict(h.Str("a"), h.Int(1), h.Str("b"), list, h.Unicode("c"), h.None())
	g, err := walker.Walk(h.Image(), d, objects.Address{Addr: root}, walker.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return NewSnapshot(g)
}

func TestText(t *testing.T) {
	s := testSnapshot(t)
	var buf bytes.Buffer
	if err := Text(&buf, s, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	t.Logf("%s", out)
	for _, want := range []string{
		"layout cpython-2.7-amd64, root " + s.Root.String() + ", 10 nodes\n",
		s.Root.String() + " dict dict[3]\n",
		"    \"a\": 1\n",
		"    \"b\": list[3] @",
		"    u\"c\": None\n",
		"    [1] 3.5\n",
		"    [2] @0xdead0000 <unreadable>\n",
		"0xdead0000 ? <unreadable>\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q", want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colors written")
	}

	buf.Reset()
	if err := Text(&buf, s, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), colorAddr+s.Root.String()+colorReset) {
		t.Errorf("no colors written")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testSnapshot(t)
	for _, opts := range []Options{
		{Format: FormatYAML},
		{Format: FormatYAML, Compress: true},
		{Format: FormatCBOR},
		{Format: FormatCBOR, Compress: true},
	} {
		var buf bytes.Buffer
		if err := Write(&buf, s, opts); err != nil {
			t.Fatalf("%+v: %v", opts, err)
		}
		got, err := Read(&buf)
		if err != nil {
			t.Fatalf("%+v: %v", opts, err)
		}
		if !reflect.DeepEqual(got, s) {
			t.Errorf("%+v: round trip mismatch\n%#v\n%#v", opts, got, s)
		}
	}
}

func TestYAMLAddresses(t *testing.T) {
	s := testSnapshot(t)
	var buf bytes.Buffer
	if err := Write(&buf, s, Options{Format: FormatYAML}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, s.Root.String()) || strings.Contains(out, strconv.FormatUint(uint64(s.Root), 10)) {
		t.Errorf("root not written as hex:\n%s", out)
	}
}

func TestCompressedText(t *testing.T) {
	s := testSnapshot(t)
	var plain, compressed bytes.Buffer
	if err := Write(&plain, s, Options{Format: FormatText}); err != nil {
		t.Fatal(err)
	}
	if err := Write(&compressed, s, Options{Format: FormatText, Compress: true}); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(compressed.Bytes(), zstdMagic) {
		t.Errorf("output is not zstd compressed")
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{FormatText, FormatYAML, FormatCBOR} {
		got, err := ParseFormat(strings.ToUpper(f.String()))
		if err != nil || got != f {
			t.Errorf("ParseFormat(%v) = %v, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("json"); err == nil {
		t.Errorf("json accepted")
	}
}
