package cmds

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/pywalk/pkg/config"
	"github.com/go-delve/pywalk/pkg/dump"
	"github.com/go-delve/pywalk/pkg/heaptest"
	"github.com/go-delve/pywalk/pkg/layout"
)

// setup writes a fake heap and a configuration file to a temporary
// directory and returns the path of the heap and the address of its root,
// the dictionary {"a": 1, "b": [2, <unreadable>]}.
func setup(t *testing.T, confData string) (string, uint64) {
	t.Helper()
	dir := t.TempDir()
	confPath := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(confPath, []byte(confData), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PYWALK_CONFIG", confPath)

	d, err := layout.Lookup(layout.DefaultLayout)
	if err != nil {
		t.Fatal(err)
	}
	h := heaptest.New(d)
	root := h.Dict(h.Str("a"), h.Int(1), h.Str("b"), h.List(h.Int(2), heaptest.Unmapped))
	heapPath := filepath.Join(dir, "heap.bin")
	if err := os.WriteFile(heapPath, h.Contents(), 0600); err != nil {
		t.Fatal(err)
	}
	return heapPath, root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func imageArgs(heap string, root uint64, extra ...string) []string {
	return append([]string{"image", heap, fmt.Sprintf("%#x", heaptest.Base), fmt.Sprintf("%#x", root)}, extra...)
}

func TestImageCommand(t *testing.T) {
	heap, root := setup(t, "")
	out, err := run(t, imageArgs(heap, root, "--format", "yaml")...)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	s, err := dump.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if s.Layout != layout.DefaultLayout || uint64(s.Root) != root {
		t.Errorf("got layout %s root %v", s.Layout, s.Root)
	}
	if len(s.Nodes) != 7 {
		t.Errorf("%d nodes, want 7", len(s.Nodes))
	}
	if n := s.Index()[s.Root]; n == nil || n.Kind != "mapping" || len(n.Pairs) != 2 {
		t.Errorf("root node %+v", n)
	}

	out, err = run(t, imageArgs(heap, root)...)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if !strings.Contains(out, "\"a\": 1\n") {
		t.Errorf("text output:\n%s", out)
	}
}

func TestStrict(t *testing.T) {
	heap, root := setup(t, "")
	if _, err := run(t, imageArgs(heap, root)...); err != nil {
		t.Fatalf("failures without --strict: %v", err)
	}
	_, err := run(t, imageArgs(heap, root, "--strict")...)
	if !errors.Is(err, errFailedNodes) {
		t.Fatalf("expected errFailedNodes, got %v", err)
	}
}

func TestLimitsFromConfig(t *testing.T) {
	heap, root := setup(t, "max-depth: 0\nformat: yaml\n")
	out, err := run(t, imageArgs(heap, root)...)
	if err != nil {
		t.Fatal(err)
	}
	s, err := dump.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Nodes) != 1 || len(s.Truncated) != 4 {
		t.Errorf("%d nodes, %d truncated", len(s.Nodes), len(s.Truncated))
	}

	out, err = run(t, imageArgs(heap, root, "--max-depth", "1")...)
	if err != nil {
		t.Fatal(err)
	}
	if s, err = dump.Read(strings.NewReader(out)); err != nil {
		t.Fatal(err)
	}
	if len(s.Nodes) != 5 {
		t.Errorf("flag did not override config: %d nodes", len(s.Nodes))
	}
}

func TestStopFlag(t *testing.T) {
	heap, root := setup(t, "")
	out, err := run(t, imageArgs(heap, root, "--format", "yaml", "--stop", "visited >= 2")...)
	if err != nil {
		t.Fatal(err)
	}
	s, err := dump.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Nodes) != 2 || !s.Stopped {
		t.Errorf("%d nodes, stopped=%v", len(s.Nodes), s.Stopped)
	}

	if _, err := run(t, imageArgs(heap, root, "--stop", "visited >")...); err == nil {
		t.Errorf("bad stop expression accepted")
	}
}

func TestSaveAndShow(t *testing.T) {
	heap, root := setup(t, "")
	saved := filepath.Join(t.TempDir(), "walk.cbor.zst")
	if _, err := run(t, imageArgs(heap, root, "--format", "cbor", "--compress", "-o", saved)...); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "show", saved)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "dict[2]") || !strings.Contains(out, "<unreadable>") {
		t.Errorf("show output:\n%s", out)
	}
}

func TestLayouts(t *testing.T) {
	setup(t, "layout-aliases:\n  py27: cpython-2.7-amd64\n")
	out, err := run(t, "layouts", "cpython-2.7-a")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "cpython-2.7-amd64\t64-bit LittleEndian\n") || !strings.Contains(out, "cpython-2.7-amd64-ucs2\t") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Contains(out, "386") {
		t.Errorf("prefix not applied:\n%s", out)
	}

	out, err = run(t, "layouts", "-v", "cpython-2.7-386")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\tdict\tdict\n") || !strings.Contains(out, "\tclassobj\tclass\n") {
		t.Errorf("verbose output:\n%s", out)
	}

	out, err = run(t, "layouts", "py")
	if err != nil {
		t.Fatal(err)
	}
	if out != "py27\talias of cpython-2.7-amd64\n" {
		t.Errorf("aliases: %q", out)
	}
}

func TestUnknownLayout(t *testing.T) {
	heap, root := setup(t, "")
	_, err := run(t, imageArgs(heap, root, "--layout", "cpython-2.7")...)
	if !errors.Is(err, layout.ErrUnknownLayout) || !strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("got %v", err)
	}

	setup(t, "layout-aliases:\n  py27: cpython-2.7-386\n")
	if _, err := run(t, imageArgs(heap, root, "--layout", "py27")...); err != nil {
		t.Fatalf("alias: %v", err)
	}
}

func TestBadArguments(t *testing.T) {
	setup(t, "")
	for _, args := range [][]string{
		{"image", "heap.bin", "0x1000"},
		{"image", "heap.bin", "nope", "0x1000"},
		{"attach", "pid", "0x1000"},
		{"image", "/does/not/exist", "0x1000", "0x1000"},
	} {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%v: no error", args)
		}
	}
}

func TestLayoutFile(t *testing.T) {
	heap, root := setup(t, "")
	lf := filepath.Join(t.TempDir(), "custom.yml")
	if err := os.WriteFile(lf, []byte("name: cpython-2.7-amd64-custom\nbase: cpython-2.7-amd64\nmax-type-name: 64\n"), 0600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, imageArgs(heap, root, "--layout-file", lf, "--layout", "cpython-2.7-amd64-custom", "--format", "yaml")...)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	s, err := dump.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if s.Layout != "cpython-2.7-amd64-custom" {
		t.Errorf("layout %s", s.Layout)
	}
}

func TestConfigSave(t *testing.T) {
	heap, root := setup(t, "max-depth: 0\nformat: yaml\n")
	confPath := os.Getenv("PYWALK_CONFIG")

	out, err := run(t, "config", "--max-depth", "1", "--stop", "visited > 100")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "max-depth: 1\n") {
		t.Errorf("config output:\n%s", out)
	}
	if c, err := config.LoadConfigFile(confPath); err != nil || *c.MaxDepth != 0 {
		t.Fatalf("config changed without --save: %v", err)
	}

	if _, err := run(t, "config", "--max-depth", "1", "--stop", "visited > 100", "--save"); err != nil {
		t.Fatal(err)
	}
	c, err := config.LoadConfigFile(confPath)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxDepth == nil || *c.MaxDepth != 1 || c.Stop != "visited > 100" || c.Format != "yaml" {
		t.Errorf("saved config %+v", c)
	}

	out, err = run(t, imageArgs(heap, root)...)
	if err != nil {
		t.Fatal(err)
	}
	s, err := dump.Read(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Nodes) != 5 {
		t.Errorf("saved max-depth not used: %d nodes", len(s.Nodes))
	}

	for _, args := range [][]string{
		{"config", "--stop", "visited >", "--save"},
		{"config", "--format", "xml", "--save"},
		{"config", "--layout", "cpython-9", "--save"},
	} {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%v: no error", args)
		}
	}
	if c, err := config.LoadConfigFile(confPath); err != nil || c.Stop != "visited > 100" {
		t.Errorf("invalid configuration saved: %+v %v", c, err)
	}
}
