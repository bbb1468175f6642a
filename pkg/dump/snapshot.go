// Package dump renders walk results as text, YAML or CBOR, optionally
// zstd compressed, and reads saved YAML and CBOR snapshots back.
package dump

import (
	"fmt"
	"strconv"

	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/walker"
)

// Addr is a remote address. It is written as a hex string in YAML and as
// an unsigned integer in CBOR.
type Addr uint64

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// MarshalYAML implements yaml.Marshaler.
func (a Addr) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Addr) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("bad address %q: %v", s, err)
	}
	*a = Addr(v)
	return nil
}

// Snapshot is the serializable form of a walker.Graph.
type Snapshot struct {
	Layout    string `yaml:"layout" cbor:"layout"`
	Root      Addr   `yaml:"root" cbor:"root"`
	Stopped   bool   `yaml:"stopped,omitempty" cbor:"stopped,omitempty"`
	Nodes     []Node `yaml:"nodes" cbor:"nodes"`
	Truncated []Addr `yaml:"truncated,omitempty" cbor:"truncated,omitempty"`
}

// Node is one visited address.
type Node struct {
	Addr   Addr   `yaml:"addr" cbor:"addr"`
	Status string `yaml:"status" cbor:"status"`
	Depth  int    `yaml:"depth" cbor:"depth"`
	Type   string `yaml:"type,omitempty" cbor:"type,omitempty"`
	Kind   string `yaml:"kind" cbor:"kind"`
	// Value is the rendering of scalars, the name of types and the reason
	// of opaque values.
	Value     string `yaml:"value,omitempty" cbor:"value,omitempty"`
	Len       int64  `yaml:"len,omitempty" cbor:"len,omitempty"`
	Truncated bool   `yaml:"truncated,omitempty" cbor:"truncated,omitempty"`
	Tuple     bool   `yaml:"tuple,omitempty" cbor:"tuple,omitempty"`
	Items     []Addr `yaml:"items,omitempty" cbor:"items,omitempty"`
	Pairs     []Pair `yaml:"pairs,omitempty" cbor:"pairs,omitempty"`
	Refs      []Ref  `yaml:"refs,omitempty" cbor:"refs,omitempty"`
	Error     string `yaml:"error,omitempty" cbor:"error,omitempty"`
}

// Pair is one mapping entry.
type Pair struct {
	Key   Addr `yaml:"key" cbor:"key"`
	Value Addr `yaml:"value" cbor:"value"`
}

// Ref is a named reference of a type or object.
type Ref struct {
	Name string `yaml:"name" cbor:"name"`
	Addr Addr   `yaml:"addr" cbor:"addr"`
}

// NewSnapshot converts g.
func NewSnapshot(g *walker.Graph) *Snapshot {
	s := &Snapshot{
		Layout:  g.Layout(),
		Root:    Addr(g.Root()),
		Stopped: g.Stopped(),
		Nodes:   make([]Node, 0, g.Len()),
	}
	for _, n := range g.Nodes() {
		s.Nodes = append(s.Nodes, convertNode(n))
	}
	for _, a := range g.Truncated() {
		s.Truncated = append(s.Truncated, Addr(a))
	}
	return s
}

func convertNode(n *walker.Node) Node {
	v := &n.Value
	r := Node{
		Addr:      Addr(n.Addr),
		Status:    n.Status.String(),
		Depth:     n.Depth,
		Type:      n.TypeName,
		Kind:      v.Kind.String(),
		Len:       v.Len,
		Truncated: v.Truncated,
		Tuple:     v.Tuple,
	}
	switch v.Kind {
	case objects.Sequence:
		r.Items = make([]Addr, len(v.Items))
		for i, it := range v.Items {
			r.Items[i] = Addr(it)
		}
	case objects.Mapping:
		r.Pairs = make([]Pair, len(v.Pairs))
		for i, p := range v.Pairs {
			r.Pairs[i] = Pair{Addr(p.Key), Addr(p.Value)}
		}
	case objects.Type, objects.Object:
		r.Value = v.Name
	case objects.Opaque:
		r.Value = v.Reason
	default:
		r.Value = v.String()
	}
	for _, ref := range v.Refs {
		r.Refs = append(r.Refs, Ref{ref.Name, Addr(ref.Addr)})
	}
	if n.Err != nil {
		r.Error = n.Err.Error()
	}
	return r
}

// Index returns a map from address to node.
func (s *Snapshot) Index() map[Addr]*Node {
	m := make(map[Addr]*Node, len(s.Nodes))
	for i := range s.Nodes {
		m[s.Nodes[i].Addr] = &s.Nodes[i]
	}
	return m
}
