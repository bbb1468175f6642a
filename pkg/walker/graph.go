package walker

import (
	"fmt"

	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/objects"
)

// Status is the terminal state of a visited address.
type Status uint8

const (
	// Decoded nodes were read and decoded cleanly.
	Decoded Status = iota
	// Unreadable nodes could not be read, Err is a *remote.UnreadableError.
	Unreadable
	// Unsupported nodes were read but are inconsistent with the layout,
	// Err is usually a *objects.DecodeError.
	Unsupported
)

func (s Status) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Unreadable:
		return "unreadable"
	case Unsupported:
		return "unsupported"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Node is the result of visiting one address.
type Node struct {
	Addr   uint64
	Status Status
	Value  objects.Value
	// Edges are the addresses the object refers to, in order. Failed
	// nodes have none.
	Edges []objects.Address
	// Depth is the breadth-first distance from the root.
	Depth int

	TypeAddr uint64
	TypeName string
	// Kind is the decoder that was used.
	Kind layout.Kind
	// Expect is the kind the referring object expected, if any.
	Expect layout.Kind

	Err error
}

var nullNode = Node{Status: Decoded, Value: objects.NullValue()}

// Graph is the result of a walk: a node for every visited address. It
// holds no reference to the memory it was read from.
type Graph struct {
	root   uint64
	layout string

	nodes map[uint64]*Node
	order []*Node

	truncated      map[uint64]bool
	truncatedOrder []uint64

	stopped bool
}

func newGraph(root uint64, layout string) *Graph {
	return &Graph{
		root:      root,
		layout:    layout,
		nodes:     make(map[uint64]*Node),
		truncated: make(map[uint64]bool),
	}
}

func (g *Graph) add(n *Node) {
	g.nodes[n.Addr] = n
	g.order = append(g.order, n)
}

func (g *Graph) truncate(addr uint64) {
	if !g.truncated[addr] {
		g.truncated[addr] = true
		g.truncatedOrder = append(g.truncatedOrder, addr)
	}
}

// Root returns the address the walk started from.
func (g *Graph) Root() uint64 { return g.root }

// Layout returns the name of the layout used to decode the graph.
func (g *Graph) Layout() string { return g.layout }

// Node returns the node for addr, or nil if addr was not visited. The zero
// address always resolves to a Null node.
func (g *Graph) Node(addr uint64) *Node {
	if addr == 0 {
		n := nullNode
		return &n
	}
	return g.nodes[addr]
}

// Len returns the number of visited addresses.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns all nodes in the order they were visited.
func (g *Graph) Nodes() []*Node {
	return g.order
}

// RootValue returns the decoded value of the root.
func (g *Graph) RootValue() objects.Value {
	if n := g.Node(g.root); n != nil {
		return n.Value
	}
	return objects.OpaqueValue("root not visited")
}

// Failed reports whether any node could not be decoded.
func (g *Graph) Failed() bool {
	for _, n := range g.order {
		if n.Status != Decoded {
			return true
		}
	}
	return false
}

// Failures returns the nodes that could not be decoded, in visit order.
func (g *Graph) Failures() []*Node {
	var r []*Node
	for _, n := range g.order {
		if n.Status != Decoded {
			r = append(r, n)
		}
	}
	return r
}

// Truncated returns the addresses that were referenced but not visited
// because a limit was reached, in the order they were found.
func (g *Graph) Truncated() []uint64 {
	return g.truncatedOrder
}

// IsTruncated reports whether addr was left unvisited because of a limit.
func (g *Graph) IsTruncated(addr uint64) bool {
	return g.truncated[addr]
}

// Stopped reports whether the walk was ended by Config.Stop.
func (g *Graph) Stopped() bool {
	return g.stopped
}
