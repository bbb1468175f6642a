// Package walker reconstructs the object graph reachable from a root
// address in the memory of another process.
//
// A walk is a breadth-first traversal: every address is read, its type
// resolved, and the matching decoder from package objects invoked. Each
// address is visited at most once. Failures are recorded on the node and
// never end the walk.
package walker

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/logflags"
	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/remote"
)

var (
	// ErrNilReader is returned when a walk is requested without memory
	// to read from.
	ErrNilReader = errors.New("no memory reader")
	// ErrNilLayout is returned when a walk is requested without a layout.
	ErrNilLayout = errors.New("no layout")
)

// Walker walks object graphs in one address space using one layout.
type Walker struct {
	mem  remote.MemoryReader
	desc *layout.Descriptor
	cfg  Config
}

// New returns a Walker. The layout is validated before anything is read.
func New(mem remote.MemoryReader, desc *layout.Descriptor, cfg Config) (*Walker, error) {
	if mem == nil {
		return nil, ErrNilReader
	}
	if desc == nil {
		return nil, ErrNilLayout
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if cfg.TypeCacheSize <= 0 {
		cfg.TypeCacheSize = defaultTypeCacheSize
	}
	return &Walker{mem: mem, desc: desc, cfg: cfg}, nil
}

// Walk is a one-shot New followed by Walk.
func Walk(mem remote.MemoryReader, desc *layout.Descriptor, root objects.Address, cfg Config) (*Graph, error) {
	w, err := New(mem, desc, cfg)
	if err != nil {
		return nil, err
	}
	return w.Walk(root), nil
}

// WalkLayout is like Walk with the layout looked up by name in the
// default registry.
func WalkLayout(mem remote.MemoryReader, name string, root objects.Address, cfg Config) (*Graph, error) {
	desc, err := layout.Lookup(name)
	if err != nil {
		return nil, err
	}
	return Walk(mem, desc, root, cfg)
}

type queued struct {
	addr  objects.Address
	depth int
}

type typeEntry struct {
	ti  *objects.TypeInfo
	err error
}

// walk is the state of one walk.
type walk struct {
	*Walker
	g        *Graph
	log      logflags.Logger
	types    *lru.Cache[uint64, typeEntry]
	visited  map[uint64]bool
	queue    []queued
	progress Progress
}

// Walk walks the graph reachable from root. It never fails: addresses
// that cannot be decoded are recorded as Unreadable or Unsupported nodes.
func (w *Walker) Walk(root objects.Address) *Graph {
	types, err := lru.New[uint64, typeEntry](w.cfg.TypeCacheSize)
	if err != nil {
		// only possible with a non-positive size, excluded by New
		panic(err)
	}
	s := &walk{
		Walker:  w,
		g:       newGraph(root.Addr, w.desc.Name()),
		log:     logflags.WalkerLogger(),
		types:   types,
		visited: map[uint64]bool{root.Addr: true},
		queue:   []queued{{addr: root}},
	}
	if root.Null() {
		n := nullNode
		n.Expect = root.Expect
		s.g.add(&n)
		return s.g
	}
	s.run()
	return s.g
}

func (s *walk) run() {
	for len(s.queue) > 0 {
		s.progress.Queued = len(s.queue)
		s.progress.Depth = s.queue[0].depth
		if s.cfg.Stop != nil && s.cfg.Stop(s.progress) {
			s.log.Infof("walk stopped with %d nodes visited, %d queued", s.progress.Visited, len(s.queue))
			for _, q := range s.queue {
				s.g.truncate(q.addr.Addr)
			}
			s.queue = nil
			s.g.stopped = true
			break
		}
		q := s.queue[0]
		s.queue[0] = queued{}
		s.queue = s.queue[1:]

		n := s.visit(q.addr, q.depth)
		s.g.add(n)
		s.progress.Visited++
		switch n.Status {
		case Unreadable:
			s.progress.Unreadable++
		case Unsupported:
			s.progress.Unsupported++
		}
		for _, e := range n.Edges {
			s.enqueue(e, q.depth+1)
		}
	}
	s.progress.Queued = 0
	if logflags.Walker() {
		s.log.Debugf("walk of %#x done: %d nodes, %d unreadable, %d unsupported, %d truncated",
			s.g.root, s.progress.Visited, s.progress.Unreadable, s.progress.Unsupported, len(s.g.truncatedOrder))
	}
}

func (s *walk) enqueue(e objects.Address, depth int) {
	if e.Null() || s.visited[e.Addr] {
		return
	}
	if s.cfg.MaxDepth >= 0 && depth > s.cfg.MaxDepth {
		s.g.truncate(e.Addr)
		return
	}
	if s.cfg.MaxNodes > 0 && len(s.visited) >= s.cfg.MaxNodes {
		if len(s.g.truncatedOrder) == 0 {
			s.log.Infof("node limit %d reached", s.cfg.MaxNodes)
		}
		s.g.truncate(e.Addr)
		return
	}
	s.visited[e.Addr] = true
	s.queue = append(s.queue, queued{addr: e, depth: depth})
}

// visit reads and decodes one object.
func (s *walk) visit(a objects.Address, depth int) *Node {
	n := &Node{Addr: a.Addr, Depth: depth, Expect: a.Expect}

	hdr, err := remote.Read(s.mem, a.Addr, s.desc.Header(layout.KindObject))
	if err != nil {
		return s.fail(n, err)
	}
	n.TypeAddr, _ = s.desc.Uint(hdr, layout.ObjectType)
	if n.TypeAddr == 0 {
		return s.fail(n, &objects.DecodeError{Addr: a.Addr, Kind: a.Expect, Reason: "null type pointer"})
	}
	ti, err := s.typeInfo(n.TypeAddr)
	if err != nil {
		return s.fail(n, err)
	}
	n.TypeName = ti.Name
	n.Kind = s.desc.Classify(ti.Name, ti.Flags)
	if a.Expect != layout.KindAny && a.Expect != n.Kind && logflags.Walker() {
		s.log.Debugf("%#x: expected %v, type %s is %v", a.Addr, a.Expect, ti.Name, n.Kind)
	}

	size := s.desc.Header(n.Kind)
	if ti.BasicSize > 0 && ti.BasicSize < int64(size) {
		return s.fail(n, &objects.DecodeError{
			Addr:   a.Addr,
			Kind:   n.Kind,
			Reason: fmt.Sprintf("type %s has basic size %d, smaller than the %d byte %v header", ti.Name, ti.BasicSize, size, n.Kind),
		})
	}
	mem := remote.CacheMemory(s.mem, a.Addr, size)
	buf, err := remote.Read(mem, a.Addr, size)
	if err != nil {
		return s.fail(n, err)
	}
	v, edges, err := objects.Decode(s.desc, n.Kind, ti, buf, a.Addr, objects.Tail(mem), s.cfg.Limits)
	if err != nil {
		return s.fail(n, err)
	}
	n.Value = v
	n.Edges = edges
	if s.cfg.FollowTypes {
		n.Edges = append(n.Edges, objects.Address{Addr: n.TypeAddr, Expect: layout.KindType})
	}
	n.Status = Decoded
	return n
}

// typeInfo resolves the type object at addr, remembering failures as
// well as successes for the rest of the walk.
func (s *walk) typeInfo(addr uint64) (*objects.TypeInfo, error) {
	if e, ok := s.types.Get(addr); ok {
		return e.ti, e.err
	}
	var e typeEntry
	buf, err := remote.Read(s.mem, addr, s.desc.Header(layout.KindType))
	if err != nil {
		e.err = err
	} else {
		e.ti, e.err = objects.DecodeType(s.desc, buf, addr, objects.Tail(s.mem))
	}
	s.types.Add(addr, e)
	return e.ti, e.err
}

func (s *walk) fail(n *Node, err error) *Node {
	n.Err = err
	n.Edges = nil
	var uerr *remote.UnreadableError
	if errors.As(err, &uerr) {
		n.Status = Unreadable
	} else {
		n.Status = Unsupported
	}
	n.Value = objects.OpaqueValue(err.Error())
	if logflags.Walker() {
		s.log.WithError(err).Debugf("%#x: %v", n.Addr, n.Status)
	}
	return n
}
