package dump

import (
	"fmt"
	"io"

	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/walker"
)

type textWriter struct {
	w     io.Writer
	color bool
	index map[Addr]*Node
	err   error
}

func (tw *textWriter) printf(format string, args ...interface{}) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func (tw *textWriter) paint(color, s string) string {
	if !tw.color {
		return s
	}
	return color + s + colorReset
}

// summary is the one line description of the object at a, used for
// container members.
func (tw *textWriter) summary(a Addr) string {
	if a == 0 {
		return "None"
	}
	n := tw.index[a]
	if n == nil {
		return tw.paint(colorAddr, "@"+a.String()) + " (not visited)"
	}
	if n.Status != walker.Decoded.String() {
		return tw.paint(colorAddr, "@"+a.String()) + " " + tw.paint(colorError, "<"+n.Status+">")
	}
	switch n.Kind {
	case objects.Sequence.String(), objects.Mapping.String(), objects.Type.String(), objects.Object.String():
		return headline(n) + " " + tw.paint(colorAddr, "@"+a.String())
	}
	return n.Value
}

func headline(n *Node) string {
	switch n.Kind {
	case objects.Sequence.String():
		if n.Tuple {
			return fmt.Sprintf("tuple[%d]", len(n.Items))
		}
		return fmt.Sprintf("list[%d]", len(n.Items))
	case objects.Mapping.String():
		return fmt.Sprintf("dict[%d]", len(n.Pairs))
	case objects.Type.String():
		return "<type " + n.Value + ">"
	case objects.Object.String():
		return "<" + n.Value + " object>"
	case objects.Opaque.String():
		return "<" + n.Status + ">"
	}
	return n.Value
}

// Text writes a human readable listing of s: one entry per visited
// address, in visit order, with container members summarized inline.
func Text(w io.Writer, s *Snapshot, color bool) error {
	tw := &textWriter{w: w, color: color, index: s.Index()}
	tw.printf("layout %s, root %s, %d nodes", s.Layout, tw.paint(colorAddr, s.Root.String()), len(s.Nodes))
	if len(s.Truncated) > 0 {
		tw.printf(", %d not visited", len(s.Truncated))
	}
	if s.Stopped {
		tw.printf(", stopped")
	}
	tw.printf("\n")

	for i := range s.Nodes {
		n := &s.Nodes[i]
		tw.printf("%s %s %s", tw.paint(colorAddr, n.Addr.String()), tw.paint(colorType, typeName(n)), headline(n))
		if n.Truncated {
			tw.printf(" (truncated)")
		}
		tw.printf("\n")
		if n.Error != "" {
			tw.printf("    %s\n", tw.paint(colorError, n.Error))
		}
		for j, it := range n.Items {
			tw.printf("    [%d] %s\n", j, tw.summary(it))
		}
		for _, p := range n.Pairs {
			tw.printf("    %s: %s\n", tw.summary(p.Key), tw.summary(p.Value))
		}
		for _, r := range n.Refs {
			if r.Addr != 0 {
				tw.printf("    .%s %s\n", r.Name, tw.summary(r.Addr))
			}
		}
	}
	return tw.err
}

func typeName(n *Node) string {
	if n.Type == "" {
		return "?"
	}
	return n.Type
}
