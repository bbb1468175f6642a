package walker

import (
	"github.com/go-delve/pywalk/pkg/objects"
)

const defaultTypeCacheSize = 1024

// Config bounds a walk. The zero value of MaxDepth limits the walk to the
// root, use DefaultConfig for an unbounded walk.
type Config struct {
	// MaxNodes stops enqueueing addresses once this many have been
	// visited or queued. 0 or less is unbounded.
	MaxNodes int
	// MaxDepth is the largest breadth-first distance from the root that
	// is followed. Negative is unbounded.
	MaxDepth int
	// Stop is consulted before each dequeue, the walk ends as soon as it
	// returns true.
	Stop func(Progress) bool
	// FollowTypes adds the type object of every node as an edge.
	FollowTypes bool
	// Limits are passed to the object decoders.
	Limits objects.Limits
	// TypeCacheSize is the number of resolved type objects remembered
	// during one walk.
	TypeCacheSize int
}

// DefaultConfig returns a configuration for an unbounded walk.
func DefaultConfig() Config {
	return Config{
		MaxNodes:      0,
		MaxDepth:      -1,
		Limits:        objects.DefaultLimits(),
		TypeCacheSize: defaultTypeCacheSize,
	}
}

// Progress is the state of a walk passed to Config.Stop.
type Progress struct {
	// Visited is the number of nodes recorded so far.
	Visited int
	// Queued is the number of addresses waiting to be visited.
	Queued int
	// Unreadable and Unsupported count failed nodes.
	Unreadable  int
	Unsupported int
	// Depth is the depth of the next address to be visited.
	Depth int
}
