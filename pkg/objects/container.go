package objects

import (
	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/logflags"
)

func itemEdges(items []uint64) []Address {
	edges := make([]Address, len(items))
	for i, it := range items {
		edges[i] = Address{Addr: it}
	}
	return edges
}

// decodeTuple decodes a tuple, whose item pointers follow the header
// inline.
func decodeTuple(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	size := h.int(layout.VarSize)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	if size < 0 || (lim.MaxSequenceLen > 0 && size > lim.MaxSequenceLen) {
		return Value{}, nil, h.errorf(nil, "implausible length %d", size)
	}
	items, err := readPointers(h, tail, h.addr+uint64(h.d.Offset(layout.TupleItems)), size)
	if err != nil {
		return Value{}, nil, err
	}
	return Value{Kind: Sequence, Tuple: true, Len: size, Items: items}, itemEdges(items), nil
}

// decodeList decodes a list. Only the used part of the item buffer is
// read, never the spare capacity.
func decodeList(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	size := h.int(layout.VarSize)
	data := h.uint(layout.ListItems)
	allocated := h.int(layout.ListAllocated)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	switch {
	case size < 0 || allocated < 0:
		return Value{}, nil, h.errorf(nil, "negative length %d or capacity %d", size, allocated)
	case size > allocated:
		return Value{}, nil, h.errorf(nil, "length %d exceeds allocated capacity %d", size, allocated)
	case lim.MaxSequenceLen > 0 && size > lim.MaxSequenceLen:
		return Value{}, nil, h.errorf(nil, "implausible length %d", size)
	case size > 0 && data == 0:
		return Value{}, nil, h.errorf(nil, "length %d with no item buffer", size)
	}
	items, err := readPointers(h, tail, data, size)
	if err != nil {
		return Value{}, nil, err
	}
	return Value{Kind: Sequence, Len: size, Items: items}, itemEdges(items), nil
}

// decodeDict decodes an open addressing hash table. Slots with no key are
// empty, slots with a key but no value are deleted; neither is surfaced.
// Keys and values are returned in slot order, which is not insertion
// order.
func decodeDict(h *header, tail TailReader, lim Limits) (Value, []Address, error) {
	fill := h.int(layout.DictFill)
	used := h.int(layout.DictUsed)
	mask := h.int(layout.DictMask)
	table := h.uint(layout.DictTable)
	if h.err != nil {
		return Value{}, nil, h.err
	}
	slots := mask + 1
	switch {
	case mask < 0 || slots&mask != 0:
		return Value{}, nil, h.errorf(nil, "table mask %#x is not a power of two minus one", mask)
	case lim.MaxMapSlots > 0 && slots > lim.MaxMapSlots:
		return Value{}, nil, h.errorf(nil, "implausible table size %d", slots)
	case used < 0 || used > fill || fill > slots:
		return Value{}, nil, h.errorf(nil, "inconsistent counts: used=%d fill=%d slots=%d", used, fill, slots)
	case table == 0:
		return Value{}, nil, h.errorf(nil, "no hash table")
	}

	entry, _ := h.d.Field(layout.DictEntry)
	stride := int64(entry.Width)
	raw, err := readTail(h, tail, table, slots, entry.Width, "hash table slots")
	if err != nil {
		return Value{}, nil, err
	}

	pairs := make([]Pair, 0, used)
	edges := make([]Address, 0, 2*used)
	deleted := 0
	for i := int64(0); i < slots; i++ {
		slot := raw[i*stride : (i+1)*stride]
		key, _ := h.d.Uint(slot, layout.DictEntryKey)
		value, _ := h.d.Uint(slot, layout.DictEntryValue)
		if key == 0 {
			continue
		}
		if value == 0 {
			deleted++
			continue
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
		edges = append(edges, Address{Addr: key}, Address{Addr: value})
	}
	if int64(len(pairs)) != used {
		return Value{}, nil, h.errorf(nil, "found %d occupied slots, header declares %d", len(pairs), used)
	}
	if logflags.Decode() && int64(len(pairs)+deleted) != fill {
		logflags.DecodeLogger().Debugf("dict at %#x: %d live and %d deleted slots, fill is %d", h.addr, len(pairs), deleted, fill)
	}
	return Value{Kind: Mapping, Len: used, Pairs: pairs}, edges, nil
}
