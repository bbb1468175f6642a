package remote

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrAddressNotMapped is returned when a memory address is not found
// within any mapped region of an Image.
var ErrAddressNotMapped = errors.New("address not mapped")

type region struct {
	addr uint64
	data []byte
}

func (r *region) end() uint64 {
	return r.addr + uint64(len(r.data))
}

// Image is a sparse, read-only address space assembled from byte regions.
// It is used to walk saved memory (a region copied out of a core file or
// /proc/<pid>/mem) and, in tests, to lay out fake interpreter heaps.
// Regions must not overlap.
type Image struct {
	regions []*region
}

// NewImage returns an empty Image.
func NewImage() *Image {
	return &Image{}
}

// Map adds data to the image at addr.
func (img *Image) Map(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := &region{addr: addr, data: data}
	if r.end() < addr {
		return fmt.Errorf("region at %#x of size %d wraps around the address space", addr, len(data))
	}
	i := sort.Search(len(img.regions), func(i int) bool { return img.regions[i].addr >= addr })
	if i > 0 && img.regions[i-1].end() > addr {
		return fmt.Errorf("region at %#x overlaps region at %#x", addr, img.regions[i-1].addr)
	}
	if i < len(img.regions) && img.regions[i].addr < r.end() {
		return fmt.Errorf("region at %#x overlaps region at %#x", addr, img.regions[i].addr)
	}
	img.regions = append(img.regions, nil)
	copy(img.regions[i+1:], img.regions[i:])
	img.regions[i] = r
	return nil
}

// ReadMemory implements MemoryReader. Reads may span adjacent regions but
// fail with ErrAddressNotMapped if any byte of the range is unmapped.
func (img *Image) ReadMemory(buf []byte, addr uint64) (int, error) {
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		i := sort.Search(len(img.regions), func(i int) bool { return img.regions[i].end() > cur })
		if i >= len(img.regions) || img.regions[i].addr > cur {
			return n, ErrAddressNotMapped
		}
		r := img.regions[i]
		n += copy(buf[n:], r.data[cur-r.addr:])
	}
	return n, nil
}

// LoadImage reads a raw memory region saved to path and maps it at base.
func LoadImage(path string, base uint64) (*Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, err
	}
	img := NewImage()
	if err := img.Map(base, data); err != nil {
		return nil, err
	}
	return img, nil
}
