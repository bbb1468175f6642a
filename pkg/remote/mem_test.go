package remote

import (
	"errors"
	"testing"
)

type countingReader struct {
	mem   MemoryReader
	reads int
}

func (c *countingReader) ReadMemory(buf []byte, addr uint64) (int, error) {
	c.reads++
	return c.mem.ReadMemory(buf, addr)
}

type shortReader struct{}

func (shortReader) ReadMemory(buf []byte, addr uint64) (int, error) {
	return len(buf) / 2, nil
}

func TestRead(t *testing.T) {
	img := NewImage()
	if err := img.Map(0x1000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := img.Map(0x1004, []byte{5, 6}); err != nil {
		t.Fatal(err)
	}

	buf, err := Read(img, 0x1002, 4)
	if err != nil {
		t.Fatalf("read across adjacent regions: %v", err)
	}
	if string(buf) != "\x03\x04\x05\x06" {
		t.Fatalf("got %v", buf)
	}

	_, err = Read(img, 0x1004, 4)
	var uerr *UnreadableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnreadableError, got %v", err)
	}
	if uerr.Addr != 0x1004 || uerr.Len != 4 || !errors.Is(err, ErrAddressNotMapped) {
		t.Fatalf("wrong error %#v", uerr)
	}

	_, err = Read(shortReader{}, 0x10, 8)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected short read, got %v", err)
	}

	if _, err := Read(img, ^uint64(0)-1, 4); err == nil {
		t.Fatal("expected error for wrapping range")
	}

	buf, err = Read(img, 0xdead, 0)
	if err != nil || len(buf) != 0 {
		t.Fatalf("zero length read: %v %v", buf, err)
	}
}

func TestImageOverlap(t *testing.T) {
	img := NewImage()
	if err := img.Map(0x100, make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
	if err := img.Map(0x108, make([]byte, 4)); err == nil {
		t.Fatal("expected overlap error")
	}
	if err := img.Map(0xf8, make([]byte, 9)); err == nil {
		t.Fatal("expected overlap error")
	}
	if err := img.Map(0xf0, make([]byte, 16)); err != nil {
		t.Fatalf("adjacent region rejected: %v", err)
	}
	if _, err := Read(img, 0xf0, 32); err != nil {
		t.Fatalf("read across adjacent regions: %v", err)
	}
	if _, err := Read(img, 0x10c, 8); err == nil {
		t.Fatal("read past the end of a region succeeded")
	}
}

func TestCacheMemory(t *testing.T) {
	img := NewImage()
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	if err := img.Map(0x2000, data); err != nil {
		t.Fatal(err)
	}
	cr := &countingReader{mem: img}
	mem := CacheMemory(cr, 0x2000, 32)
	if cr.reads != 1 {
		t.Fatalf("expected one prefetch read, got %d", cr.reads)
	}
	for _, off := range []uint64{0, 8, 24} {
		buf, err := Read(mem, 0x2000+off, 8)
		if err != nil {
			t.Fatal(err)
		}
		if buf[0] != byte(off) {
			t.Fatalf("wrong data at offset %d: %v", off, buf)
		}
	}
	if cr.reads != 1 {
		t.Fatalf("cached reads went to the underlying reader: %d reads", cr.reads)
	}
	if _, err := Read(mem, 0x2000+30, 8); err != nil {
		t.Fatal(err)
	}
	if cr.reads != 2 {
		t.Fatalf("read outside the cache should be forwarded, got %d reads", cr.reads)
	}
	if CacheMemory(mem, 0x2008, 8) != mem {
		t.Fatal("nested cache over a contained range should be reused")
	}

	if got := CacheMemory(img, 0x2030, 64); got != MemoryReader(img) {
		t.Fatal("unreadable prefetch should return the original reader")
	}
}
