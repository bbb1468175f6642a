// Package remote provides byte-level access to the address space of
// another process.
//
// The walker never talks to a process directly: everything goes through a
// MemoryReader, which can be a live process (see package native), a saved
// region of memory (Image) or a cache layered over either.
package remote

import (
	"errors"
	"fmt"

	"github.com/go-delve/pywalk/pkg/logflags"
)

const cacheEnabled = true

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrShortRead is wrapped by UnreadableError when the reader returned
// fewer bytes than requested without reporting an error.
var ErrShortRead = errors.New("short read")

// UnreadableError is returned when a range of remote memory could not be
// read. It is never retried: the target may have legitimately unmapped or
// reused the memory.
type UnreadableError struct {
	Addr uint64
	Len  int
	Err  error
}

func (err *UnreadableError) Error() string {
	return fmt.Sprintf("could not read %d bytes at %#x: %v", err.Len, err.Addr, err.Err)
}

func (err *UnreadableError) Unwrap() error {
	return err.Err
}

// Read reads exactly n bytes at addr.
func Read(mem MemoryReader, addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: errors.New("negative length")}
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if addr+uint64(n) < addr {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: errors.New("range wraps around the address space")}
	}
	read, err := mem.ReadMemory(buf, addr)
	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("read %#x+%d: n=%d err=%v", addr, n, read, err)
	}
	if err != nil {
		var uerr *UnreadableError
		if errors.As(err, &uerr) {
			return nil, uerr
		}
		return nil, &UnreadableError{Addr: addr, Len: n, Err: err}
	}
	if read < n {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: ErrShortRead}
	}
	return buf, nil
}

type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReader
}

func (m *memCache) contains(addr uint64, size int) bool {
	end := addr + uint64(size)
	return addr >= m.cacheAddr && end >= addr && end <= m.cacheAddr+uint64(len(m.cache))
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}

	return m.mem.ReadMemory(data, addr)
}

// CacheMemory reads size bytes at addr in a single request and returns a
// MemoryReader that serves reads falling entirely within that block from
// the copy. If the block can not be read mem is returned unchanged, so
// that reads of its readable parts still succeed individually.
func CacheMemory(mem MemoryReader, addr uint64, size int) MemoryReader {
	if !cacheEnabled {
		return mem
	}
	if size <= 0 {
		return mem
	}
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return mem
		}
		cache := make([]byte, size)
		n, err := cacheMem.mem.ReadMemory(cache, addr)
		if err != nil || n < size {
			return mem
		}
		return &memCache{addr, cache, mem}
	}
	cache := make([]byte, size)
	n, err := mem.ReadMemory(cache, addr)
	if err != nil || n < size {
		return mem
	}
	return &memCache{addr, cache, mem}
}
