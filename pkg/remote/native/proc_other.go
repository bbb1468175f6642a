//go:build !linux

package native

import "errors"

// ErrUnsupportedPlatform is returned by Attach on platforms without a
// cross-process read implementation.
var ErrUnsupportedPlatform = errors.New("reading another process's memory is not supported on this platform")

// Process is a handle on a running process whose memory can be read.
type Process struct {
	pid int
}

// Attach always fails on this platform.
func Attach(pid int) (*Process, error) {
	return nil, ErrUnsupportedPlatform
}

// Pid returns the process id of the target.
func (p *Process) Pid() int {
	return p.pid
}

// ReadMemory implements remote.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, ErrUnsupportedPlatform
}

// Detach releases the resources associated with the handle.
func (p *Process) Detach() error {
	return nil
}
