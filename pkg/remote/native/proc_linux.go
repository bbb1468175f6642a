package native

import (
	"errors"
	"fmt"
	"os"
	"sync"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/pywalk/pkg/logflags"
)

// Process is a handle on a running process whose memory can be read.
type Process struct {
	pid int

	memOnce sync.Once
	memFile *os.File
	memErr  error
	// vmReadv is cleared the first time process_vm_readv reports it is
	// unavailable, after which reads go through /proc/<pid>/mem.
	vmReadv bool
}

// Attach returns a handle on the process with the given pid. The process
// must exist and be visible to the caller; permission to read its memory is
// only checked on the first read.
func Attach(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if err := sys.Kill(pid, 0); err != nil && !errors.Is(err, sys.EPERM) {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	return &Process{pid: pid, vmReadv: true}, nil
}

// Pid returns the process id of the target.
func (p *Process) Pid() int {
	return p.pid
}

// ReadMemory implements remote.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if p.vmReadv {
		local := []sys.Iovec{{Base: &buf[0]}}
		local[0].SetLen(len(buf))
		remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
		n, err := sys.ProcessVMReadv(p.pid, local, remote, 0)
		if err == nil || !(errors.Is(err, sys.ENOSYS) || errors.Is(err, sys.EPERM)) {
			return n, err
		}
		logflags.MemoryLogger().Debugf("process_vm_readv unavailable for pid %d (%v), using /proc/%d/mem", p.pid, err, p.pid)
		p.vmReadv = false
	}
	return p.readProcMem(buf, addr)
}

func (p *Process) readProcMem(buf []byte, addr uint64) (int, error) {
	p.memOnce.Do(func() {
		p.memFile, p.memErr = os.Open(fmt.Sprintf("/proc/%d/mem", p.pid))
	})
	if p.memErr != nil {
		return 0, p.memErr
	}
	if addr > 1<<63-1 {
		return 0, fmt.Errorf("address %#x out of range", addr)
	}
	return sys.Pread(int(p.memFile.Fd()), buf, int64(addr))
}

// Detach releases the resources associated with the handle. The target is
// left running and untouched.
func (p *Process) Detach() error {
	if p.memFile != nil {
		return p.memFile.Close()
	}
	return nil
}
