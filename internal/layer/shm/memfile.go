// Package shm implements the shared memory transport layer.
//
// Each publisher owns one memory mapped file. The file starts with a small
// control block guarded by a sequence lock, followed by the data area that
// holds the most recent frame. Readers poll the sequence word and copy the
// frame out when it changes. A writer that outgrows its file creates a new
// one under a fresh name, marks the old file superseded and re-registers,
// so subscribers learn the new name from the next registration sample.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// control block layout, every word is a uint64
const (
	offSeq      = 0
	offCapacity = 8
	offLen      = 16
	offFlags    = 24
	dataOffset  = 32

	flagSuperseded = 1
)

type memFile struct {
	name string
	path string
	f    *os.File
	data []byte
}

func createFile(dir, name string, size int) (*memFile, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}
	total := dataOffset + size
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	m := &memFile{name: name, path: path, f: f, data: data}
	atomic.StoreUint64(m.word(offCapacity), uint64(size))
	return m, nil
}

func openFile(dir, name string) (*memFile, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("memory file name %q contains a path", name)
	}
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < dataOffset {
		f.Close()
		return nil, fmt.Errorf("memory file %s is too small", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &memFile{name: name, path: path, f: f, data: data}, nil
}

// word returns the control word at off. mmap memory is page aligned.
func (m *memFile) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&m.data[off]))
}

func (m *memFile) capacity() int {
	return len(m.data) - dataOffset
}

func (m *memFile) superseded() bool {
	return atomic.LoadUint64(m.word(offFlags))&flagSuperseded != 0
}

func (m *memFile) close(unlink bool) error {
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	if unlink {
		if rerr := os.Remove(m.path); err == nil && !os.IsNotExist(rerr) {
			err = rerr
		}
	}
	return err
}
