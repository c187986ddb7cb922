// Package fs names the external collaborators spec.md §1 explicitly
// puts out of scope (the filesystem and block device layers) as
// narrow interfaces, in the same spirit as biscuit's mem.Page_i: a
// tiny interface named for the concern it stands in for, not a
// reimplementation of the collaborator. Reference in-memory
// implementations are provided for tests and for embedders that have
// not wired up a real filesystem or disk.
package fs

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Inode identifies a backing file for share-table deduplication
// (spec.md §3: share-table key is the pair (inode, offset)).
type Inode uint64

// File is the collaborator interface the VM core uses to read and
// write file-backed pages (ELF segments, mmap'd regions).
type File interface {
	Inode() Inode
	Length() (int64, error)
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// DenyWriter is optionally implemented by a File to support the
// "Executable write protection" deny-write token (spec.md §6).
type DenyWriter interface {
	DenyWrite() error
	AllowWrite() error
}

// BlockDevice is the collaborator interface the swap store uses for
// sector I/O.
type BlockDevice interface {
	NumSectors() int
	ReadSector(idx int, buf []byte) error
	WriteSector(idx int, buf []byte) error
}

// MemFile is an in-memory File, the reference collaborator used by
// this module's tests.
type MemFile struct {
	mu     sync.Mutex
	inode  Inode
	data   []byte
	denied bool
}

// NewMemFile returns a MemFile backed by a copy of data.
func NewMemFile(inode Inode, data []byte) *MemFile {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &MemFile{inode: inode, data: buf}
}

// Inode implements File.
func (f *MemFile) Inode() Inode { return f.inode }

// Length implements File.
func (f *MemFile) Length() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data)), nil
}

// ReadAt implements File.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off > int64(len(f.data)) {
		return 0, pkgerrors.Errorf("fs: read offset %d out of range (len %d)", off, len(f.data))
	}
	n := copy(p, f.data[off:])
	return n, nil
}

// WriteAt implements File.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return 0, pkgerrors.New("fs: write denied: file has an outstanding deny-write token")
	}
	if off < 0 {
		return 0, pkgerrors.Errorf("fs: write offset %d out of range", off)
	}
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[off:], p)
	return n, nil
}

// DenyWrite implements DenyWriter.
func (f *MemFile) DenyWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = true
	return nil
}

// AllowWrite implements DenyWriter.
func (f *MemFile) AllowWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = false
	return nil
}

// Snapshot returns a copy of the file's current contents, for test
// assertions.
func (f *MemFile) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// MemBlockDevice is an in-memory BlockDevice, the reference swap
// device used by this module's tests.
type MemBlockDevice struct {
	mu      sync.Mutex
	sectors [][]byte
}

// NewMemBlockDevice returns a zero-filled block device of numSectors
// sectors, each sectorSize bytes.
func NewMemBlockDevice(numSectors, sectorSize int) *MemBlockDevice {
	d := &MemBlockDevice{sectors: make([][]byte, numSectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, sectorSize)
	}
	return d
}

// NumSectors implements BlockDevice.
func (d *MemBlockDevice) NumSectors() int {
	return len(d.sectors)
}

// ReadSector implements BlockDevice.
func (d *MemBlockDevice) ReadSector(idx int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.sectors) {
		return pkgerrors.Errorf("fs: sector %d out of range (have %d)", idx, len(d.sectors))
	}
	copy(buf, d.sectors[idx])
	return nil
}

// WriteSector implements BlockDevice.
func (d *MemBlockDevice) WriteSector(idx int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.sectors) {
		return pkgerrors.Errorf("fs: sector %d out of range (have %d)", idx, len(d.sectors))
	}
	copy(d.sectors[idx], buf)
	return nil
}
