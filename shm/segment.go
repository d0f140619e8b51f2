// File: shm/segment.go
// Author: momentics <momentics@gmail.com>
//
// Mapped segment handle plus the process-local registry that resolves
// segment ids to mapping bases for relative-pointer dereference.

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Segment is one mapped shared-memory file.
type Segment struct {
	File *os.File
	Mem  []byte
	Path string

	registered atomic.Bool
}

// Header returns the typed header view.
func (s *Segment) Header() *SegmentHeader {
	return headerOf(s.Mem)
}

// ID returns the daemon-assigned segment id.
func (s *Segment) ID() uint32 {
	return s.Header().SegmentID()
}

// Base returns the local mapping base pointer.
func (s *Segment) Base() unsafe.Pointer {
	return unsafe.Pointer(&s.Mem[0])
}

// At returns a pointer to the given offset within the segment.
func (s *Segment) At(offset uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(s.Base()) + uintptr(offset))
}

// Bytes returns the n bytes starting at offset as a slice aliasing the
// mapping.
func (s *Segment) Bytes(offset, n uint64) []byte {
	return unsafe.Slice((*byte)(s.At(offset)), n)
}

// Carve reserves size bytes aligned to align and returns the region offset.
// Carving is only legal during segment initialization, before Ready is set.
func (s *Segment) Carve(size, align uint64) (uint64, error) {
	if !IsPowerOfTwo(align) {
		return 0, fmt.Errorf("carve alignment %d is not a power of two", align)
	}
	h := s.Header()
	for {
		cur := atomic.LoadUint64(&h.carve)
		off := AlignUp(cur, align)
		end := off + size
		if end > h.TotalSize() {
			return 0, fmt.Errorf("segment exhausted: need %d bytes at %d, total %d", size, off, h.TotalSize())
		}
		if atomic.CompareAndSwapUint64(&h.carve, cur, end) {
			return off, nil
		}
	}
}

// Close unmaps the memory, closes the file and deregisters the segment.
func (s *Segment) Close() error {
	var firstErr error
	if s.registered.CompareAndSwap(true, false) {
		deregisterSegment(s.ID())
	}
	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}
	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}
	return firstErr
}

// Unlink removes the backing file. Call after every participant detached.
func (s *Segment) Unlink() error {
	return os.Remove(s.Path)
}

// CreateSegment creates, sizes and maps a fresh segment file, initializes
// its header and registers it for relative-pointer resolution.
func CreateSegment(name string, id uint32, size uint64) (*Segment, error) {
	if size < MinSegmentSize {
		return nil, fmt.Errorf("segment size %d below minimum %d", size, MinSegmentSize)
	}
	path := SegmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o660)
	if err != nil {
		return nil, fmt.Errorf("create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("resize segment file: %w", err)
	}

	mem, err := mapMemory(file, int(size))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}
	h := seg.Header()
	h.SetMagic(magicBytes())
	h.SetVersion(SegmentVersion)
	h.SetSegmentID(id)
	h.SetTotalSize(size)
	atomic.StoreUint64(&h.carve, SegmentHeaderSize)
	h.SetCreatorPID(uint32(os.Getpid()))

	registerSegment(seg)
	seg.registered.Store(true)
	return seg, nil
}

// OpenSegment maps an existing segment, validates its header and registers
// it for relative-pointer resolution.
func OpenSegment(name string) (*Segment, error) {
	path := SegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mapMemory(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}
	if err := ValidateSegmentHeader(seg.Header()); err != nil {
		unmapMemory(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}

	registerSegment(seg)
	seg.registered.Store(true)
	return seg, nil
}

// SegmentPath returns the backing file path for a segment name, preferring
// /dev/shm and falling back to the temporary directory.
func SegmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "hioload_ipc_"+name)
	}
	return filepath.Join(os.TempDir(), "hioload_ipc_"+name)
}

// SegmentExists reports whether a segment file with the given name exists.
func SegmentExists(name string) bool {
	_, err := os.Stat(SegmentPath(name))
	return err == nil
}

// Process-local registry: segment id -> mapped segment.

var (
	segMu       sync.RWMutex
	segRegistry = make(map[uint32]*Segment)
)

func registerSegment(s *Segment) {
	segMu.Lock()
	segRegistry[s.ID()] = s
	segMu.Unlock()
}

func deregisterSegment(id uint32) {
	segMu.Lock()
	delete(segRegistry, id)
	segMu.Unlock()
}

// LookupSegment resolves a segment id to the locally mapped segment.
func LookupSegment(id uint32) (*Segment, bool) {
	segMu.RLock()
	s, ok := segRegistry[id]
	segMu.RUnlock()
	return s, ok
}
