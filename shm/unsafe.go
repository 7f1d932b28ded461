package shm

import "unsafe"

// ptrAt returns a pointer to the uint64 at byte offset off within mem.
// mem must be at least off+8 bytes and, in production, comes from an
// mmap'd segment (page aligned, so always 8-byte aligned at offset 0).
// This is the one place this package steps outside the memory-safe
// subset of Go, and it exists only because sync/atomic has no portable
// way to treat a shared-memory byte range as an atomic word otherwise.
func ptrAt(mem []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&mem[off])
}
