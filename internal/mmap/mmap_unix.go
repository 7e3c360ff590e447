//go:build unix

// Package mmap memory-maps files read-only, with a portable fallback on
// platforms without mmap support.
package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// Supported reports whether this platform can map files.
const Supported = true

// Map maps size bytes of f read-only. The mapping stays valid after f
// is closed and must be released with Unmap.
func Map(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	return unix.Munmap(data)
}
