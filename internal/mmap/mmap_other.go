//go:build !unix

package mmap

import (
	"errors"
	"os"
)

// Supported reports whether this platform can map files.
const Supported = false

// Map is unsupported on this platform; callers fall back to file reads.
func Map(f *os.File, size int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

// Unmap is unsupported on this platform.
func Unmap(data []byte) error {
	return errors.ErrUnsupported
}
