//go:build linux

package driver

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Alloc returns zeroed, page-aligned memory suitable for MemoryMap. Release it
// with Free after unmapping.
func Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("driver: alloc size %d", size)
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("driver: alloc %d bytes: %w", size, err)
	}
	return buf, nil
}

func Free(buf []byte) error {
	if buf == nil {
		return nil
	}
	return unix.Munmap(buf)
}
