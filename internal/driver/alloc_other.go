//go:build !linux

package driver

import (
	"fmt"
	"unsafe"
)

const pageSize = 4096

// Alloc returns zeroed, page-aligned memory suitable for MemoryMap.
func Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("driver: alloc size %d", size)
	}
	raw := make([]byte, size+pageSize)
	off := (pageSize - int(uintptr(unsafe.Pointer(&raw[0]))%pageSize)) % pageSize
	return raw[off : off+size : off+size], nil
}

func Free([]byte) error {
	return nil
}
