//go:build !linux

package driver

import (
	"runtime"

	"github.com/samcharles93/nnaccel/internal/status"
)

type unsupportedPort struct{}

// NewPort returns the native backend for this OS. There is none outside
// Linux; Open always fails with DeviceNotFound.
func NewPort() Port {
	return unsupportedPort{}
}

func (unsupportedPort) Open(index int) (DeviceInfo, error) {
	return DeviceInfo{}, status.Newf(status.DeviceNotFound, "no accelerator backend for %s", runtime.GOOS)
}

func (unsupportedPort) Map([]byte) (MemoryID, Wait, error) {
	return ForbiddenMemoryID, nil, status.New(status.DeviceNotFound, "device not open")
}

func (unsupportedPort) Unmap(MemoryID) error {
	return status.New(status.DeviceNotFound, "device not open")
}

func (unsupportedPort) Issue(*HardwareRequest) (Wait, error) {
	return nil, status.New(status.DeviceNotFound, "device not open")
}

func (unsupportedPort) Close() error { return nil }
