// Package driver implements the accelerator device protocol: opening a
// device, mapping host memory for device access and submitting requests with
// bounded waiting and hang recovery. OS specifics live behind Port.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/nnaccel/internal/status"
)

// MemoryID is a device-assigned handle for a mapped host region.
type MemoryID uint64

// ForbiddenMemoryID marks an unmapped region. It is never returned by
// MemoryMap.
const ForbiddenMemoryID MemoryID = 0

var (
	ErrClosed        = errors.New("driver: device closed")
	ErrUnknownMemory = status.New(status.IdentifierInvalid, "memory id was not returned by MemoryMap")
	ErrDeviceHang    = status.New(status.DeviceCriticalFailure, "request did not complete within the recovery timeout")
)

// DeviceInfo describes an opened device.
type DeviceInfo struct {
	Index   int
	Name    string
	Path    string
	Version uint32
	// Alignment is the required alignment of mapped buffers in bytes.
	Alignment uint32
	// RecoveryTimeout is the device's own hang detection window.
	RecoveryTimeout time.Duration
}

// HardwareRequest is a serialized request built just before submission.
type HardwareRequest struct {
	ID         uuid.UUID
	Descriptor []byte
	LayerCount int
}

// Completion is what a finished device operation reports.
type Completion struct {
	HardwareStatus uint32
	HardwareCycles uint64
	StallCycles    uint64
}

// Wait is the per-operation completion handle, the counterpart of an
// overlapped I/O context. Wait with a zero timeout polls.
type Wait interface {
	Wait(timeout time.Duration) (c Completion, done bool, err error)
	Cancel() error
	Close() error
}

// Port is the OS-specific device backend.
type Port interface {
	Open(index int) (DeviceInfo, error)
	Map(buf []byte) (MemoryID, Wait, error)
	Unmap(id MemoryID) error
	Issue(req *HardwareRequest) (Wait, error)
	Close() error
}

// Interface is what the execution path needs from a device.
type Interface interface {
	MemoryMap(buf []byte) (MemoryID, error)
	MemoryUnmap(id MemoryID) error
	Submit(ctx context.Context, req *HardwareRequest, prof *Profiler) (RequestResult, error)
	Info() DeviceInfo
	Close() error
}

// Config holds the submission and mapping timings. Zero fields take the
// defaults from DefaultConfig; a zero RecoveryTimeout uses the device's.
type Config struct {
	WaitTimeout     time.Duration
	PollIterations  int
	PollInterval    time.Duration
	RecoveryTimeout time.Duration

	MapPollIterations int
	MapPollInterval   time.Duration
}

const defaultRecoveryTimeout = 60 * time.Second

func DefaultConfig() Config {
	return Config{
		WaitTimeout:       2 * time.Second,
		PollIterations:    200,
		PollInterval:      15 * time.Millisecond,
		MapPollIterations: 10,
		MapPollInterval:   5 * time.Millisecond,
	}
}

func (c Config) withDefaults(info DeviceInfo) Config {
	d := DefaultConfig()
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.PollIterations <= 0 {
		c.PollIterations = d.PollIterations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MapPollIterations <= 0 {
		c.MapPollIterations = d.MapPollIterations
	}
	if c.MapPollInterval <= 0 {
		c.MapPollInterval = d.MapPollInterval
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = info.RecoveryTimeout
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}
	return c
}

// Timings are the measured costs of one request.
type Timings struct {
	Driver         time.Duration
	HardwareCycles uint64
	StallCycles    uint64
}

// RequestResult is returned by Submit. Status may be a warning.
type RequestResult struct {
	Status  status.Code
	Timings Timings
}

// IOError reports a failure of the wait or issue primitive itself, as
// opposed to an error status reported by the device.
type IOError struct {
	Op   string
	Code status.Code
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("driver: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{e.Code, e.Err}
}
