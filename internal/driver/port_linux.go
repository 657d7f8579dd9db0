//go:build linux

package driver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/samcharles93/nnaccel/internal/status"
	"golang.org/x/sys/unix"
)

const devicePathFormat = "/dev/gna%d"

// ioctl numbers of the accelerator character device, _IOWR('C', nr, size).
func iowr(nr, size uintptr) uintptr {
	return 3<<30 | size<<16 | uintptr('C')<<8 | nr
}

var (
	ioctlParamGet = iowr(0x01, 8)
	ioctlMemMap   = iowr(0x02, unsafe.Sizeof(userPtr{}))
	ioctlMemFree  = iowr(0x03, 8)
	ioctlCompute  = iowr(0x04, computeArgSize)
	ioctlWait     = iowr(0x05, waitArgSize)
)

const (
	paramDeviceID        = 1
	paramRecoveryTimeout = 2
	paramDeviceType      = 3

	computeArgSize = 32
	waitArgSize    = 56

	// Device buffers are page aligned.
	linuxAlignment = 4096
)

type userPtr struct {
	UserAddress uint64
	UserSize    uint32
	_           uint32
	MemoryID    uint64
}

// LinuxPort talks to the accelerator's character device.
type LinuxPort struct {
	mu sync.Mutex
	fd int
}

var _ Port = (*LinuxPort)(nil)

// NewPort returns the native backend for this OS.
func NewPort() Port {
	return &LinuxPort{fd: -1}
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *LinuxPort) Open(index int) (DeviceInfo, error) {
	path := fmt.Sprintf(devicePathFormat, index)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return DeviceInfo{}, status.Newf(status.DeviceNotFound, "%s: %v", path, err)
	case errors.Is(err, unix.EBUSY):
		return DeviceInfo{}, status.Newf(status.DeviceBusy, "%s: %v", path, err)
	case err != nil:
		return DeviceInfo{}, &IOError{Op: "open " + path, Code: status.DeviceNotFound, Err: err}
	}

	info := DeviceInfo{Index: index, Path: path, Alignment: linuxAlignment}
	id, err := paramGet(fd, paramDeviceID)
	if err != nil {
		unix.Close(fd)
		return DeviceInfo{}, &IOError{Op: "param get", Code: status.DeviceIngoingCommunicationError, Err: err}
	}
	info.Version = uint32(id)
	if v, err := paramGet(fd, paramRecoveryTimeout); err == nil {
		info.RecoveryTimeout = time.Duration(v) * time.Second
	}
	info.Name = fmt.Sprintf("gna %#x", id)
	if t, err := paramGet(fd, paramDeviceType); err == nil {
		info.Name = fmt.Sprintf("gna %#x type %d", id, t)
	}

	p.mu.Lock()
	p.fd = fd
	p.mu.Unlock()
	return info, nil
}

func paramGet(fd int, id uint64) (uint64, error) {
	// union { u64 in_id; u64 out_value; }
	v := id
	if err := ioctl(fd, ioctlParamGet, unsafe.Pointer(&v)); err != nil {
		return 0, err
	}
	return v, nil
}

func (p *LinuxPort) handle() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return -1, os.ErrClosed
	}
	return p.fd, nil
}

// Map pins buf with the driver. The driver maps synchronously, so the
// returned wait never completes.
func (p *LinuxPort) Map(buf []byte) (MemoryID, Wait, error) {
	fd, err := p.handle()
	if err != nil {
		return ForbiddenMemoryID, nil, err
	}
	arg := userPtr{
		UserAddress: uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf)))),
		UserSize:    uint32(len(buf)),
	}
	err = ioctl(fd, ioctlMemMap, unsafe.Pointer(&arg))
	runtime.KeepAlive(buf)
	if err != nil {
		return ForbiddenMemoryID, nil, err
	}
	return MemoryID(arg.MemoryID), pendingWait{}, nil
}

func (p *LinuxPort) Unmap(id MemoryID) error {
	fd, err := p.handle()
	if err != nil {
		return err
	}
	v := uint64(id)
	return ioctl(fd, ioctlMemFree, unsafe.Pointer(&v))
}

// Issue submits the descriptor. The compute argument is a union: the
// descriptor address, size and layer count go in, the request id comes out.
func (p *LinuxPort) Issue(req *HardwareRequest) (Wait, error) {
	fd, err := p.handle()
	if err != nil {
		return nil, err
	}
	if len(req.Descriptor) == 0 {
		return nil, errors.New("empty request descriptor")
	}
	var arg [computeArgSize]byte
	binary.NativeEndian.PutUint64(arg[0:], uint64(uintptr(unsafe.Pointer(&req.Descriptor[0]))))
	binary.NativeEndian.PutUint64(arg[8:], uint64(len(req.Descriptor)))
	binary.NativeEndian.PutUint64(arg[16:], uint64(req.LayerCount))
	err = ioctl(fd, ioctlCompute, unsafe.Pointer(&arg[0]))
	runtime.KeepAlive(req.Descriptor)
	if err != nil {
		return nil, err
	}
	return &linuxWait{port: p, request: binary.NativeEndian.Uint64(arg[0:])}, nil
}

func (p *LinuxPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

type linuxWait struct {
	port    *LinuxPort
	request uint64
}

// Wait blocks in the driver for up to timeout. ETIME and EBUSY mean the
// request is still running.
func (w *linuxWait) Wait(timeout time.Duration) (Completion, bool, error) {
	fd, err := w.port.handle()
	if err != nil {
		return Completion{}, false, err
	}
	var arg [waitArgSize]byte
	binary.NativeEndian.PutUint64(arg[0:], w.request)
	binary.NativeEndian.PutUint32(arg[8:], uint32(timeout.Milliseconds()))
	err = ioctl(fd, ioctlWait, unsafe.Pointer(&arg[0]))
	switch {
	case errors.Is(err, unix.ETIME), errors.Is(err, unix.EBUSY):
		return Completion{}, false, nil
	case err != nil:
		return Completion{}, false, err
	}
	// out: u32 hw_status, u32 pad, 4 x u64 driver perf, u64 total, u64 stall
	return Completion{
		HardwareStatus: binary.NativeEndian.Uint32(arg[0:]),
		HardwareCycles: binary.NativeEndian.Uint64(arg[40:]),
		StallCycles:    binary.NativeEndian.Uint64(arg[48:]),
	}, true, nil
}

// Cancel is a no-op: the driver resets the device itself after its recovery
// timeout.
func (w *linuxWait) Cancel() error { return nil }

func (w *linuxWait) Close() error { return nil }

type pendingWait struct{}

func (pendingWait) Wait(time.Duration) (Completion, bool, error) { return Completion{}, false, nil }
func (pendingWait) Cancel() error                                { return nil }
func (pendingWait) Close() error                                 { return nil }
