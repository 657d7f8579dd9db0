package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/status"
)

type mapping struct {
	buf  []byte
	base uintptr
	wait Wait
	// pending is set while MemoryMap polls the mapping request.
	pending bool
}

func (m *mapping) contains(base uintptr, size int) bool {
	return base >= m.base && base+uintptr(size) <= m.base+uintptr(len(m.buf))
}

func (m *mapping) overlaps(base uintptr, size int) bool {
	return base < m.base+uintptr(len(m.buf)) && m.base < base+uintptr(size)
}

// Device is an open accelerator. The mapping table is safe for concurrent
// use; each Submit call owns its wait context.
type Device struct {
	port Port
	info DeviceInfo
	cfg  Config
	log  logger.Logger

	mu       sync.Mutex
	mappings map[MemoryID]*mapping
	closed   bool
}

var _ Interface = (*Device)(nil)

// Open opens device index through port.
func Open(ctx context.Context, port Port, index int, cfg Config) (*Device, error) {
	info, err := port.Open(index)
	if err != nil {
		return nil, err
	}
	d := &Device{
		port:     port,
		info:     info,
		cfg:      cfg.withDefaults(info),
		log:      logger.FromContext(ctx).With("component", "driver", "device", index),
		mappings: make(map[MemoryID]*mapping),
	}
	d.log.Debug("device opened", "name", info.Name, "path", info.Path, "recovery_timeout", d.cfg.RecoveryTimeout)
	return d, nil
}

func (d *Device) Info() DeviceInfo {
	return d.info
}

func (d *Device) Config() Config {
	return d.cfg
}

func bufferBase(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// MemoryMap registers buf for device access. The device keeps the mapping
// request pending for as long as the region is mapped, so a request that
// completes during the poll window was rejected.
func (d *Device) MemoryMap(buf []byte) (MemoryID, error) {
	if buf == nil {
		return ForbiddenMemoryID, status.New(status.NullArgumentNotAllowed, "buffer is nil")
	}
	if len(buf) == 0 || uint64(len(buf)) > math.MaxUint32 {
		return ForbiddenMemoryID, status.New(status.MemorySizeInvalid, "mapped size must fit in 32 bits").
			WithExpected(fmt.Sprintf("[1, %d]", uint64(math.MaxUint32)), len(buf))
	}
	base := bufferBase(buf)
	if a := uintptr(d.info.Alignment); a > 1 && base%a != 0 {
		return ForbiddenMemoryID, status.Newf(status.MemoryAlignmentInvalid, "buffer not aligned to %d bytes", a)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ForbiddenMemoryID, ErrClosed
	}
	for id, m := range d.mappings {
		if m.overlaps(base, len(buf)) {
			d.mu.Unlock()
			return ForbiddenMemoryID, status.Newf(status.MemoryMappingFailed, "buffer overlaps memory %d", id)
		}
	}
	id, w, err := d.port.Map(buf)
	if err != nil {
		d.mu.Unlock()
		return ForbiddenMemoryID, &IOError{Op: "map", Code: status.MemoryMappingFailed, Err: err}
	}
	if id == ForbiddenMemoryID {
		d.mu.Unlock()
		w.Close()
		return ForbiddenMemoryID, status.New(status.MemoryMappingFailed, "device returned the forbidden memory id")
	}
	// The region stays reserved while the lock is released for the poll.
	m := &mapping{buf: buf, base: base, wait: w, pending: true}
	d.mappings[id] = m
	d.mu.Unlock()

	rejected, err := d.pollMapping(w)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mappings[id] != m {
		// Close released the mapping while it was polled.
		return ForbiddenMemoryID, ErrClosed
	}
	if err == nil && !rejected {
		m.pending = false
		d.log.Debug("memory mapped", "id", id, "size", len(buf))
		return id, nil
	}
	delete(d.mappings, id)
	w.Close()
	if rejected {
		return ForbiddenMemoryID, err
	}
	if uerr := d.port.Unmap(id); uerr != nil {
		d.log.Warn("unmap after failed map wait", "id", id, "error", uerr)
	}
	return ForbiddenMemoryID, &IOError{Op: "map wait", Code: status.MemoryMappingFailed, Err: err}
}

// pollMapping watches a fresh mapping for MapPollIterations. A completion
// means the device refused the region and is reported as rejected with a
// MemoryMappingFailed error.
func (d *Device) pollMapping(w Wait) (bool, error) {
	for range d.cfg.MapPollIterations {
		c, done, err := w.Wait(0)
		if err != nil {
			return false, err
		}
		if done {
			return true, status.Newf(status.MemoryMappingFailed, "device rejected mapping (hw status %#x)", c.HardwareStatus)
		}
		time.Sleep(d.cfg.MapPollInterval)
	}
	return false, nil
}

// MemoryUnmap removes a mapping. Unknown ids fail with ErrUnknownMemory.
func (d *Device) MemoryUnmap(id MemoryID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	m, ok := d.mappings[id]
	if !ok || m.pending {
		return fmt.Errorf("memory %d: %w", id, ErrUnknownMemory)
	}
	if err := d.port.Unmap(id); err != nil {
		return &IOError{Op: "unmap", Code: status.DeviceOutgoingCommunicationError, Err: err}
	}
	delete(d.mappings, id)
	m.wait.Close()
	d.log.Debug("memory unmapped", "id", id)
	return nil
}

// Address is a device view of a host buffer.
type Address struct {
	Memory MemoryID
	Offset uint32
}

// Resolve finds the mapping containing buf.
func (d *Device) Resolve(buf []byte) (Address, error) {
	if len(buf) == 0 {
		return Address{}, status.New(status.NullArgumentNotAllowed, "empty buffer")
	}
	base := bufferBase(buf)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, m := range d.mappings {
		if !m.pending && m.contains(base, len(buf)) {
			return Address{Memory: id, Offset: uint32(base - m.base)}, nil
		}
	}
	return Address{}, status.Newf(status.IdentifierInvalid, "buffer of %d bytes is not mapped", len(buf))
}

// Mappings returns the number of live mappings.
func (d *Device) Mappings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mappings)
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Submit issues req and blocks until it completes or the device is declared
// hung. The request's wait context is closed on every path, so a timed out
// call leaves the device usable. ctx only interrupts the poll phase.
func (d *Device) Submit(ctx context.Context, req *HardwareRequest, prof *Profiler) (RequestResult, error) {
	if req == nil {
		return RequestResult{}, status.New(status.NullArgumentNotAllowed, "request is nil")
	}
	if d.isClosed() {
		return RequestResult{}, ErrClosed
	}

	w, err := d.port.Issue(req)
	if err != nil {
		return RequestResult{}, &IOError{Op: "issue", Code: status.DeviceOutgoingCommunicationError, Err: err}
	}
	defer w.Close()
	prof.Mark(Issued)
	issued := time.Now()

	c, err := d.await(ctx, req, w)
	if err != nil {
		return RequestResult{}, err
	}
	prof.Mark(Completed)

	code := ParseHardwareStatus(c.HardwareStatus)
	res := RequestResult{
		Status: code,
		Timings: Timings{
			Driver:         time.Since(issued),
			HardwareCycles: c.HardwareCycles,
			StallCycles:    c.StallCycles,
		},
	}
	if !code.IsSuccessful() {
		return res, status.Newf(code, "request %s failed (hw status %#x)", req.ID, c.HardwareStatus)
	}
	if code.IsWarning() {
		d.log.Warn("request completed with warning", "request", req.ID, "status", code)
	}
	return res, nil
}

func (d *Device) await(ctx context.Context, req *HardwareRequest, w Wait) (Completion, error) {
	c, done, err := w.Wait(d.cfg.WaitTimeout)
	if err != nil {
		return c, &IOError{Op: "wait", Code: status.DeviceIngoingCommunicationError, Err: err}
	}
	if done {
		return c, nil
	}

	// The first bounded wait can race with the completion signal.
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for range d.cfg.PollIterations {
		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
		if err := ctx.Err(); err != nil {
			w.Cancel()
			return c, fmt.Errorf("driver: waiting for request %s: %w", req.ID, err)
		}
		c, done, err = w.Wait(0)
		if err != nil {
			return c, &IOError{Op: "poll", Code: status.DeviceIngoingCommunicationError, Err: err}
		}
		if done {
			return c, nil
		}
	}

	d.log.Warn("request still pending, waiting for recovery", "request", req.ID, "timeout", d.cfg.RecoveryTimeout)
	c, done, err = w.Wait(d.cfg.RecoveryTimeout)
	if err != nil {
		return c, &IOError{Op: "recovery wait", Code: status.DeviceIngoingCommunicationError, Err: err}
	}
	if done {
		return c, nil
	}
	if err := w.Cancel(); err != nil {
		d.log.Error("cancel failed", "request", req.ID, "error", err)
	}
	d.log.Error("device hang", "request", req.ID)
	return c, ErrDeviceHang
}

// Close releases every mapping and the port. It is safe to call twice.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	for id, m := range d.mappings {
		if err := d.port.Unmap(id); err != nil {
			errs = append(errs, fmt.Errorf("unmap %d: %w", id, err))
		}
		if err := m.wait.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wait %d: %w", id, err))
		}
		delete(d.mappings, id)
	}
	if err := d.port.Close(); err != nil {
		errs = append(errs, err)
	}
	d.log.Debug("device closed")
	return errors.Join(errs...)
}
