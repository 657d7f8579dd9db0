package driver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/nnaccel/internal/status"
)

// SimConfig shapes the behaviour of a SimPort.
type SimConfig struct {
	Info DeviceInfo
	// Missing and Busy make Open fail.
	Missing bool
	Busy    bool
	// Latency delays every request's completion.
	Latency time.Duration
	// HangRequests makes that many of the next requests never complete.
	HangRequests int
	// HardwareStatus overrides the completion status word.
	HardwareStatus uint32
	// RejectMap completes mapping requests immediately, the device's way of
	// refusing a region.
	RejectMap bool
	// WaitError is returned by every request's wait primitive.
	WaitError error
	// MapWaitError is returned by the wait primitive of every mapping.
	MapWaitError error
	// Execute runs the request on the host before it completes, reading and
	// writing mapped regions through mem. Its status bits are OR-ed into the
	// completion; an error sets HWParamOutOfRange.
	Execute func(req *HardwareRequest, mem HostMemory) (uint32, error)
}

// HostMemory resolves memory ids to the host regions they map.
type HostMemory interface {
	Region(id MemoryID) ([]byte, bool)
}

// SimPort is an in-process device. It is used when no hardware is present
// and by tests of the submission protocol.
type SimPort struct {
	cfg SimConfig

	mu     sync.Mutex
	open   bool
	nextID MemoryID
	mapped map[MemoryID][]byte
	hangs  int

	issued    atomic.Int64
	cancelled atomic.Int64
	pending   atomic.Int64
}

var _ Port = (*SimPort)(nil)

func NewSimPort(cfg SimConfig) *SimPort {
	if cfg.Info.Name == "" {
		cfg.Info.Name = "simulated accelerator"
	}
	if cfg.Info.Alignment == 0 {
		cfg.Info.Alignment = 64
	}
	return &SimPort{cfg: cfg, mapped: make(map[MemoryID][]byte), hangs: cfg.HangRequests}
}

func (p *SimPort) Open(index int) (DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.cfg.Missing || index != 0:
		return DeviceInfo{}, status.Newf(status.DeviceNotFound, "no simulated device %d", index)
	case p.cfg.Busy || p.open:
		return DeviceInfo{}, status.Newf(status.DeviceBusy, "simulated device %d already open", index)
	}
	p.open = true
	info := p.cfg.Info
	info.Index = index
	info.Path = "sim://0"
	return info, nil
}

func (p *SimPort) Map(buf []byte) (MemoryID, Wait, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return ForbiddenMemoryID, nil, errors.New("sim: device not open")
	}
	p.nextID++
	id := p.nextID
	w := p.newWait()
	w.err = p.cfg.MapWaitError
	if p.cfg.RejectMap {
		w.complete(Completion{HardwareStatus: HWVaOutOfRange})
	} else {
		p.mapped[id] = buf
	}
	return id, w, nil
}

func (p *SimPort) Unmap(id MemoryID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mapped[id]; !ok {
		return errors.New("sim: memory not mapped")
	}
	delete(p.mapped, id)
	return nil
}

// Issue starts req. Completion is signalled from a goroutine after Latency
// unless the request hangs.
func (p *SimPort) Issue(req *HardwareRequest) (Wait, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, errors.New("sim: device not open")
	}
	hang := p.hangs > 0
	if hang {
		p.hangs--
	}
	w := p.newWait()
	p.mu.Unlock()

	p.issued.Add(1)
	w.err = p.cfg.WaitError
	if hang || w.err != nil {
		return w, nil
	}
	go func() {
		if p.cfg.Latency > 0 {
			time.Sleep(p.cfg.Latency)
		}
		hw := HWCompleted
		if p.cfg.HardwareStatus != 0 {
			hw = p.cfg.HardwareStatus
		}
		if p.cfg.Execute != nil {
			bits, err := p.cfg.Execute(req, p)
			hw |= bits
			if err != nil {
				hw |= HWParamOutOfRange
			}
		}
		w.complete(Completion{HardwareStatus: hw, HardwareCycles: uint64(len(req.Descriptor))})
	}()
	return w, nil
}

func (p *SimPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	clear(p.mapped)
	return nil
}

// Region returns the host buffer behind id.
func (p *SimPort) Region(id MemoryID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.mapped[id]
	return buf, ok
}

// Issued is the number of requests issued so far.
func (p *SimPort) Issued() int64 { return p.issued.Load() }

// Cancelled is the number of cancelled waits.
func (p *SimPort) Cancelled() int64 { return p.cancelled.Load() }

// Pending is the number of wait contexts not yet closed.
func (p *SimPort) Pending() int64 { return p.pending.Load() }

// Mapped is the number of regions the simulated device holds.
func (p *SimPort) Mapped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mapped)
}

func (p *SimPort) newWait() *simWait {
	p.pending.Add(1)
	return &simWait{port: p, done: make(chan struct{})}
}

type simWait struct {
	port   *SimPort
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
	comp   Completion
	err    error
}

func (w *simWait) complete(c Completion) {
	w.once.Do(func() {
		w.comp = c
		close(w.done)
	})
}

func (w *simWait) Wait(timeout time.Duration) (Completion, bool, error) {
	if w.err != nil {
		return Completion{}, false, w.err
	}
	if timeout <= 0 {
		select {
		case <-w.done:
			return w.comp, true, nil
		default:
			return Completion{}, false, nil
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return w.comp, true, nil
	case <-t.C:
		return Completion{}, false, nil
	}
}

func (w *simWait) Cancel() error {
	w.port.cancelled.Add(1)
	return nil
}

func (w *simWait) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		w.port.pending.Add(-1)
	}
	return nil
}
