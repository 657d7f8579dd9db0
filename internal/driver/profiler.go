package driver

import "time"

// Point is a profiling checkpoint of one request.
type Point uint8

const (
	Prepared Point = iota
	Issued
	Completed

	pointCount
)

func (p Point) String() string {
	switch p {
	case Prepared:
		return "prepared"
	case Issued:
		return "issued"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Profiler records checkpoint times. A nil Profiler records nothing.
type Profiler struct {
	marks [pointCount]time.Time
}

func (p *Profiler) Mark(pt Point) {
	if p == nil || pt >= pointCount {
		return
	}
	p.marks[pt] = time.Now()
}

func (p *Profiler) At(pt Point) time.Time {
	if p == nil || pt >= pointCount {
		return time.Time{}
	}
	return p.marks[pt]
}

// Between returns the time from a to b, or 0 if either is unset.
func (p *Profiler) Between(a, b Point) time.Duration {
	ta, tb := p.At(a), p.At(b)
	if ta.IsZero() || tb.IsZero() {
		return 0
	}
	return tb.Sub(ta)
}
