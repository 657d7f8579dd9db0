package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Segment is one piece of a piecewise-linear activation: for x >= X the
// output is Y + ((x - X) * Slope) >> Shift.
type Segment struct {
	X     int32
	Y     int16
	Slope int16
	Shift uint8
}

// ActivationTable is a piecewise-linear activation fused into pooling.
type ActivationTable struct {
	Segments []Segment
}

// SegmentSize is the encoded size of one Segment: X int32, Y int16,
// Slope int16, Shift uint8 and three padding bytes, little-endian.
const SegmentSize = 12

var (
	errEmptyActivation    = errors.New("activation table has no segments")
	errUnsortedActivation = errors.New("activation segments must be sorted by X")
)

// Validate checks the table can be searched.
func (a *ActivationTable) Validate() error {
	if len(a.Segments) == 0 {
		return errEmptyActivation
	}
	for i := 1; i < len(a.Segments); i++ {
		if a.Segments[i].X <= a.Segments[i-1].X {
			return errUnsortedActivation
		}
	}
	return nil
}

func (a *ActivationTable) apply(x int32, ctx *ExecutionContext) int16 {
	segs := a.Segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].X > x }) - 1
	if i < 0 {
		i = 0
	}
	s := segs[i]
	y := int64(s.Y) + (int64(x)-int64(s.X))*int64(s.Slope)>>s.Shift
	return ctx.saturate16(y)
}

// MarshalBinary encodes the segments for a device request.
func (a *ActivationTable) MarshalBinary() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(a.Segments)*SegmentSize)
	for _, s := range a.Segments {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.X))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s.Y))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s.Slope))
		buf = append(buf, s.Shift, 0, 0, 0)
	}
	return buf, nil
}

func (a *ActivationTable) UnmarshalBinary(data []byte) error {
	if len(data) == 0 || len(data)%SegmentSize != 0 {
		return fmt.Errorf("activation table: %d bytes is not a whole number of segments", len(data))
	}
	segs := make([]Segment, len(data)/SegmentSize)
	for i := range segs {
		b := data[i*SegmentSize:]
		segs[i] = Segment{
			X:     int32(binary.LittleEndian.Uint32(b)),
			Y:     int16(binary.LittleEndian.Uint16(b[4:])),
			Slope: int16(binary.LittleEndian.Uint16(b[6:])),
			Shift: b[8],
		}
	}
	t := ActivationTable{Segments: segs}
	if err := t.Validate(); err != nil {
		return err
	}
	*a = t
	return nil
}
