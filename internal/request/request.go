// Package request serializes configured layers into the binary descriptor a
// device executes, resolving every operand buffer to a mapped device region.
package request

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// Magic opens every descriptor.
var Magic = [4]byte{'N', 'N', 'A', 'R'}

const (
	Version uint16 = 1

	// MaxOperands bounds the operand indices a layer may carry.
	MaxOperands = capability.WeightScaleFactorOperandIndex + 1

	maxRank = 4
)

const layerFlagActiveList uint8 = 1 << 0

var (
	ErrInvalidMagic       = errors.New("request: invalid descriptor magic")
	ErrUnsupportedVersion = errors.New("request: unsupported descriptor version")
	ErrCorrupt            = errors.New("request: corrupt descriptor")
	ErrEmpty              = errors.New("request: no layers")
)

// Header is the fixed descriptor prefix.
type Header struct {
	Magic      [4]byte
	Version    uint16
	Flags      uint16
	LayerCount uint32
	ID         [16]byte
}

type layerHeader struct {
	Operation    uint8
	OperandCount uint8
	ParamCount   uint8
	Flags        uint8
	Signature    uint32
}

type operandHeader struct {
	Index  uint8
	Type   uint8
	Rank   uint8
	_      uint8
	Layout [maxRank]byte
	Memory uint64
	Offset uint32
	Size   uint32
}

// AddressResolver maps a host buffer to the device region holding it.
// *driver.Device implements it.
type AddressResolver interface {
	Resolve(buf []byte) (driver.Address, error)
}

// OperandRef is a decoded operand.
type OperandRef struct {
	Index   int
	Mode    tensor.DataMode
	Layout  string
	Extents []uint32
	Memory  driver.MemoryID
	Offset  uint32
	Size    uint32
}

// Shape rebuilds the operand's shape. Disabled operands have none.
func (o OperandRef) Shape() (tensor.Shape, error) {
	if o.Layout == "" {
		return tensor.Shape{}, nil
	}
	return tensor.NewShape(o.Layout, o.Extents...)
}

// LayerDescriptor is one decoded layer.
type LayerDescriptor struct {
	Operation  capability.Operation
	Signature  kernel.Signature
	Params     []uint32
	Operands   []OperandRef
	ActiveList []uint32
}

// Operand returns the operand at index.
func (l *LayerDescriptor) Operand(index int) (OperandRef, bool) {
	for _, o := range l.Operands {
		if o.Index == index {
			return o, true
		}
	}
	return OperandRef{}, false
}

// Descriptor is a decoded request.
type Descriptor struct {
	ID      uuid.UUID
	Version uint16
	Layers  []LayerDescriptor
}

// Builder accumulates layers for one request. It is not safe for concurrent
// use.
type Builder struct {
	resolver AddressResolver
	id       uuid.UUID
	layers   [][]byte
}

func NewBuilder(resolver AddressResolver) *Builder {
	return &Builder{resolver: resolver, id: uuid.New()}
}

// ID is the id the built request will carry.
func (b *Builder) ID() uuid.UUID {
	return b.id
}

func (b *Builder) Len() int {
	return len(b.layers)
}

// activeListChecker is implemented by layers that accept active lists.
type activeListChecker interface {
	ValidateActiveList(al *transform.ActiveList) error
}

// Add encodes layer with an optional active list. Errors name the layer's
// position in the request.
func (b *Builder) Add(layer transform.Layer, al *transform.ActiveList) error {
	enc, err := b.encodeLayer(layer, al)
	if err != nil {
		return fmt.Errorf("layer %d: %w", len(b.layers), err)
	}
	b.layers = append(b.layers, enc)
	return nil
}

func (b *Builder) encodeLayer(layer transform.Layer, al *transform.ActiveList) ([]byte, error) {
	if layer == nil {
		return nil, status.New(status.NullArgumentNotAllowed, "layer is nil")
	}
	if al != nil {
		c, ok := layer.(activeListChecker)
		if !ok {
			return nil, status.Newf(status.ModelConfigurationInvalid, "%s does not support active lists", layer.Operation())
		}
		if err := c.ValidateActiveList(al); err != nil {
			return nil, err
		}
	}

	var operands []operandHeader
	var extents [][]uint32
	modes := map[int]tensor.DataMode{}
	for index := range MaxOperands {
		t, err := layer.Operand(index)
		if errors.Is(err, status.OperandAbsent) {
			continue
		}
		if err != nil {
			return nil, status.Tag(err, status.ItemOperand, index)
		}
		h, err := b.operand(index, t)
		if err != nil {
			return nil, status.Tag(err, status.ItemOperand, index)
		}
		operands = append(operands, h)
		extents = append(extents, t.Shape().Extents())
		modes[index] = t.Mode()
	}

	mode := func(index int) tensor.DataMode {
		if m, ok := modes[index]; ok {
			return m
		}
		return tensor.ModeDisabled
	}
	params := layer.Params()
	lh := layerHeader{
		Operation:    uint8(layer.Operation()),
		OperandCount: uint8(len(operands)),
		ParamCount:   uint8(len(params)),
		Signature: uint32(kernel.NewSignature(
			mode(capability.InputOperandIndex),
			mode(capability.WeightOperandIndex),
			mode(capability.BiasOperandIndex),
		)),
	}
	if al != nil {
		lh.Flags |= layerFlagActiveList
	}

	var buf bytes.Buffer
	write := func(v any) {
		// bytes.Buffer writes cannot fail.
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	write(&lh)
	for _, p := range params {
		write(p.Value)
	}
	for i := range operands {
		write(&operands[i])
		write(extents[i])
	}
	if al != nil {
		write(al.Count())
		write(al.Indices)
	}
	return buf.Bytes(), nil
}

func (b *Builder) operand(index int, t *tensor.Tensor) (operandHeader, error) {
	s := t.Shape()
	if s.Rank() > maxRank {
		return operandHeader{}, status.Newf(status.ShapeInvalid, "rank %d exceeds %d", s.Rank(), maxRank)
	}
	h := operandHeader{
		Index: uint8(index),
		Type:  uint8(t.Mode().Type),
		Rank:  uint8(s.Rank()),
	}
	copy(h.Layout[:], s.Layout())
	if t.Mode().IsDisabled() || len(t.Bytes()) == 0 {
		return h, nil
	}
	addr, err := b.resolver.Resolve(t.Bytes())
	if err != nil {
		return operandHeader{}, err
	}
	h.Memory = uint64(addr.Memory)
	h.Offset = addr.Offset
	h.Size = uint32(len(t.Bytes()))
	return h, nil
}

// Build serializes the request. The builder can keep adding layers and build
// again; each build carries the same id.
func (b *Builder) Build() (*driver.HardwareRequest, error) {
	if len(b.layers) == 0 {
		return nil, ErrEmpty
	}
	h := Header{Magic: Magic, Version: Version, LayerCount: uint32(len(b.layers)), ID: b.id}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &h)
	for _, l := range b.layers {
		buf.Write(l)
	}
	return &driver.HardwareRequest{ID: b.id, Descriptor: buf.Bytes(), LayerCount: len(b.layers)}, nil
}

// Decode parses a descriptor produced by Build.
func Decode(desc []byte) (*Descriptor, error) {
	r := bytes.NewReader(desc)
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	// Each layer needs at least its fixed header.
	if uint64(h.LayerCount)*uint64(binary.Size(layerHeader{})) > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %d layers do not fit in %d bytes", ErrCorrupt, h.LayerCount, r.Len())
	}

	d := &Descriptor{ID: uuid.UUID(h.ID), Version: h.Version, Layers: make([]LayerDescriptor, 0, h.LayerCount)}
	for i := range h.LayerCount {
		l, err := decodeLayer(r)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		d.Layers = append(d.Layers, l)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return d, nil
}

func decodeLayer(r *bytes.Reader) (LayerDescriptor, error) {
	read := func(v any) error {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	}

	var lh layerHeader
	if err := read(&lh); err != nil {
		return LayerDescriptor{}, err
	}
	l := LayerDescriptor{
		Operation: capability.Operation(lh.Operation),
		Signature: kernel.Signature(lh.Signature),
		Params:    make([]uint32, lh.ParamCount),
	}
	if err := read(l.Params); err != nil {
		return LayerDescriptor{}, err
	}
	for range lh.OperandCount {
		var oh operandHeader
		if err := read(&oh); err != nil {
			return LayerDescriptor{}, err
		}
		if oh.Rank > maxRank {
			return LayerDescriptor{}, fmt.Errorf("%w: operand rank %d", ErrCorrupt, oh.Rank)
		}
		mode, err := tensor.ModeOf(tensor.DataType(oh.Type))
		if err != nil {
			return LayerDescriptor{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		ext := make([]uint32, oh.Rank)
		if err := read(ext); err != nil {
			return LayerDescriptor{}, err
		}
		l.Operands = append(l.Operands, OperandRef{
			Index:   int(oh.Index),
			Mode:    mode,
			Layout:  string(oh.Layout[:oh.Rank]),
			Extents: ext,
			Memory:  driver.MemoryID(oh.Memory),
			Offset:  oh.Offset,
			Size:    oh.Size,
		})
	}
	if lh.Flags&layerFlagActiveList != 0 {
		var n uint32
		if err := read(&n); err != nil {
			return LayerDescriptor{}, err
		}
		if uint64(n)*4 > uint64(r.Len()) {
			return LayerDescriptor{}, fmt.Errorf("%w: active list of %d entries", ErrCorrupt, n)
		}
		l.ActiveList = make([]uint32, n)
		if err := read(l.ActiveList); err != nil {
			return LayerDescriptor{}, err
		}
	}
	return l, nil
}

// Region slices the operand out of a mapped host region.
func (o OperandRef) Region(mapped []byte) ([]byte, error) {
	end := uint64(o.Offset) + uint64(o.Size)
	if end > uint64(len(mapped)) {
		return nil, status.Newf(status.MemorySizeInvalid, "operand %d spans [%d, %d) of a %d byte region",
			o.Index, o.Offset, end, len(mapped))
	}
	return mapped[o.Offset:end:end], nil
}
