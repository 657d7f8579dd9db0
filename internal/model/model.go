package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/tensor"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// Format is a model file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	ErrUnknownFormat = errors.New("model: unknown format")
	ErrNoLayers      = errors.New("model: no layers")
	ErrDuplicateName = errors.New("model: duplicate name")
	ErrUnknownBuffer = errors.New("model: unknown buffer")
)

// FormatOf picks the format from a file extension. Anything that is not
// .json is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Operation is a layer bound to the model's buffers.
type Operation struct {
	Name       string
	Descriptor transform.OperationDescriptor
	ActiveList *transform.ActiveList
}

// Model owns the buffers of a parsed model file. Close releases them.
type Model struct {
	name    string
	buffers []*Buffer
	byName  map[string]*Buffer
	ops     []Operation
}

// Load reads and parses the model file at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	m, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.name == "" {
		m.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// Decode unmarshals a model file without allocating anything.
func Decode(data []byte, format Format) (File, error) {
	var f File
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("model: yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("model: json: %w", err)
		}
	default:
		return File{}, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	return f, nil
}

// Parse decodes data and allocates and fills every buffer.
func Parse(data []byte, format Format) (*Model, error) {
	f, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return New(f)
}

// New builds a model from a decoded file.
func New(f File) (*Model, error) {
	if len(f.Layers) == 0 {
		return nil, ErrNoLayers
	}
	m := &Model{name: f.Name, byName: make(map[string]*Buffer, len(f.Buffers))}
	if err := m.load(f); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Model) load(f File) error {
	for _, spec := range f.Buffers {
		if spec.Name == "" {
			return fmt.Errorf("model: buffer without a name")
		}
		if _, ok := m.byName[spec.Name]; ok {
			return fmt.Errorf("%w: buffer %q", ErrDuplicateName, spec.Name)
		}
		b, err := newBuffer(spec)
		if err != nil {
			return fmt.Errorf("model: buffer %q: %w", spec.Name, err)
		}
		m.add(b)
	}

	seen := map[string]bool{}
	for i, spec := range f.Layers {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("layer%d", i)
		}
		if seen[name] {
			return fmt.Errorf("%w: layer %q", ErrDuplicateName, name)
		}
		seen[name] = true
		op, err := m.bind(name, spec)
		if err != nil {
			return fmt.Errorf("model: layer %q: %w", name, err)
		}
		m.ops = append(m.ops, op)
	}
	return nil
}

func (m *Model) add(b *Buffer) {
	m.buffers = append(m.buffers, b)
	m.byName[b.Name] = b
}

func (m *Model) bind(name string, spec LayerSpec) (Operation, error) {
	typ, err := capability.ParseOperation(spec.Operation)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		Name: name,
		Descriptor: transform.OperationDescriptor{
			Type:       typ,
			Operands:   make(map[int]*transform.OperandDescriptor, len(spec.Operands)),
			Parameters: make(map[int]any, len(spec.Params)),
		},
	}
	for key, o := range spec.Operands {
		index, err := capability.OperandIndex(key)
		if err != nil {
			return Operation{}, err
		}
		d, err := m.operand(o)
		if err != nil {
			var se *status.Error
			if errors.As(err, &se) {
				return Operation{}, status.Tag(err, status.ItemOperand, index)
			}
			return Operation{}, fmt.Errorf("%s: %w", key, err)
		}
		op.Descriptor.Operands[index] = d
	}
	for key, v := range spec.Params {
		index, err := paramIndex(key)
		if err != nil {
			return Operation{}, err
		}
		op.Descriptor.Parameters[index] = v
	}
	if len(spec.ActiveList) > 0 {
		op.ActiveList = &transform.ActiveList{Indices: spec.ActiveList}
	}
	if len(spec.Activation) > 0 {
		d, err := m.activation(name, spec.Activation)
		if err != nil {
			return Operation{}, fmt.Errorf("activation: %w", err)
		}
		op.Descriptor.Operands[capability.ActivationOperandIndex] = d
	}
	return op, nil
}

func (m *Model) operand(spec OperandSpec) (*transform.OperandDescriptor, error) {
	var buf *Buffer
	if spec.Buffer != "" {
		b, ok := m.byName[spec.Buffer]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownBuffer, spec.Buffer)
		}
		buf = b
	}
	mode := tensor.ModeDisabled
	switch {
	case spec.Mode != "":
		md, err := tensor.ParseDataMode(spec.Mode)
		if err != nil {
			return nil, status.New(status.DataModeInvalid, err.Error())
		}
		mode = md
	case buf != nil:
		mode = buf.Mode
	}
	d := &transform.OperandDescriptor{Layout: spec.Layout, Shape: spec.Shape, Mode: mode}
	if mode.IsDisabled() || buf == nil {
		return d, nil
	}

	count := uint64(1)
	for _, e := range spec.Shape {
		count *= uint64(e)
	}
	end := uint64(spec.Offset) + count*uint64(mode.Size)
	if end > uint64(len(buf.Data)) {
		return nil, status.Newf(status.MemorySizeInvalid, "buffer %q holds %d bytes, operand ends at %d",
			buf.Name, len(buf.Data), end)
	}
	d.Buffer = buf.Data[spec.Offset:end:end]
	return d, nil
}

// activation encodes the segments into a buffer of their own so that the
// pooling stage can hand them to a device.
func (m *Model) activation(layer string, segs []SegmentSpec) (*transform.OperandDescriptor, error) {
	table := kernel.ActivationTable{Segments: make([]kernel.Segment, len(segs))}
	for i, s := range segs {
		table.Segments[i] = kernel.Segment{X: s.X, Y: s.Y, Slope: s.Slope, Shift: s.Shift}
	}
	enc, err := table.MarshalBinary()
	if err != nil {
		return nil, status.New(status.ModelConfigurationInvalid, err.Error())
	}
	name := layer + ".activation"
	if _, ok := m.byName[name]; ok {
		return nil, fmt.Errorf("%w: buffer %q", ErrDuplicateName, name)
	}
	data, err := driver.Alloc(len(enc))
	if err != nil {
		return nil, err
	}
	copy(data, enc)
	words := uint32(len(enc) / 4)
	m.add(&Buffer{Name: name, Mode: tensor.ModeInt32, Count: words, Data: data})
	return &transform.OperandDescriptor{Layout: "H", Shape: []uint32{words}, Mode: tensor.ModeInt32, Buffer: data}, nil
}

var paramNames = map[string]int{
	"bias_vector_index":  capability.BiasVectorParamIndex,
	"convolution_stride": capability.ConvolutionStrideParamIndex,
	"bias_mode":          capability.BiasModeParamIndex,
	"pooling_mode":       capability.PoolingModeParamIndex,
	"pooling_window":     capability.PoolingWindowParamIndex,
	"pooling_stride":     capability.PoolingStrideParamIndex,
}

// paramIndex accepts a parameter name or its numeric index.
func paramIndex(key string) (int, error) {
	if i, ok := paramNames[strings.ToLower(key)]; ok {
		return i, nil
	}
	if i, err := strconv.Atoi(key); err == nil && i >= 0 && i <= capability.PoolingStrideParamIndex {
		return i, nil
	}
	return 0, status.Newf(status.ParameterAbsent, "unknown parameter %q", key)
}

func (m *Model) Name() string {
	return m.name
}

// Operations returns the bound layers in file order.
func (m *Model) Operations() []Operation {
	out := make([]Operation, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m *Model) Buffers() []*Buffer {
	out := make([]*Buffer, len(m.buffers))
	copy(out, m.buffers)
	return out
}

func (m *Model) Buffer(name string) (*Buffer, bool) {
	b, ok := m.byName[name]
	return b, ok
}

// Regions lists every host region a device must map to run the model.
func (m *Model) Regions() [][]byte {
	out := make([][]byte, len(m.buffers))
	for i, b := range m.buffers {
		out[i] = b.Data
	}
	return out
}

// Close frees every buffer. Tensors built over them must not be used after.
func (m *Model) Close() error {
	var errs []error
	for _, b := range m.buffers {
		if err := driver.Free(b.Data); err != nil {
			errs = append(errs, fmt.Errorf("free %q: %w", b.Name, err))
		}
		b.Data = nil
	}
	m.buffers = nil
	clear(m.byName)
	return errors.Join(errs...)
}
