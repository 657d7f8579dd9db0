package kernel

import "github.com/samcharles93/nnaccel/internal/tensor"

// poolingRef reduces each filter's convolution outputs along W. Inputs are
// filter-major. The last window is clipped at the end of the row. With an
// activation table the outputs are int16, otherwise int32.
func poolingRef(conv *ConvolutionConfig, pool *PoolingCall, act *ActivationTable) {
	p := pool.Config
	in := view[int32](conv.Inputs)
	scratch := pool.Scratch[:conv.OutputsPerFilter]
	out16 := conv.OutputMode.Type == tensor.Int16
	var o16 []int16
	var o32 []int32
	if out16 {
		o16 = view[int16](conv.Outputs)
	} else {
		o32 = view[int32](conv.Outputs)
	}

	for f := range conv.Filters {
		row := in[f*conv.InputsPerFilter : (f+1)*conv.InputsPerFilter]
		for o := range conv.OutputsPerFilter {
			start := o * p.Stride
			end := min(start+p.Window, conv.InputsPerFilter)
			acc := int64(row[start])
			for _, x := range row[start+1 : end] {
				switch p.Type {
				case PoolingMax:
					acc = max(acc, int64(x))
				case PoolingSum:
					acc += int64(x)
				}
			}
			scratch[o] = acc
		}

		base := f * conv.OutputsPerFilter
		for o, acc := range scratch {
			v := conv.Context.saturate32(acc)
			switch {
			case act != nil && out16:
				o16[base+uint32(o)] = act.apply(v, conv.Context)
			case out16:
				o16[base+uint32(o)] = conv.Context.saturate16(int64(v))
			default:
				o32[base+uint32(o)] = v
			}
		}
	}
}
