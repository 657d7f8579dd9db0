package status

import "fmt"

// Code is a domain status. Codes double as sentinel errors so callers can
// match them with errors.Is regardless of how much context wraps them.
type Code int

const (
	Success Code = iota

	// Warnings reported by the device alongside a completed request.
	WarningArithmeticSaturation
	WarningDeviceBusy

	// Validation.
	NullArgumentNotAllowed
	DataModeInvalid
	ShapeInvalid
	DimensionNotPresent
	MemorySizeInvalid
	MemoryAlignmentInvalid
	OperandAbsent
	ParameterAbsent
	ModelConfigurationInvalid
	ActiveListIndicesInvalid
	XnnErrorLyrOperation
	XnnErrorLyrCfg
	XnnErrorInputVolume
	XnnErrorOutputVolume
	XnnErrorWeightVolume
	XnnErrorBiasVolume
	XnnErrorInputBytes
	XnnErrorOutputBytes
	XnnErrorWeightBytes
	XnnErrorBiasBytes
	XnnErrorBiasIndex
	XnnErrorBiasMode
	CnnErrorPoolType
	CnnErrorPoolSize
	CnnErrorPoolStride

	// Kernel resolution.
	KernelNotSupported
	KernelNotImplemented

	// Driver and device.
	IdentifierInvalid
	DeviceNotFound
	DeviceBusy
	MemoryMappingFailed
	DeviceIngoingCommunicationError
	DeviceOutgoingCommunicationError
	DeviceParameterOutOfRange
	DeviceVaOutOfRange
	DeviceUnexpectedCompletion
	DeviceDmaRequestError
	DeviceMmuRequestError
	DeviceCriticalFailure
	DeviceHardwareError
)

var codeNames = map[Code]string{
	Success:                          "success",
	WarningArithmeticSaturation:      "arithmetic saturation",
	WarningDeviceBusy:                "device busy (request not completed yet)",
	NullArgumentNotAllowed:           "null argument not allowed",
	DataModeInvalid:                  "data mode invalid",
	ShapeInvalid:                     "shape invalid",
	DimensionNotPresent:              "dimension not present",
	MemorySizeInvalid:                "memory size invalid",
	MemoryAlignmentInvalid:           "memory alignment invalid",
	OperandAbsent:                    "operand absent",
	ParameterAbsent:                  "parameter absent",
	ModelConfigurationInvalid:        "model configuration invalid",
	ActiveListIndicesInvalid:         "active list indices invalid",
	XnnErrorLyrOperation:             "layer operation not supported",
	XnnErrorLyrCfg:                   "layer configuration invalid",
	XnnErrorInputVolume:              "input volume invalid",
	XnnErrorOutputVolume:             "output volume invalid",
	XnnErrorWeightVolume:             "weight volume invalid",
	XnnErrorBiasVolume:               "bias volume invalid",
	XnnErrorInputBytes:               "input element size invalid",
	XnnErrorOutputBytes:              "output element size invalid",
	XnnErrorWeightBytes:              "weight element size invalid",
	XnnErrorBiasBytes:                "bias element size invalid",
	XnnErrorBiasIndex:                "bias vector index invalid",
	XnnErrorBiasMode:                 "bias mode invalid",
	CnnErrorPoolType:                 "pooling type invalid",
	CnnErrorPoolSize:                 "pooling size invalid",
	CnnErrorPoolStride:               "pooling stride invalid",
	KernelNotSupported:               "kernel not supported for data mode combination",
	KernelNotImplemented:             "kernel not implemented for acceleration mode",
	IdentifierInvalid:                "identifier invalid",
	DeviceNotFound:                   "device not found",
	DeviceBusy:                       "device busy",
	MemoryMappingFailed:              "memory mapping failed",
	DeviceIngoingCommunicationError:  "device ingoing communication error",
	DeviceOutgoingCommunicationError: "device outgoing communication error",
	DeviceParameterOutOfRange:        "device parameter out of range",
	DeviceVaOutOfRange:               "device virtual address out of range",
	DeviceUnexpectedCompletion:       "device unexpected completion",
	DeviceDmaRequestError:            "device DMA request error",
	DeviceMmuRequestError:            "device MMU request error",
	DeviceCriticalFailure:            "device critical failure (hang)",
	DeviceHardwareError:              "device hardware error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(c))
}

func (c Code) Error() string {
	return c.String()
}

// IsWarning reports whether the code describes a completed operation whose
// result the caller may still use.
func (c Code) IsWarning() bool {
	return c == WarningArithmeticSaturation || c == WarningDeviceBusy
}

// IsSuccessful reports success or a warning.
func (c Code) IsSuccessful() bool {
	return c == Success || c.IsWarning()
}
