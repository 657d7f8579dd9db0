package driver

import "github.com/samcharles93/nnaccel/internal/status"

// Hardware status register bits.
const (
	HWCompleted            uint32 = 1 << 0
	HWStatistics           uint32 = 1 << 3
	HWMmuError             uint32 = 1 << 4
	HWDmaError             uint32 = 1 << 5
	HWUnexpectedCompletion uint32 = 1 << 6
	HWVaOutOfRange         uint32 = 1 << 7
	HWParamOutOfRange      uint32 = 1 << 8
	HWSaturation           uint32 = 1 << 17

	hwKnown = HWCompleted | HWStatistics | HWMmuError | HWDmaError |
		HWUnexpectedCompletion | HWVaOutOfRange | HWParamOutOfRange | HWSaturation
)

// ParseHardwareStatus translates a hardware status word into a domain
// status. Error bits win over warnings; unknown bits and a missing completion
// bit are generic hardware errors.
func ParseHardwareStatus(hw uint32) status.Code {
	switch {
	case hw&^hwKnown != 0:
		return status.DeviceHardwareError
	case hw&HWMmuError != 0:
		return status.DeviceMmuRequestError
	case hw&HWDmaError != 0:
		return status.DeviceDmaRequestError
	case hw&HWUnexpectedCompletion != 0:
		return status.DeviceUnexpectedCompletion
	case hw&HWVaOutOfRange != 0:
		return status.DeviceVaOutOfRange
	case hw&HWParamOutOfRange != 0:
		return status.DeviceParameterOutOfRange
	case hw&HWCompleted == 0:
		return status.DeviceHardwareError
	case hw&HWSaturation != 0:
		return status.WarningArithmeticSaturation
	default:
		return status.Success
	}
}
