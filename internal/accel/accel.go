// Package accel enumerates acceleration modes and detects which software
// modes the host CPU can run.
package accel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Mode is the execution strategy of a kernel call.
type Mode uint8

const (
	// Generic is the portable reference implementation.
	Generic Mode = iota
	// SSE4 is the SSE4.2 tier.
	SSE4
	// AVX1 is the AVX tier.
	AVX1
	// AVX2 is the AVX2 tier.
	AVX2
	// Hardware offloads the layer to the accelerator device.
	Hardware

	// Count is the number of modes, used to size per-mode tables.
	Count
)

// Auto is not a Mode; ParseMode returns ok=false for it so callers fall back
// to the preference list.
const Auto = "auto"

func (m Mode) String() string {
	switch m {
	case Generic:
		return "generic"
	case SSE4:
		return "sse4"
	case AVX1:
		return "avx1"
	case AVX2:
		return "avx2"
	case Hardware:
		return "hardware"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// IsSoftware reports whether m runs on the host CPU.
func (m Mode) IsSoftware() bool {
	return m < Hardware
}

// ParseMode parses a mode name. "auto" and "" yield ok=false.
func ParseMode(name string) (mode Mode, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Auto:
		return 0, false, nil
	case "generic", "sw", "software":
		return Generic, true, nil
	case "sse4", "sse4.2", "sse4_2":
		return SSE4, true, nil
	case "avx1", "avx":
		return AVX1, true, nil
	case "avx2":
		return AVX2, true, nil
	case "hardware", "hw", "device":
		return Hardware, true, nil
	default:
		return 0, false, fmt.Errorf("unknown acceleration mode %q (expected auto, generic, sse4, avx1, avx2 or hardware)", name)
	}
}

// Features is the subset of CPU features that gate software modes.
type Features struct {
	SSE42 bool
	AVX   bool
	AVX2  bool
}

var detected Features

// Detected returns the CPU features found at init.
func Detected() Features {
	return detected
}

// NoSimdEnv reports whether NNACCEL_NO_SIMD forces the generic tier.
func NoSimdEnv() bool {
	val := os.Getenv("NNACCEL_NO_SIMD")
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

// Available lists the software modes f supports, best first. Generic is
// always present and always last.
func (f Features) Available() []Mode {
	var out []Mode
	if f.AVX2 {
		out = append(out, AVX2)
	}
	if f.AVX {
		out = append(out, AVX1)
	}
	if f.SSE42 {
		out = append(out, SSE4)
	}
	return append(out, Generic)
}

// Detect returns the ordered preference list of software modes for this host.
func Detect() []Mode {
	if NoSimdEnv() {
		return []Mode{Generic}
	}
	return detected.Available()
}

// Preference returns the full preference list, with Hardware first when a
// device is available.
func Preference(hardware bool) []Mode {
	sw := Detect()
	if !hardware {
		return sw
	}
	return append([]Mode{Hardware}, sw...)
}
