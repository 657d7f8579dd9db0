//go:build amd64

package accel

import "golang.org/x/sys/cpu"

func init() {
	detected = Features{
		SSE42: cpu.X86.HasSSE42,
		AVX:   cpu.X86.HasAVX,
		AVX2:  cpu.X86.HasAVX2 && cpu.X86.HasFMA,
	}
}
