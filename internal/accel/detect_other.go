//go:build !amd64

package accel

// Non-x86 hosts only run the generic tier.
func init() {
	detected = Features{}
}
