package crypto

import "golang.org/x/sys/cpu"

// AEADBackend labels which capability NewAEAD detected at construction
// (§9 design notes: "capability abstraction ... chosen at construction
// from a feature-detection probe"). It is purely observational — see
// doc.go.
type AEADBackend string

const (
	BackendHardwareAES AEADBackend = "aes-hw"
	BackendPortableAES AEADBackend = "aes-portable"
)

// probeHardwareAES reports whether the CPU exposes an AES instruction
// extension that crypto/aes will use transparently.
func probeHardwareAES() bool {
	if cpu.X86.HasAES && cpu.X86.HasSSE41 {
		return true
	}
	if cpu.ARM64.HasAES {
		return true
	}
	return false
}
