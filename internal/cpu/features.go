// Package cpu reports host CPU features used to describe the mock device.
package cpu

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Features lists the SIMD extensions available to the host process.
type Features struct {
	HasSSE2      bool
	HasAVX       bool
	HasAVX2      bool
	HasAVX512    bool
	HasFMA       bool
	HasNEON      bool
	HasSVE       bool
	Architecture string
}

// DetectFeatures reports the available CPU features for the current process.
func DetectFeatures() Features {
	return Features{
		HasSSE2:      cpu.X86.HasSSE2,
		HasAVX:       cpu.X86.HasAVX,
		HasAVX2:      cpu.X86.HasAVX2,
		HasAVX512:    cpu.X86.HasAVX512F,
		HasFMA:       cpu.X86.HasFMA,
		HasNEON:      cpu.ARM64.HasASIMD,
		HasSVE:       cpu.ARM64.HasSVE,
		Architecture: runtime.GOARCH,
	}
}

// Best returns the widest vector extension, or "generic".
func (f Features) Best() string {
	switch {
	case f.HasAVX512:
		return "avx512"
	case f.HasAVX2:
		return "avx2"
	case f.HasAVX:
		return "avx"
	case f.HasSSE2:
		return "sse2"
	case f.HasSVE:
		return "sve"
	case f.HasNEON:
		return "neon"
	default:
		return "generic"
	}
}

// String renders the features as "arch/best[+fma]", e.g. "amd64/avx2+fma".
func (f Features) String() string {
	var b strings.Builder
	b.WriteString(f.Architecture)
	b.WriteByte('/')
	b.WriteString(f.Best())
	if f.HasFMA {
		b.WriteString("+fma")
	}
	return b.String()
}
