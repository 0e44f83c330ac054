// Package hw probes the host CPU: how many hashing threads it can run and
// which vector instruction sets the hasher variants may rely on.
package hw

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	psutil "github.com/shirou/gopsutil/v3/cpu"
)

// Features lists the instruction sets relevant to hasher selection
type Features struct {
	AVX2    bool
	AVX512F bool
	SHA     bool
	AES     bool
}

// Probe reads host capabilities
type Probe struct {
	counts   func(logical bool) (int, error)
	features func() Features
	brand    func() string
}

// Host returns a probe backed by the running machine
func Host() *Probe {
	return &Probe{
		counts:   psutil.Counts,
		features: cpuFeatures,
		brand:    func() string { return cpuid.CPU.BrandName },
	}
}

func cpuFeatures() Features {
	return Features{
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
		AVX512F: cpuid.CPU.Supports(cpuid.AVX512F),
		SHA:     cpuid.CPU.Supports(cpuid.SHA),
		AES:     cpuid.CPU.Supports(cpuid.AESNI),
	}
}

// Parallelism returns the number of logical CPUs, falling back to the Go
// runtime's view when the OS query fails.
func (p *Probe) Parallelism() int {
	n, err := p.counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Features reports the supported instruction sets
func (p *Probe) Features() Features {
	return p.features()
}

// Describe renders a one-line summary for -info
func (p *Probe) Describe() string {
	f := p.features()
	var flags []string
	if f.AVX2 {
		flags = append(flags, "avx2")
	}
	if f.AVX512F {
		flags = append(flags, "avx512f")
	}
	if f.SHA {
		flags = append(flags, "sha")
	}
	if f.AES {
		flags = append(flags, "aes")
	}
	if len(flags) == 0 {
		flags = append(flags, "none")
	}

	brand := strings.TrimSpace(p.brand())
	if brand == "" {
		brand = runtime.GOARCH
	}
	physical, err := p.counts(false)
	if err != nil || physical < 1 {
		return fmt.Sprintf("%s, %d threads, features: %s", brand, p.Parallelism(), strings.Join(flags, ","))
	}
	return fmt.Sprintf("%s, %d cores / %d threads, features: %s",
		brand, physical, p.Parallelism(), strings.Join(flags, ","))
}
