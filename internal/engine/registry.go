package engine

import (
	"fmt"
	"sort"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/hw"
	"github.com/carlosrabelo/orion/internal/metrics"
	"github.com/carlosrabelo/orion/internal/scheduler"
	"github.com/carlosrabelo/orion/pkg/logger"
)

// Variant describes one hasher implementation
type Variant struct {
	Name        string
	Description string
	Hardware    Hardware
	Strategy    scheduler.Strategy
	// Rank orders variants of the same hardware, higher is preferred
	Rank int
	// Requires gates selection on the host features; nil means always. It
	// does not change the kernel, every variant hashes with the same Go code.
	Requires func(hw.Features) bool
}

// Supported reports whether the variant can run on a host with f
func (v Variant) Supported(f hw.Features) bool {
	return v.Requires == nil || v.Requires(f)
}

// DisabledName selects the no-op hasher
const DisabledName = "disabled"

var (
	Stock = Variant{
		Name:        "stock",
		Description: "Hashes fixed batches sized to the target round time with the portable Go kernel",
		Hardware:    CPU,
		Strategy:    scheduler.FixedBatch,
		Rank:        1,
	}
	NativeAVX2 = Variant{
		Name:        "native-avx2",
		Description: "Hashes the whole assigned range per round with the portable Go kernel; offered on AVX2 hosts",
		Hardware:    CPU,
		Strategy:    scheduler.FullRange,
		Rank:        2,
		Requires:    func(f hw.Features) bool { return f.AVX2 },
	}
	AVX512 = Variant{
		Name:        "avx512",
		Description: "Hashes the whole assigned range per round with the portable Go kernel; offered on AVX-512F hosts",
		Hardware:    CPU,
		Strategy:    scheduler.FullRange,
		Rank:        3,
		Requires:    func(f hw.Features) bool { return f.AVX512F },
	}
)

// Registry holds the selectable variants
type Registry struct {
	variants map[string]Variant
}

// NewRegistry creates a registry holding vs
func NewRegistry(vs ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant, len(vs))}
	for _, v := range vs {
		r.variants[v.Name] = v
	}
	return r
}

// DefaultRegistry holds the built-in CPU variants
func DefaultRegistry() *Registry {
	return NewRegistry(Stock, NativeAVX2, AVX512)
}

// Lookup returns the variant called name
func (r *Registry) Lookup(name string) (Variant, bool) {
	v, ok := r.variants[name]
	return v, ok
}

// Variants lists the variants for hw ordered by rank
func (r *Registry) Variants(h Hardware) []Variant {
	var out []Variant
	for _, v := range r.variants {
		if v.Hardware == h {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Best returns the highest ranked variant for h the platform supports
func (r *Registry) Best(h Hardware, p Platform) (Variant, bool) {
	vs := r.Variants(h)
	f := p.Features()
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].Supported(f) {
			return vs[i], true
		}
	}
	return Variant{}, false
}

// NewHasher builds the hasher called name for hardware h. The disabled name
// yields a no-op placeholder.
func (r *Registry) NewHasher(name string, h Hardware, log *logger.Logger, p Platform, mx *metrics.Collector) (Hasher, error) {
	if name == DisabledName || name == "" {
		return NewDisabled(h), nil
	}
	v, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
	if v.Hardware != h {
		return nil, fmt.Errorf("hasher %q runs on %s, not %s", name, v.Hardware, h)
	}
	return New(v, log, p, mx), nil
}

// Disabled is the hasher of an unused device
type Disabled struct {
	hardware Hardware
}

// NewDisabled creates the placeholder for h
func NewDisabled(h Hardware) *Disabled {
	return &Disabled{hardware: h}
}

func (d *Disabled) Name() string                 { return DisabledName }
func (d *Disabled) Description() string          { return "Hashing disabled for this device" }
func (d *Disabled) Hardware() Hardware           { return d.hardware }
func (d *Disabled) Strategy() scheduler.Strategy { return scheduler.FixedBatch }
func (d *Disabled) IsSupported() bool            { return true }
func (d *Disabled) Initialized() bool            { return false }

func (d *Disabled) Initialize(Pool, Settings) error                { return nil }
func (d *Disabled) NewChallenge(challenge.Assignment) bool         { return true }
func (d *Disabled) PauseMining()                                   {}
func (d *Disabled) ResumeMining()                                  {}
func (d *Disabled) IsMiningPaused() bool                           { return false }
func (d *Disabled) SetThreads(int)                                 {}
func (d *Disabled) Threads() int                                   { return 0 }
func (d *Disabled) Stop() error                                    { return nil }
func (d *Disabled) OnHashrateUpdate(func(HashrateSnapshot)) func() { return func() {} }
