package worker

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// sample is one rolling-window observation: the least-loaded core's CPU
// utilisation and the available physical memory, in MiB.
type sample struct {
	cpuPct    float64
	freeRAMMB float64
}

// ResourceSampler maintains a bounded ring buffer of host resource samples
// for admission-control backpressure. Depth is avg_stats_secs divided by the
// collect_stats phase interval.
type ResourceSampler struct {
	mu      sync.Mutex
	samples []sample
	depth   int
}

// NewResourceSampler builds a sampler with the given ring depth and takes one
// sample immediately so admission gating has a value before the first
// collect_stats tick.
func NewResourceSampler(depth int) *ResourceSampler {
	if depth < 1 {
		depth = 1
	}
	r := &ResourceSampler{depth: depth}
	if s, err := readSample(); err == nil {
		r.samples = append(r.samples, s)
	}
	return r
}

// Collect appends one sample, evicting the oldest once the ring is full.
// Invoked by the collect_stats phase.
func (r *ResourceSampler) Collect(_ context.Context) error {
	s, err := readSample()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, s)
	if len(r.samples) > r.depth {
		r.samples = r.samples[len(r.samples)-r.depth:]
	}
	return nil
}

// Averages returns the arithmetic mean of each column over the current ring
// contents. Called with an empty ring only before startup's initial sample
// succeeded, in which case it reports zero load.
func (r *ResourceSampler) Averages() (cpuPct, freeRAMMB float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		return 0, 0
	}

	var sumCPU, sumRAM float64
	for _, s := range r.samples {
		sumCPU += s.cpuPct
		sumRAM += s.freeRAMMB
	}
	n := float64(len(r.samples))
	return sumCPU / n, sumRAM / n
}

// readSample takes the current CPU/memory reading. cpuPct is deliberately
// the least-loaded core's utilisation, biasing admission toward "at least
// one core is free" rather than the host-wide average.
func readSample() (sample, error) {
	percpu, err := cpu.Percent(0, true)
	if err != nil {
		return sample{}, err
	}
	minCPU := 0.0
	for i, p := range percpu {
		if i == 0 || p < minCPU {
			minCPU = p
		}
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return sample{}, err
	}

	return sample{
		cpuPct:    minCPU,
		freeRAMMB: float64(vm.Available) / (1024 * 1024),
	}, nil
}
