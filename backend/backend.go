// Package backend executes the convergence kernel on one of the
// available compute backends: a parallel CPU loop, NVIDIA GPUs through
// CUDA, or Apple GPUs through Metal. The dispatcher owns device
// lifetime and stages data between host and device.
package backend

import (
	"errors"
	"fmt"

	"github.com/op/go-logging"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/post"
)

// log is a global logging variable.
var log = logging.MustGetLogger("backend")

// ErrUnavailable is returned when a backend is not present on this
// system or was compiled out.
var ErrUnavailable = errors.New("backend not available")

// RuntimeError is a device error during launch or copy. It is fatal and
// triggers backend cleanup.
type RuntimeError struct {
	Backend string
	Pair    int
	Site    int
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Pair >= 0 {
		return fmt.Sprintf("%s backend error at pair %d, site %d: %v", e.Backend, e.Pair, e.Site, e.Err)
	}
	return fmt.Sprintf("%s backend error: %v", e.Backend, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Precision declares the floating-point width a backend computes in.
type Precision int

const (
	// Double precision, 64-bit.
	Double Precision = iota
	// Single precision, 32-bit; relative error on the order of 1e-6.
	Single
)

func (p Precision) String() string {
	if p == Single {
		return "single"
	}
	return "double"
}

// DeviceInfo describes an initialized backend device.
type DeviceInfo struct {
	// Name is the device name reported by the driver.
	Name string
	// WorkingSet is the recommended working-set size in bytes; zero
	// means no device limit (CPU).
	WorkingSet uint64
	// Precision the kernel runs in.
	Precision Precision
}

// Backend is the capability interface every execution target
// implements. Probe (Available) must not allocate persistent resources;
// Init acquires the device; Shutdown releases everything acquired by
// Init and is safe to call more than once.
type Backend interface {
	Name() string
	Available() bool
	Init() (DeviceInfo, error)
	Run(job *Job) error
	Shutdown()
}

// Job is one kernel invocation: read-only inputs, caller-allocated
// outputs partitioned by (pair, site). Backends must not mutate the
// tensor or the pair list.
type Job struct {
	Tensor *post.Tensor
	Pairs  []conv.Pair

	// PConvergent and PDivergent are pre-sized to len(Pairs).
	PConvergent []float64
	PDivergent  []float64

	// SiteMap is pre-sized to NumSelected*NSites*2; selRow[i] is the
	// row of pair i within it, -1 for unselected pairs.
	SiteMap []float64
	selRow  []int
}

// NewJob builds a job writing into the given result.
func NewJob(t *post.Tensor, r *conv.Result) *Job {
	job := &Job{
		Tensor:      t,
		Pairs:       r.Pairs,
		PConvergent: r.PConvergent,
		PDivergent:  r.PDivergent,
		SiteMap:     r.SiteMap,
		selRow:      make([]int, len(r.Pairs)),
	}
	sel := 0
	for i, p := range r.Pairs {
		if p.Selected {
			job.selRow[i] = sel
			sel++
		} else {
			job.selRow[i] = -1
		}
	}
	return job
}

// SelRow returns the site-map row of pair i, or -1 when the pair is not
// selected.
func (job *Job) SelRow(i int) int {
	return job.selRow[i]
}

// Bytes is the combined size of the job's device-resident data: conP,
// offsets, node pairs and both output buffers. Used against the device
// working-set budget.
func (job *Job) Bytes() uint64 {
	nPairs := uint64(len(job.Pairs))
	size := job.Tensor.Bytes()
	size += uint64(len(job.Tensor.Offsets)) * 8
	size += nPairs * 3 * 4
	size += nPairs * 8 * 2
	return size
}

// pairsTriples flattens the pair list into the [u, v, selected] triples
// layout shared with the GPU kernels.
func (job *Job) pairsTriples() []int32 {
	triples := make([]int32, 0, uint64(len(job.Pairs))*3)
	for _, p := range job.Pairs {
		sel := int32(0)
		if p.Selected {
			sel = 1
		}
		triples = append(triples, int32(p.U), int32(p.V), sel)
	}
	return triples
}
