//go:build cuda
// +build cuda

package backend

/*
#cgo LDFLAGS: -L${SRCDIR} -lgrandconvcuda -lcudart -lstdc++
#include <stdlib.h>
#include "cuda_bridge.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// cudaBackend drives the precompiled CUDA kernel (see kernels.cu and
// the Makefile cuda target). Double precision end-to-end; the device
// keeps conP and the output buffers resident across calls with
// grow-only reallocation.
type cudaBackend struct {
	initialized bool
}

// NewCUDA creates the CUDA backend.
func NewCUDA() Backend {
	return &cudaBackend{}
}

func (g *cudaBackend) Name() string {
	return "cuda"
}

func (g *cudaBackend) Available() bool {
	return C.gcCudaAvailable() != 0
}

func (g *cudaBackend) Init() (DeviceInfo, error) {
	name := make([]C.char, 256)
	var mem C.size_t
	if C.gcCudaInit(&name[0], &mem) != 0 {
		return DeviceInfo{}, fmt.Errorf("CUDA device initialization failed: %w", ErrUnavailable)
	}
	g.initialized = true
	return DeviceInfo{
		Name:       C.GoString(&name[0]),
		WorkingSet: uint64(mem),
		Precision:  Double,
	}, nil
}

func (g *cudaBackend) Run(job *Job) error {
	if len(job.Pairs) == 0 {
		return nil
	}
	t := job.Tensor
	triples := job.pairsTriples()

	rc := C.gcCudaConvergence(
		(*C.double)(unsafe.Pointer(&t.ConP[0])),
		C.size_t(uint64(len(t.ConP))*8),
		(*C.ulonglong)(unsafe.Pointer(&t.Offsets[0])),
		C.int(t.NNodes),
		(*C.int)(unsafe.Pointer(&triples[0])),
		C.int(len(job.Pairs)),
		C.int(t.NSites),
		C.int(t.N),
		(*C.double)(unsafe.Pointer(&job.PConvergent[0])),
		(*C.double)(unsafe.Pointer(&job.PDivergent[0])),
	)
	if rc != 0 {
		return &RuntimeError{Backend: "cuda", Pair: -1, Err: fmt.Errorf("kernel execution failed (code %d)", int(rc))}
	}

	return fillSiteMap(job)
}

func (g *cudaBackend) Shutdown() {
	if g.initialized {
		C.gcCudaCleanup()
		g.initialized = false
	}
}
