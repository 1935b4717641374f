//go:build darwin && metal
// +build darwin,metal

// Package mtl wraps the Objective-C Metal host code. It is only built
// with the metal tag on darwin; the backend package holds the fallback
// stub otherwise.
package mtl

/*
#cgo LDFLAGS: -framework Metal -framework Foundation
#cgo CFLAGS: -fobjc-arc
#include <stdlib.h>
#include "metal_bridge.h"
*/
import "C"

import (
	_ "embed"
	"fmt"
	"unsafe"
)

//go:embed kernels.metal
var kernelSource string

// Available reports whether a Metal device is present.
func Available() bool {
	return C.gcMetalAvailable() != 0
}

// Init acquires the default device, compiles the embedded kernel
// source and returns the device name and recommended working-set size.
func Init() (name string, workingSet uint64, err error) {
	src := C.CString(kernelSource)
	defer C.free(unsafe.Pointer(src))

	buf := make([]C.char, 256)
	var mem C.size_t
	if C.gcMetalInit(src, &buf[0], &mem) != 0 {
		return "", 0, fmt.Errorf("Metal device initialization failed")
	}
	return C.GoString(&buf[0]), uint64(mem), nil
}

// Convergence runs the kernel over all (pair, site) work items in
// single precision.
func Convergence(conP []float32, offsets []uint64, nNodes int, pairs []int32,
	numPairs, numSites, n int, pc, pd []float32) error {
	rc := C.gcMetalConvergence(
		(*C.float)(unsafe.Pointer(&conP[0])),
		C.size_t(uint64(len(conP))*4),
		(*C.ulonglong)(unsafe.Pointer(&offsets[0])),
		C.int(nNodes),
		(*C.int)(unsafe.Pointer(&pairs[0])),
		C.int(numPairs),
		C.int(numSites),
		C.int(n),
		(*C.float)(unsafe.Pointer(&pc[0])),
		(*C.float)(unsafe.Pointer(&pd[0])),
	)
	if rc != 0 {
		return fmt.Errorf("kernel execution failed (code %d)", int(rc))
	}
	return nil
}

// Cleanup releases every resource acquired by Init.
func Cleanup() {
	C.gcMetalCleanup()
}
