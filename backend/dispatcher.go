package backend

import (
	"fmt"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/post"
)

// Dispatcher holds the active backend and replaces it with the CPU
// fallback when a GPU cannot serve a request.
type Dispatcher struct {
	backend Backend
	info    DeviceInfo
}

// Select probes backends and initializes the first usable one. With
// useGPU the GPU backends are tried in order before the CPU; an init
// failure falls back to the CPU with a warning unless mandatory is set,
// in which case the error is returned.
func Select(useGPU, mandatory bool) (*Dispatcher, error) {
	var candidates []Backend
	if useGPU {
		candidates = append(candidates, NewCUDA(), NewMetal())
	}
	if !(useGPU && mandatory) {
		candidates = append(candidates, NewCPU())
	}

	for _, b := range candidates {
		if !b.Available() {
			log.Infof("Backend %s not available", b.Name())
			continue
		}
		info, err := b.Init()
		if err != nil {
			if mandatory && b.Name() != "cpu" {
				return nil, fmt.Errorf("mandatory GPU backend %s failed to initialize: %v", b.Name(), err)
			}
			log.Warningf("Backend %s failed to initialize: %v; falling back", b.Name(), err)
			continue
		}
		log.Noticef("Using %s backend, device %q, precision %s", b.Name(), info.Name, info.Precision)
		return &Dispatcher{backend: b, info: info}, nil
	}

	if mandatory && useGPU {
		return nil, fmt.Errorf("no GPU backend available: %w", ErrUnavailable)
	}
	return nil, fmt.Errorf("no backend available: %w", ErrUnavailable)
}

// Backend returns the name of the active backend.
func (d *Dispatcher) Backend() string {
	return d.backend.Name()
}

// Device returns the active device description.
func (d *Dispatcher) Device() DeviceInfo {
	return d.info
}

// Run executes the kernel over all (pair, site) work items and returns
// the aggregated result. If the job does not fit the device working
// set, the dispatcher shuts the device down and runs the job on the CPU
// instead.
func (d *Dispatcher) Run(t *post.Tensor, pairs []conv.Pair) (*conv.Result, error) {
	result := conv.NewResult(pairs, t.NSites)
	job := NewJob(t, result)

	if d.info.WorkingSet > 0 && job.Bytes() > d.info.WorkingSet {
		log.Warningf("Job of %d bytes exceeds %s working set of %d bytes; returning to CPU",
			job.Bytes(), d.backend.Name(), d.info.WorkingSet)
		if err := d.fallbackToCPU(); err != nil {
			return nil, err
		}
	}

	if err := d.backend.Run(job); err != nil {
		d.Shutdown()
		return nil, err
	}

	if err := result.Check(); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) fallbackToCPU() error {
	if d.backend.Name() == "cpu" {
		return nil
	}
	d.backend.Shutdown()
	cpu := NewCPU()
	info, err := cpu.Init()
	if err != nil {
		return err
	}
	d.backend = cpu
	d.info = info
	return nil
}

// Shutdown releases the active backend's resources. Safe to call more
// than once and from deferred cleanup paths.
func (d *Dispatcher) Shutdown() {
	if d.backend != nil {
		d.backend.Shutdown()
	}
}
