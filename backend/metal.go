//go:build darwin && metal
// +build darwin,metal

package backend

import (
	"fmt"

	"github.com/dekoninglab/grandconv/backend/mtl"
)

// metalBackend drives Apple GPUs through the mtl bridge. The device
// computes in single precision: inputs are converted to 32-bit floats
// on the host, outputs converted back; callers accept relative error on
// the order of 1e-6.
type metalBackend struct {
	initialized bool

	// host staging buffers, grow-only across calls
	conP32 []float32
	out32  []float32
}

// NewMetal creates the Metal backend.
func NewMetal() Backend {
	return &metalBackend{}
}

func (m *metalBackend) Name() string {
	return "metal"
}

func (m *metalBackend) Available() bool {
	return mtl.Available()
}

func (m *metalBackend) Init() (DeviceInfo, error) {
	name, workingSet, err := mtl.Init()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	m.initialized = true
	return DeviceInfo{
		Name:       name,
		WorkingSet: workingSet,
		Precision:  Single,
	}, nil
}

func (m *metalBackend) Run(job *Job) error {
	if len(job.Pairs) == 0 {
		return nil
	}
	t := job.Tensor
	triples := job.pairsTriples()

	// stage the posterior buffer in single precision
	if cap(m.conP32) < len(t.ConP) {
		m.conP32 = make([]float32, len(t.ConP))
	}
	conP32 := m.conP32[:len(t.ConP)]
	for i, p := range t.ConP {
		conP32[i] = float32(p)
	}

	nPairs := len(job.Pairs)
	if cap(m.out32) < nPairs*2 {
		m.out32 = make([]float32, nPairs*2)
	}
	pc32 := m.out32[:nPairs]
	pd32 := m.out32[nPairs : nPairs*2]

	err := mtl.Convergence(conP32, t.Offsets, t.NNodes, triples,
		nPairs, t.NSites, t.N, pc32, pd32)
	if err != nil {
		return &RuntimeError{Backend: "metal", Pair: -1, Err: err}
	}

	for i := 0; i < nPairs; i++ {
		job.PConvergent[i] = float64(pc32[i])
		job.PDivergent[i] = float64(pd32[i])
	}

	return fillSiteMap(job)
}

func (m *metalBackend) Shutdown() {
	if m.initialized {
		mtl.Cleanup()
		m.initialized = false
	}
	m.conP32 = nil
	m.out32 = nil
}
