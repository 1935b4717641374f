package backend

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dekoninglab/grandconv/conv"
)

// cpuBackend runs the kernel as a fork-join parallel loop over branch
// pairs, one worker per processor. Always available; double precision
// end-to-end.
type cpuBackend struct{}

// NewCPU creates the CPU backend.
func NewCPU() Backend {
	return &cpuBackend{}
}

func (c *cpuBackend) Name() string {
	return "cpu"
}

func (c *cpuBackend) Available() bool {
	return true
}

func (c *cpuBackend) Init() (DeviceInfo, error) {
	return DeviceInfo{
		Name:      fmt.Sprintf("CPU, %d threads", runtime.GOMAXPROCS(0)),
		Precision: Double,
	}, nil
}

func (c *cpuBackend) Run(job *Job) error {
	nPairs := len(job.Pairs)
	nSites := job.Tensor.NSites

	nWorkers := runtime.GOMAXPROCS(0)
	tasks := make(chan int, nPairs)
	done := make(chan error, nWorkers)
	var aborted int32

	for w := 0; w < nWorkers; w++ {
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					err = &RuntimeError{Backend: "cpu", Pair: -1, Err: fmt.Errorf("worker panic: %v", r)}
					atomic.StoreInt32(&aborted, 1)
				}
				done <- err
			}()

			krn := conv.NewKernel(job.Tensor.N)
			siteC := make([]float64, nSites)
			siteD := make([]float64, nSites)

			for i := range tasks {
				if atomic.LoadInt32(&aborted) != 0 {
					continue
				}
				pair := job.Pairs[i]
				for s := 0; s < nSites; s++ {
					p1, serr := job.Tensor.Slice(pair.U, s)
					if serr == nil {
						var p2 []float64
						p2, serr = job.Tensor.Slice(pair.V, s)
						if serr == nil {
							siteC[s], siteD[s] = krn.SiteProbs(p1, p2)
							continue
						}
					}
					err = &RuntimeError{Backend: "cpu", Pair: i, Site: s, Err: serr}
					atomic.StoreInt32(&aborted, 1)
					return
				}
				job.PConvergent[i], job.PDivergent[i] = conv.Aggregate(siteC, siteD)
				if row := job.SelRow(i); row >= 0 {
					off := uint64(row) * uint64(nSites) * 2
					for s := 0; s < nSites; s++ {
						job.SiteMap[off+uint64(s)*2] = siteC[s]
						job.SiteMap[off+uint64(s)*2+1] = siteD[s]
					}
				}
			}
		}()
	}

	for i := 0; i < nPairs; i++ {
		tasks <- i
	}
	close(tasks)

	var firstErr error
	for w := 0; w < nWorkers; w++ {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *cpuBackend) Shutdown() {}
