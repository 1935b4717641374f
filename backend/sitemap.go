package backend

import (
	"github.com/dekoninglab/grandconv/conv"
)

// fillSiteMap computes the per-site rows for the selected pairs on the
// host. The GPU kernels return aggregate scalars only; the handful of
// selected pairs is cheap to redo in double precision.
func fillSiteMap(job *Job) error {
	nSites := job.Tensor.NSites
	krn := conv.NewKernel(job.Tensor.N)
	for i, pair := range job.Pairs {
		row := job.SelRow(i)
		if row < 0 {
			continue
		}
		off := uint64(row) * uint64(nSites) * 2
		for s := 0; s < nSites; s++ {
			p1, err := job.Tensor.Slice(pair.U, s)
			if err != nil {
				return &RuntimeError{Backend: "host", Pair: i, Site: s, Err: err}
			}
			p2, err := job.Tensor.Slice(pair.V, s)
			if err != nil {
				return &RuntimeError{Backend: "host", Pair: i, Site: s, Err: err}
			}
			probC, probD := krn.SiteProbs(p1, p2)
			job.SiteMap[off+uint64(s)*2] = probC
			job.SiteMap[off+uint64(s)*2+1] = probD
		}
	}
	return nil
}
