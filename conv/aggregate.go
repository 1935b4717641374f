package conv

import (
	"fmt"

	"github.com/gonum/floats"
)

// Result holds the outputs of a convergence run: per-pair aggregate
// scalars for every enumerated pair, and the per-site table for the
// selected pairs.
type Result struct {
	// Pairs is the enumeration the outputs are ordered by.
	Pairs []Pair
	// PConvergent[i] is the sum over sites of the convergence
	// probability for pair i; PDivergent likewise.
	PConvergent []float64
	PDivergent  []float64
	// NSites is the number of alignment sites.
	NSites int
	// SiteMap holds, for each selected pair in enumeration order,
	// NSites*(probC, probD) values: SiteMap[sel*NSites*2+s*2] and the
	// following entry.
	SiteMap []float64
}

// NewResult allocates a result for the given enumeration. Sizes are
// computed in uint64 before allocation.
func NewResult(pairs []Pair, nSites int) *Result {
	nSel := uint64(NumSelected(pairs))
	return &Result{
		Pairs:       pairs,
		PConvergent: make([]float64, len(pairs)),
		PDivergent:  make([]float64, len(pairs)),
		NSites:      nSites,
		SiteMap:     make([]float64, nSel*uint64(nSites)*2),
	}
}

// NumSelected returns the number of selected pairs in the result.
func (r *Result) NumSelected() int {
	return NumSelected(r.Pairs)
}

// SiteRow returns the (probC, probD) pair for the sel-th selected pair
// at the given site.
func (r *Result) SiteRow(sel, site int) (probC, probD float64) {
	off := uint64(sel)*uint64(r.NSites)*2 + uint64(site)*2
	return r.SiteMap[off], r.SiteMap[off+1]
}

// Aggregate sums per-site convergence and divergence vectors into the
// per-pair scalars.
func Aggregate(siteC, siteD []float64) (pC, pD float64) {
	return floats.Sum(siteC), floats.Sum(siteD)
}

// Check verifies that the result vectors have matching sizes.
func (r *Result) Check() error {
	if len(r.PConvergent) != len(r.Pairs) || len(r.PDivergent) != len(r.Pairs) {
		return fmt.Errorf("result size mismatch: %d pairs, %d convergent, %d divergent",
			len(r.Pairs), len(r.PConvergent), len(r.PDivergent))
	}
	want := uint64(r.NumSelected()) * uint64(r.NSites) * 2
	if uint64(len(r.SiteMap)) != want {
		return fmt.Errorf("site map length %d, expected %d", len(r.SiteMap), want)
	}
	return nil
}
