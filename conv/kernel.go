package conv

import (
	"github.com/gonum/blas/blas64"
)

// Kernel computes per-site convergence and divergence probabilities
// from two n×n posterior substitution matrices. A Kernel holds scratch
// buffers and is not safe for concurrent use; every worker creates its
// own.
type Kernel struct {
	n    int
	sumc []float64
	sumd []float64
}

// NewKernel creates a kernel for state-space size n.
func NewKernel(n int) *Kernel {
	return &Kernel{
		n:    n,
		sumc: make([]float64, n),
		sumd: make([]float64, n),
	}
}

// N returns the state-space size.
func (krn *Kernel) N() int {
	return krn.n
}

// SiteProbs reduces the matrices p1 and p2 (flat row-major, the
// posterior substitution probabilities along the branches above the two
// nodes at one site) to the probability of a convergent and of a
// divergent substitution. Accumulation is row-major, j then k, so
// repeated runs produce bit-identical results.
func (krn *Kernel) SiteProbs(p1, p2 []float64) (probC, probD float64) {
	if krn.n == 20 {
		return krn.siteProbs20(p1, p2)
	}
	return krn.siteProbsGeneric(p1, p2)
}

// siteProbs20 is the amino-acid path with a fixed loop count.
func (krn *Kernel) siteProbs20(p1, p2 []float64) (probC, probD float64) {
	const n = 20
	sumc := krn.sumc[:n]
	sumd := krn.sumd[:n]
	for k := 0; k < n; k++ {
		sumc[k] = 0
	}

	// column sums and total, excluding the diagonal
	total := 0.0
	for j := 0; j < n; j++ {
		row := p2[j*n : j*n+n]
		for k := 0; k < n; k++ {
			sumc[k] += row[k]
			total += row[k]
		}
	}
	for k := 0; k < n; k++ {
		d := p2[k*n+k]
		sumc[k] -= d
		total -= d
	}
	for k := 0; k < n; k++ {
		sumd[k] = total - sumc[k]
	}

	for j := 0; j < n; j++ {
		row := p1[j*n : j*n+n]
		for k := 0; k < n; k++ {
			probC += sumc[k] * row[k]
			probD += sumd[k] * row[k]
		}
	}
	for j := 0; j < n; j++ {
		d := p1[j*n+j]
		probC -= sumc[j] * d
		probD -= sumd[j] * d
	}
	return probC, probD
}

// siteProbsGeneric handles any state-space size (4 nucleotides, 61
// codons). Row reductions go through blas64.
func (krn *Kernel) siteProbsGeneric(p1, p2 []float64) (probC, probD float64) {
	n := krn.n
	sumc := krn.sumc
	sumd := krn.sumd
	for k := 0; k < n; k++ {
		sumc[k] = 0
	}

	total := 0.0
	for j := 0; j < n; j++ {
		row := p2[j*n : j*n+n]
		for k := 0; k < n; k++ {
			sumc[k] += row[k]
			total += row[k]
		}
	}
	for k := 0; k < n; k++ {
		d := p2[k*n+k]
		sumc[k] -= d
		total -= d
	}
	for k := 0; k < n; k++ {
		sumd[k] = total - sumc[k]
	}

	sumcV := blas64.Vector{Inc: 1, Data: sumc}
	sumdV := blas64.Vector{Inc: 1, Data: sumd}
	for j := 0; j < n; j++ {
		row := blas64.Vector{Inc: 1, Data: p1[j*n : j*n+n]}
		probC += blas64.Dot(n, sumcV, row)
		probD += blas64.Dot(n, sumdV, row)
	}
	for j := 0; j < n; j++ {
		d := p1[j*n+j]
		probC -= sumc[j] * d
		probD -= sumd[j] * d
	}
	return probC, probD
}
