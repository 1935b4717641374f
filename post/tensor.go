// Package post stores posterior substitution-probability matrices
// produced by the ancestral-state reconstruction phase. The matrices for
// all nodes and sites live in one flat buffer addressed through per-node
// offsets, the layout shared with the GPU backends.
package post

import (
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"
)

// Tensor is a read-only table of n×n posterior substitution-probability
// matrices indexed by (node, site). For node v and site s the entry
// ConP[Offsets[v]+s*n*n+j*n+k] is the posterior probability that state j
// was replaced by state k along the branch above v at site s.
type Tensor struct {
	// ConP is the flat probability buffer.
	ConP []float64
	// Offsets has NNodes+1 entries; Offsets[v+1]-Offsets[v] == NSites*N*N.
	Offsets []uint64
	// NNodes is the number of tree nodes.
	NNodes int
	// NSites is the number of alignment sites.
	NSites int
	// N is the state-space size (20 for amino acids, 61 codons, 4 nucleotides).
	N int
}

// New creates a Tensor and validates the buffer layout. All size
// arithmetic is performed in uint64 before any comparison, so large
// trees cannot overflow the checks.
func New(conP []float64, offsets []uint64, nNodes, nSites, n int) (*Tensor, error) {
	if nNodes <= 0 || nSites <= 0 || n <= 0 {
		return nil, fmt.Errorf("invalid tensor dimensions: nodes=%d, sites=%d, n=%d", nNodes, nSites, n)
	}
	if len(offsets) != nNodes+1 {
		return nil, fmt.Errorf("offsets length %d, expected %d", len(offsets), nNodes+1)
	}
	stride := uint64(nSites) * uint64(n) * uint64(n)
	for v := 0; v < nNodes; v++ {
		if offsets[v+1] < offsets[v] {
			return nil, fmt.Errorf("offsets not monotonic at node %d", v)
		}
		if offsets[v+1]-offsets[v] != stride {
			return nil, fmt.Errorf("node %d stride %d, expected %d", v, offsets[v+1]-offsets[v], stride)
		}
	}
	if offsets[nNodes] != uint64(len(conP)) {
		return nil, fmt.Errorf("buffer length %d does not match final offset %d", len(conP), offsets[nNodes])
	}
	t := &Tensor{
		ConP:    conP,
		Offsets: offsets,
		NNodes:  nNodes,
		NSites:  nSites,
		N:       n,
	}
	return t, nil
}

// Validate checks that every entry is finite and non-negative. Row sums
// are not required to equal one: the upstream reconstruction mixes prior
// and transition terms.
func (t *Tensor) Validate() error {
	for i, p := range t.ConP {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("non-finite probability at index %d", i)
		}
		if p < 0 {
			return fmt.Errorf("negative probability %v at index %d", p, i)
		}
	}
	return nil
}

// index returns the buffer offset of the (node, site) matrix. The
// multiplication is done in uint64 space before indexing.
func (t *Tensor) index(node, site int) (uint64, error) {
	if node < 0 || node >= t.NNodes {
		return 0, fmt.Errorf("node %d out of range [0, %d)", node, t.NNodes)
	}
	if site < 0 || site >= t.NSites {
		return 0, fmt.Errorf("site %d out of range [0, %d)", site, t.NSites)
	}
	return t.Offsets[node] + uint64(site)*uint64(t.N)*uint64(t.N), nil
}

// Slice returns the n×n matrix for (node, site) as a flat row-major
// slice aliasing the tensor buffer. Callers must not modify it.
func (t *Tensor) Slice(node, site int) ([]float64, error) {
	off, err := t.index(node, site)
	if err != nil {
		return nil, err
	}
	nn := uint64(t.N) * uint64(t.N)
	return t.ConP[off : off+nn : off+nn], nil
}

// Matrix returns a mat64 view of the (node, site) matrix sharing the
// tensor buffer.
func (t *Tensor) Matrix(node, site int) (*mat64.Dense, error) {
	s, err := t.Slice(node, site)
	if err != nil {
		return nil, err
	}
	return mat64.NewDense(t.N, t.N, s), nil
}

// Bytes returns the buffer size in bytes, used for device budget checks.
func (t *Tensor) Bytes() uint64 {
	return uint64(len(t.ConP)) * 8
}

// ExpectedSubs returns, per site, the total off-diagonal posterior
// mass over all branches except the one above root: an estimate of the
// expected number of substitutions at the site. Used when the upstream
// phase did not store the vector.
func (t *Tensor) ExpectedSubs(rootID int) []float64 {
	res := make([]float64, t.NSites)
	n := t.N
	for v := 0; v < t.NNodes; v++ {
		if v == rootID {
			continue
		}
		for s := 0; s < t.NSites; s++ {
			m, _ := t.Slice(v, s)
			sum := 0.0
			for j := 0; j < n; j++ {
				for k := 0; k < n; k++ {
					if j != k {
						sum += m[j*n+k]
					}
				}
			}
			res[s] += sum
		}
	}
	return res
}

// Uniform creates a tensor with every matrix entry equal to 1/n.
func Uniform(nNodes, nSites, n int) *Tensor {
	t := zeros(nNodes, nSites, n)
	p := 1 / float64(n)
	for i := range t.ConP {
		t.ConP[i] = p
	}
	return t
}

// Identity creates a tensor where every matrix is the identity: all
// posterior mass on no-change.
func Identity(nNodes, nSites, n int) *Tensor {
	t := zeros(nNodes, nSites, n)
	for v := 0; v < nNodes; v++ {
		for s := 0; s < nSites; s++ {
			m, _ := t.Slice(v, s)
			for j := 0; j < n; j++ {
				m[j*n+j] = 1
			}
		}
	}
	return t
}

func zeros(nNodes, nSites, n int) *Tensor {
	stride := uint64(nSites) * uint64(n) * uint64(n)
	offsets := make([]uint64, nNodes+1)
	for v := 1; v <= nNodes; v++ {
		offsets[v] = offsets[v-1] + stride
	}
	t, err := New(make([]float64, stride*uint64(nNodes)), offsets, nNodes, nSites, n)
	if err != nil {
		panic(err)
	}
	return t
}
