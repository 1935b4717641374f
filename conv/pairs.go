// Package conv implements the convergence/divergence computation: the
// enumeration of independent branch pairs and the per-site kernel
// reducing two posterior substitution matrices to a pair of scalars.
package conv

import (
	"fmt"

	"github.com/op/go-logging"

	"github.com/dekoninglab/grandconv/tree"
)

// log is a global logging variable.
var log = logging.MustGetLogger("conv")

// Pair is an unordered pair of branches identified by the nodes below
// them, U < V, neither node an ancestor of the other. Selected marks
// pairs for which per-site output was requested.
type Pair struct {
	U, V     int
	Selected bool
}

// InvalidPairError reports a user-requested branch pair which is out of
// range, not independent, or refers to the root.
type InvalidPairError struct {
	U, V   int
	Reason string
}

func (e *InvalidPairError) Error() string {
	return fmt.Sprintf("invalid branch pair (%d, %d): %s", e.U, e.V, e.Reason)
}

// Pairs enumerates every unordered pair of distinct non-root nodes such
// that neither node is an ancestor of the other. Pairs are ordered by
// the outer node ascending, inner node ascending. The selected list is
// canonicalized to u < v and matched by node ids; a selected pair that
// is out of range or not independent is an error, never dropped.
func Pairs(t *tree.Tree, selected [][2]int) ([]Pair, error) {
	nNodes := t.NNodes()
	rootID := t.ID
	anc := t.Ancestors()

	selSet := make(map[[2]int]bool, len(selected))
	for _, sp := range selected {
		u, v := sp[0], sp[1]
		if u > v {
			u, v = v, u
		}
		if u < 0 || v >= nNodes {
			return nil, &InvalidPairError{U: sp[0], V: sp[1], Reason: "node id out of range"}
		}
		if u == v {
			return nil, &InvalidPairError{U: sp[0], V: sp[1], Reason: "nodes are equal"}
		}
		if u == rootID || v == rootID {
			return nil, &InvalidPairError{U: sp[0], V: sp[1], Reason: "root has no branch"}
		}
		if anc[v][u] || anc[u][v] {
			return nil, &InvalidPairError{U: sp[0], V: sp[1], Reason: "branches are not independent"}
		}
		selSet[[2]int{u, v}] = true
	}

	// The pair count is bounded by nNodes^2/2; size arithmetic stays in
	// uint64 until allocation.
	maxPairs := uint64(nNodes) * uint64(nNodes-1) / 2
	pairs := make([]Pair, 0, maxPairs)

	for u := 0; u < nNodes; u++ {
		if u == rootID {
			continue
		}
		for v := u + 1; v < nNodes; v++ {
			if v == rootID {
				continue
			}
			if anc[v][u] || anc[u][v] {
				continue
			}
			pairs = append(pairs, Pair{U: u, V: v, Selected: selSet[[2]int{u, v}]})
		}
	}

	log.Infof("Enumerated %d independent branch pairs (%d selected)", len(pairs), len(selSet))

	return pairs, nil
}

// NumSelected returns the number of selected pairs.
func NumSelected(pairs []Pair) (n int) {
	for _, p := range pairs {
		if p.Selected {
			n++
		}
	}
	return
}
