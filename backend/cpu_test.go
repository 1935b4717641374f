package backend

import (
	"math"
	"strings"
	"testing"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/post"
	"github.com/dekoninglab/grandconv/tree"
)

const tree3 = "((Human:0.1,Chimp:0.2):0.05,Gorilla:0.3);"

func testPairs(tst *testing.T, newick string, selected [][2]int) (*tree.Tree, []conv.Pair) {
	t, err := tree.ParseNewick(strings.NewReader(newick))
	if err != nil {
		tst.Fatal("Error parsing tree: ", err)
	}
	pairs, err := conv.Pairs(t, selected)
	if err != nil {
		tst.Fatal("Error enumerating pairs: ", err)
	}
	return t, pairs
}

func TestCPUIdentity(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Identity(t.NNodes(), 1, 20)

	cpu := NewCPU()
	if _, err := cpu.Init(); err != nil {
		tst.Fatal("Error: ", err)
	}
	defer cpu.Shutdown()

	result := conv.NewResult(pairs, tensor.NSites)
	if err := cpu.Run(NewJob(tensor, result)); err != nil {
		tst.Fatal("Error: ", err)
	}
	for i := range pairs {
		if result.PConvergent[i] != 0 || result.PDivergent[i] != 0 {
			tst.Error("Expected zero probabilities for pair", i)
		}
	}
}

func TestCPUUniform(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Uniform(t.NNodes(), 1, 20)

	cpu := NewCPU()
	result := conv.NewResult(pairs, tensor.NSites)
	if err := cpu.Run(NewJob(tensor, result)); err != nil {
		tst.Fatal("Error: ", err)
	}

	refC := 0.95 * 380 / 20.0
	refD := 18.05 * 380 / 20.0
	for i := range pairs {
		if math.Abs(result.PConvergent[i]-refC) > 1e-12*refC {
			tst.Error("Pair", i, ": expected pConvergent", refC, ", got", result.PConvergent[i])
		}
		if math.Abs(result.PDivergent[i]-refD) > 1e-12*refD {
			tst.Error("Pair", i, ": expected pDivergent", refD, ", got", result.PDivergent[i])
		}
	}
}

// aggregates must equal the per-site sums exactly, and the per-site
// table is only filled for selected pairs.
func TestCPUSiteMapSelection(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, [][2]int{{0, 1}})
	nSites := 3
	tensor := post.Uniform(t.NNodes(), nSites, 20)

	cpu := NewCPU()
	result := conv.NewResult(pairs, nSites)
	if err := cpu.Run(NewJob(tensor, result)); err != nil {
		tst.Fatal("Error: ", err)
	}

	if result.NumSelected() != 1 {
		tst.Fatal("Expected one selected pair")
	}
	var sumC, sumD float64
	for s := 0; s < nSites; s++ {
		c, d := result.SiteRow(0, s)
		sumC += c
		sumD += d
	}
	if sumC != result.PConvergent[0] || sumD != result.PDivergent[0] {
		tst.Error("Site rows do not sum to the aggregate")
	}
}

// repeated runs on the same backend are bit-identical.
func TestCPUDeterministic(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	nSites := 7
	tensor := post.Uniform(t.NNodes(), nSites, 20)
	for i := range tensor.ConP {
		tensor.ConP[i] = math.Sqrt(float64(i%97)) / 100
	}

	cpu := NewCPU()
	r1 := conv.NewResult(pairs, nSites)
	if err := cpu.Run(NewJob(tensor, r1)); err != nil {
		tst.Fatal("Error: ", err)
	}
	r2 := conv.NewResult(pairs, nSites)
	if err := cpu.Run(NewJob(tensor, r2)); err != nil {
		tst.Fatal("Error: ", err)
	}
	for i := range pairs {
		if r1.PConvergent[i] != r2.PConvergent[i] || r1.PDivergent[i] != r2.PDivergent[i] {
			tst.Error("Run results differ at pair", i)
		}
	}
}

// probabilities are non-negative for non-negative inputs.
func TestCPUProbabilityRange(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	n := 20
	tensor := post.Uniform(t.NNodes(), 1, n)

	cpu := NewCPU()
	result := conv.NewResult(pairs, 1)
	if err := cpu.Run(NewJob(tensor, result)); err != nil {
		tst.Fatal("Error: ", err)
	}
	// the values are sums over off-diagonal products and exceed one
	// here (18.05 and 342.95), so only the lower bound is checked
	for i := range pairs {
		if result.PConvergent[i] < 0 || result.PDivergent[i] < 0 {
			tst.Error("Negative probability at pair", i)
		}
	}
}
