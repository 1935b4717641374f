package backend

import (
	"math"
	"testing"

	"github.com/dekoninglab/grandconv/conv"
	"github.com/dekoninglab/grandconv/post"
)

// crossCheck runs the same job on the CPU and on the given backend and
// compares within tol relative error.
func crossCheck(tst *testing.T, b Backend, tol float64) {
	if !b.Available() {
		tst.Skipf("%s backend not available", b.Name())
	}
	if _, err := b.Init(); err != nil {
		tst.Skipf("%s backend failed to initialize: %v", b.Name(), err)
	}
	defer b.Shutdown()

	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Uniform(t.NNodes(), 5, 20)
	for i := range tensor.ConP {
		tensor.ConP[i] = float64(i%13) / 26
	}

	cpu := NewCPU()
	ref := conv.NewResult(pairs, tensor.NSites)
	if err := cpu.Run(NewJob(tensor, ref)); err != nil {
		tst.Fatal("Error: ", err)
	}

	got := conv.NewResult(pairs, tensor.NSites)
	if err := b.Run(NewJob(tensor, got)); err != nil {
		tst.Fatal("Error: ", err)
	}

	for i := range pairs {
		dc := math.Abs(got.PConvergent[i] - ref.PConvergent[i])
		dd := math.Abs(got.PDivergent[i] - ref.PDivergent[i])
		if dc > tol*math.Abs(ref.PConvergent[i]) {
			tst.Error("Pair", i, ": pConvergent differs:", got.PConvergent[i], ref.PConvergent[i])
		}
		if dd > tol*math.Abs(ref.PDivergent[i]) {
			tst.Error("Pair", i, ": pDivergent differs:", got.PDivergent[i], ref.PDivergent[i])
		}
	}
}

// the CUDA double-precision path must agree with the CPU to 1e-12
// relative.
func TestCrossCheckCUDA(tst *testing.T) {
	crossCheck(tst, NewCUDA(), 1e-12)
}

// the Metal single-precision path is allowed 1e-6 relative error.
func TestCrossCheckMetal(tst *testing.T) {
	crossCheck(tst, NewMetal(), 1e-6)
}
