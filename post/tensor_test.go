package post

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadOffsets(tst *testing.T) {
	conP := make([]float64, 2*3*4*4)
	offsets := []uint64{0, 48, 96}
	_, err := New(conP, offsets, 2, 3, 4)
	require.NoError(tst, err)

	// wrong stride
	_, err = New(conP, []uint64{0, 40, 96}, 2, 3, 4)
	require.Error(tst, err)

	// wrong length
	_, err = New(conP, []uint64{0, 48}, 2, 3, 4)
	require.Error(tst, err)

	// buffer mismatch
	_, err = New(conP[:90], offsets, 2, 3, 4)
	require.Error(tst, err)
}

func TestSliceBounds(tst *testing.T) {
	t := Uniform(3, 2, 4)

	s, err := t.Slice(2, 1)
	require.NoError(tst, err)
	require.Len(tst, s, 16)

	_, err = t.Slice(3, 0)
	require.Error(tst, err)
	_, err = t.Slice(-1, 0)
	require.Error(tst, err)
	_, err = t.Slice(0, 2)
	require.Error(tst, err)
}

func TestMatrixView(tst *testing.T) {
	t := Identity(2, 1, 4)
	m, err := t.Matrix(1, 0)
	require.NoError(tst, err)
	for j := 0; j < 4; j++ {
		for k := 0; k < 4; k++ {
			want := 0.0
			if j == k {
				want = 1.0
			}
			require.Equal(tst, want, m.At(j, k))
		}
	}

	// the view aliases the buffer
	s, err := t.Slice(1, 0)
	require.NoError(tst, err)
	require.Equal(tst, 1.0, s[0])
}

func TestExpectedSubs(tst *testing.T) {
	// identity matrices carry no off-diagonal mass
	t := Identity(3, 2, 4)
	subs := t.ExpectedSubs(2)
	require.Equal(tst, []float64{0, 0}, subs)

	// uniform matrices: (n^2-n)/n per node, root excluded
	u := Uniform(3, 1, 4)
	subs = u.ExpectedSubs(2)
	require.InDelta(tst, 2*(16.0-4.0)/4.0, subs[0], 1e-12)
}

func TestValidate(tst *testing.T) {
	t := Uniform(2, 2, 4)
	require.NoError(tst, t.Validate())

	t.ConP[5] = math.NaN()
	require.Error(tst, t.Validate())

	t.ConP[5] = -0.5
	require.Error(tst, t.Validate())
}
