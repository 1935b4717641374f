// Package regress fits the non-parametric null relation between
// divergence and convergence: Theil–Sen slope with a median-of-residuals
// intercept.
package regress

import (
	"errors"
	"fmt"
	"sort"

	"github.com/op/go-logging"
)

// log is a global logging variable.
var log = logging.MustGetLogger("regress")

// ErrDegenerate is returned when no usable slope survives the filters
// or the median indexing leaves the collected range.
var ErrDegenerate = errors.New("degenerate regression input")

// countSlopes is the first pass: how many pairwise slopes survive the
// filters. The filters replicate the historical estimator exactly:
// pairs equal in both coordinates are skipped, slopes from equal x are
// kept as ±Inf, and slopes exactly equal to -1 or 0 are dropped (exact
// floating-point comparison, reachable only on degenerate inputs).
func countSlopes(x, y []float64) uint64 {
	n := len(x)
	var counter uint64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			xdelta := x[i] - x[j]
			ydelta := y[i] - y[j]
			if xdelta == 0 && ydelta == 0 {
				continue
			}
			slope := ydelta / xdelta
			if slope == -1 {
				continue
			}
			if slope != 0 {
				counter++
			}
		}
	}
	return counter
}

// TheilSen estimates y ≈ k*x + b. The slope is the median of all
// surviving pairwise slopes, shifted past those below -1; the intercept
// is the median of the residuals under the fitted slope.
//
// The slopes are collected in two passes into an exact-size buffer, so
// no O(N²) matrix is ever allocated and all size arithmetic is 64-bit.
func TheilSen(x, y []float64) (k, b float64, err error) {
	if len(x) != len(y) {
		return 0, 0, fmt.Errorf("input length mismatch: %d != %d", len(x), len(y))
	}
	if len(x) == 0 {
		return 0, 0, fmt.Errorf("empty input: %w", ErrDegenerate)
	}

	counter := countSlopes(x, y)
	if counter == 0 {
		return 0, 0, fmt.Errorf("no usable slopes: %w", ErrDegenerate)
	}
	log.Debugf("collecting %d slopes for %d points", counter, len(x))

	vector := make([]float64, 0, counter)
	n := len(x)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			xdelta := x[i] - x[j]
			ydelta := y[i] - y[j]
			if xdelta == 0 && ydelta == 0 {
				continue
			}
			slope := ydelta / xdelta
			if slope == -1 {
				continue
			}
			if slope != 0 {
				vector = append(vector, slope)
			}
		}
	}

	sort.Float64s(vector)

	// index of the greatest slope strictly below -1, or -1 if none
	cutoff := int64(-1)
	for i, s := range vector {
		if s >= -1 {
			break
		}
		cutoff = int64(i)
	}

	count := int64(len(vector))
	var idx int64
	if count%2 == 0 {
		idx = count/2 + cutoff
		if idx < 0 || idx+1 >= count {
			return 0, 0, fmt.Errorf("slope median index %d out of range [0, %d): %w", idx, count, ErrDegenerate)
		}
		k = 0.5 * (vector[idx] + vector[idx+1])
	} else {
		idx = (count+1)/2 + cutoff
		if idx < 0 || idx >= count {
			return 0, 0, fmt.Errorf("slope median index %d out of range [0, %d): %w", idx, count, ErrDegenerate)
		}
		k = vector[idx]
	}

	b, err = intercept(x, y, k)
	if err != nil {
		return 0, 0, err
	}
	return k, b, nil
}

// intercept is the median of y - k*x.
func intercept(x, y []float64, k float64) (float64, error) {
	n := len(x)
	if n == 0 {
		return 0, fmt.Errorf("empty residual vector: %w", ErrDegenerate)
	}
	temp := make([]float64, n)
	for i := range x {
		temp[i] = y[i] - k*x[i]
	}
	sort.Float64s(temp)
	if n%2 == 0 {
		return (temp[n/2] + temp[n/2-1]) / 2, nil
	}
	return temp[n/2], nil
}
