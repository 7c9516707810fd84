package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects the rows of x onto the first k principal axes. When the
// data has fewer than k axes of variation the trailing columns are exactly
// zero. Each component's sign is fixed so that its largest-magnitude score
// is positive.
func PCA(x [][]float64, k int) ([][]float64, error) {
	n, dim, err := shape(x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, k)
	}
	if n < 2 {
		return out, nil
	}

	centered := mat.NewDense(n, dim, nil)
	for i, row := range x {
		centered.SetRow(i, row)
	}
	col := make([]float64, n)
	for j := 0; j < dim; j++ {
		mat.Col(col, j, centered)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, col[i]-mean)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd factorization failed for %dx%d matrix", n, dim)
	}
	var v mat.Dense
	svd.VTo(&v)
	use := min(k, numericalRank(svd.Values(nil), n, dim))
	if use == 0 {
		return out, nil
	}

	var scores mat.Dense
	scores.Mul(centered, v.Slice(0, dim, 0, use))

	for c := 0; c < use; c++ {
		mat.Col(col, c, &scores)
		sign := 1.0
		best := 0.0
		for _, s := range col {
			if math.Abs(s) > best {
				best = math.Abs(s)
				sign = math.Copysign(1, s)
			}
		}
		for i := 0; i < n; i++ {
			out[i][c] = sign * col[i]
		}
	}
	return out, nil
}

// numericalRank counts singular values above the LAPACK-style tolerance
// max(n, dim) * eps * s[0]; values is sorted descending.
func numericalRank(values []float64, n, dim int) int {
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	tol := float64(max(n, dim)) * 2.220446049250313e-16 * values[0]
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	return rank
}
