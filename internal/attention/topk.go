package attention

import "math"

// TopK returns the indices of the k largest-magnitude values in x, in no
// particular order. Ties at the selection boundary are broken arbitrarily.
// x is not modified.
func TopK(x []float64, k int) []int {
	n := len(x)
	if k <= 0 {
		return []int{}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if k >= n {
		return idx
	}

	// Quickselect on idx so that idx[:k] holds the k largest magnitudes.
	lo, hi := 0, n-1
	for lo < hi {
		eqLo, eqHi := partition(x, idx, lo, hi)
		switch {
		case k-1 < eqLo:
			hi = eqLo - 1
		case k-1 > eqHi:
			lo = eqHi + 1
		default:
			return idx[:k]
		}
	}
	return idx[:k]
}

// partition splits idx[lo..hi] three ways by magnitude around a
// median-of-three pivot: greater, equal, less. It returns the bounds of the
// equal run, so a long run of identical values (masked zeros) is settled in
// one pass.
func partition(x []float64, idx []int, lo, hi int) (int, int) {
	pivot := medianOfThree(math.Abs(x[idx[lo]]), math.Abs(x[idx[lo+(hi-lo)/2]]), math.Abs(x[idx[hi]]))
	lt, i, gt := lo, lo, hi
	for i <= gt {
		v := math.Abs(x[idx[i]])
		switch {
		case v > pivot:
			idx[lt], idx[i] = idx[i], idx[lt]
			lt++
			i++
		case v < pivot:
			idx[gt], idx[i] = idx[i], idx[gt]
			gt--
		default:
			i++
		}
	}
	return lt, gt
}

func medianOfThree(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}
