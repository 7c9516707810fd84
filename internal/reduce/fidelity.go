package reduce

import (
	"math"
	"math/rand"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// distanceCorrelation is the Spearman rank correlation between pairwise
// Euclidean distances before and after reduction, over at most SampleSize
// rows chosen without replacement. Degenerate inputs report 0.
func (r *Reducer) distanceCorrelation(original, reduced [][]float64) float64 {
	n := len(original)
	size := r.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	m := min(size, n)
	if m < 2 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if m < n {
		rng := rand.New(rand.NewSource(r.Seed))
		idx = rng.Perm(n)[:m]
		slices.Sort(idx)
	}

	before := pairwise(original, idx)
	after := pairwise(reduced, idx)
	corr := SpearmanCorrelation(before, after)
	if math.IsNaN(corr) || math.IsInf(corr, 0) {
		return 0
	}
	return corr
}

// pairwise returns the condensed upper-triangle distance vector over rows idx.
func pairwise(x [][]float64, idx []int) []float64 {
	out := make([]float64, 0, len(idx)*(len(idx)-1)/2)
	for a := 0; a < len(idx); a++ {
		for b := a + 1; b < len(idx); b++ {
			out = append(out, floats.Distance(x[idx[a]], x[idx[b]], 2))
		}
	}
	return out
}

// SpearmanCorrelation is the Pearson correlation of average ranks. It is
// NaN when either side is constant.
func SpearmanCorrelation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return math.NaN()
	}
	return stat.Correlation(ranks(a), ranks(b), nil)
}

// ranks assigns 1-based ranks, giving tied values their mean rank.
func ranks(x []float64) []float64 {
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return x[order[i]] < x[order[j]] })

	out := make([]float64, len(x))
	for i := 0; i < len(order); {
		j := i + 1
		for j < len(order) && x[order[j]] == x[order[i]] {
			j++
		}
		rank := float64(i+j+1) / 2
		for _, o := range order[i:j] {
			out[o] = rank
		}
		i = j
	}
	return out
}
