package attention

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomAttention builds layers x heads row-stochastic seq x seq matrices.
func randomAttention(seed int64, layers, heads, seq int) [][][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][][]float64, layers)
	for l := range out {
		out[l] = make([][]float64, heads)
		for h := range out[l] {
			m := make([]float64, seq*seq)
			for r := 0; r < seq; r++ {
				sum := 0.0
				for c := 0; c < seq; c++ {
					v := rng.Float64()
					m[r*seq+c] = v
					sum += v
				}
				for c := 0; c < seq; c++ {
					m[r*seq+c] /= sum
				}
			}
			out[l][h] = m
		}
	}
	return out
}

func TestPlanForTiers(t *testing.T) {
	s := New(0, 0, 0)
	tests := []struct {
		seq      int
		tier     string
		full     bool
		minRate  float64
		keepHint int
	}{
		{1, "0-150", true, 1.0, 1},
		{150, "0-150", true, 1.0, 22500},
		{151, "150-200", false, 1.0, 22801},
		{200, "150-200", false, 0.70, 28000},
		{250, "200-250", false, 0.50, 31250},
		{300, "250-300", false, 0.35, 31499},
		{350, "300-350", false, 0.25, 30625},
		{400, "350-400", false, 0.18, 28800},
		{450, "400-450", false, 0.12, 25000},
		{512, "450+", false, 0.10, 26214},
		{1024, "450+", false, 0.10, 104857},
	}
	for _, tt := range tests {
		p := s.PlanFor(tt.seq)
		assert.Equal(t, tt.tier, p.Tier, "seq=%d", tt.seq)
		assert.Equal(t, tt.full, p.IncludeFull, "seq=%d", tt.seq)
		assert.GreaterOrEqual(t, p.SamplingRate, tt.minRate-1e-12, "seq=%d", tt.seq)
		assert.Equal(t, tt.keepHint, p.KeepCount, "seq=%d", tt.seq)
		assert.LessOrEqual(t, p.KeepCount, tt.seq*tt.seq)
	}
}

func TestPlanMeetsTargetWhenAffordable(t *testing.T) {
	s := New(150, 25000, 4)
	// 450² = 202500; the 12% floor keeps 24300, below target
	p := s.PlanFor(450)
	assert.Equal(t, 25000, p.KeepCount)
	assert.InDelta(t, 25000.0/202500.0, p.SamplingRate, 1e-12)
}

func TestPlanRateNonIncreasingAcrossTiers(t *testing.T) {
	s := New(150, 25000, 4)
	prev := 1.0
	for seq := 151; seq <= 2000; seq++ {
		p := s.PlanFor(seq)
		floor := tierFor(seq).floor
		assert.GreaterOrEqual(t, p.SamplingRate, floor)
		if p.SamplingRate > prev+1e-12 && tierFor(seq).upper == tierFor(seq-1).upper {
			t.Fatalf("rate increased within a tier at seq=%d: %f > %f", seq, p.SamplingRate, prev)
		}
		prev = p.SamplingRate
	}
}

func TestKeepCountMonotonicInTarget(t *testing.T) {
	for _, seq := range []int{160, 260, 480, 700} {
		prev := 0
		for target := 1000; target <= 600000; target += 7000 {
			p := New(150, target, 4).PlanFor(seq)
			assert.GreaterOrEqual(t, p.KeepCount, prev, "seq=%d target=%d", seq, target)
			assert.LessOrEqual(t, p.KeepCount, seq*seq)
			prev = p.KeepCount
		}
	}
}

func TestSampleDenseTier(t *testing.T) {
	// "The cat sat." through 2 layers x 2 heads: 6 tokens
	att := randomAttention(1, 2, 2, 6)
	sum, err := New(150, 25000, 4).Sample(att, 6)
	require.NoError(t, err)
	require.Len(t, sum.Layers, 2)

	for l, layer := range sum.Layers {
		assert.Equal(t, 1.0, layer.SamplingRate)
		assert.Equal(t, 2, layer.NumHeads)
		require.Len(t, layer.Heads, 2)
		for h := 0; h < 2; h++ {
			d, ok := layer.Heads[headKey(h)].(*Dense)
			require.True(t, ok, "layer %d head %d should be dense", l, h)
			require.Len(t, d.Weights, 6)
			assert.Len(t, d.Weights[0], 6)
			assert.Equal(t, att[l][h][7], d.Weights[1][1])
		}
		avg, ok := layer.Average.(*Dense)
		require.True(t, ok)
		assert.InDelta(t, (att[l][0][3]+att[l][1][3])/2, avg.Weights[0][3], 1e-15)
		assert.Equal(t, [2]int{6, 6}, avg.Shape)
	}
}

func TestSampleSparseTier(t *testing.T) {
	seq := 210
	att := randomAttention(2, 1, 6, seq)
	s := New(150, 25000, 4)
	sum, err := s.Sample(att, seq)
	require.NoError(t, err)

	layer := sum.Layers[0]
	plan := s.PlanFor(seq)
	assert.Equal(t, 6, layer.NumHeads)
	assert.Len(t, layer.Heads, 4, "only heads 0..3 are sampled")
	assert.NotContains(t, layer.Heads, "head_4")

	for h := 0; h < 4; h++ {
		sp, ok := layer.Heads[headKey(h)].(*Sparse)
		require.True(t, ok)
		assert.Len(t, sp.Indices, plan.KeepCount)
		assert.Len(t, sp.Values, plan.KeepCount)
		assert.Equal(t, [2]int{seq, seq}, sp.Shape)

		seen := make(map[int]bool)
		minKept := math.Inf(1)
		for i, idx := range sp.Indices {
			require.True(t, idx >= 0 && idx < seq*seq)
			require.False(t, seen[idx], "duplicate index %d", idx)
			seen[idx] = true
			assert.Equal(t, att[0][h][idx], sp.Values[i])
			minKept = math.Min(minKept, sp.Values[i])
		}
		assert.True(t, sort.IntsAreSorted(sp.Indices))
		for idx, v := range att[0][h] {
			if !seen[idx] {
				require.LessOrEqual(t, v, minKept, "dropped value exceeds a kept one")
			}
		}
	}

	avg, ok := layer.Average.(*Sparse)
	require.True(t, ok)
	assert.Len(t, avg.Indices, plan.KeepCount)
	// Average covers all 6 heads
	i := avg.Indices[0]
	expected := 0.0
	for h := 0; h < 6; h++ {
		expected += att[0][h][i]
	}
	assert.InDelta(t, expected/6, avg.Values[0], 1e-15)
}

func TestStatsUseFullMatrix(t *testing.T) {
	seq := 300
	att := randomAttention(3, 1, 1, seq)
	head := att[0][0]
	// Plant a minimum too small in magnitude to be kept, and a maximum
	// that is.
	head[12345] = -1e-9
	head[777] = 42

	sum, err := New(150, 25000, 4).Sample(att, seq)
	require.NoError(t, err)
	sp := sum.Layers[0].Heads["head_0"].(*Sparse)

	assert.NotContains(t, sp.Indices, 12345)
	assert.Equal(t, -1e-9, sp.Stats.Min)
	assert.Contains(t, sp.Indices, 777)
	assert.Equal(t, 42.0, sp.Stats.Max)

	expected := ComputeStats(head)
	assert.Equal(t, expected, sp.Statistics())
}

func TestComputeStatsPopulationStd(t *testing.T) {
	st := ComputeStats([]float64{1, 2, 3, 4})
	assert.Equal(t, 4.0, st.Max)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 2.5, st.Mean)
	assert.InDelta(t, math.Sqrt(1.25), st.Std, 1e-12)
	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestSampleShapeErrors(t *testing.T) {
	s := New(150, 25000, 4)
	_, err := s.Sample([][][]float64{{make([]float64, 8)}}, 3)
	assert.Error(t, err)
	_, err = s.Sample([][][]float64{{}}, 3)
	assert.Error(t, err)
}

func TestSummaryJSONShape(t *testing.T) {
	att := randomAttention(4, 1, 2, 160)
	sum, err := New(150, 25000, 4).Sample(att, 160)
	require.NoError(t, err)

	data, err := json.Marshal(sum.Layers[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	heads := decoded["heads"].(map[string]any)
	h0 := heads["head_0"].(map[string]any)
	assert.Contains(t, h0, "sparse_weights")
	assert.Contains(t, h0, "stats")
	sw := h0["sparse_weights"].(map[string]any)
	assert.Contains(t, sw, "indices")
	assert.Contains(t, sw, "sampling_rate")
}

func TestTopK(t *testing.T) {
	x := []float64{5, 1, 9, 3, 9, 0, 7}
	got := TopK(x, 3)
	sort.Ints(got)
	assert.Equal(t, []int{2, 4, 6}, got)

	assert.Len(t, TopK(x, 0), 0)
	assert.Len(t, TopK(x, 10), 7)
	assert.Equal(t, []float64{5, 1, 9, 3, 9, 0, 7}, x, "input must not be modified")
}

func TestTopKByMagnitude(t *testing.T) {
	x := []float64{-9, 1, 3, -2, 0.5}
	got := TopK(x, 2)
	sort.Ints(got)
	assert.Equal(t, []int{0, 2}, got)

	got = TopK(x, 3)
	sort.Ints(got)
	assert.Equal(t, []int{0, 2, 3}, got)
}

func TestSampleKeepsLargeNegativeValues(t *testing.T) {
	seq := 200
	att := randomAttention(4, 1, 1, seq)
	att[0][0][999] = -3
	sum, err := New(150, 25000, 4).Sample(att, seq)
	require.NoError(t, err)
	sp := sum.Layers[0].Heads["head_0"].(*Sparse)
	assert.Contains(t, sp.Indices, 999)
	assert.Equal(t, -3.0, sp.Stats.Min)
}

func TestTopKManyTies(t *testing.T) {
	x := make([]float64, 10000)
	for i := 0; i < 100; i++ {
		x[i*37] = float64(i + 1)
	}
	got := TopK(x, 5000)
	require.Len(t, got, 5000)
	nonzero := 0
	for _, i := range got {
		if x[i] > 0 {
			nonzero++
		}
	}
	assert.Equal(t, 100, nonzero, "every positive value must be selected")
}

func TestTopKRandomAgainstSort(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(500)
		k := 1 + rng.Intn(n)
		x := make([]float64, n)
		for i := range x {
			x[i] = float64(rng.Intn(20))
		}
		sorted := append([]float64(nil), x...)
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
		threshold := sorted[k-1]

		got := TopK(x, k)
		require.Len(t, got, k)
		above := 0
		for _, i := range got {
			require.GreaterOrEqual(t, x[i], threshold)
			if x[i] > threshold {
				above++
			}
		}
		expectedAbove := 0
		for _, v := range x {
			if v > threshold {
				expectedAbove++
			}
		}
		assert.Equal(t, expectedAbove, above)
	}
}
