package attention

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-lens/internal/cpu"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
)

// Stats always describe the complete matrix, never the sampled subset.
type Stats struct {
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// HeadAttention is either *Dense or *Sparse.
type HeadAttention interface {
	Statistics() Stats
	isHeadAttention()
}

type Dense struct {
	Weights [][]float64 `json:"weights"`
	Stats   Stats       `json:"stats"`
	Shape   [2]int      `json:"shape"`
}

func (d *Dense) Statistics() Stats { return d.Stats }
func (*Dense) isHeadAttention()    {}

// SparseWeights holds the kept values of a row-major matrix by flat index,
// indices ascending.
type SparseWeights struct {
	Indices      []int     `json:"indices"`
	Values       []float64 `json:"values"`
	Shape        [2]int    `json:"shape"`
	SamplingRate float64   `json:"sampling_rate"`
}

type Sparse struct {
	SparseWeights `json:"sparse_weights"`
	Stats         Stats `json:"stats"`
}

func (s *Sparse) Statistics() Stats { return s.Stats }
func (*Sparse) isHeadAttention()    {}

type LayerSummary struct {
	NumHeads     int                      `json:"num_heads"`
	SeqLen       int                      `json:"seq_len"`
	SamplingRate float64                  `json:"sampling_rate"`
	Tier         string                   `json:"tier"`
	Heads        map[string]HeadAttention `json:"heads"`
	Average      HeadAttention            `json:"average"`
}

type Summary struct {
	NumLayers int            `json:"num_layers"`
	Plan      Plan           `json:"plan"`
	Layers    []LayerSummary `json:"layers"`
}

type Sampler struct {
	FullThreshold int
	TargetValues  int
	MaxHeads      int
}

// New returns a Sampler; non-positive arguments take the defaults.
func New(fullThreshold, targetValues, maxHeads int) *Sampler {
	if fullThreshold <= 0 {
		fullThreshold = DefaultFullThreshold
	}
	if targetValues <= 0 {
		targetValues = DefaultTargetValues
	}
	if maxHeads <= 0 {
		maxHeads = DefaultMaxHeads
	}
	return &Sampler{FullThreshold: fullThreshold, TargetValues: targetValues, MaxHeads: maxHeads}
}

// Sample reduces attentions[layer][head], each a flat seqLen x seqLen
// matrix. Sparse tiers keep the largest-magnitude values. Layers are
// processed independently and concurrently.
func (s *Sampler) Sample(attentions [][][]float64, seqLen int) (*Summary, error) {
	plan := s.PlanFor(seqLen)
	total := seqLen * seqLen
	for l, heads := range attentions {
		if len(heads) == 0 {
			return nil, fmt.Errorf("layer %d has no heads", l)
		}
		for h, a := range heads {
			if len(a) != total {
				return nil, fmt.Errorf("layer %d head %d: %d values, expected %d", l, h, len(a), total)
			}
		}
	}

	if plan.IncludeFull {
		logger.Log.Debug("Attention sampling", "tokens", seqLen, "tier", plan.String())
	} else {
		logger.Log.Debug("Attention sampling", "tokens", seqLen, "tier", plan.String(),
			"keep", plan.KeepCount, "total", total)
	}

	layers := make([]LayerSummary, len(attentions))
	cpu.ParallelRows(len(attentions), func(start, end int) {
		for l := start; l < end; l++ {
			layers[l] = s.sampleLayer(attentions[l], plan)
		}
	})
	return &Summary{NumLayers: len(layers), Plan: plan, Layers: layers}, nil
}

func (s *Sampler) sampleLayer(heads [][]float64, plan Plan) LayerSummary {
	seq := plan.SeqLen
	out := LayerSummary{
		NumHeads:     len(heads),
		SeqLen:       seq,
		SamplingRate: plan.SamplingRate,
		Tier:         plan.Tier,
		Heads:        make(map[string]HeadAttention),
	}

	avg := make([]float64, seq*seq)
	for _, h := range heads {
		floats.Add(avg, h)
	}
	floats.Scale(1/float64(len(heads)), avg)

	kept := 0
	if plan.IncludeFull {
		for i, h := range heads {
			out.Heads[headKey(i)] = dense(h, seq)
		}
		out.Average = dense(avg, seq)
		kept = (len(heads) + 1) * seq * seq
	} else {
		n := min(s.MaxHeads, len(heads))
		for i := 0; i < n; i++ {
			out.Heads[headKey(i)] = sparse(heads[i], seq, plan)
		}
		// The average reflects every head, not only the sampled ones.
		out.Average = sparse(avg, seq, plan)
		kept = (n + 1) * plan.KeepCount
	}
	metrics.RecordSampling(plan.Tier, kept, (len(heads)+1)*seq*seq)
	return out
}

func headKey(i int) string { return fmt.Sprintf("head_%d", i) }

func dense(flat []float64, seq int) *Dense {
	rows := make([][]float64, seq)
	for i := range rows {
		rows[i] = flat[i*seq : (i+1)*seq]
	}
	return &Dense{Weights: rows, Stats: ComputeStats(flat), Shape: [2]int{seq, seq}}
}

func sparse(flat []float64, seq int, plan Plan) *Sparse {
	idx := TopK(flat, plan.KeepCount)
	slices.Sort(idx)
	values := make([]float64, len(idx))
	for i, j := range idx {
		values[i] = flat[j]
	}
	return &Sparse{
		SparseWeights: SparseWeights{
			Indices:      idx,
			Values:       values,
			Shape:        [2]int{seq, seq},
			SamplingRate: plan.SamplingRate,
		},
		Stats: ComputeStats(flat),
	}
}

// ComputeStats returns max, min, mean and population standard deviation.
func ComputeStats(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return Stats{Max: floats.Max(x), Min: floats.Min(x), Mean: mean, Std: std}
}
