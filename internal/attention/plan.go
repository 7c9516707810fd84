package attention

import (
	"fmt"
	"math"
)

const (
	DefaultFullThreshold = 150
	DefaultTargetValues  = 25000
	DefaultMaxHeads      = 4
)

type tier struct {
	upper int
	floor float64
	label string
}

// Inclusive upper bounds on sequence length, evaluated in order.
var tiers = []tier{
	{150, 1.0, "0-150"},
	{200, 0.70, "150-200"},
	{250, 0.50, "200-250"},
	{300, 0.35, "250-300"},
	{350, 0.25, "300-350"},
	{400, 0.18, "350-400"},
	{450, 0.12, "400-450"},
	{math.MaxInt, 0.10, "450+"},
}

// Plan is the sampling decision for one sequence length. It depends on
// the length alone, never on tensor contents.
type Plan struct {
	SeqLen           int     `json:"seq_len"`
	Tier             string  `json:"tier"`
	SamplingRate     float64 `json:"sampling_rate"`
	IncludeFull      bool    `json:"include_full"`
	TargetValueCount int     `json:"target_value_count"`
	// KeepCount is the number of values kept per sampled matrix.
	KeepCount int `json:"keep_count"`
}

func (p Plan) String() string {
	if p.IncludeFull {
		return fmt.Sprintf("FULL (%s)", p.Tier)
	}
	return fmt.Sprintf("%.0f%% (%s)", p.SamplingRate*100, p.Tier)
}

func tierFor(seqLen int) tier {
	for _, t := range tiers {
		if seqLen <= t.upper {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// PlanFor picks the sampling rate for a seqLen x seqLen matrix. Above the
// full threshold the rate is the tier floor or target/seqLen², whichever
// is larger, and the kept count never drops below target when the matrix
// holds more than target values.
func (s *Sampler) PlanFor(seqLen int) Plan {
	total := seqLen * seqLen
	p := Plan{SeqLen: seqLen, TargetValueCount: s.TargetValues}

	if seqLen <= s.FullThreshold {
		p.Tier = fmt.Sprintf("0-%d", s.FullThreshold)
		p.SamplingRate = 1.0
		p.IncludeFull = true
		p.KeepCount = total
		return p
	}

	t := tierFor(seqLen)
	base := math.Min(1.0, float64(s.TargetValues)/float64(total))
	p.Tier = t.label
	p.SamplingRate = math.Max(t.floor, base)
	p.KeepCount = int(float64(total) * p.SamplingRate)

	if p.KeepCount < s.TargetValues && total > s.TargetValues {
		p.KeepCount = s.TargetValues
		p.SamplingRate = float64(s.TargetValues) / float64(total)
	}
	if p.KeepCount > total {
		p.KeepCount = total
	}
	return p
}
