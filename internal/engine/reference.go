package engine

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-lens/internal/cpu"
	"github.com/23skdu/longbow-lens/internal/logger"
)

const ReferenceEngine = "reference"

func init() {
	RegisterEngine(ReferenceEngine, NewReference)
}

type layerWeights struct {
	attnGain []float64
	attnBias []float64
	q, k, v  *mat.Dense // dim x dim
	o        *mat.Dense // dim x dim
	ffnGain  []float64
	ffnBias  []float64
	up       *mat.Dense // dim x hidden
	down     *mat.Dense // hidden x dim
}

// Reference is a pre-norm transformer encoder with seeded random weights.
// Its numbers carry no linguistic meaning but every tensor has the shape
// and normalization of a trained model, so the same seed and input always
// produce the same output.
type Reference struct {
	cfg      Config
	ctx      *cpu.Context
	tokenEmb *cpu.Tensor // vocab x dim
	posEmb   *cpu.Tensor // max_length x dim
	layers   []layerWeights
	closed   atomic.Bool
}

func (c Config) validate() error {
	if c.Dim <= 0 || c.Heads <= 0 || c.Layers <= 0 || c.HiddenDim <= 0 {
		return fmt.Errorf("invalid engine shape: dim=%d heads=%d layers=%d hidden=%d", c.Dim, c.Heads, c.Layers, c.HiddenDim)
	}
	if c.HeadDim*c.Heads != c.Dim {
		return fmt.Errorf("dim mismatch: heads(%d) * head_dim(%d) != dim(%d)", c.Heads, c.HeadDim, c.Dim)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab size: %d", c.VocabSize)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("invalid max length: %d", c.MaxLength)
	}
	return nil
}

func NewReference(cfg Config) (Model, error) {
	if cfg.HeadDim == 0 && cfg.Heads > 0 {
		cfg.HeadDim = cfg.Dim / cfg.Heads
	}
	if cfg.Eps <= 0 {
		cfg.Eps = 1e-5
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	e := &Reference{
		cfg:      cfg,
		ctx:      cpu.NewContext(),
		tokenEmb: randomTensor(rng, cfg.VocabSize, cfg.Dim, 1.0),
		posEmb:   sinusoidal(cfg.MaxLength, cfg.Dim),
		layers:   make([]layerWeights, cfg.Layers),
	}

	std := 1 / math.Sqrt(float64(cfg.Dim))
	for l := range e.layers {
		e.layers[l] = layerWeights{
			attnGain: constant(cfg.Dim, 1),
			attnBias: make([]float64, cfg.Dim),
			// Wider query/key init sharpens the attention distributions.
			q:       randomDense(rng, cfg.Dim, cfg.Dim, 3*std),
			k:       randomDense(rng, cfg.Dim, cfg.Dim, 3*std),
			v:       randomDense(rng, cfg.Dim, cfg.Dim, std),
			o:       randomDense(rng, cfg.Dim, cfg.Dim, std),
			ffnGain: constant(cfg.Dim, 1),
			ffnBias: make([]float64, cfg.Dim),
			up:      randomDense(rng, cfg.Dim, cfg.HiddenDim, std),
			down:    randomDense(rng, cfg.HiddenDim, cfg.Dim, 1/math.Sqrt(float64(cfg.HiddenDim))),
		}
	}

	logger.Log.Info("Reference engine initialized",
		"layers", cfg.Layers, "heads", cfg.Heads, "dim", cfg.Dim, "vocab", cfg.VocabSize, "causal", cfg.Causal)
	return e, nil
}

func (e *Reference) Info() Info {
	return Info{
		Engine:    ReferenceEngine,
		Layers:    e.cfg.Layers,
		Heads:     e.cfg.Heads,
		Dim:       e.cfg.Dim,
		VocabSize: e.cfg.VocabSize,
		MaxLength: e.cfg.MaxLength,
	}
}

// Forward is safe for concurrent use; weights are read-only after
// construction.
func (e *Reference) Forward(ids, mask []int) (*Output, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	seq := len(ids)
	if seq == 0 {
		return nil, fmt.Errorf("empty input sequence")
	}
	if seq > e.cfg.MaxLength {
		return nil, fmt.Errorf("sequence length %d exceeds max length %d", seq, e.cfg.MaxLength)
	}
	if mask == nil {
		mask = constantInts(seq, 1)
	}
	if len(mask) != seq {
		return nil, fmt.Errorf("shape mismatch: %d ids, %d mask entries", seq, len(mask))
	}

	dim := e.cfg.Dim
	x := &cpu.Tensor{Data: make([]float64, seq*dim), Shape: [2]int{seq, dim}}
	if err := cpu.Embedding(e.tokenEmb, ids, x); err != nil {
		return nil, err
	}
	for p := 0; p < seq; p++ {
		row, pe := x.Row(p), e.posEmb.Row(p)
		for j := range row {
			row[j] += pe[j]
		}
	}

	out := &Output{
		TokenIDs:   slices.Clone(ids),
		Mask:       slices.Clone(mask),
		SeqLen:     seq,
		Dim:        dim,
		Hidden:     make([][]float64, 0, e.cfg.Layers+1),
		Attentions: make([][][]float64, 0, e.cfg.Layers),
	}
	out.Hidden = append(out.Hidden, slices.Clone(x.Data))
	for l := range e.layers {
		out.Attentions = append(out.Attentions, e.block(&e.layers[l], x, mask))
		out.Hidden = append(out.Hidden, slices.Clone(x.Data))
	}
	out.LastHidden = out.Hidden[len(out.Hidden)-1]
	return out, nil
}

// block applies one residual attention + feed-forward layer to x in place
// and returns the per-head attention weights.
func (e *Reference) block(w *layerWeights, x *cpu.Tensor, mask []int) [][]float64 {
	seq, dim := x.Shape[0], x.Shape[1]
	hd := e.cfg.HeadDim

	h := e.ctx.NewTensor(seq, dim)
	defer e.ctx.PutTensor(h)
	cpu.LayerNorm(x, h, w.attnGain, w.attnBias, e.cfg.Eps)
	hm := mat.NewDense(seq, dim, h.Data)

	var q, k, v mat.Dense
	q.Mul(hm, w.q)
	k.Mul(hm, w.k)
	v.Mul(hm, w.v)

	concat := mat.NewDense(seq, dim, nil)
	attn := make([][]float64, e.cfg.Heads)
	scale := 1 / math.Sqrt(float64(hd))

	cpu.ParallelRows(e.cfg.Heads, func(start, end int) {
		for head := start; head < end; head++ {
			lo, hi := head*hd, (head+1)*hd
			scores := mat.NewDense(seq, seq, nil)
			scores.Mul(q.Slice(0, seq, lo, hi), k.Slice(0, seq, lo, hi).T())
			weights := &cpu.Tensor{Data: scores.RawMatrix().Data, Shape: [2]int{seq, seq}}
			cpu.MulScalar(weights, scale)
			if e.cfg.Causal {
				for i := 0; i < seq; i++ {
					row := weights.Row(i)
					for j := i + 1; j < seq; j++ {
						row[j] = math.Inf(-1)
					}
				}
			}
			cpu.MaskedSoftmaxRows(weights, mask)

			var ctxh mat.Dense
			ctxh.Mul(scores, v.Slice(0, seq, lo, hi))
			concat.Slice(0, seq, lo, hi).(*mat.Dense).Copy(&ctxh)
			attn[head] = weights.Data
		}
	})

	var proj mat.Dense
	proj.Mul(concat, w.o)
	cpu.Add(x, &cpu.Tensor{Data: proj.RawMatrix().Data, Shape: x.Shape})

	h2 := e.ctx.NewTensor(seq, dim)
	defer e.ctx.PutTensor(h2)
	cpu.LayerNorm(x, h2, w.ffnGain, w.ffnBias, e.cfg.Eps)

	var up, down mat.Dense
	up.Mul(mat.NewDense(seq, dim, h2.Data), w.up)
	cpu.GeLU(up.RawMatrix().Data)
	down.Mul(&up, w.down)
	cpu.Add(x, &cpu.Tensor{Data: down.RawMatrix().Data, Shape: x.Shape})

	return attn
}

func (e *Reference) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.ctx.Free()
	logger.Log.Info("Reference engine closed")
	return nil
}

func randomTensor(rng *rand.Rand, rows, cols int, std float64) *cpu.Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return &cpu.Tensor{Data: data, Shape: [2]int{rows, cols}}
}

func randomDense(rng *rand.Rand, rows, cols int, std float64) *mat.Dense {
	return mat.NewDense(rows, cols, randomTensor(rng, rows, cols, std).Data)
}

func sinusoidal(maxLen, dim int) *cpu.Tensor {
	t := &cpu.Tensor{Data: make([]float64, maxLen*dim), Shape: [2]int{maxLen, dim}}
	for pos := 0; pos < maxLen; pos++ {
		row := t.Row(pos)
		for i := 0; i < dim; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dim))
			row[i] = math.Sin(angle)
			if i+1 < dim {
				row[i+1] = math.Cos(angle)
			}
		}
	}
	return t
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func constantInts(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
