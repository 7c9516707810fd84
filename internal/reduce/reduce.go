package reduce

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
)

const (
	MethodPCA  = "pca"
	MethodTSNE = "tsne"
	MethodUMAP = "umap"

	DefaultSampleSize = 100
	DefaultIterations = 1000

	// tsnePreDims is the PCA width applied ahead of t-SNE on wide inputs.
	tsnePreDims = 50
)

type ErrUnsupportedMethod struct {
	Method string
}

func (e ErrUnsupportedMethod) Error() string {
	return fmt.Sprintf("unsupported reduction method: %q (must be pca, tsne or umap)", e.Method)
}

type ErrInvalidDimension struct {
	NComponents int
}

func (e ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid n_components: %d (must be 2 or 3)", e.NComponents)
}

type Stats struct {
	DistanceCorrelation float64 `json:"distance_correlation"`
	NTokens             int     `json:"n_tokens"`
	OriginalDim         int     `json:"original_dim"`
	ReducedDim          int     `json:"reduced_dim"`
}

// Projection is a reduced embedding matrix with every axis scaled to
// [-1, 1]. Method is the requested method; Fallback names the method that
// actually ran when it differs.
type Projection struct {
	Coordinates [][]float64 `json:"coordinates"`
	Method      string      `json:"method"`
	Fallback    string      `json:"fallback,omitempty"`
	NComponents int         `json:"n_components"`
	OriginalDim int         `json:"original_dim"`
	Stats       Stats       `json:"stats"`
}

// Reducer is stateless apart from its settings and safe for concurrent use.
type Reducer struct {
	Seed       int64
	SampleSize int
	Iterations int
}

func New(seed int64) *Reducer {
	return &Reducer{Seed: seed, SampleSize: DefaultSampleSize, Iterations: DefaultIterations}
}

// Reduce projects n x dim embeddings down to nComponents dimensions.
func (r *Reducer) Reduce(embeddings [][]float64, method string, nComponents int) (*Projection, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case MethodPCA, MethodTSNE, MethodUMAP:
	default:
		return nil, ErrUnsupportedMethod{Method: method}
	}
	if nComponents != 2 && nComponents != 3 {
		return nil, ErrInvalidDimension{NComponents: nComponents}
	}
	n, dim, err := shape(embeddings)
	if err != nil {
		return nil, err
	}

	out := &Projection{Method: method, NComponents: nComponents, OriginalDim: dim}
	var coords [][]float64
	switch method {
	case MethodPCA:
		coords, err = PCA(embeddings, nComponents)
	case MethodTSNE:
		coords, err = r.tsne(embeddings, nComponents)
	case MethodUMAP:
		logger.Log.Warn("UMAP backend not available, using PCA", "tokens", n)
		metrics.RecordReductionFallback(MethodUMAP, MethodPCA)
		out.Fallback = MethodPCA
		coords, err = PCA(embeddings, nComponents)
	}
	if err != nil {
		return nil, fmt.Errorf("%s reduction failed: %w", method, err)
	}

	Normalize(coords)
	out.Coordinates = coords
	out.Stats = Stats{
		DistanceCorrelation: r.distanceCorrelation(embeddings, coords),
		NTokens:             n,
		OriginalDim:         dim,
		ReducedDim:          nComponents,
	}
	metrics.RecordDistanceCorrelation(method, out.Stats.DistanceCorrelation)
	return out, nil
}

func (r *Reducer) tsne(x [][]float64, nComponents int) ([][]float64, error) {
	n := len(x)
	if n > tsnePreDims && len(x[0]) > tsnePreDims {
		pre, err := PCA(x, tsnePreDims)
		if err != nil {
			return nil, err
		}
		x = pre
	}
	perplexity := math.Min(30, float64(n-1))
	iters := r.Iterations
	if iters <= 0 {
		iters = DefaultIterations
	}
	return TSNE(x, nComponents, perplexity, iters, r.Seed), nil
}

func shape(x [][]float64) (int, int, error) {
	if len(x) == 0 {
		return 0, 0, fmt.Errorf("no embeddings to reduce")
	}
	dim := len(x[0])
	if dim == 0 {
		return 0, 0, fmt.Errorf("embeddings have zero width")
	}
	for i, row := range x {
		if len(row) != dim {
			return 0, 0, fmt.Errorf("row %d has width %d, expected %d", i, len(row), dim)
		}
	}
	return len(x), dim, nil
}

// Normalize rescales each column in place to [-1, 1]. A constant column
// becomes all zeros.
func Normalize(coords [][]float64) {
	if len(coords) == 0 {
		return
	}
	col := make([]float64, len(coords))
	for j := range coords[0] {
		for i, row := range coords {
			col[i] = row[j]
		}
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		for _, row := range coords {
			if span == 0 {
				row[j] = 0
				continue
			}
			row[j] = 2*(row[j]-lo)/span - 1
		}
	}
}
