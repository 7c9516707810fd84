package reduce

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-lens/internal/cpu"
)

const (
	tsneLearningRate  = 200.0
	tsneExaggeration  = 4.0
	tsneExaggerateFor = 100
	tsneMomentumSwap  = 250
	tsneMinGain       = 0.01
	tsneMinProb       = 1e-12
)

// TSNE embeds the rows of x into k dimensions with exact t-SNE. The run is
// fully determined by seed.
func TSNE(x [][]float64, k int, perplexity float64, iterations int, seed int64) [][]float64 {
	n := len(x)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, k)
	}
	if n < 2 {
		return out
	}

	p := affinities(x, perplexity)
	for i := range p {
		p[i] *= tsneExaggeration
	}

	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n*k)
	for i := range y {
		y[i] = rng.NormFloat64() * 1e-4
	}
	update := make([]float64, n*k)
	gains := make([]float64, n*k)
	for i := range gains {
		gains[i] = 1
	}
	grad := make([]float64, n*k)
	num := make([]float64, n*n)

	for iter := 0; iter < iterations; iter++ {
		// Student-t kernel in the embedding space.
		sum := 0.0
		for i := 0; i < n; i++ {
			yi := y[i*k : (i+1)*k]
			for j := i + 1; j < n; j++ {
				yj := y[j*k : (j+1)*k]
				d := 0.0
				for c := range yi {
					diff := yi[c] - yj[c]
					d += diff * diff
				}
				q := 1 / (1 + d)
				num[i*n+j] = q
				num[j*n+i] = q
				sum += 2 * q
			}
		}

		cpu.ParallelRows(n, func(start, end int) {
			for i := start; i < end; i++ {
				g := grad[i*k : (i+1)*k]
				for c := range g {
					g[c] = 0
				}
				yi := y[i*k : (i+1)*k]
				for j := 0; j < n; j++ {
					if i == j {
						continue
					}
					q := math.Max(num[i*n+j]/sum, tsneMinProb)
					f := 4 * (p[i*n+j] - q) * num[i*n+j]
					yj := y[j*k : (j+1)*k]
					for c := range g {
						g[c] += f * (yi[c] - yj[c])
					}
				}
			}
		})

		momentum := 0.5
		if iter >= tsneMomentumSwap {
			momentum = 0.8
		}
		for i := range y {
			if (grad[i] > 0) != (update[i] > 0) {
				gains[i] += 0.2
			} else {
				gains[i] *= 0.8
			}
			gains[i] = math.Max(gains[i], tsneMinGain)
			update[i] = momentum*update[i] - tsneLearningRate*gains[i]*grad[i]
			y[i] += update[i]
		}
		center(y, n, k)

		if iter == tsneExaggerateFor {
			for i := range p {
				p[i] /= tsneExaggeration
			}
		}
	}

	for i := range out {
		copy(out[i], y[i*k:(i+1)*k])
	}
	return out
}

func center(y []float64, n, k int) {
	for c := 0; c < k; c++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += y[i*k+c]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			y[i*k+c] -= mean
		}
	}
}

// affinities returns the symmetric joint probabilities P (n x n, flat)
// with each conditional row calibrated to the target perplexity.
func affinities(x [][]float64, perplexity float64) []float64 {
	n := len(x)
	dist := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 0.0
			for c := range x[i] {
				diff := x[i][c] - x[j][c]
				d += diff * diff
			}
			dist[i*n+j] = d
			dist[j*n+i] = d
		}
	}

	target := math.Log(perplexity)
	cond := make([]float64, n*n)
	cpu.ParallelRows(n, func(start, end int) {
		for i := start; i < end; i++ {
			calibrateRow(dist[i*n:(i+1)*n], cond[i*n:(i+1)*n], i, target)
		}
	})

	p := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			p[i*n+j] = math.Max((cond[i*n+j]+cond[j*n+i])/(2*float64(n)), tsneMinProb)
		}
	}
	return p
}

// calibrateRow binary-searches the Gaussian precision beta for point i so
// that the entropy of its conditional distribution matches target (nats).
// Distances are shifted by their minimum before exponentiation; the
// normalized distribution is unchanged and large distances do not underflow.
func calibrateRow(dist, row []float64, i int, target float64) {
	dmin := math.Inf(1)
	for j, d := range dist {
		if j != i && d < dmin {
			dmin = d
		}
	}

	beta := 1.0
	betaMin, betaMax := math.Inf(-1), math.Inf(1)
	for attempt := 0; attempt < 50; attempt++ {
		sum, weighted := 0.0, 0.0
		for j, d := range dist {
			if j == i {
				row[j] = 0
				continue
			}
			v := math.Exp(-(d - dmin) * beta)
			row[j] = v
			sum += v
			weighted += (d - dmin) * v
		}
		entropy := math.Log(sum) + beta*weighted/sum
		for j := range row {
			row[j] /= sum
		}

		diff := entropy - target
		if math.Abs(diff) < 1e-5 {
			return
		}
		if diff > 0 {
			betaMin = beta
			if math.IsInf(betaMax, 1) {
				beta *= 2
			} else {
				beta = (beta + betaMax) / 2
			}
		} else {
			betaMax = beta
			if math.IsInf(betaMin, -1) {
				beta /= 2
			} else {
				beta = (beta + betaMin) / 2
			}
		}
	}
}
