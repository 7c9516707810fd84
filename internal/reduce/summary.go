package reduce

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type ValueStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type HiddenLayer struct {
	Shape      [2]int     `json:"shape"`
	Stats      ValueStats `json:"stats"`
	TokenNorms []float64  `json:"token_norms"`
}

// HiddenStates summarizes every hidden layer without the raw vectors.
type HiddenStates struct {
	NumLayers int                    `json:"num_layers"`
	Layers    map[string]HiddenLayer `json:"layers"`
}

// SummarizeHiddenStates reports shape, value statistics and per-token L2
// norms for hidden[layer][token][dim].
func SummarizeHiddenStates(hidden [][][]float64) *HiddenStates {
	out := &HiddenStates{NumLayers: len(hidden), Layers: make(map[string]HiddenLayer, len(hidden))}
	for l, layer := range hidden {
		hl := HiddenLayer{TokenNorms: make([]float64, len(layer))}
		var flat []float64
		for i, row := range layer {
			hl.TokenNorms[i] = floats.Norm(row, 2)
			flat = append(flat, row...)
		}
		if len(layer) > 0 {
			hl.Shape = [2]int{len(layer), len(layer[0])}
		}
		hl.Stats = valueStats(flat)
		out.Layers[layerKey(l)] = hl
	}
	return out
}

type EmbeddingSummary struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Shape [2]int  `json:"shape"`
}

// EmbeddingStats reports mean and population std over every value.
func EmbeddingStats(embeddings [][]float64) EmbeddingSummary {
	var flat []float64
	for _, row := range embeddings {
		flat = append(flat, row...)
	}
	out := EmbeddingSummary{}
	if len(embeddings) > 0 {
		out.Shape = [2]int{len(embeddings), len(embeddings[0])}
	}
	if len(flat) > 0 {
		out.Mean, out.Std = stat.PopMeanStdDev(flat, nil)
	}
	return out
}

func valueStats(x []float64) ValueStats {
	if len(x) == 0 {
		return ValueStats{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return ValueStats{Mean: mean, Std: std, Min: floats.Min(x), Max: floats.Max(x)}
}
