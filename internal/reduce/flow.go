package reduce

import "fmt"

const DefaultLayerFlowTokens = 50

type FlowToken struct {
	ID       string  `json:"id"`
	Token    string  `json:"token"`
	Position int     `json:"position"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type FlowLayer struct {
	LayerID    string      `json:"layer_id"`
	LayerIndex int         `json:"layer_index"`
	Tokens     []FlowToken `json:"tokens"`
}

// LayerFlow traces tokens through successive hidden layers in 2D.
type LayerFlow struct {
	Layers      []FlowLayer `json:"layers"`
	NumLayers   int         `json:"n_layers"`
	NumTokens   int         `json:"n_tokens"`
	TotalTokens int         `json:"total_tokens"`
}

// BuildLayerFlow projects the first maxTokens tokens of every hidden layer
// (hidden[layer][token][dim]) to 2D with PCA, each layer independently and
// normalized to [-1, 1]. Layers of width ≤ 2 are used as is.
func BuildLayerFlow(hidden [][][]float64, tokens []string, maxTokens int) (*LayerFlow, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultLayerFlowTokens
	}
	n := min(len(tokens), maxTokens)
	flow := &LayerFlow{
		Layers:      make([]FlowLayer, 0, len(hidden)),
		NumLayers:   len(hidden),
		NumTokens:   n,
		TotalTokens: len(tokens),
	}
	if n == 0 {
		for l := range hidden {
			flow.Layers = append(flow.Layers, FlowLayer{LayerID: layerKey(l), LayerIndex: l, Tokens: []FlowToken{}})
		}
		return flow, nil
	}

	for l, layer := range hidden {
		if len(layer) < n {
			return nil, fmt.Errorf("layer %d has %d rows, expected at least %d", l, len(layer), n)
		}
		rows := layer[:n]
		var coords [][]float64
		if len(rows[0]) > 2 {
			var err error
			if coords, err = PCA(rows, 2); err != nil {
				return nil, fmt.Errorf("layer %d: %w", l, err)
			}
		} else {
			coords = make([][]float64, n)
			for i, r := range rows {
				coords[i] = make([]float64, 2)
				copy(coords[i], r)
			}
		}
		Normalize(coords)

		fl := FlowLayer{LayerID: layerKey(l), LayerIndex: l, Tokens: make([]FlowToken, n)}
		for i := 0; i < n; i++ {
			fl.Tokens[i] = FlowToken{
				ID:       fmt.Sprintf("token_%d_layer_%d", i, l),
				Token:    tokens[i],
				Position: i,
				X:        coords[i][0],
				Y:        coords[i][1],
			}
		}
		flow.Layers = append(flow.Layers, fl)
	}
	return flow, nil
}

func layerKey(l int) string { return fmt.Sprintf("layer_%d", l) }
