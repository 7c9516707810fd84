package engine

// Output is the result of one forward pass. Tensors are row-major:
// Hidden[l] is SeqLen x Dim for the embedding output (l=0) and each layer,
// Attentions[l][h] is SeqLen x SeqLen.
type Output struct {
	TokenIDs   []int
	Mask       []int
	SeqLen     int
	Dim        int
	LastHidden []float64
	Hidden     [][]float64
	Attentions [][][]float64
}

func (o *Output) NumLayers() int { return len(o.Attentions) }

func (o *Output) NumHeads() int {
	if len(o.Attentions) == 0 {
		return 0
	}
	return len(o.Attentions[0])
}

// Rows views a flat SeqLen x Dim tensor as one slice per token. The rows
// share storage with flat.
func (o *Output) Rows(flat []float64) [][]float64 {
	rows := make([][]float64, o.SeqLen)
	for i := range rows {
		rows[i] = flat[i*o.Dim : (i+1)*o.Dim]
	}
	return rows
}

func (o *Output) LastHiddenRows() [][]float64 { return o.Rows(o.LastHidden) }

// HiddenRows returns every hidden-state layer as token rows.
func (o *Output) HiddenRows() [][][]float64 {
	out := make([][][]float64, len(o.Hidden))
	for l, h := range o.Hidden {
		out[l] = o.Rows(h)
	}
	return out
}
