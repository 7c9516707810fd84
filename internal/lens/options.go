package lens

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/reduce"
)

const (
	OptReturnEmbeddings   = "return_embeddings"
	OptReturnAttention    = "return_attention"
	OptReturnHiddenStates = "return_hidden_states"
	OptReturnLayerFlow    = "return_layer_flow"
	OptReductionMethod    = "reduction_method"
	OptNComponents        = "n_components"

	keyTextTruncated = "text_truncated"
)

// Options are the typed request options. Unrecognized keys are ignored.
type Options struct {
	ReturnEmbeddings   bool
	ReturnAttention    bool
	ReturnHiddenStates bool
	ReturnLayerFlow    bool
	ReductionMethod    string
	NComponents        int
}

func DefaultOptions(cfg config.Config) Options {
	return Options{
		ReturnEmbeddings: true,
		ReturnAttention:  true,
		ReductionMethod:  cfg.Reduction.Method,
		NComponents:      cfg.Reduction.NComponents,
	}
}

// ParseOptions applies raw over the defaults. Booleans accept bool,
// numbers and "true"/"false" strings; n_components accepts integral
// numbers and numeric strings. The reduction settings are validated even
// when embeddings are not requested.
func ParseOptions(raw map[string]any, cfg config.Config) (Options, error) {
	o := DefaultOptions(cfg)
	bools := []struct {
		key string
		dst *bool
	}{
		{OptReturnEmbeddings, &o.ReturnEmbeddings},
		{OptReturnAttention, &o.ReturnAttention},
		{OptReturnHiddenStates, &o.ReturnHiddenStates},
		{OptReturnLayerFlow, &o.ReturnLayerFlow},
	}
	for _, b := range bools {
		v, ok := raw[b.key]
		if !ok || v == nil {
			continue
		}
		parsed, ok := toBool(v)
		if !ok {
			return o, ErrInvalidOption{Key: b.key, Value: v}
		}
		*b.dst = parsed
	}

	if v, ok := raw[OptReductionMethod]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return o, ErrInvalidOption{Key: OptReductionMethod, Value: v}
		}
		o.ReductionMethod = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := raw[OptNComponents]; ok && v != nil {
		n, ok := toInt(v)
		if !ok {
			return o, ErrInvalidOption{Key: OptNComponents, Value: v}
		}
		o.NComponents = n
	}

	switch o.ReductionMethod {
	case reduce.MethodPCA, reduce.MethodTSNE, reduce.MethodUMAP:
	default:
		return o, reduce.ErrUnsupportedMethod{Method: o.ReductionMethod}
	}
	if o.NComponents != 2 && o.NComponents != 3 {
		return o, reduce.ErrInvalidDimension{NComponents: o.NComponents}
	}
	return o, nil
}

// Map is the canonical form used for cache fingerprints: every recognized
// key with its effective value.
func (o Options) Map() map[string]any {
	return map[string]any{
		OptReturnEmbeddings:   o.ReturnEmbeddings,
		OptReturnAttention:    o.ReturnAttention,
		OptReturnHiddenStates: o.ReturnHiddenStates,
		OptReturnLayerFlow:    o.ReturnLayerFlow,
		OptReductionMethod:    o.ReductionMethod,
		OptNComponents:        o.NComponents,
	}
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	case float64:
		return x != 0, true
	case json.Number:
		f, err := x.Float64()
		return f != 0, err == nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	return false, false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		if math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}
