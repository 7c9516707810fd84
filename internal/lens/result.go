package lens

import (
	"time"

	"github.com/23skdu/longbow-lens/internal/attention"
	"github.com/23skdu/longbow-lens/internal/cache"
	"github.com/23skdu/longbow-lens/internal/reduce"
)

// Request is the JSON form of one Process call.
type Request struct {
	Text    string         `json:"text"`
	ModelID string         `json:"model_id,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Result is immutable once returned; cache hits share it read-only.
type Result struct {
	Tokens        []string `json:"tokens"`
	TokenIDs      []int    `json:"token_ids"`
	AttentionMask []int    `json:"attention_mask"`
	// Embeddings holds the raw final hidden state only for short inputs.
	Embeddings     [][]float64              `json:"embeddings,omitempty"`
	EmbeddingStats *reduce.EmbeddingSummary `json:"embedding_stats,omitempty"`
	Projection     *reduce.Projection       `json:"projection,omitempty"`
	Attention      *attention.Summary       `json:"attention,omitempty"`
	HiddenStates   *reduce.HiddenStates     `json:"hidden_states,omitempty"`
	LayerFlow      *reduce.LayerFlow        `json:"layer_flow,omitempty"`
	Metadata       Metadata                 `json:"metadata"`
}

type Metadata struct {
	RequestID      string    `json:"request_id"`
	ModelID        string    `json:"model_id"`
	Engine         string    `json:"engine"`
	NumTokens      int       `json:"num_tokens"`
	OriginalTokens int       `json:"original_tokens"`
	Truncated      bool      `json:"truncated"`
	TextTruncated  bool      `json:"text_truncated"`
	NumLayers      int       `json:"num_layers"`
	NumHeads       int       `json:"num_heads"`
	HiddenDim      int       `json:"hidden_dim"`
	ProcessingMS   float64   `json:"processing_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Status is a point-in-time view of the service.
type Status struct {
	Models        []string      `json:"models"`
	LoadedModels  []string      `json:"loaded_models"`
	DefaultModel  string        `json:"default_model"`
	Cache         cache.Stats   `json:"cache"`
	Requests      uint64        `json:"requests"`
	Failures      uint64        `json:"failures"`
	Uptime        time.Duration `json:"uptime_ns"`
	ExportEnabled bool          `json:"export_enabled"`

	// ScratchBytes is engine scratch memory currently held in tensor pools.
	ScratchBytes int64 `json:"scratch_bytes"`
}
