package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type LengthPolicy string

const (
	PolicyTruncate LengthPolicy = "truncate"
	PolicyReject   LengthPolicy = "reject"
)

type TokenizerFamily string

const (
	FamilyWordPiece TokenizerFamily = "wordpiece"
	FamilyBPE       TokenizerFamily = "bpe"
)

// ModelConfig describes one entry of the model catalog. Engine names a
// registered engine factory and the architecture fields size it; VocabPath optionally points at a GGUF
// file whose tokenizer.ggml.tokens array replaces the built-in vocabulary.
type ModelConfig struct {
	DisplayName string          `yaml:"display_name"`
	Description string          `yaml:"description"`
	Engine      string          `yaml:"engine"`
	Family      TokenizerFamily `yaml:"family"`
	VocabPath   string          `yaml:"vocab_path"`
	MaxLength   int             `yaml:"max_length"`
	Dim         int             `yaml:"dim"`
	HiddenDim   int             `yaml:"hidden_dim"`
	Layers      int             `yaml:"layers"`
	Heads       int             `yaml:"heads"`
	Seed        int64           `yaml:"seed"`
	Eps         float64         `yaml:"eps"`
}

func (m *ModelConfig) HeadDim() int {
	if m.Heads == 0 {
		return 0
	}
	return m.Dim / m.Heads
}

func (m *ModelConfig) Validate() error {
	if m.Family != FamilyWordPiece && m.Family != FamilyBPE {
		return fmt.Errorf("invalid family: %q (must be %q or %q)", m.Family, FamilyWordPiece, FamilyBPE)
	}
	if m.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", m.Dim)
	}
	if m.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", m.Layers)
	}
	if m.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", m.Heads)
	}
	if m.Dim%m.Heads != 0 {
		return fmt.Errorf("dim mismatch: %d not divisible by heads(%d)", m.Dim, m.Heads)
	}
	if m.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", m.HiddenDim)
	}
	if m.MaxLength <= 2 {
		return fmt.Errorf("invalid max_length: %d (must be > 2)", m.MaxLength)
	}
	if m.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", m.Eps)
	}
	return nil
}

type ReductionConfig struct {
	Method      string `yaml:"method"`
	NComponents int    `yaml:"n_components"`
	Seed        int64  `yaml:"seed"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExportConfig struct {
	FlightAddr string `yaml:"flight_addr"`
	Path       string `yaml:"path"`
}

type Config struct {
	DefaultModel           string                 `yaml:"default_model"`
	MaxTextLength          int                    `yaml:"max_text_length"`
	MaxTextChars           int                    `yaml:"max_text_chars"`
	LengthPolicy           LengthPolicy           `yaml:"length_policy"`
	CacheSize              int                    `yaml:"cache_size"`
	FullThreshold          int                    `yaml:"full_threshold"`
	TargetValuesPerHead    int                    `yaml:"target_values_per_head"`
	MaxSampledHeads        int                    `yaml:"max_sampled_heads"`
	EmbeddingFullThreshold int                    `yaml:"embedding_full_threshold"`
	LayerFlowMaxTokens     int                    `yaml:"layer_flow_max_tokens"`
	Reduction              ReductionConfig        `yaml:"reduction"`
	Models                 map[string]ModelConfig `yaml:"models"`
	Log                    LogConfig              `yaml:"log"`
	Export                 ExportConfig           `yaml:"export"`
}

func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("no models configured")
	}
	if _, ok := c.Models[c.DefaultModel]; !ok {
		return fmt.Errorf("invalid default_model: %q (not in models)", c.DefaultModel)
	}
	for id, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
	}
	if c.MaxTextLength <= 2 {
		return fmt.Errorf("invalid max_text_length: %d (must be > 2)", c.MaxTextLength)
	}
	if c.MaxTextChars <= 0 {
		return fmt.Errorf("invalid max_text_chars: %d (must be positive)", c.MaxTextChars)
	}
	if c.LengthPolicy != PolicyTruncate && c.LengthPolicy != PolicyReject {
		return fmt.Errorf("invalid length_policy: %q (must be %q or %q)", c.LengthPolicy, PolicyTruncate, PolicyReject)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("invalid cache_size: %d (must be positive)", c.CacheSize)
	}
	if c.FullThreshold <= 0 {
		return fmt.Errorf("invalid full_threshold: %d (must be positive)", c.FullThreshold)
	}
	if c.TargetValuesPerHead <= 0 {
		return fmt.Errorf("invalid target_values_per_head: %d (must be positive)", c.TargetValuesPerHead)
	}
	if c.MaxSampledHeads <= 0 {
		return fmt.Errorf("invalid max_sampled_heads: %d (must be positive)", c.MaxSampledHeads)
	}
	if c.LayerFlowMaxTokens <= 0 {
		return fmt.Errorf("invalid layer_flow_max_tokens: %d (must be positive)", c.LayerFlowMaxTokens)
	}
	switch strings.ToLower(c.Reduction.Method) {
	case "pca", "tsne", "umap":
	default:
		return fmt.Errorf("invalid reduction.method: %q", c.Reduction.Method)
	}
	if c.Reduction.NComponents != 2 && c.Reduction.NComponents != 3 {
		return fmt.Errorf("invalid reduction.n_components: %d (must be 2 or 3)", c.Reduction.NComponents)
	}
	return nil
}

// ModelIDs returns the configured model ids in sorted order.
func (c *Config) ModelIDs() []string {
	ids := make([]string, 0, len(c.Models))
	for id := range c.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func Default() Config {
	return Config{
		DefaultModel:           "distilbert",
		MaxTextLength:          512,
		MaxTextChars:           10000,
		LengthPolicy:           PolicyTruncate,
		CacheSize:              1000,
		FullThreshold:          150,
		TargetValuesPerHead:    25000,
		MaxSampledHeads:        4,
		EmbeddingFullThreshold: 150,
		LayerFlowMaxTokens:     50,
		Reduction: ReductionConfig{
			Method:      "pca",
			NComponents: 3,
			Seed:        42,
		},
		Models: map[string]ModelConfig{
			"distilbert": {
				DisplayName: "DistilBERT Base",
				Description: "WordPiece encoder, 6 layers x 12 heads",
				Engine:      "reference",
				Family:      FamilyWordPiece,
				MaxLength:   512,
				Dim:         192,
				HiddenDim:   768,
				Layers:      6,
				Heads:       12,
				Seed:        1,
				Eps:         1e-12,
			},
			"gpt2": {
				DisplayName: "GPT-2 Small",
				Description: "Byte-level BPE decoder, 12 layers x 12 heads",
				Engine:      "reference",
				Family:      FamilyBPE,
				MaxLength:   1024,
				Dim:         192,
				HiddenDim:   768,
				Layers:      12,
				Heads:       12,
				Seed:        2,
				Eps:         1e-5,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Export: ExportConfig{
			Path: "projections",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; a models map in the file replaces the default catalog.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, cfg)
}

func Parse(data []byte, base Config) (Config, error) {
	out := base
	out.Models = nil
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(out.Models) == 0 {
		out.Models = base.Models
	} else {
		for id, m := range out.Models {
			if m.Eps == 0 {
				m.Eps = 1e-5
			}
			if m.MaxLength == 0 {
				m.MaxLength = out.MaxTextLength
			}
			if m.Seed == 0 {
				m.Seed = 1
			}
			if m.Engine == "" {
				m.Engine = "reference"
			}
			out.Models[id] = m
		}
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("invalid config: %w", err)
	}
	return out, nil
}
