package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/23skdu/longbow-lens/internal/config"
)

var ErrClosed = errors.New("engine closed")

// Model runs one forward pass over a token sequence and reports every
// layer's attention weights and hidden states.
type Model interface {
	Forward(ids, mask []int) (*Output, error)
	Info() Info
	Close() error
}

type Info struct {
	Engine    string `json:"engine"`
	Layers    int    `json:"layers"`
	Heads     int    `json:"heads"`
	Dim       int    `json:"dim"`
	VocabSize int    `json:"vocab_size"`
	MaxLength int    `json:"max_length"`
}

// Config sizes an engine instance.
type Config struct {
	Dim       int
	HiddenDim int
	Layers    int
	Heads     int
	HeadDim   int
	VocabSize int
	MaxLength int
	Seed      int64
	Eps       float64
	// Causal restricts each query to keys at or before its position.
	Causal bool
}

func ConfigFrom(m config.ModelConfig, vocabSize int) Config {
	return Config{
		Dim:       m.Dim,
		HiddenDim: m.HiddenDim,
		Layers:    m.Layers,
		Heads:     m.Heads,
		HeadDim:   m.HeadDim(),
		VocabSize: vocabSize,
		MaxLength: m.MaxLength,
		Seed:      m.Seed,
		Eps:       m.Eps,
		Causal:    m.Family == config.FamilyBPE,
	}
}

type Factory func(cfg Config) (Model, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterEngine makes a factory available to New under name.
func RegisterEngine(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

func New(name string, cfg Config) (Model, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (registered: %v)", name, Engines())
	}
	return f(cfg)
}

// Engines lists registered engine names.
func Engines() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
