package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/engine"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/tokenizer"
)

type ErrUnknownModel struct {
	ID    string
	Known []string
}

func (e ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model %q (available: %v)", e.ID, e.Known)
}

// ErrLoad wraps a loader failure. It is not cached; the next Get retries.
type ErrLoad struct {
	ID  string
	Err error
}

func (e ErrLoad) Error() string { return fmt.Sprintf("failed to load model %s: %v", e.ID, e.Err) }
func (e ErrLoad) Unwrap() error { return e.Err }

// Loader builds the engine and tokenizer for one catalog entry.
type Loader func(id string, cfg config.ModelConfig) (engine.Model, tokenizer.Tokenizer, error)

// DefaultLoader loads the tokenizer vocabulary first so the engine's
// embedding table can be sized to it.
func DefaultLoader(id string, cfg config.ModelConfig) (engine.Model, tokenizer.Tokenizer, error) {
	tok, err := tokenizer.Load(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tokenizer for %s: %w", id, err)
	}
	name := cfg.Engine
	if name == "" {
		name = engine.ReferenceEngine
	}
	m, err := engine.New(name, engine.ConfigFrom(cfg, tok.Size()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine for %s: %w", id, err)
	}
	return m, tok, nil
}

type entry struct {
	model    engine.Model
	tok      tokenizer.Tokenizer
	loadedAt time.Time
}

type ModelInfo struct {
	ID          string                 `json:"id"`
	DisplayName string                 `json:"name"`
	Description string                 `json:"description"`
	Family      config.TokenizerFamily `json:"family"`
	Loaded      bool                   `json:"loaded"`
	LoadedAt    time.Time              `json:"loaded_at,omitempty"`
}

// Registry lazily loads engines by id and keeps them until Unload. The
// lock guards only the map; loads run outside it, deduplicated per id.
type Registry struct {
	models map[string]config.ModelConfig
	loader Loader

	mu     sync.RWMutex
	loaded map[string]*entry
	group  singleflight.Group
}

func New(models map[string]config.ModelConfig, loader Loader) *Registry {
	if loader == nil {
		loader = DefaultLoader
	}
	return &Registry{
		models: models,
		loader: loader,
		loaded: make(map[string]*entry),
	}
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.loaded[id]
	return e, ok
}

// Get returns the engine and tokenizer for id, loading them on first use.
// Concurrent callers for the same unloaded id share one load.
func (r *Registry) Get(id string) (engine.Model, tokenizer.Tokenizer, error) {
	cfg, ok := r.models[id]
	if !ok {
		return nil, nil, ErrUnknownModel{ID: id, Known: r.IDs()}
	}
	if e, ok := r.lookup(id); ok {
		return e.model, e.tok, nil
	}

	v, err, shared := r.group.Do(id, func() (interface{}, error) {
		if e, ok := r.lookup(id); ok {
			return e, nil
		}
		logger.Log.Info("Loading model", "model", id, "engine", cfg.Engine, "family", cfg.Family)
		start := time.Now()
		m, tok, err := r.loader(id, cfg)
		elapsed := time.Since(start)
		metrics.RecordModelLoad(id, elapsed, err)
		if err != nil {
			logger.Log.Error("Model load failed", "model", id, "error", err)
			return nil, ErrLoad{ID: id, Err: err}
		}

		e := &entry{model: m, tok: tok, loadedAt: time.Now()}
		r.mu.Lock()
		r.loaded[id] = e
		n := len(r.loaded)
		r.mu.Unlock()
		metrics.RecordModelsLoaded(n)
		logger.Log.Info("Model loaded", "model", id, "duration", elapsed.String())
		return e, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if shared {
		logger.Log.Debug("Shared in-flight model load", "model", id)
	}
	e := v.(*entry)
	return e.model, e.tok, nil
}

// Unload drops id and closes its engine. It reports whether id was loaded.
func (r *Registry) Unload(id string) bool {
	r.mu.Lock()
	e, ok := r.loaded[id]
	delete(r.loaded, id)
	n := len(r.loaded)
	r.mu.Unlock()
	if !ok {
		return false
	}
	metrics.RecordModelsLoaded(n)
	if err := e.model.Close(); err != nil {
		logger.Log.Warn("Engine close failed", "model", id, "error", err)
	}
	logger.Log.Info("Model unloaded", "model", id)
	return true
}

func (r *Registry) IsLoaded(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

func (r *Registry) ListLoaded() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IDs lists every configured model id.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Configured describes the catalog with each entry's load state.
func (r *Registry) Configured() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.models))
	for _, id := range r.IDs() {
		m := r.models[id]
		info := ModelInfo{
			ID:          id,
			DisplayName: m.DisplayName,
			Description: m.Description,
			Family:      m.Family,
		}
		if e, ok := r.lookup(id); ok {
			info.Loaded = true
			info.LoadedAt = e.loadedAt
		}
		out = append(out, info)
	}
	return out
}

// Close unloads every engine.
func (r *Registry) Close() {
	for _, id := range r.ListLoaded() {
		r.Unload(id)
	}
}
