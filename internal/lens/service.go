package lens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-lens/internal/attention"
	"github.com/23skdu/longbow-lens/internal/cache"
	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/cpu"
	"github.com/23skdu/longbow-lens/internal/engine"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/extractor"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/reduce"
	"github.com/23skdu/longbow-lens/internal/registry"
)

// Service runs the visualization pipeline: cache lookup, model load,
// inference, then attention sampling and embedding reduction in parallel.
type Service struct {
	cfg      config.Config
	registry *registry.Registry
	cache    *cache.Cache[*Result]
	sampler  *attention.Sampler
	reducer  *reduce.Reducer
	exporter export.Exporter
	started  time.Time

	requests atomic.Uint64
	failures atomic.Uint64
}

// New builds a Service. A nil loader uses registry.DefaultLoader; a nil
// exporter disables export.
func New(cfg config.Config, loader registry.Loader, exp export.Exporter) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c, err := cache.New[*Result](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		registry: registry.New(cfg.Models, loader),
		cache:    c,
		sampler:  attention.New(cfg.FullThreshold, cfg.TargetValuesPerHead, cfg.MaxSampledHeads),
		reducer:  reduce.New(cfg.Reduction.Seed),
		exporter: exp,
		started:  time.Now(),
	}, nil
}

// Process turns text into visualization data for modelID (the default
// model when empty). Every error, including panics, is returned as a
// *Failure.
func (s *Service) Process(text, modelID string, options map[string]any) (res *Result, err error) {
	start := time.Now()
	reqID := uuid.NewString()
	if modelID == "" {
		modelID = s.cfg.DefaultModel
	}
	s.requests.Add(1)
	log := logger.Log.With("request_id", reqID, "model", modelID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request panicked: %v", r)
		}
		elapsed := time.Since(start)
		if err != nil {
			f := classify(err)
			f.RequestID = reqID
			s.failures.Add(1)
			metrics.RecordError(f.Kind)
			metrics.RecordRequest(modelID, "error", elapsed)
			log.Error("Request failed", "kind", f.Kind, "error", f.Message,
				"input_length", utf8.RuneCountInString(text), "elapsed", elapsed.String())
			res, err = nil, f
		}
	}()

	text, textTruncated, err := s.checkLength(text)
	if err != nil {
		return nil, err
	}
	opts, err := ParseOptions(options, s.cfg)
	if err != nil {
		return nil, err
	}

	// A cut-down text can equal one that was short enough already; the
	// flag keeps their entries apart.
	key := opts.Map()
	key[keyTextTruncated] = textTruncated
	res, hit, err := s.cache.GetOrCompute(text, modelID, key, func() (*Result, error) {
		r, err := s.compute(reqID, text, modelID, opts)
		if err != nil {
			return nil, err
		}
		r.Metadata.TextTruncated = textTruncated
		s.export(reqID, modelID, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "computed"
	if hit {
		outcome = "cache_hit"
	}
	metrics.RecordRequest(modelID, outcome, time.Since(start))
	log.Info("Request processed", "outcome", outcome, "tokens", res.Metadata.NumTokens,
		"elapsed", time.Since(start).String())
	return res, nil
}

// Handle is Process for a decoded Request.
func (s *Service) Handle(req Request) (*Result, error) {
	return s.Process(req.Text, req.ModelID, req.Options)
}

// checkLength applies the configured policy to texts longer than
// MaxTextChars characters.
func (s *Service) checkLength(text string) (string, bool, error) {
	if strings.TrimSpace(text) == "" {
		return "", false, ErrEmptyText
	}
	n := utf8.RuneCountInString(text)
	if n <= s.cfg.MaxTextChars {
		return text, false, nil
	}
	if s.cfg.LengthPolicy == config.PolicyReject {
		return "", false, ErrTextTooLong{Length: n, Max: s.cfg.MaxTextChars}
	}
	metrics.RecordTextTruncation()
	logger.Log.Warn("Text truncated", "characters", n, "max", s.cfg.MaxTextChars)
	return string([]rune(text)[:s.cfg.MaxTextChars]), true, nil
}

func (s *Service) compute(reqID, text, modelID string, opts Options) (*Result, error) {
	start := time.Now()
	m, tok, err := s.registry.Get(modelID)
	if err != nil {
		return nil, err
	}
	ex, err := extractor.Run(text, m, tok, s.cfg.MaxTextLength)
	if err != nil {
		return nil, err
	}
	out := ex.Output
	info := m.Info()

	res := &Result{
		Tokens:        ex.Tokens,
		TokenIDs:      out.TokenIDs,
		AttentionMask: out.Mask,
		Metadata: Metadata{
			RequestID:      reqID,
			ModelID:        modelID,
			Engine:         info.Engine,
			NumTokens:      out.SeqLen,
			OriginalTokens: ex.OriginalLength,
			Truncated:      ex.Truncated,
			NumLayers:      out.NumLayers(),
			NumHeads:       out.NumHeads(),
			HiddenDim:      out.Dim,
		},
	}

	// Each stage writes only its own fields of res.
	var g errgroup.Group
	if opts.ReturnAttention {
		g.Go(func() error {
			return stage("attention", func() error {
				sum, err := s.sampler.Sample(out.Attentions, out.SeqLen)
				res.Attention = sum
				return err
			})
		})
	}
	if opts.ReturnEmbeddings {
		g.Go(func() error {
			return stage("reduction", func() error { return s.embeddings(res, out, opts) })
		})
	}
	if opts.ReturnHiddenStates {
		g.Go(func() error {
			return stage("hidden_states", func() error {
				res.HiddenStates = reduce.SummarizeHiddenStates(out.HiddenRows())
				return nil
			})
		})
	}
	if opts.ReturnLayerFlow {
		g.Go(func() error {
			return stage("layer_flow", func() error {
				flow, err := reduce.BuildLayerFlow(out.HiddenRows(), ex.Tokens, s.cfg.LayerFlowMaxTokens)
				res.LayerFlow = flow
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Metadata.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000
	res.Metadata.CreatedAt = time.Now().UTC()
	return res, nil
}

func (s *Service) embeddings(res *Result, out *engine.Output, opts Options) error {
	rows := out.LastHiddenRows()
	stats := reduce.EmbeddingStats(rows)
	res.EmbeddingStats = &stats
	if out.SeqLen <= s.cfg.EmbeddingFullThreshold {
		res.Embeddings = rows
	} else {
		logger.Log.Debug("Embeddings above threshold, returning statistics only",
			"tokens", out.SeqLen, "threshold", s.cfg.EmbeddingFullThreshold)
	}
	proj, err := s.reducer.Reduce(rows, opts.ReductionMethod, opts.NComponents)
	if err != nil {
		return err
	}
	res.Projection = proj
	return nil
}

// stage times fn and turns a panic into an error so it surfaces through
// the errgroup instead of crashing the process.
func stage(name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panicked: %v", name, r)
		}
		metrics.RecordStage(name, time.Since(start))
	}()
	return fn()
}

// export ships the projection when an exporter is configured. Failures
// are logged and counted, never returned.
func (s *Service) export(reqID, modelID string, res *Result) {
	if s.exporter == nil || res.Projection == nil {
		return
	}
	err := s.exporter.Export(context.Background(), &export.Batch{
		RequestID:   reqID,
		ModelID:     modelID,
		Method:      res.Projection.Method,
		Tokens:      res.Tokens,
		Coordinates: res.Projection.Coordinates,
	})
	if err != nil {
		metrics.RecordExportFailure()
		logger.Log.Warn("Projection export failed", "request_id", reqID, "error", err)
	}
}

// ListModels describes every configured model and whether it is loaded.
func (s *Service) ListModels() []registry.ModelInfo { return s.registry.Configured() }

func (s *Service) IsLoaded(modelID string) bool { return s.registry.IsLoaded(modelID) }

func (s *Service) Unload(modelID string) bool { return s.registry.Unload(modelID) }

// ClearCaches drops every cached result.
func (s *Service) ClearCaches() { s.cache.Clear() }

func (s *Service) Status() Status {
	return Status{
		Models:        s.registry.IDs(),
		LoadedModels:  s.registry.ListLoaded(),
		DefaultModel:  s.cfg.DefaultModel,
		Cache:         s.cache.Stats(),
		Requests:      s.requests.Load(),
		Failures:      s.failures.Load(),
		Uptime:        time.Since(s.started),
		ExportEnabled: s.exporter != nil,
		ScratchBytes:  cpu.AllocatedBytes(),
	}
}

// Close unloads every model and closes the exporter.
func (s *Service) Close() error {
	s.registry.Close()
	if s.exporter != nil {
		return s.exporter.Close()
	}
	return nil
}

// IsFailure reports whether err is a *Failure of the given kind.
func IsFailure(err error, kind string) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
