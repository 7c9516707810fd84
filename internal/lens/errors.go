package lens

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-lens/internal/cache"
	"github.com/23skdu/longbow-lens/internal/extractor"
	"github.com/23skdu/longbow-lens/internal/reduce"
	"github.com/23skdu/longbow-lens/internal/registry"
)

// Failure kinds reported to callers and used as the error metric label.
const (
	KindUnknownModel      = "unknown_model"
	KindModelLoad         = "model_load"
	KindTokenization      = "tokenization"
	KindInference         = "inference"
	KindUnsupportedMethod = "unsupported_method"
	KindInvalidDimension  = "invalid_dimension"
	KindCacheCorruption   = "cache_corruption"
	KindTextTooLong       = "text_too_long"
	KindEmptyText         = "empty_text"
	KindInvalidOption     = "invalid_option"
	KindInternal          = "internal"
)

var ErrEmptyText = errors.New("text is empty")

type ErrTextTooLong struct {
	Length int
	Max    int
}

func (e ErrTextTooLong) Error() string {
	return fmt.Sprintf("text too long: %d characters (max %d)", e.Length, e.Max)
}

type ErrInvalidOption struct {
	Key   string
	Value any
}

func (e ErrInvalidOption) Error() string {
	return fmt.Sprintf("invalid option %s: %v (%T)", e.Key, e.Value, e.Value)
}

// Failure is the only error Process returns.
type Failure struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	err       error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Message) }

func (f *Failure) Unwrap() error { return f.err }

func classify(err error) *Failure {
	var (
		unknown  registry.ErrUnknownModel
		load     registry.ErrLoad
		tokErr   extractor.ErrTokenization
		infErr   extractor.ErrInference
		method   reduce.ErrUnsupportedMethod
		dim      reduce.ErrInvalidDimension
		corrupt  cache.ErrCacheCorruption
		tooLong  ErrTextTooLong
		badOpt   ErrInvalidOption
		existing *Failure
	)
	kind := KindInternal
	switch {
	case errors.As(err, &existing):
		return existing
	case errors.As(err, &unknown):
		kind = KindUnknownModel
	case errors.As(err, &load):
		kind = KindModelLoad
	case errors.As(err, &tokErr):
		kind = KindTokenization
	case errors.As(err, &infErr):
		kind = KindInference
	case errors.As(err, &method):
		kind = KindUnsupportedMethod
	case errors.As(err, &dim):
		kind = KindInvalidDimension
	case errors.As(err, &corrupt):
		kind = KindCacheCorruption
	case errors.As(err, &tooLong):
		kind = KindTextTooLong
	case errors.Is(err, ErrEmptyText):
		kind = KindEmptyText
	case errors.As(err, &badOpt):
		kind = KindInvalidOption
	}
	return &Failure{Kind: kind, Message: err.Error(), err: err}
}
