package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/23skdu/longbow-lens/internal/engine"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/tokenizer"
)

const DefaultMaxLength = 512

type ErrTokenization struct{ Err error }

func (e ErrTokenization) Error() string { return fmt.Sprintf("tokenization failed: %v", e.Err) }
func (e ErrTokenization) Unwrap() error { return e.Err }

type ErrInference struct{ Err error }

func (e ErrInference) Error() string { return fmt.Sprintf("inference failed: %v", e.Err) }
func (e ErrInference) Unwrap() error { return e.Err }

var specialTokens = map[string]bool{
	"[CLS]": true, "[SEP]": true, "[PAD]": true, "[UNK]": true, "[MASK]": true,
	"<s>": true, "</s>": true, "<pad>": true, "<unk>": true, "<|endoftext|>": true,
}

// Result is one inference pass with its display tokens.
type Result struct {
	Output *engine.Output
	// Tokens are display-ready: subword markers stripped.
	Tokens []string
	Raw    []string
	// OriginalLength counts tokens before truncation.
	OriginalLength int
	Truncated      bool
}

// Run tokenizes text, truncates it to maxLength tokens and runs one
// forward pass. maxLength is further capped by the engine's own limit.
func Run(text string, m engine.Model, tok tokenizer.Tokenizer, maxLength int) (*Result, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if limit := m.Info().MaxLength; limit > 0 && limit < maxLength {
		maxLength = limit
	}

	ids, err := tok.Encode(text)
	if err != nil {
		return nil, ErrTokenization{Err: err}
	}
	if len(ids) == 0 {
		return nil, ErrTokenization{Err: fmt.Errorf("text produced no tokens")}
	}

	res := &Result{OriginalLength: len(ids)}
	if len(ids) > maxLength {
		ids = Truncate(ids, maxLength, tok.Special().End)
		res.Truncated = true
		metrics.RecordTruncation()
		logger.Log.Debug("Input truncated", "tokens", res.OriginalLength, "max_length", maxLength)
	}
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	start := time.Now()
	out, err := forward(m, ids, mask)
	metrics.RecordStage("inference", time.Since(start))
	if err != nil {
		return nil, ErrInference{Err: err}
	}
	metrics.RecordSequenceLength(out.SeqLen)

	res.Output = out
	res.Raw = tok.DecodeTokens(out.TokenIDs)
	res.Tokens = CleanTokens(res.Raw)
	return res, nil
}

func forward(m engine.Model, ids, mask []int) (out *engine.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forward pass panicked: %v", r)
		}
	}()
	return m.Forward(ids, mask)
}

// Truncate keeps the first n ids. When the sequence ends with the closing
// boundary token endID, that token is kept as the last element.
func Truncate(ids []int, n int, endID int) []int {
	if len(ids) <= n {
		return ids
	}
	out := make([]int, n)
	copy(out, ids[:n])
	if endID >= 0 && ids[len(ids)-1] == endID {
		out[n-1] = endID
	}
	return out
}

// CleanTokens strips the "##" continuation and "Ġ" leading-space markers.
// Special tokens pass through unchanged.
func CleanTokens(raw []string) []string {
	out := make([]string, len(raw))
	for i, t := range raw {
		switch {
		case specialTokens[t]:
			out[i] = t
		case strings.HasPrefix(t, tokenizer.ContinuationPrefix):
			out[i] = t[len(tokenizer.ContinuationPrefix):]
		case strings.HasPrefix(t, tokenizer.SpacePrefix):
			out[i] = t[len(tokenizer.SpacePrefix):]
		default:
			out[i] = t
		}
	}
	return out
}
