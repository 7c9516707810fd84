package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/gguf"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/ollama"
)

const (
	// WordPiece continuation marker.
	ContinuationPrefix = "##"
	// Byte-level BPE leading-space marker (U+0120).
	SpacePrefix = "Ġ"

	maxWordChars = 100
)

// Tokenizer turns text into vocabulary ids and ids back into raw token
// strings. Encode adds the family's boundary tokens.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	DecodeTokens(ids []int) []string
	Special() Specials
}

// Specials holds the ids of structural tokens; -1 means the vocabulary has
// no such token.
type Specials struct {
	Begin   int
	End     int
	Pad     int
	Unknown int
}

type ErrInvalidEncoding struct{ Offset int }

func (e ErrInvalidEncoding) Error() string {
	return fmt.Sprintf("invalid UTF-8 byte sequence at offset %d", e.Offset)
}

// Vocab is a greedy longest-match subword tokenizer over a fixed token list.
type Vocab struct {
	Family  config.TokenizerFamily
	Tokens  []string
	ids     map[string]int
	special Specials
}

// NewVocab indexes tokens and resolves special token ids by name.
func NewVocab(family config.TokenizerFamily, tokens []string) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	v := &Vocab{
		Family: family,
		Tokens: tokens,
		ids:    make(map[string]int, len(tokens)),
	}
	for i, t := range tokens {
		if _, dup := v.ids[t]; !dup {
			v.ids[t] = i
		}
	}

	switch family {
	case config.FamilyWordPiece:
		v.special = Specials{
			Begin:   v.lookup("[CLS]"),
			End:     v.lookup("[SEP]"),
			Pad:     v.lookup("[PAD]"),
			Unknown: v.lookup("[UNK]"),
		}
		if v.special.Unknown < 0 {
			return nil, fmt.Errorf("wordpiece vocabulary has no [UNK] token")
		}
	case config.FamilyBPE:
		eot := v.lookup("<|endoftext|>")
		v.special = Specials{Begin: -1, End: -1, Pad: eot, Unknown: v.lookup("<unk>")}
		if v.special.Unknown < 0 {
			v.special.Unknown = eot
		}
		if v.special.Unknown < 0 {
			return nil, fmt.Errorf("bpe vocabulary has neither <unk> nor <|endoftext|>")
		}
	default:
		return nil, fmt.Errorf("unknown tokenizer family %q", family)
	}
	return v, nil
}

// New loads the vocabulary from a GGUF file's tokenizer.ggml.tokens array.
// An empty family is inferred from tokenizer.ggml.model.
func New(path string, family config.TokenizerFamily) (*Vocab, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	tokens, err := f.Strings(gguf.KeyTokens)
	if err != nil {
		return nil, err
	}
	if family == "" {
		switch f.String(gguf.KeyModel) {
		case "gpt2", "bpe":
			family = config.FamilyBPE
		default:
			family = config.FamilyWordPiece
		}
	}
	v, err := NewVocab(family, tokens)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Explicit ids in the file win over name lookup
	override := func(key string, dst *int) {
		if id := f.Int(key); id >= 0 && id < len(tokens) {
			*dst = id
		}
	}
	override(gguf.KeyUnknown, &v.special.Unknown)
	override(gguf.KeyPadding, &v.special.Pad)
	if family == config.FamilyWordPiece {
		override(gguf.KeyBOS, &v.special.Begin)
		override(gguf.KeyEOS, &v.special.End)
		override(gguf.KeySeparator, &v.special.End)
	}
	return v, nil
}

// Load returns the tokenizer for a model catalog entry. A vocab_path of the
// form "ollama:name[:tag]" reads the vocabulary from a locally pulled Ollama
// model.
func Load(cfg config.ModelConfig) (*Vocab, error) {
	if ollama.IsReference(cfg.VocabPath) {
		path, err := ollama.ResolveModelPath(cfg.VocabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vocabulary %s: %w", cfg.VocabPath, err)
		}
		return New(path, cfg.Family)
	}
	if cfg.VocabPath != "" {
		return New(cfg.VocabPath, cfg.Family)
	}
	return Builtin(cfg.Family)
}

func (v *Vocab) lookup(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return -1
}

func (v *Vocab) Special() Specials { return v.special }

func (v *Vocab) Size() int { return len(v.Tokens) }

func (v *Vocab) Encode(text string) ([]int, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidEncoding{Offset: invalidOffset(text)}
	}

	var ids []int
	unknown := 0
	if v.special.Begin >= 0 {
		ids = append(ids, v.special.Begin)
	}
	switch v.Family {
	case config.FamilyWordPiece:
		for _, w := range splitWords(strings.ToLower(text)) {
			pieces, ok := v.wordPiece(w)
			if !ok {
				unknown++
			}
			ids = append(ids, pieces...)
		}
	default:
		for _, w := range splitBPEWords(text) {
			pieces, misses := v.bytePiece(w)
			unknown += misses
			ids = append(ids, pieces...)
		}
	}
	if v.special.End >= 0 {
		ids = append(ids, v.special.End)
	}

	metrics.RecordTokenizerEncode(len(ids), unknown)
	return ids, nil
}

// wordPiece splits one word by greedy longest match, marking continuations
// with "##". A word with any unmatched remainder becomes a single [UNK].
func (v *Vocab) wordPiece(word string) ([]int, bool) {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int{v.special.Unknown}, false
	}
	var out []int
	for start := 0; start < len(runes); {
		end := len(runes)
		id := -1
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = ContinuationPrefix + piece
			}
			if found, ok := v.ids[piece]; ok {
				id = found
				break
			}
		}
		if id < 0 {
			return []int{v.special.Unknown}, false
		}
		out = append(out, id)
		start = end
	}
	return out, true
}

// bytePiece matches greedily without a continuation marker; a leading
// space has already been folded into the word as "Ġ". Characters absent
// from the vocabulary map to the unknown id one at a time.
func (v *Vocab) bytePiece(word string) ([]int, int) {
	runes := []rune(word)
	var out []int
	misses := 0
	for start := 0; start < len(runes); {
		end := len(runes)
		id := -1
		for ; end > start; end-- {
			if found, ok := v.ids[string(runes[start:end])]; ok {
				id = found
				break
			}
		}
		if id < 0 {
			out = append(out, v.special.Unknown)
			misses++
			start++
			continue
		}
		out = append(out, id)
		start = end
	}
	return out, misses
}

// DecodeTokens maps ids to raw vocabulary strings, markers included.
func (v *Vocab) DecodeTokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(v.Tokens) {
			out[i] = v.Tokens[v.special.Unknown]
			continue
		}
		out[i] = v.Tokens[id]
	}
	return out
}

// Decode renders ids back to text, skipping special tokens.
func (v *Vocab) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(v.Tokens) || v.isSpecial(id) {
			continue
		}
		tok := v.Tokens[id]
		switch v.Family {
		case config.FamilyWordPiece:
			if strings.HasPrefix(tok, ContinuationPrefix) {
				sb.WriteString(tok[len(ContinuationPrefix):])
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(tok)
		default:
			sb.WriteString(strings.ReplaceAll(tok, SpacePrefix, " "))
		}
	}
	return sb.String()
}

func (v *Vocab) isSpecial(id int) bool {
	s := v.special
	return id == s.Begin || id == s.End || id == s.Pad
}

// splitWords separates on whitespace and isolates each punctuation or
// symbol rune, the BERT basic pre-tokenization.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		case unicode.IsControl(r):
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// splitBPEWords groups runs of letters, digits or other runes, attaching
// one preceding space to the run as the "Ġ" marker.
func splitBPEWords(text string) []string {
	var words []string
	var cur strings.Builder
	class := -1
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
		class = -1
	}
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			flush()
			if pendingSpace {
				words = append(words, SpacePrefix)
			}
			pendingSpace = true
			continue
		}
		c := runeClass(r)
		if c != class || c == 2 {
			flush()
			class = c
			if pendingSpace {
				cur.WriteString(SpacePrefix)
				pendingSpace = false
			}
		}
		cur.WriteRune(r)
	}
	flush()
	if pendingSpace {
		words = append(words, SpacePrefix)
	}
	return words
}

func runeClass(r rune) int {
	switch {
	case unicode.IsLetter(r):
		return 0
	case unicode.IsDigit(r):
		return 1
	default:
		return 2
	}
}

func invalidOffset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
