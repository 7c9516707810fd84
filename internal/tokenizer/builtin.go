package tokenizer

import (
	"github.com/23skdu/longbow-lens/internal/config"
)

var commonWords = []string{
	"the", "of", "and", "to", "in", "a", "is", "that", "for", "it",
	"as", "was", "with", "be", "by", "on", "not", "he", "she", "they",
	"this", "are", "or", "his", "her", "from", "at", "which", "but", "have",
	"an", "had", "we", "you", "all", "one", "there", "were", "their", "been",
	"has", "will", "would", "can", "if", "more", "when", "who", "what", "so",
	"cat", "dog", "sat", "mat", "bank", "river", "money", "bird", "tree", "house",
	"model", "attention", "token", "layer", "head", "word", "text", "data", "learn", "language",
	"hello", "world", "quick", "brown", "fox", "jumps", "over", "lazy", "time", "day",
	"run", "ing", "ed", "er", "ly", "s", "es", "tion", "able", "ness",
}

// Builtin returns a small English vocabulary for the given family. Every
// ASCII letter, digit and punctuation mark is present so ASCII text never
// falls back to the unknown token.
func Builtin(family config.TokenizerFamily) (*Vocab, error) {
	var tokens []string
	var chars []string
	for c := 'a'; c <= 'z'; c++ {
		chars = append(chars, string(c))
	}
	for c := '0'; c <= '9'; c++ {
		chars = append(chars, string(c))
	}
	for _, c := range "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" {
		chars = append(chars, string(c))
	}

	switch family {
	case config.FamilyWordPiece:
		tokens = append(tokens, "[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]")
		tokens = append(tokens, chars...)
		for _, w := range commonWords {
			if len(w) > 1 {
				tokens = append(tokens, w)
			}
		}
		for _, c := range chars {
			tokens = append(tokens, ContinuationPrefix+c)
		}
		for _, w := range commonWords {
			if len(w) > 1 {
				tokens = append(tokens, ContinuationPrefix+w)
			}
		}
	case config.FamilyBPE:
		tokens = append(tokens, "<|endoftext|>", SpacePrefix)
		tokens = append(tokens, chars...)
		for c := 'A'; c <= 'Z'; c++ {
			tokens = append(tokens, string(c))
		}
		for _, c := range chars {
			tokens = append(tokens, SpacePrefix+c)
		}
		for c := 'A'; c <= 'Z'; c++ {
			tokens = append(tokens, SpacePrefix+string(c))
		}
		for _, w := range commonWords {
			if len(w) > 1 {
				tokens = append(tokens, w, SpacePrefix+w, SpacePrefix+capitalize(w))
			}
		}
		tokens = append(tokens, "The", "He", "She", "They", "It", "This", "Hello")
	}
	return NewVocab(family, tokens)
}

func capitalize(w string) string {
	if w == "" || w[0] < 'a' || w[0] > 'z' {
		return w
	}
	return string(w[0]-'a'+'A') + w[1:]
}
