package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/gguf"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/tokenizer"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	modelID := flag.String("model", "", "Configured model whose tokenizer to inspect")
	vocabPath := flag.String("vocab", "", "GGUF vocabulary path or ollama:<name>, overrides the model's vocab_path")
	family := flag.String("family", "", "Tokenizer family (wordpiece or bpe), overrides the model's")
	prompt := flag.String("prompt", "Hello World", "Text to tokenize")
	head := flag.Int("head", 20, "Number of vocabulary entries to list")
	build := flag.String("build", "", "Build a GGUF vocabulary from a token-per-line text file")
	out := flag.String("out", "vocab.gguf", "Output path for -build")
	flag.Parse()

	logger.Setup("warn", "console")

	if *build != "" {
		if err := buildVocab(*build, *out, config.TokenizerFamily(*family)); err != nil {
			fatal("Failed to build vocabulary", err)
		}
		fmt.Printf("Wrote %s\n", *out)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatal("Failed to load config", err)
		}
	}
	id := *modelID
	if id == "" {
		id = cfg.DefaultModel
	}
	mc, ok := cfg.Models[id]
	if !ok {
		fatal("Unknown model", fmt.Errorf("%q not in config", id))
	}
	if *vocabPath != "" {
		mc.VocabPath = *vocabPath
	}
	if *family != "" {
		mc.Family = config.TokenizerFamily(*family)
	}

	tok, err := tokenizer.Load(mc)
	if err != nil {
		fatal("Failed to load tokenizer", err)
	}
	sp := tok.Special()
	fmt.Printf("Model %s: family %s, %d tokens\n", id, tok.Family, tok.Size())
	fmt.Printf("Specials: begin=%d end=%d unknown=%d pad=%d\n", sp.Begin, sp.End, sp.Unknown, sp.Pad)
	for i := 0; i < *head && i < tok.Size(); i++ {
		fmt.Printf("[%d]: %q\n", i, tok.Tokens[i])
	}

	ids, err := tok.Encode(*prompt)
	if err != nil {
		fatal("Failed to tokenize", err)
	}
	fmt.Printf("\nInput: %q\n", *prompt)
	fmt.Printf("IDs: %v\n", ids)
	fmt.Printf("Tokens: %s\n", strings.Join(tok.DecodeTokens(ids), " | "))
	fmt.Printf("Decoded: %q\n", tok.Decode(ids))
}

func buildVocab(src, dst string, family config.TokenizerFamily) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if t := strings.TrimRight(sc.Text(), "\r"); t != "" {
			tokens = append(tokens, t)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("%s has no tokens", src)
	}

	kvs := []gguf.KV{{Key: gguf.KeyTokens, Value: tokens}}
	if family != "" {
		kvs = append(kvs, gguf.KV{Key: gguf.KeyModel, Value: string(family)})
	}
	w, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := gguf.Write(w, kvs); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func fatal(msg string, err error) {
	logger.Log.Error(msg, "error", err)
	os.Exit(1)
}
