package ollama

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultTag       = "latest"
	DefaultRegistry  = "registry.ollama.ai"
	DefaultNamespace = "library"
	MediaTypeModel   = "application/vnd.ollama.image.model"

	// Scheme marks a vocab_path that names an Ollama model instead of a file.
	Scheme = "ollama:"
)

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Reference is a parsed model name such as "gpt2", "bert:uncased" or
// "someone/distilbert:v2".
type Reference struct {
	Namespace string
	Name      string
	Tag       string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Namespace, r.Name, r.Tag)
}

type ErrNotFound struct {
	Ref  Reference
	Path string
	What string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("ollama %s for %s not found at %s", e.What, e.Ref, e.Path)
}

func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, Scheme))
	if s == "" {
		return Reference{}, fmt.Errorf("empty model reference")
	}
	ref := Reference{Namespace: DefaultNamespace, Tag: DefaultTag}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		ref.Tag = s[i+1:]
		s = s[:i]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		ref.Namespace = s[:i]
		s = s[i+1:]
	}
	ref.Name = s
	if ref.Name == "" || ref.Tag == "" || ref.Namespace == "" || strings.Contains(ref.Name, "/") {
		return Reference{}, fmt.Errorf("invalid model reference %q", s)
	}
	return ref, nil
}

// Dir is $OLLAMA_MODELS, or ~/.ollama/models.
func Dir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// IsReference reports whether a vocab_path value names an Ollama model.
func IsReference(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ResolveModelPath returns the GGUF blob backing an Ollama model.
func ResolveModelPath(model string) (string, error) {
	ref, err := ParseReference(model)
	if err != nil {
		return "", err
	}
	base, err := Dir()
	if err != nil {
		return "", err
	}

	manifestPath := filepath.Join(base, "manifests", DefaultRegistry, ref.Namespace, ref.Name, ref.Tag)
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return "", ErrNotFound{Ref: ref, Path: manifestPath, What: "manifest"}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("failed to parse manifest %s: %w", manifestPath, err)
	}
	var digest string
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			digest = l.Digest
			break
		}
	}
	if digest == "" {
		return "", fmt.Errorf("no model layer in manifest %s", manifestPath)
	}

	// "sha256:abc" is stored as blobs/sha256-abc
	blobPath := filepath.Join(base, "blobs", strings.Replace(digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", ErrNotFound{Ref: ref, Path: blobPath, What: "blob"}
	}
	return blobPath, nil
}
