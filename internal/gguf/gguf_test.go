package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestGGUFMagic(t *testing.T) {
	if GGUFMagic != 0x46554747 {
		t.Errorf("expected GGUFMagic 0x46554747, got 0x%x", GGUFMagic)
	}
}

func TestRoundTripMetadata(t *testing.T) {
	var buf bytes.Buffer
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "the", "##s"}
	err := Write(&buf, []KV{
		{KeyModel, "bert"},
		{KeyTokens, vocab},
		{KeyUnknown, uint32(1)},
		{KeyPadding, int32(0)},
		{"general.quantized", false},
		{"general.scale", float32(0.5)},
		{"general.size", uint64(1 << 40)},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if f.Header.Version != GGUFVersion {
		t.Errorf("expected version %d, got %d", GGUFVersion, f.Header.Version)
	}
	if f.Header.KVCount != 7 {
		t.Errorf("expected 7 kv pairs, got %d", f.Header.KVCount)
	}
	if f.String(KeyModel) != "bert" {
		t.Errorf("expected model bert, got %q", f.String(KeyModel))
	}
	tokens, err := f.Strings(KeyTokens)
	if err != nil {
		t.Fatalf("Strings failed: %v", err)
	}
	if len(tokens) != len(vocab) || tokens[5] != "##s" {
		t.Errorf("unexpected tokens %v", tokens)
	}
	if f.Int(KeyUnknown) != 1 {
		t.Errorf("expected unknown id 1, got %d", f.Int(KeyUnknown))
	}
	if f.Int(KeyPadding) != 0 {
		t.Errorf("expected padding id 0, got %d", f.Int(KeyPadding))
	}
	if f.Int(KeyBOS) != -1 {
		t.Errorf("expected -1 for absent key, got %d", f.Int(KeyBOS))
	}
	if f.KV["general.quantized"] != false {
		t.Errorf("expected bool false, got %v", f.KV["general.quantized"])
	}
	if f.KV["general.scale"] != float32(0.5) {
		t.Errorf("expected 0.5, got %v", f.KV["general.scale"])
	}
}

func TestStringsErrors(t *testing.T) {
	f := &File{KV: map[string]interface{}{
		"scalar": "x",
		"mixed":  []interface{}{"a", uint32(1)},
	}}
	var missing ErrMissingKey
	if _, err := f.Strings(KeyTokens); !errors.As(err, &missing) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
	if _, err := f.Strings("scalar"); err == nil {
		t.Error("expected type error for scalar")
	}
	if _, err := f.Strings("mixed"); err == nil {
		t.Error("expected element type error")
	}
}

func TestReadInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0xdeadbeef))
	binary.Write(&buf, binary.LittleEndian, uint32(3))

	_, err := Read(&buf)
	var magicErr ErrInvalidMagic
	if !errors.As(err, &magicErr) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	if magicErr.Magic != 0xdeadbeef {
		t.Errorf("expected magic deadbeef, got %x", magicErr.Magic)
	}
}

func TestReadUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(GGUFMagic))
	binary.Write(&buf, binary.LittleEndian, uint32(7))

	_, err := Read(&buf)
	var verErr ErrUnsupportedVersion
	if !errors.As(err, &verErr) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, []KV{{KeyTokens, []string{"a", "b", "c"}}}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-2]

	_, err := Read(bytes.NewReader(data))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF, got %v", err)
	}
}

func TestWriteUnsupportedType(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, []KV{{"bad", []int{1}}}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(f, []KV{{KeyTokens, []string{"<unk>", "Hello"}}}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	tokens, _ := file.Strings(KeyTokens)
	if len(tokens) != 2 || tokens[1] != "Hello" {
		t.Errorf("unexpected tokens %v", tokens)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.gguf")); err == nil {
		t.Error("expected error for missing file")
	}
}
