package gguf

import "fmt"

const (
	GGUFMagic   = 0x46554747 // "GGUF"
	GGUFVersion = 3

	KeyTokens     = "tokenizer.ggml.tokens"
	KeyModel      = "tokenizer.ggml.model"
	KeyBOS        = "tokenizer.ggml.bos_token_id"
	KeyEOS        = "tokenizer.ggml.eos_token_id"
	KeyPadding    = "tokenizer.ggml.padding_token_id"
	KeyUnknown    = "tokenizer.ggml.unknown_token_id"
	KeySeparator  = "tokenizer.ggml.seperator_token_id"
	KeyArchitect  = "general.architecture"
	maxArrayItems = 1 << 24
)

type GGUFMetadataValueType uint32

const (
	GGUFMetadataValueTypeUint8   GGUFMetadataValueType = 0
	GGUFMetadataValueTypeInt8    GGUFMetadataValueType = 1
	GGUFMetadataValueTypeUint16  GGUFMetadataValueType = 2
	GGUFMetadataValueTypeInt16   GGUFMetadataValueType = 3
	GGUFMetadataValueTypeUint32  GGUFMetadataValueType = 4
	GGUFMetadataValueTypeInt32   GGUFMetadataValueType = 5
	GGUFMetadataValueTypeFloat32 GGUFMetadataValueType = 6
	GGUFMetadataValueTypeBool    GGUFMetadataValueType = 7
	GGUFMetadataValueTypeString  GGUFMetadataValueType = 8
	GGUFMetadataValueTypeArray   GGUFMetadataValueType = 9
	GGUFMetadataValueTypeUint64  GGUFMetadataValueType = 10
	GGUFMetadataValueTypeInt64   GGUFMetadataValueType = 11
	GGUFMetadataValueTypeFloat64 GGUFMetadataValueType = 12
)

type GGUFHeader struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// File is the metadata section of a GGUF file. Tensor payloads are never
// read; only the key-value block that carries tokenizer data.
type File struct {
	Header GGUFHeader
	KV     map[string]interface{}
}

// Strings returns a string-array value.
func (f *File) Strings(key string) ([]string, error) {
	val, ok := f.KV[key]
	if !ok {
		return nil, ErrMissingKey{Key: key}
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid type for %s: %T", key, val)
	}
	out := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a string", key, i)
		}
		out[i] = s
	}
	return out, nil
}

// String returns a scalar string value, or "" when the key is absent.
func (f *File) String(key string) string {
	s, _ := f.KV[key].(string)
	return s
}

// Int returns an integer value of any width, or -1 when absent.
func (f *File) Int(key string) int {
	switch v := f.KV[key].(type) {
	case uint8:
		return int(v)
	case int8:
		return int(v)
	case uint16:
		return int(v)
	case int16:
		return int(v)
	case uint32:
		return int(v)
	case int32:
		return int(v)
	case uint64:
		return int(v)
	case int64:
		return int(v)
	default:
		return -1
	}
}

type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

type ErrMissingKey struct{ Key string }

func (e ErrMissingKey) Error() string {
	return fmt.Sprintf("%s not found in GGUF", e.Key)
}
