package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// KV is one metadata entry for Write.
type KV struct {
	Key   string
	Value interface{}
}

// Write emits a tensor-less GGUF v3 file holding only metadata. Supported
// value types are string, []string, bool, uint32, int32, uint64 and float32.
func Write(w io.Writer, kvs []KV) error {
	le := binary.LittleEndian
	var err error
	put := func(v interface{}) {
		if err == nil {
			err = binary.Write(w, le, v)
		}
	}
	putString := func(s string) {
		put(uint64(len(s)))
		if err == nil {
			_, err = io.WriteString(w, s)
		}
	}

	put(uint32(GGUFMagic))
	put(uint32(GGUFVersion))
	put(uint64(0))
	put(uint64(len(kvs)))

	for _, kv := range kvs {
		putString(kv.Key)
		switch v := kv.Value.(type) {
		case string:
			put(uint32(GGUFMetadataValueTypeString))
			putString(v)
		case []string:
			put(uint32(GGUFMetadataValueTypeArray))
			put(uint32(GGUFMetadataValueTypeString))
			put(uint64(len(v)))
			for _, s := range v {
				putString(s)
			}
		case bool:
			put(uint32(GGUFMetadataValueTypeBool))
			if v {
				put(uint8(1))
			} else {
				put(uint8(0))
			}
		case uint32:
			put(uint32(GGUFMetadataValueTypeUint32))
			put(v)
		case int32:
			put(uint32(GGUFMetadataValueTypeInt32))
			put(v)
		case uint64:
			put(uint32(GGUFMetadataValueTypeUint64))
			put(v)
		case float32:
			put(uint32(GGUFMetadataValueTypeFloat32))
			put(math.Float32bits(v))
		default:
			return fmt.Errorf("unsupported value type %T for %s", kv.Value, kv.Key)
		}
		if err != nil {
			return err
		}
	}
	return err
}
