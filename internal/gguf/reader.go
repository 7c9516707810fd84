package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// LoadFile opens path and parses its header and metadata block.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Read(bufio.NewReader(f))
}

// Read parses a GGUF header and its key-value metadata from r.
func Read(r io.Reader) (*File, error) {
	rd := &reader{r: r}
	file := &File{KV: make(map[string]interface{})}

	file.Header.Magic = rd.u32()
	if rd.err != nil {
		return nil, fmt.Errorf("failed to read header: %w", rd.err)
	}
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}

	file.Header.Version = rd.u32()
	// We support version 2 and 3
	if rd.err == nil && (file.Header.Version < 2 || file.Header.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}
	file.Header.TensorCount = rd.u64()
	file.Header.KVCount = rd.u64()
	if rd.err != nil {
		return nil, fmt.Errorf("failed to read header: %w", rd.err)
	}

	for i := uint64(0); i < file.Header.KVCount; i++ {
		key := rd.str()
		typ := GGUFMetadataValueType(rd.u32())
		if rd.err != nil {
			return nil, fmt.Errorf("failed to read kv %d: %w", i, rd.err)
		}
		val, err := rd.value(typ)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		file.KV[key] = val
	}
	return file, nil
}

// reader carries the first error forward so callers check once per field
// group instead of after every primitive.
type reader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (rd *reader) fill(n int) []byte {
	if rd.err != nil {
		return rd.buf[:n]
	}
	if _, err := io.ReadFull(rd.r, rd.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		rd.err = err
	}
	return rd.buf[:n]
}

func (rd *reader) u8() uint8   { return rd.fill(1)[0] }
func (rd *reader) u16() uint16 { return binary.LittleEndian.Uint16(rd.fill(2)) }
func (rd *reader) u32() uint32 { return binary.LittleEndian.Uint32(rd.fill(4)) }
func (rd *reader) u64() uint64 { return binary.LittleEndian.Uint64(rd.fill(8)) }

func (rd *reader) str() string {
	length := rd.u64()
	if rd.err != nil {
		return ""
	}
	if length > 1<<20 {
		rd.err = fmt.Errorf("string length %d exceeds limit", length)
		return ""
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(rd.r, b); err != nil {
		rd.err = io.ErrUnexpectedEOF
		return ""
	}
	return string(b)
}

func (rd *reader) value(typ GGUFMetadataValueType) (interface{}, error) {
	var v interface{}
	switch typ {
	case GGUFMetadataValueTypeUint8:
		v = rd.u8()
	case GGUFMetadataValueTypeInt8:
		v = int8(rd.u8())
	case GGUFMetadataValueTypeUint16:
		v = rd.u16()
	case GGUFMetadataValueTypeInt16:
		v = int16(rd.u16())
	case GGUFMetadataValueTypeUint32:
		v = rd.u32()
	case GGUFMetadataValueTypeInt32:
		v = int32(rd.u32())
	case GGUFMetadataValueTypeFloat32:
		v = math.Float32frombits(rd.u32())
	case GGUFMetadataValueTypeBool:
		v = rd.u8() != 0
	case GGUFMetadataValueTypeString:
		v = rd.str()
	case GGUFMetadataValueTypeArray:
		arrType := GGUFMetadataValueType(rd.u32())
		arrLen := rd.u64()
		if rd.err != nil {
			return nil, rd.err
		}
		if arrLen > maxArrayItems {
			return nil, fmt.Errorf("array length %d exceeds limit", arrLen)
		}
		arr := make([]interface{}, 0, arrLen)
		for i := uint64(0); i < arrLen; i++ {
			item, err := rd.value(arrType)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		v = arr
	case GGUFMetadataValueTypeUint64:
		v = rd.u64()
	case GGUFMetadataValueTypeInt64:
		v = int64(rd.u64())
	case GGUFMetadataValueTypeFloat64:
		v = math.Float64frombits(rd.u64())
	default:
		return nil, fmt.Errorf("unsupported metadata type: %d", typ)
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return v, nil
}
