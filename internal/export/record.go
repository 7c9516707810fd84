package export

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Batch is one reduced projection: a token label and a coordinate tuple
// per row.
type Batch struct {
	RequestID   string
	ModelID     string
	Method      string
	Tokens      []string
	Coordinates [][]float64
}

func (b *Batch) validate() error {
	if len(b.Tokens) == 0 {
		return fmt.Errorf("no tokens provided")
	}
	if len(b.Coordinates) != len(b.Tokens) {
		return fmt.Errorf("coordinate rows mismatch: %d rows for %d tokens", len(b.Coordinates), len(b.Tokens))
	}
	width := len(b.Coordinates[0])
	if width == 0 {
		return fmt.Errorf("coordinates have zero width")
	}
	for i, row := range b.Coordinates {
		if len(row) != width {
			return fmt.Errorf("coordinate row %d has width %d, expected %d", i, len(row), width)
		}
	}
	return nil
}

// Schema is token utf8, position int32 and coords
// fixed_size_list<float32>[nComponents], with the batch identity as schema
// metadata.
func Schema(b *Batch, nComponents int) *arrow.Schema {
	meta := arrow.NewMetadata(
		[]string{"request_id", "model", "method"},
		[]string{b.RequestID, b.ModelID, b.Method},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "token", Type: arrow.BinaryTypes.String},
		{Name: "position", Type: arrow.PrimitiveTypes.Int32},
		{Name: "coords", Type: arrow.FixedSizeListOf(int32(nComponents), arrow.PrimitiveTypes.Float32)},
	}, &meta)
}

// BuildRecord converts b into an Arrow record. The caller releases it.
func BuildRecord(mem memory.Allocator, b *Batch) (arrow.Record, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	width := len(b.Coordinates[0])
	schema := Schema(b, width)

	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	tokens := rb.Field(0).(*array.StringBuilder)
	positions := rb.Field(1).(*array.Int32Builder)
	coords := rb.Field(2).(*array.FixedSizeListBuilder)
	values := coords.ValueBuilder().(*array.Float32Builder)

	tokens.AppendValues(b.Tokens, nil)
	row := make([]float32, width)
	for i, c := range b.Coordinates {
		positions.Append(int32(i))
		for j, v := range c {
			row[j] = float32(v)
		}
		coords.Append(true)
		values.AppendValues(row, nil)
	}
	return rb.NewRecord(), nil
}
