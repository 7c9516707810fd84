package export

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() *Batch {
	return &Batch{
		RequestID:   "req-1",
		ModelID:     "distilbert",
		Method:      "pca",
		Tokens:      []string{"[CLS]", "the", "cat", "[SEP]"},
		Coordinates: [][]float64{{-1, 0.5, 0}, {1, -1, 0.25}, {0, 1, -0.5}, {0.5, 0, 1}},
	}
}

func TestBuildRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := BuildRecord(mem, testBatch())
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(4), rec.NumRows())
	assert.Equal(t, "token", rec.Schema().Field(0).Name)
	listType, ok := rec.Schema().Field(2).Type.(*arrow.FixedSizeListType)
	require.True(t, ok)
	assert.Equal(t, int32(3), listType.Len())
	assert.Equal(t, arrow.PrimitiveTypes.Float32, listType.Elem())

	tokens := rec.Column(0).(*array.String)
	assert.Equal(t, "cat", tokens.Value(2))
	positions := rec.Column(1).(*array.Int32)
	assert.Equal(t, int32(3), positions.Value(3))
	coords := rec.Column(2).(*array.FixedSizeList).ListValues().(*array.Float32)
	assert.Equal(t, 12, coords.Len())
	assert.Equal(t, float32(0.25), coords.Value(5))

	meta := rec.Schema().Metadata()
	i := meta.FindKey("model")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "distilbert", meta.Values()[i])
}

func TestBuildRecordValidation(t *testing.T) {
	mem := memory.NewGoAllocator()
	tests := []struct {
		name  string
		batch *Batch
		msg   string
	}{
		{"empty", &Batch{}, "no tokens"},
		{"rows", &Batch{Tokens: []string{"a", "b"}, Coordinates: [][]float64{{1, 2}}}, "mismatch"},
		{"width", &Batch{Tokens: []string{"a"}, Coordinates: [][]float64{{}}}, "zero width"},
		{"ragged", &Batch{Tokens: []string{"a", "b"}, Coordinates: [][]float64{{1, 2}, {1}}}, "width 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRecord(mem, tt.batch)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMemoryExporter(t *testing.T) {
	m := NewMemoryExporter()
	require.NoError(t, m.Export(context.Background(), testBatch()))
	require.NoError(t, m.Export(context.Background(), testBatch()))
	assert.Error(t, m.Export(context.Background(), &Batch{}))

	assert.Len(t, m.Batches(), 2)
	assert.Equal(t, int64(8), m.Rows())
	m.Reset()
	assert.Empty(t, m.Batches())
	assert.NoError(t, m.Close())
}

func TestFlightExporterNotConnected(t *testing.T) {
	fe := NewFlightExporter("localhost:3000", "")
	err := fe.Export(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not connected"))
	assert.NoError(t, fe.Close())
}

type received struct {
	path   []string
	model  string
	tokens []string
	coords []float32
}

type putServer struct {
	flight.BaseFlightServer
	mu  sync.Mutex
	got []received
}

func (s *putServer) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	var r received
	meta := rdr.Schema().Metadata()
	if i := meta.FindKey("model"); i >= 0 {
		r.model = meta.Values()[i]
	}
	for rdr.Next() {
		rec := rdr.Record()
		tokens := rec.Column(0).(*array.String)
		for i := 0; i < tokens.Len(); i++ {
			r.tokens = append(r.tokens, tokens.Value(i))
		}
		coords := rec.Column(2).(*array.FixedSizeList).ListValues().(*array.Float32)
		r.coords = append(r.coords, coords.Float32Values()...)
	}
	if err := rdr.Err(); err != nil {
		return err
	}
	if d := rdr.LatestFlightDescriptor(); d != nil {
		r.path = d.Path
	}

	s.mu.Lock()
	s.got = append(s.got, r)
	s.mu.Unlock()
	return nil
}

func TestFlightExporterDoPut(t *testing.T) {
	svc := &putServer{}
	srv := flight.NewServerWithMiddleware(nil)
	require.NoError(t, srv.Init("localhost:0"))
	srv.RegisterFlightService(svc)
	go func() { _ = srv.Serve() }()
	defer srv.Shutdown()

	fe := NewFlightExporter(srv.Addr().String(), "")
	require.NoError(t, fe.Connect(context.Background()))
	defer fe.Close()

	require.NoError(t, fe.Export(context.Background(), testBatch()))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.got, 1)
	got := svc.got[0]
	assert.Equal(t, []string{DefaultPath, "distilbert"}, got.path)
	assert.Equal(t, "distilbert", got.model)
	assert.Equal(t, []string{"[CLS]", "the", "cat", "[SEP]"}, got.tokens)
	require.Len(t, got.coords, 12)
	assert.Equal(t, float32(-1), got.coords[0])
	assert.Equal(t, float32(1), got.coords[11])
}
