package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-lens/internal/logger"
)

const DefaultPath = "projections"

// Exporter ships reduced projections to an external sink.
type Exporter interface {
	Export(ctx context.Context, b *Batch) error
	Close() error
}

// FlightExporter writes each batch as one Arrow record through Flight DoPut.
type FlightExporter struct {
	addr    string
	path    string
	timeout time.Duration
	mem     memory.Allocator

	mu     sync.Mutex
	client flight.Client
}

// NewFlightExporter prepares an exporter for addr (host:port). Call Connect
// before Export.
func NewFlightExporter(addr, path string) *FlightExporter {
	if path == "" {
		path = DefaultPath
	}
	return &FlightExporter{
		addr:    addr,
		path:    path,
		timeout: 30 * time.Second,
		mem:     memory.NewGoAllocator(),
	}
}

// Connect creates the gRPC client. The connection itself is established
// lazily on the first call.
func (fe *FlightExporter) Connect(ctx context.Context) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.client != nil {
		return nil
	}
	client, err := flight.NewClientWithMiddleware(fe.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fe.client = client
	logger.Log.Info("Flight exporter connected", "addr", fe.addr, "path", fe.path)
	return nil
}

func (fe *FlightExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.client == nil {
		return nil
	}
	err := fe.client.Close()
	fe.client = nil
	return err
}

func (fe *FlightExporter) Export(ctx context.Context, b *Batch) error {
	fe.mu.Lock()
	client := fe.client
	fe.mu.Unlock()
	if client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}

	rec, err := BuildRecord(fe.mem, b)
	if err != nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, fe.timeout)
	defer cancel()

	stream, err := client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to create DoPut stream: %w", err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(fe.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{fe.path, b.ModelID},
	})
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}

	logger.Log.Debug("Exported projection", "request_id", b.RequestID, "model", b.ModelID, "rows", rec.NumRows())
	return nil
}
