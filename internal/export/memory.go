package export

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MemoryExporter keeps exported batches in memory. Batches are validated by
// building their Arrow record, exactly as FlightExporter would.
type MemoryExporter struct {
	mu      sync.RWMutex
	batches []*Batch
	rows    int64
	mem     memory.Allocator
}

func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{mem: memory.NewGoAllocator()}
}

func (m *MemoryExporter) Export(_ context.Context, b *Batch) error {
	rec, err := BuildRecord(m.mem, b)
	if err != nil {
		return err
	}
	defer rec.Release()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, b)
	m.rows += rec.NumRows()
	return nil
}

func (m *MemoryExporter) Close() error { return nil }

// Batches returns a copy of everything exported so far.
func (m *MemoryExporter) Batches() []*Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

func (m *MemoryExporter) Rows() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows
}

func (m *MemoryExporter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = nil
	m.rows = 0
}
