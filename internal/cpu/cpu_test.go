package cpu

import (
	"math"
	"sync/atomic"
	"testing"
)

func TestTensorPoolReuse(t *testing.T) {
	ctx := NewContext()
	defer ctx.Free()

	t1 := ctx.NewTensor(2, 128)
	t1.Data[0] = 42
	ctx.PutTensor(t1)

	t2 := ctx.NewTensor(2, 128)
	if t2 != t1 {
		t.Error("Expected pooled tensor to be reused")
	}
	if t2.Data[0] != 0 {
		t.Errorf("Expected reused tensor to be zeroed, got %f", t2.Data[0])
	}

	t3 := ctx.NewTensor(128, 2)
	if t3 == t1 {
		t.Error("Tensors of different shape must not be shared")
	}
	ctx.PutTensor(t2)
	ctx.PutTensor(t3)
	ctx.PutTensor(nil)
}

func TestContextFreeTracksBytes(t *testing.T) {
	ctx := NewContext()
	before := AllocatedBytes()
	ctx.PutTensor(ctx.NewTensor(4, 4))
	if got := AllocatedBytes() - before; got != 128 {
		t.Errorf("Expected 128 bytes tracked, got %d", got)
	}
	ctx.Free()
	if got := AllocatedBytes() - before; got != 0 {
		t.Errorf("Expected bytes released after Free, got %d", got)
	}
}

func TestParallelRowsCoversRange(t *testing.T) {
	for _, n := range []int{0, 1, 7, 1000} {
		var count int64
		seen := make([]int32, n)
		ParallelRows(n, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
				atomic.AddInt64(&count, 1)
			}
		})
		if count != int64(n) {
			t.Errorf("n=%d: visited %d rows", n, count)
		}
		for i, s := range seen {
			if s != 1 {
				t.Fatalf("n=%d: row %d visited %d times", n, i, s)
			}
		}
	}
}

func TestSoftmaxStability(t *testing.T) {
	x := make([]float64, 10)
	for i := range x {
		x[i] = float64(1000 + i)
	}
	Softmax(x)

	sum := 0.0
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Softmax produced %f at %d", v, i)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("Softmax sum = %f, expected 1.0", sum)
	}
	if x[9] <= x[0] {
		t.Error("Softmax must preserve ordering")
	}
}

func TestSoftmaxSingleElement(t *testing.T) {
	x := []float64{-3}
	Softmax(x)
	if x[0] != 1 {
		t.Errorf("Expected 1, got %f", x[0])
	}
	Softmax(nil)
}

func TestMaskedSoftmaxRows(t *testing.T) {
	ctx := NewContext()
	defer ctx.Free()
	s := ctx.NewTensor(2, 3)
	copy(s.Data, []float64{1, 2, 3, 3, 2, 1})

	MaskedSoftmaxRows(s, []int{1, 1, 0})
	for row := 0; row < 2; row++ {
		r := s.Row(row)
		if r[2] != 0 {
			t.Errorf("row %d: masked key got weight %f", row, r[2])
		}
		if math.Abs(r[0]+r[1]-1) > 1e-12 {
			t.Errorf("row %d: weights sum to %f", row, r[0]+r[1])
		}
	}
}

func TestLayerNorm(t *testing.T) {
	ctx := NewContext()
	defer ctx.Free()
	in := ctx.NewTensor(1, 4)
	out := ctx.NewTensor(1, 4)
	copy(in.Data, []float64{1, 2, 3, 4})

	LayerNorm(in, out, []float64{1, 1, 1, 1}, []float64{0, 0, 0, 0}, 1e-12)

	mean, sq := 0.0, 0.0
	for _, v := range out.Data {
		mean += v
		sq += v * v
	}
	if math.Abs(mean) > 1e-9 {
		t.Errorf("Expected zero mean, got %f", mean/4)
	}
	if math.Abs(sq/4-1) > 1e-6 {
		t.Errorf("Expected unit variance, got %f", sq/4)
	}

	LayerNorm(in, out, []float64{2, 2, 2, 2}, []float64{1, 1, 1, 1}, 1e-12)
	if math.Abs(out.Data[0]-(1+2*(-1.5/math.Sqrt(1.25)))) > 1e-6 {
		t.Errorf("Gain and bias not applied: %v", out.Data)
	}
}

func TestGeLU(t *testing.T) {
	x := []float64{0, 1, -1, 3}
	GeLU(x)
	expected := []float64{0, 0.841192, -0.158808, 2.996363}
	for i := range x {
		if math.Abs(x[i]-expected[i]) > 1e-4 {
			t.Errorf("GeLU[%d] = %f, expected %f", i, x[i], expected[i])
		}
	}
}

func TestAddAndMulScalar(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: [2]int{1, 3}}
	b := &Tensor{Data: []float64{10, 20, 30}, Shape: [2]int{1, 3}}
	Add(a, b)
	MulScalar(a, 0.5)
	expected := []float64{5.5, 11, 16.5}
	for i := range expected {
		if a.Data[i] != expected[i] {
			t.Errorf("a[%d] = %f, expected %f", i, a.Data[i], expected[i])
		}
	}
}

func TestEmbedding(t *testing.T) {
	w := &Tensor{Data: []float64{0, 0, 1, 1, 2, 2}, Shape: [2]int{3, 2}}
	out := &Tensor{Data: make([]float64, 4), Shape: [2]int{2, 2}}
	if err := Embedding(w, []int{2, 1}, out); err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 2 || out.Data[3] != 1 {
		t.Errorf("Unexpected embedding rows %v", out.Data)
	}
	if err := Embedding(w, []int{3}, out); err == nil {
		t.Error("Expected error for out of range id")
	}
}

func BenchmarkSoftmaxRows(b *testing.B) {
	ctx := NewContext()
	defer ctx.Free()
	s := ctx.NewTensor(512, 512)
	for i := range s.Data {
		s.Data[i] = float64(i % 17)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SoftmaxRows(s)
	}
}
