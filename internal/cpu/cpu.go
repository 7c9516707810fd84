package cpu

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
)

var allocatedBytes int64

func traceAlloc(delta int64) {
	atomic.AddInt64(&allocatedBytes, delta)
}

// AllocatedBytes reports scratch memory currently owned by all contexts.
func AllocatedBytes() int64 {
	return atomic.LoadInt64(&allocatedBytes)
}

// Context pools row-major float64 scratch tensors by shape.
type Context struct {
	mu   sync.Mutex
	pool map[[2]int][]*Tensor
}

func NewContext() *Context {
	return &Context{
		pool: make(map[[2]int][]*Tensor),
	}
}

func (c *Context) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tensors := range c.pool {
		for _, t := range tensors {
			traceAlloc(-int64(cap(t.Data) * 8))
		}
	}
	c.pool = make(map[[2]int][]*Tensor)
}

type Tensor struct {
	Data  []float64
	Shape [2]int
}

func (t *Tensor) Row(i int) []float64 {
	cols := t.Shape[1]
	return t.Data[i*cols : (i+1)*cols]
}

// NewTensor returns a zeroed rows x cols tensor, reusing a pooled buffer
// when one of the same shape is available.
func (c *Context) NewTensor(rows, cols int) *Tensor {
	shape := [2]int{rows, cols}
	c.mu.Lock()
	pool := c.pool[shape]
	if len(pool) > 0 {
		t := pool[len(pool)-1]
		c.pool[shape] = pool[:len(pool)-1]
		c.mu.Unlock()
		clear(t.Data)
		return t
	}
	c.mu.Unlock()
	traceAlloc(int64(rows * cols * 8))
	return &Tensor{Data: make([]float64, rows*cols), Shape: shape}
}

func (c *Context) PutTensor(t *Tensor) {
	if t == nil || t.Data == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool[t.Shape] = append(c.pool[t.Shape], t)
}

// ParallelRows splits [0, n) into one chunk per CPU and runs fn on each
// chunk concurrently.
func ParallelRows(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	parallelism := runtime.NumCPU()
	chunkSize := (n + parallelism - 1) / parallelism
	var wg sync.WaitGroup
	for i := 0; i < n; i += chunkSize {
		end := i + chunkSize
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(rowStart, rowEnd int) {
			defer wg.Done()
			fn(rowStart, rowEnd)
		}(i, end)
	}
	wg.Wait()
}

func Softmax(x []float64) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i := range x {
		x[i] = math.Exp(x[i] - max)
		sum += x[i]
	}
	if sum > 0 {
		invSum := 1.0 / sum
		for i := range x {
			x[i] *= invSum
		}
	}
}

// SoftmaxRows applies Softmax to every row of t in place.
func SoftmaxRows(t *Tensor) {
	ParallelRows(t.Shape[0], func(start, end int) {
		for row := start; row < end; row++ {
			Softmax(t.Row(row))
		}
	})
}

// MaskedSoftmaxRows treats keys with mask[j] == 0 as -inf.
func MaskedSoftmaxRows(t *Tensor, mask []int) {
	for j, m := range mask {
		if m != 0 {
			continue
		}
		for row := 0; row < t.Shape[0]; row++ {
			t.Row(row)[j] = math.Inf(-1)
		}
	}
	SoftmaxRows(t)
}

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies the gain and bias vectors.
func LayerNorm(input, output *Tensor, gain, bias []float64, eps float64) {
	size := input.Shape[1]
	ParallelRows(input.Shape[0], func(start, end int) {
		for row := start; row < end; row++ {
			in := input.Row(row)
			out := output.Row(row)
			mean := 0.0
			for _, v := range in {
				mean += v
			}
			mean /= float64(size)
			variance := 0.0
			for _, v := range in {
				d := v - mean
				variance += d * d
			}
			variance /= float64(size)
			inv := 1.0 / math.Sqrt(variance+eps)
			for j, v := range in {
				out[j] = (v-mean)*inv*gain[j] + bias[j]
			}
		}
	})
}

// GeLU uses the tanh approximation.
func GeLU(x []float64) {
	for i, v := range x {
		arg := v * 0.7978845608 * (1.0 + 0.044715*v*v)
		x[i] = 0.5 * v * (1.0 + math.Tanh(arg))
	}
}

// Add accumulates b into a element-wise.
func Add(a, b *Tensor) {
	for i := range a.Data {
		a.Data[i] += b.Data[i]
	}
}

func MulScalar(a *Tensor, s float64) {
	for i := range a.Data {
		a.Data[i] *= s
	}
}

// Embedding gathers rows of weight (vocab x dim) for ids into out.
func Embedding(weight *Tensor, ids []int, out *Tensor) error {
	dim := weight.Shape[1]
	for i, id := range ids {
		if id < 0 || id >= weight.Shape[0] {
			return fmt.Errorf("token id %d out of range [0,%d)", id, weight.Shape[0])
		}
		copy(out.Data[i*dim:(i+1)*dim], weight.Data[id*dim:(id+1)*dim])
	}
	return nil
}
