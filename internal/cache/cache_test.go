package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	Tokens []string
}

func TestGetOrComputeOnce(t *testing.T) {
	c, err := New[*result](10)
	require.NoError(t, err)

	calls := 0
	compute := func() (*result, error) {
		calls++
		return &result{Tokens: []string{"[CLS]", "the", "cat", "sat", ".", "[SEP]"}}, nil
	}
	opts := map[string]any{"return_attention": true}

	first, hit, err := c.GetOrCompute("The cat sat.", "distilbert", opts, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	second, hit, err := c.GetOrCompute("The cat sat.", "distilbert", opts, compute)
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1, Capacity: 10}, c.Stats())
}

func TestKeyIndependentOfOptionOrder(t *testing.T) {
	a := map[string]any{}
	a["return_embeddings"] = true
	a["n_components"] = 3
	a["reduction_method"] = "pca"
	b := map[string]any{"reduction_method": "pca", "n_components": 3, "return_embeddings": true}

	ka, err := Key("hello", "gpt2", a)
	require.NoError(t, err)
	kb, err := Key("hello", "gpt2", b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 32)

	nilKey, err := Key("hello", "gpt2", nil)
	require.NoError(t, err)
	emptyKey, err := Key("hello", "gpt2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, nilKey, emptyKey)

	tests := []struct {
		text, model string
		opts        map[string]any
	}{
		{"hello ", "gpt2", a},
		{"hello", "distilbert", a},
		{"hello", "gpt2", map[string]any{"return_embeddings": false, "n_components": 3, "reduction_method": "pca"}},
	}
	for _, tt := range tests {
		k, err := Key(tt.text, tt.model, tt.opts)
		require.NoError(t, err)
		assert.NotEqual(t, ka, k)
	}

	_, err = Key("x", "gpt2", map[string]any{"bad": func() {}})
	assert.Error(t, err)
}

func TestLRUEviction(t *testing.T) {
	c, err := New[int](3)
	require.NoError(t, err)
	computed := map[string]int{}
	get := func(text string) bool {
		_, hit, err := c.GetOrCompute(text, "m", nil, func() (int, error) {
			computed[text]++
			return len(text), nil
		})
		require.NoError(t, err)
		return hit
	}

	get("a")
	get("bb")
	get("ccc")
	assert.True(t, get("a"), "refresh a")
	get("dddd") // evicts bb, the least recently used

	assert.Equal(t, 3, c.Len())
	assert.True(t, get("a"))
	assert.True(t, get("ccc"))
	assert.True(t, get("dddd"))
	assert.False(t, get("bb"))
	assert.Equal(t, 2, computed["bb"])
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}

func TestComputeErrorNotStored(t *testing.T) {
	c, err := New[string](4)
	require.NoError(t, err)
	boom := errors.New("inference failed")

	_, _, err = c.GetOrCompute("x", "m", nil, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.GetOrCompute("x", "m", nil, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}

func TestConcurrentMissesShareCompute(t *testing.T) {
	c, err := New[int](4)
	require.NoError(t, err)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrCompute("same", "m", nil, func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	st := c.Stats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(15), st.Hits)
}

func TestClear(t *testing.T) {
	c, err := New[int](0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := c.GetOrCompute(fmt.Sprint(i), "m", nil, func() (int, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 5, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, DefaultSize, c.Stats().Capacity)

	_, hit, err := c.GetOrCompute("0", "m", nil, func() (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetDetectsCorruption(t *testing.T) {
	c, err := New[int](4)
	require.NoError(t, err)
	key, err := Key("x", "m", nil)
	require.NoError(t, err)

	c.lru.Add(key, &entry[int]{key: "other", value: 1})
	_, _, err = c.GetOrCompute("x", "m", nil, func() (int, error) { return 2, nil })
	var corrupt ErrCacheCorruption
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, key, corrupt.Key)
	assert.Equal(t, 0, c.Len(), "corrupt entry is dropped")

	c.lru.Add(key, nil)
	_, _, err = c.Get(key)
	assert.ErrorAs(t, err, &corrupt)
}
