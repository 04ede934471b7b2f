package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := New(func() []int { return make([]int, 0, 4) }, nil)
	s := p.Get()
	assert.Equal(t, 0, len(s))

	resets := 0
	q := New(func() *bytes.Buffer { return &bytes.Buffer{} }, func(b *bytes.Buffer) {
		resets++
		b.Reset()
	})
	b := q.Get()
	b.WriteString("payload")
	q.Put(b)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 0, b.Len())
}

func TestPoolStats(t *testing.T) {
	p := New(func() *int { return new(int) }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := p.Get()
			p.Put(v)
		}()
	}
	wg.Wait()

	allocated, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(16), gets)
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.LessOrEqual(t, allocated, gets)
}

func TestBuffersDropOversized(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	_, inBefore, _ := Buffers.Stats()
	Buffers.Get()
	Buffers.Put(big)
	_, inAfter, _ := Buffers.Stats()
	assert.Equal(t, inBefore, inAfter)
	assert.Equal(t, maxPooledBuffer+1, big.Cap(), "oversized buffers are not reset or reused")
}
