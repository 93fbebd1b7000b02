package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// BufferPool: the memory every lane shares
// ---------------------------------------------------------------------------

// BufferPool is a set of fixed-size buffers of 32-bit elements. Lanes are
// expected to touch disjoint elements; element access is atomic so that a
// program that does not still has defined behavior.
type BufferPool struct {
	bufs [][]int32
}

// NewBufferPool allocates zeroed buffers with the given element counts.
func NewBufferPool(sizes []int) *BufferPool {
	p := &BufferPool{bufs: make([][]int32, len(sizes))}
	for i, n := range sizes {
		p.bufs[i] = make([]int32, n)
	}
	return p
}

// PoolFrom wraps existing buffers. The pool writes through to them.
func PoolFrom(bufs [][]int32) *BufferPool {
	return &BufferPool{bufs: bufs}
}

// Len returns the number of buffers.
func (p *BufferPool) Len() int { return len(p.bufs) }

// Bytes returns the total size of the pool in bytes.
func (p *BufferPool) Bytes() int {
	n := 0
	for _, b := range p.bufs {
		n += 4 * len(b)
	}
	return n
}

// Sizes returns the element count of each buffer.
func (p *BufferPool) Sizes() []int {
	sizes := make([]int, len(p.bufs))
	for i, b := range p.bufs {
		sizes[i] = len(b)
	}
	return sizes
}

func (p *BufferPool) cell(buf, elem int32) (*int32, error) {
	if buf < 0 || int(buf) >= len(p.bufs) {
		return nil, OutOfBounds
	}
	b := p.bufs[buf]
	if elem < 0 || int(elem) >= len(b) {
		return nil, OutOfBounds
	}
	return &b[elem], nil
}

// Load reads element elem of buffer buf.
func (p *BufferPool) Load(buf, elem int32) (int32, error) {
	c, err := p.cell(buf, elem)
	if err != nil {
		return 0, err
	}
	return atomic.LoadInt32(c), nil
}

// Store writes v to element elem of buffer buf.
func (p *BufferPool) Store(buf, elem, v int32) error {
	c, err := p.cell(buf, elem)
	if err != nil {
		return err
	}
	atomic.StoreInt32(c, v)
	return nil
}

// Buffers returns a copy of every buffer.
func (p *BufferPool) Buffers() [][]int32 {
	out := make([][]int32, len(p.bufs))
	for i, b := range p.bufs {
		out[i] = make([]int32, len(b))
		for j := range b {
			out[i][j] = atomic.LoadInt32(&b[j])
		}
	}
	return out
}
