// Package pool implements the tiered, admission-bounded buffer pool shared
// by every forwarder pump in a proxy instance.
package pool

import "context"

// Tier is a buffer size class. Buffers are never resized across tiers;
// a handle remembers its tier so release always routes to the right queue.
type Tier int

const (
	Small  Tier = iota // up to 1024 bytes
	Medium             // up to 8192 bytes
	Large              // up to 65535 bytes
)

const (
	smallCap  = 1024
	mediumCap = 8192
	largeCap  = 65535
)

func (t Tier) capacity() int {
	switch t {
	case Small:
		return smallCap
	case Medium:
		return mediumCap
	default:
		return largeCap
	}
}

func tierFor(hint int) Tier {
	switch {
	case hint <= smallCap:
		return Small
	case hint <= mediumCap:
		return Medium
	default:
		return Large
	}
}

// Buffer is a reusable byte region checked out from a Pool. Callers write
// into Bytes() up to Cap(), then call Release when done; Release clears the
// buffer and re-enqueues it in its tier of origin.
type Buffer struct {
	data []byte
	tier Tier
	pool *BufferPool
}

// Bytes returns the full-capacity backing slice for this buffer's tier.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap returns the buffer's tier capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Release clears the buffer and returns it to its pool. Safe to call once;
// calling it again is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	p.release(b)
}

// BufferPool is a tiered cache of reusable byte buffers guarded by a
// concurrency admission limiter. Acquire blocks until admission is granted
// (by design: backpressure, not an error) and either pops a retained buffer
// from the matching tier or allocates a fresh one.
type BufferPool struct {
	maxPoolSize int
	admission   chan struct{}

	small  chan *Buffer
	medium chan *Buffer
	large  chan *Buffer
}

// New creates a BufferPool retaining up to maxPoolSize buffers per tier and
// admitting at most maxConcurrent simultaneous acquisitions.
func New(maxPoolSize, maxConcurrent int) *BufferPool {
	if maxPoolSize < 0 {
		maxPoolSize = 0
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &BufferPool{
		maxPoolSize: maxPoolSize,
		admission:   make(chan struct{}, maxConcurrent),
		small:       make(chan *Buffer, maxPoolSize),
		medium:      make(chan *Buffer, maxPoolSize),
		large:       make(chan *Buffer, maxPoolSize),
	}
}

func (p *BufferPool) queueFor(t Tier) chan *Buffer {
	switch t {
	case Small:
		return p.small
	case Medium:
		return p.medium
	default:
		return p.large
	}
}

// Acquire blocks until an admission slot is free, then returns a buffer from
// the tier matching hint (reused if one is retained, freshly allocated
// otherwise). It only returns an error if ctx is cancelled while waiting for
// admission; the pool itself imposes no timeout.
func (p *BufferPool) Acquire(ctx context.Context, hint int) (*Buffer, error) {
	select {
	case p.admission <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tier := tierFor(hint)
	q := p.queueFor(tier)
	select {
	case b := <-q:
		b.pool = p
		return b, nil
	default:
		return &Buffer{data: make([]byte, tier.capacity()), tier: tier, pool: p}, nil
	}
}

// release returns a drained buffer to its tier queue if there is room, and
// always frees the buffer's admission slot. Never fails.
func (p *BufferPool) release(b *Buffer) {
	for i := range b.data {
		b.data[i] = 0
	}
	q := p.queueFor(b.tier)
	select {
	case q <- b:
	default:
		// tier at max_pool_size; drop it.
	}
	<-p.admission
}
