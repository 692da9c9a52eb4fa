package capture

import (
	"errors"
	"fmt"
	"sync"
)

// MinBuffers is the smallest pool that can stream: one buffer filling while
// the application holds the other.
const MinBuffers = 2

// MappedBuffer is one driver buffer mapped into the process.
type MappedBuffer struct {
	Index  uint32
	Length uint32
	Offset uint32
	Owner  Ownership
	mem    []byte
}

// BufferInfo is the externally visible part of a MappedBuffer.
type BufferInfo struct {
	Index  uint32 `json:"index"`
	Length uint32 `json:"length"`
	Offset uint32 `json:"offset"`
	Owner  string `json:"owner"`
}

// PoolSnapshot describes the pool at one instant.
type PoolSnapshot struct {
	Count   uint32       `json:"count"`
	Mapped  bool         `json:"mapped"`
	Buffers []BufferInfo `json:"buffers,omitempty"`
}

// BufferPool owns the driver buffers of one device and tracks who may touch
// each of them.
type BufferPool struct {
	dev  Backend
	path string

	mu        sync.Mutex
	count     uint32
	allocated bool
	buffers   []*MappedBuffer
}

// NewBufferPool creates an empty pool for dev.
func NewBufferPool(dev Backend, path string) *BufferPool {
	return &BufferPool{dev: dev, path: path}
}

// Allocate requests count buffers and returns how many the driver granted.
// A grant below MinBuffers is handed back before failing.
func (p *BufferPool) Allocate(count uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffers) > 0 {
		return 0, newError(ErrInvalidState, "reqbufs", p.path, errors.New("pool is mapped"))
	}

	granted, err := p.dev.RequestBuffers(count)
	if err != nil {
		return 0, newError(ErrBufferAllocation, "reqbufs", p.path, err)
	}
	if granted < MinBuffers {
		if granted > 0 {
			_, _ = p.dev.RequestBuffers(0)
		}
		p.count, p.allocated = 0, false
		return 0, newError(ErrBufferAllocation, "reqbufs", p.path,
			fmt.Errorf("driver granted %d buffers, need at least %d", granted, MinBuffers))
	}

	p.count, p.allocated = granted, true
	return granted, nil
}

// MapAll maps the first count allocated buffers and hands them to the
// kernel side. On failure every buffer mapped so far is unmapped again.
func (p *BufferPool) MapAll(count uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allocated || count == 0 || count > p.count {
		return newError(ErrMapping, "mmap", p.path,
			fmt.Errorf("cannot map %d of %d allocated buffers", count, p.count))
	}
	if len(p.buffers) > 0 {
		return newError(ErrInvalidState, "mmap", p.path, errors.New("pool already mapped"))
	}

	mapped := make([]*MappedBuffer, 0, count)
	rollback := func() {
		for _, b := range mapped {
			_ = p.dev.UnmapBuffer(b.mem)
		}
	}

	for i := uint32(0); i < count; i++ {
		info, err := p.dev.QueryBuffer(i)
		if err != nil {
			rollback()
			return newError(ErrMapping, "querybuf", p.path, fmt.Errorf("buffer %d: %w", i, err))
		}
		mem, err := p.dev.MapBuffer(info)
		if err != nil {
			rollback()
			return newError(ErrMapping, "mmap", p.path, fmt.Errorf("buffer %d: %w", i, err))
		}
		mapped = append(mapped, &MappedBuffer{
			Index:  info.Index,
			Length: info.Length,
			Offset: info.Offset,
			Owner:  OwnerKernel,
			mem:    mem,
		})
	}

	p.buffers = mapped
	return nil
}

// Release unmaps every buffer and returns the pool to the driver. Every
// step runs even if an earlier one fails. Calling it on an empty pool is a
// no-op.
func (p *BufferPool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, b := range p.buffers {
		if err := p.dev.UnmapBuffer(b.mem); err != nil {
			errs = append(errs, newError(ErrMapping, "munmap", p.path, fmt.Errorf("buffer %d: %w", b.Index, err)))
		}
		b.mem = nil
	}
	p.buffers = nil

	if p.allocated {
		if _, err := p.dev.RequestBuffers(0); err != nil {
			errs = append(errs, newError(ErrBufferAllocation, "reqbufs", p.path, err))
		}
		p.allocated = false
	}
	p.count = 0
	return errors.Join(errs...)
}

// Len returns the number of mapped buffers.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// EnqueueAll hands every buffer to the driver.
func (p *BufferPool) EnqueueAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffers) == 0 {
		return newError(ErrInvalidState, "qbuf", p.path, errors.New("pool is not mapped"))
	}
	for _, b := range p.buffers {
		if err := p.dev.Enqueue(b.Index); err != nil {
			return newError(ErrEnqueue, "qbuf", p.path, fmt.Errorf("buffer %d: %w", b.Index, err))
		}
		b.Owner = OwnerKernel
	}
	return nil
}

// acquire moves a dequeued buffer to the application side and returns its
// memory. Indices the kernel never held are rejected.
func (p *BufferPool) acquire(index uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.lookup(index)
	if err != nil {
		return nil, err
	}
	if b.Owner != OwnerKernel {
		return nil, newError(ErrDequeue, "dqbuf", p.path,
			fmt.Errorf("buffer %d already owned by application", index))
	}
	b.Owner = OwnerApplication
	return b.mem, nil
}

// requeue hands an application-owned buffer back to the driver.
func (p *BufferPool) requeue(index uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.lookup(index)
	if err != nil {
		return err
	}
	if b.Owner != OwnerApplication {
		return newError(ErrEnqueue, "qbuf", p.path, fmt.Errorf("buffer %d already owned by kernel", index))
	}
	if err := p.dev.Enqueue(index); err != nil {
		return newError(ErrEnqueue, "qbuf", p.path, fmt.Errorf("buffer %d: %w", index, err))
	}
	b.Owner = OwnerKernel
	return nil
}

// reclaimAll marks every buffer application-owned after stream-off.
func (p *BufferPool) reclaimAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		b.Owner = OwnerApplication
	}
}

func (p *BufferPool) lookup(index uint32) (*MappedBuffer, error) {
	if int(index) >= len(p.buffers) {
		return nil, newError(ErrDequeue, "dqbuf", p.path,
			fmt.Errorf("buffer %d out of range (pool has %d)", index, len(p.buffers)))
	}
	return p.buffers[index], nil
}

// Snapshot reports the pool state.
func (p *BufferPool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolSnapshot{Count: p.count, Mapped: len(p.buffers) > 0}
	for _, b := range p.buffers {
		s.Buffers = append(s.Buffers, BufferInfo{
			Index:  b.Index,
			Length: b.Length,
			Offset: b.Offset,
			Owner:  b.Owner.String(),
		})
	}
	return s
}
