package capture

import (
	"sync"
	"time"
)

// Publisher holds the most recent frame. One writer publishes; any number
// of readers grab copies.
type Publisher struct {
	mu        sync.Mutex
	data      []byte
	width     int
	height    int
	sequence  uint64
	at        time.Time
	published uint64
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish replaces the slot with a copy of f.
func (p *Publisher) Publish(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cap(p.data) < len(f.Data) {
		p.data = make([]byte, len(f.Data))
	}
	p.data = p.data[:len(f.Data)]
	copy(p.data, f.Data)
	p.width, p.height = f.Width, f.Height
	p.sequence = f.Sequence
	p.at = f.CapturedAt
	p.published++
}

// Grab returns a copy of the latest frame, or an empty Frame when nothing
// has been published since the last reset.
func (p *Publisher) Grab() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.data) == 0 {
		return Frame{}
	}
	data := make([]byte, len(p.data))
	copy(data, p.data)
	return Frame{
		Data:       data,
		Width:      p.width,
		Height:     p.height,
		Sequence:   p.sequence,
		CapturedAt: p.at,
	}
}

// Reset drops the slot contents and its storage.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = nil
	p.width, p.height = 0, 0
	p.sequence = 0
	p.at = time.Time{}
	p.published = 0
}

// Published returns the number of frames published since the last reset.
func (p *Publisher) Published() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}
