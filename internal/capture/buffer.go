package capture

import "sync"

const noSlot = -1

// notify performs a non-blocking send on a capacity-1 signal channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// DoubleBuffer holds two frame slots shared between one writer and one
// reader. The writer is never handed the slot the reader currently holds, and
// the reader is only ever handed a fully published slot. Publishing always
// replaces any unconsumed frame, so the reader sees the latest picture.
type DoubleBuffer struct {
	mu      sync.Mutex
	slots   [2][]byte
	latest  int
	reading int
	writing int
	last    int
	ready   chan struct{}
}

// NewDoubleBuffer allocates two slots of size bytes.
func NewDoubleBuffer(size int) *DoubleBuffer {
	return &DoubleBuffer{
		slots:   [2][]byte{make([]byte, size), make([]byte, size)},
		latest:  noSlot,
		reading: noSlot,
		writing: noSlot,
		last:    1,
		ready:   make(chan struct{}, 1),
	}
}

// Acquire returns the slot the writer should fill next. An unconsumed frame
// sitting in that slot is discarded.
func (b *DoubleBuffer) Acquire() (int, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var w int
	switch {
	case b.reading != noSlot:
		w = 1 - b.reading
	case b.latest != noSlot:
		w = 1 - b.latest
	default:
		w = 1 - b.last
	}
	if b.latest == w {
		b.latest = noSlot
	}
	b.writing = w
	return w, b.slots[w]
}

// Publish exposes a filled slot to the reader and signals readiness.
func (b *DoubleBuffer) Publish(slot int) {
	b.mu.Lock()
	if b.writing != slot {
		b.mu.Unlock()
		return
	}
	b.latest = slot
	b.last = slot
	b.writing = noSlot
	b.mu.Unlock()
	notify(b.ready)
}

// Abort gives up a slot obtained from Acquire without publishing it.
func (b *DoubleBuffer) Abort(slot int) {
	b.mu.Lock()
	if b.writing == slot {
		b.writing = noSlot
	}
	b.mu.Unlock()
}

// Take hands the latest published slot to the reader and clears it. The
// reader must call Release when done with data.
func (b *DoubleBuffer) Take() (slot int, data []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == noSlot {
		return noSlot, nil, false
	}
	slot = b.latest
	b.latest = noSlot
	b.reading = slot
	return slot, b.slots[slot], true
}

// Release returns a slot obtained from Take.
func (b *DoubleBuffer) Release(slot int) {
	b.mu.Lock()
	if b.reading == slot {
		b.reading = noSlot
	}
	b.mu.Unlock()
}

// Writing reports the slot currently targeted by the writer, or -1.
func (b *DoubleBuffer) Writing() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writing
}

// Ready is signalled after every Publish.
func (b *DoubleBuffer) Ready() <-chan struct{} {
	return b.ready
}

// DropQueue is a bounded FIFO that evicts its oldest entries when full.
type DropQueue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	dropped  uint64
	ready    chan struct{}
}

// NewDropQueue creates a queue holding at most capacity items.
func NewDropQueue(capacity int) *DropQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &DropQueue{
		items:    make([][]byte, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends p and trims the queue to capacity. It returns how many items
// were evicted.
func (q *DropQueue) Push(p []byte) int {
	q.mu.Lock()
	q.items = append(q.items, p)
	evicted := 0
	for len(q.items) > q.capacity {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		evicted++
	}
	q.dropped += uint64(evicted)
	q.mu.Unlock()
	notify(q.ready)
	return evicted
}

// Pop removes and returns the oldest item.
func (q *DropQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return p, true
}

// Len returns the number of queued items.
func (q *DropQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of evicted items.
func (q *DropQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after every Push.
func (q *DropQueue) Ready() <-chan struct{} {
	return q.ready
}
