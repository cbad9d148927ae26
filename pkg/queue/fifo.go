package queue

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
)

// compactThreshold is how many consumed slots accumulate before the backing slice is compacted
const compactThreshold = 256

// FIFO is a thread-safe first-in first-out frontier queue.
// Items come out in exactly the order they went in, which is what gives the crawl its BFS order.
type FIFO struct {
	items  []models.FrontierItem
	head   int // Index of the next item to pop
	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

// NewFIFO creates an empty queue
func NewFIFO(log *logrus.Entry) *FIFO {
	return &FIFO{log: log}
}

// Push appends an item at the tail. Pushing to a closed queue is a no-op.
func (q *FIFO) Push(item models.FrontierItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add item to closed queue: %s", item.URL)
		return
	}
	q.items = append(q.items, item)
}

// Pop removes and returns the head item. ok is false when the queue is empty.
func (q *FIFO) Pop() (item models.FrontierItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return models.FrontierItem{}, false
	}
	item = q.items[q.head]
	q.items[q.head] = models.FrontierItem{}
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= compactThreshold && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Snapshot returns the queued items in pop order without removing them
func (q *FIFO) Snapshot() []models.FrontierItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.FrontierItem, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	return out
}

// Close stops the queue from accepting new items. Items already queued can still be popped.
func (q *FIFO) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the current number of items in the queue
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
