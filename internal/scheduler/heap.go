package scheduler

import (
	"container/heap"
	"time"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// item is one entry in the delay queue: an intent plus the monotonic
// insertion sequence used to break ties when two items share an activation
// instant, so same-instant intents fire in insertion order.
type item struct {
	intent types.ScheduledIntent
	seq    uint64
	index  int
}

func (it item) activatesAt() time.Time { return *it.intent.After }

// intentHeap is a min-heap ordered by activation time, then insertion order.
type intentHeap []*item

func (h intentHeap) Len() int { return len(h) }

func (h intentHeap) Less(i, j int) bool {
	ti, tj := h[i].activatesAt(), h[j].activatesAt()
	if ti.Equal(tj) {
		return h[i].seq < h[j].seq
	}
	return ti.Before(tj)
}

func (h intentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *intentHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *intentHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*intentHeap)(nil)
