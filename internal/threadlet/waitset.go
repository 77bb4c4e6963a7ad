package threadlet

import (
	"container/heap"
	"slices"
	"time"
)

// waitSet is a min-heap of armed items keyed by (timestamp, seq).
type waitSet []*sched

func (w waitSet) Len() int { return len(w) }

func (w waitSet) Less(i, j int) bool { return before(w[i], w[j]) }

func (w waitSet) Swap(i, j int) {
	w[i], w[j] = w[j], w[i]
	w[i].index = i
	w[j].index = j
}

func (w *waitSet) Push(x any) {
	s := x.(*sched)
	s.index = len(*w)
	*w = append(*w, s)
}

func (w *waitSet) Pop() any {
	old := *w
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*w = old[:n-1]
	return s
}

func (w waitSet) peek() *sched {
	if len(w) == 0 {
		return nil
	}
	return w[0]
}

func (w *waitSet) insert(s *sched) {
	if s.place == placeWaiting {
		heap.Fix(w, s.index)
		return
	}
	s.place = placeWaiting
	heap.Push(w, s)
}

func (w *waitSet) remove(s *sched) bool {
	if s.place != placeWaiting || s.index < 0 {
		return false
	}
	heap.Remove(w, s.index)
	s.place = placeNone
	return true
}

// popDue removes and returns every entry whose timestamp is not after now.
func (w *waitSet) popDue(now time.Time, dst []*sched) []*sched {
	for w.Len() > 0 && !(*w)[0].timestamp.After(now) {
		s := heap.Pop(w).(*sched)
		s.place = placeNone
		if s.cancelled {
			continue
		}
		dst = append(dst, s)
	}
	return dst
}

func (w *waitSet) clear() {
	for _, s := range *w {
		s.place = placeNone
		s.index = -1
	}
	*w = (*w)[:0]
}

func before(a, b *sched) bool {
	if !a.timestamp.Equal(b.timestamp) {
		return a.timestamp.Before(b.timestamp)
	}
	return a.seq < b.seq
}

func sortBatch(batch []*sched) {
	slices.SortStableFunc(batch, func(a, b *sched) int {
		switch {
		case before(a, b):
			return -1
		case before(b, a):
			return 1
		default:
			return 0
		}
	})
}
