package scheduler

import "container/heap"

func heapPush(h *timerHeap, n *timerNode) {
	heap.Push(h, n)
}

func heapRemove(h *timerHeap, index int) {
	heap.Remove(h, index)
}
