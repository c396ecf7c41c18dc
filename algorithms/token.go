package algorithms

import "slices"

// Token is the single mutual exclusion permit. It carries the ledger of the
// last satisfied request of every node (LN) and the FIFO queue of nodes whose
// request is outstanding. Only the node currently holding it may touch it.
type Token struct {
	LastGranted []int
	queue       []int
}

func NewToken(numNodes int) *Token {
	return &Token{
		LastGranted: make([]int, numNodes),
		queue:       []int{},
	}
}

// Outstanding reports whether request seq of node id has not been served yet.
func (t *Token) Outstanding(id, seq int) bool {
	return seq > t.LastGranted[id]
}

func (t *Token) Contains(id int) bool {
	return slices.Contains(t.queue, id)
}

// Enqueue appends id to the wait queue unless it is already waiting.
func (t *Token) Enqueue(id int) bool {
	if t.Contains(id) {
		return false
	}
	t.queue = append(t.queue, id)
	return true
}

func (t *Token) Dequeue() (int, bool) {
	if len(t.queue) == 0 {
		return 0, false
	}
	next := t.queue[0]
	t.queue = t.queue[1:]
	return next, true
}

func (t *Token) Len() int {
	return len(t.queue)
}

// Queue returns a copy of the wait queue, head first.
func (t *Token) Queue() []int {
	return slices.Clone(t.queue)
}

func (t *Token) Ledger() []int {
	return slices.Clone(t.LastGranted)
}
