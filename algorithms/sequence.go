package algorithms

// SequenceTracker is a node's local request counter. Zero means the node has
// never requested the critical section.
type SequenceTracker struct {
	last int
}

// Next advances the counter and returns the new sequence number.
func (s *SequenceTracker) Next() int {
	s.last++
	return s.last
}

func (s *SequenceTracker) Current() int {
	return s.last
}
