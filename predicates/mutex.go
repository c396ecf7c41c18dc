// Package predicates checks Suzuki-Kasami safety properties against state
// snapshots and access logs taken from a running engine.
package predicates

import (
	"slices"

	"github.com/distcodep7/suzukikasami/algorithms"
	"github.com/pkg/errors"
)

var ErrViolation = errors.New("invariant violated")

// MutualExclusion: at most one node is in the critical section, and that
// node holds the token.
func MutualExclusion(st algorithms.SystemState) error {
	inCS := -1
	for _, n := range st.Nodes {
		if !n.InCriticalSection {
			continue
		}
		if !n.HasToken {
			return errors.Wrapf(ErrViolation, "node %d in critical section without token", n.NodeID)
		}
		if inCS >= 0 {
			return errors.Wrapf(ErrViolation, "nodes %d and %d both in critical section", inCS, n.NodeID)
		}
		inCS = n.NodeID
	}
	return nil
}

// TokenUniqueness: exactly one node holds the token.
func TokenUniqueness(st algorithms.SystemState) error {
	var holders []int
	for _, n := range st.Nodes {
		if n.HasToken {
			holders = append(holders, n.NodeID)
		}
	}
	if len(holders) != 1 {
		return errors.Wrapf(ErrViolation, "expected exactly one token holder, got %v", holders)
	}
	return nil
}

// QueueMembership: a node is queued iff its latest request is outstanding and
// it does not hold the token. The queue never contains duplicates.
func QueueMembership(st algorithms.SystemState) error {
	if err := TokenUniqueness(st); err != nil {
		return err
	}
	holder := st.Nodes[st.TokenHolder]
	queue := holder.TokenQueue
	ledger := holder.LastGranted

	seen := make(map[int]bool, len(queue))
	for _, id := range queue {
		if seen[id] {
			return errors.Wrapf(ErrViolation, "node %d queued twice: %v", id, queue)
		}
		seen[id] = true
	}

	for _, n := range st.Nodes {
		outstanding := n.RequestSequence > ledger[n.NodeID]
		queued := slices.Contains(queue, n.NodeID)
		switch {
		case n.NodeID == holder.NodeID && queued:
			return errors.Wrapf(ErrViolation, "holder %d is in its own queue", n.NodeID)
		case n.NodeID != holder.NodeID && outstanding && !queued:
			return errors.Wrapf(ErrViolation, "node %d has outstanding request %d (granted %d) but is not queued",
				n.NodeID, n.RequestSequence, ledger[n.NodeID])
		case queued && !outstanding:
			return errors.Wrapf(ErrViolation, "node %d queued without an outstanding request", n.NodeID)
		}
	}
	return nil
}

// SequenceMonotonic: no node's request sequence went down between two
// snapshots of the same engine.
func SequenceMonotonic(prev, next algorithms.SystemState) error {
	if len(prev.Nodes) != len(next.Nodes) {
		return errors.Errorf("snapshots have %d and %d nodes", len(prev.Nodes), len(next.Nodes))
	}
	for i := range prev.Nodes {
		if next.Nodes[i].RequestSequence < prev.Nodes[i].RequestSequence {
			return errors.Wrapf(ErrViolation, "node %d sequence went from %d to %d",
				i, prev.Nodes[i].RequestSequence, next.Nodes[i].RequestSequence)
		}
	}
	return nil
}

// CheckState runs every single-snapshot check and returns the first violation.
func CheckState(st algorithms.SystemState) error {
	if err := MutualExclusion(st); err != nil {
		return err
	}
	if err := TokenUniqueness(st); err != nil {
		return err
	}
	return QueueMembership(st)
}

// AlternatingAccess checks a critical section log: every ENTER is followed
// by the EXIT of the same node before anyone else enters.
func AlternatingAccess(log []algorithms.CSAccessEntry) error {
	inside := -1
	for i, e := range log {
		switch e.Action {
		case algorithms.CSActionEnter:
			if inside >= 0 {
				return errors.Wrapf(ErrViolation, "entry %d: node %d entered while node %d was inside", i, e.NodeID, inside)
			}
			inside = e.NodeID
		case algorithms.CSActionExit:
			if inside != e.NodeID {
				return errors.Wrapf(ErrViolation, "entry %d: node %d exited but node %d was inside", i, e.NodeID, inside)
			}
			inside = -1
		}
	}
	return nil
}

// GrantOrder returns the receivers of TOKEN messages in the order they were
// delivered.
func GrantOrder(log []algorithms.MessageLogEntry) []int {
	var order []int
	for _, e := range log {
		if e.To != nil {
			order = append(order, *e.To)
		}
	}
	return order
}
