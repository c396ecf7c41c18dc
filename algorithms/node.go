package algorithms

import (
	"slices"

	"github.com/distcodep7/suzukikasami/dsnet"
)

type NodeStatus string

const (
	StatusIdle    NodeStatus = "IDLE"
	StatusWaiting NodeStatus = "WAITING"
	StatusHolding NodeStatus = "HOLDING"
	StatusInCS    NodeStatus = "IN_CS"
)

// Node is one Suzuki-Kasami participant. It reacts to REQUEST and TOKEN
// envelopes through OnEvent. Node has no lock of its own; the engine
// serializes every call into it.
type Node struct {
	ID int

	hasToken bool
	inCS     bool
	waiting  bool
	seq      SequenceTracker

	// lastKnown[j] is the highest request sequence seen from node j (RN).
	lastKnown []int
	token     *Token

	grantCh chan struct{}
}

func newNode(id, numNodes int) *Node {
	return &Node{
		ID:        id,
		lastKnown: make([]int, numNodes),
		grantCh:   make(chan struct{}, 1),
	}
}

func (n *Node) OnEvent(env *dsnet.Envelope) []*dsnet.Envelope {
	switch env.Type {
	case dsnet.MessageTypeRequest:
		return n.onRequest(env.From, env.Sequence)

	case dsnet.MessageTypeToken:
		if tok, ok := env.Payload.(*Token); ok {
			n.receiveToken(tok)
		}
	}
	return nil
}

// nextRequest starts a new request and returns its sequence number.
func (n *Node) nextRequest() int {
	seq := n.seq.Next()
	n.lastKnown[n.ID] = seq
	n.waiting = true
	return seq
}

func (n *Node) onRequest(from, seq int) []*dsnet.Envelope {
	if seq > n.lastKnown[from] {
		n.lastKnown[from] = seq
	}
	if !n.hasToken || !n.token.Outstanding(from, seq) {
		return nil
	}

	if n.canRelease() {
		return []*dsnet.Envelope{dsnet.NewToken(n.ID, from, n.giveUpToken())}
	}
	n.token.Enqueue(from)
	return nil
}

// canRelease reports whether the token can leave right away without skipping
// this node's own pending turn or anyone already queued.
func (n *Node) canRelease() bool {
	return !n.inCS &&
		n.token.Len() == 0 &&
		!n.token.Outstanding(n.ID, n.seq.Current())
}

// release leaves the critical section, updates the ledger and queue, and
// returns the TOKEN envelope for the next waiting node, or nil if the token
// stays here.
func (n *Node) release() *dsnet.Envelope {
	n.inCS = false
	n.token.LastGranted[n.ID] = n.seq.Current()

	for j, seq := range n.lastKnown {
		if j != n.ID && n.token.Outstanding(j, seq) {
			n.token.Enqueue(j)
		}
	}

	next, ok := n.token.Dequeue()
	if !ok {
		return nil
	}
	return dsnet.NewToken(n.ID, next, n.giveUpToken())
}

func (n *Node) giveUpToken() *Token {
	tok := n.token
	n.token = nil
	n.hasToken = false
	return tok
}

func (n *Node) receiveToken(tok *Token) {
	n.token = tok
	n.hasToken = true
	n.waiting = false

	select {
	case n.grantCh <- struct{}{}:
	default:
	}
}

func (n *Node) status() NodeStatus {
	switch {
	case n.inCS:
		return StatusInCS
	case n.hasToken && n.token.Outstanding(n.ID, n.seq.Current()):
		return StatusHolding
	case n.waiting:
		return StatusWaiting
	default:
		return StatusIdle
	}
}

func (n *Node) snapshot() NodeState {
	st := NodeState{
		NodeID:            n.ID,
		HasToken:          n.hasToken,
		InCriticalSection: n.inCS,
		RequestSequence:   n.seq.Current(),
		Status:            n.status(),
		LastKnownRequest:  slices.Clone(n.lastKnown),
	}
	if n.hasToken {
		st.TokenQueue = n.token.Queue()
		st.LastGranted = n.token.Ledger()
	}
	return st
}
