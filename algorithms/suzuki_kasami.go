package algorithms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/distcodep7/suzukikasami/dsnet"
	"github.com/distcodep7/suzukikasami/logging"
	"github.com/distcodep7/suzukikasami/trace"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Props struct {
	NumNodes      int
	InitialHolder int

	// Logger defaults to a logger that discards everything.
	Logger logrus.FieldLogger
	// Sinks receive every message and critical section event as it is logged.
	Sinks []trace.Sink
	// Now defaults to time.Now.
	Now func() time.Time
}

// SuzukiKasami runs the Suzuki-Kasami broadcast protocol for a fixed set of
// nodes living in one process. Messages between nodes go through a
// dsnet.LocalChannel, so every delivery triggered by a call has completed by
// the time the call returns.
//
// A single mutex serializes all operations. Incoming requests and exits
// therefore never interleave, which keeps token transfer atomic.
type SuzukiKasami struct {
	mu sync.Mutex

	numNodes int
	nodes    []*Node
	channel  dsnet.Channel

	messageLog []MessageLogEntry
	csLog      []CSAccessEntry

	sinks []trace.Sink
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewSuzukiKasami(props Props) (*SuzukiKasami, error) {
	if props.NumNodes < 2 {
		return nil, errors.Wrapf(ErrInvalidConfig, "at least 2 nodes are required, got %d", props.NumNodes)
	}
	if props.InitialHolder < 0 || props.InitialHolder >= props.NumNodes {
		return nil, errors.Wrapf(ErrInvalidConfig, "initial token holder must be between 0 and %d, got %d",
			props.NumNodes-1, props.InitialHolder)
	}

	logger := props.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := props.Now
	if now == nil {
		now = time.Now
	}

	sk := &SuzukiKasami{
		numNodes: props.NumNodes,
		nodes:    make([]*Node, props.NumNodes),
		channel:  dsnet.NewLocalChannel(logger),
		sinks:    props.Sinks,
		log:      logger,
		now:      now,
	}

	for i := range sk.nodes {
		node := newNode(i, props.NumNodes)
		sk.nodes[i] = node
		if err := sk.channel.Register(i, sk.deliverTo(node)); err != nil {
			return nil, err
		}
	}
	sk.nodes[props.InitialHolder].receiveToken(NewToken(props.NumNodes))

	sk.log.WithFields(logrus.Fields{
		"nodes":  props.NumNodes,
		"holder": props.InitialHolder,
	}).Info("suzuki-kasami initialized")
	return sk, nil
}

// deliverTo wraps a node so that every TOKEN it receives is logged exactly
// once, at delivery time.
func (sk *SuzukiKasami) deliverTo(node *Node) dsnet.Handler {
	return dsnet.HandlerFunc(func(env *dsnet.Envelope) []*dsnet.Envelope {
		if env.Type == dsnet.MessageTypeToken {
			sk.recordToken(env)
		}
		return node.OnEvent(env)
	})
}

func (sk *SuzukiKasami) validate(id int) error {
	if id < 0 || id >= sk.numNodes {
		return errors.Wrapf(ErrInvalidNode, "node %d not in [0, %d)", id, sk.numNodes)
	}
	return nil
}

// Request broadcasts a critical section request for node id. If the token is
// idle somewhere it is handed over before Request returns.
func (sk *SuzukiKasami) Request(id int) (*RequestResult, error) {
	if err := sk.validate(id); err != nil {
		return nil, err
	}

	sk.mu.Lock()
	defer sk.mu.Unlock()

	node := sk.nodes[id]
	if node.hasToken {
		return &RequestResult{
			Success:   true,
			HasToken:  true,
			Responses: []string{},
			Message:   fmt.Sprintf("Node%d already holds the token", id),
		}, nil
	}

	seq := node.nextRequest()
	sk.recordRequest(id, seq)

	ctx := context.Background()
	responses := []string{}
	for j := 0; j < sk.numNodes; j++ {
		if j == id {
			continue
		}
		had := node.hasToken
		if err := sk.channel.Send(ctx, dsnet.NewRequest(id, j, seq)); err != nil {
			return nil, errors.Wrapf(err, "broadcast request of node %d", id)
		}
		if !had && node.hasToken {
			responses = append(responses, fmt.Sprintf("Received token from Node%d", j))
		}
	}

	sk.log.WithFields(logrus.Fields{
		"node":      id,
		"seq":       seq,
		"has_token": node.hasToken,
	}).Info("request broadcast")

	return &RequestResult{
		Success:   true,
		HasToken:  node.hasToken,
		Responses: responses,
		Message:   fmt.Sprintf("Node%d broadcasted request (seq=%d)", id, seq),
	}, nil
}

// Enter moves node id into the critical section. It never blocks: a node
// without the token gets an unsuccessful result.
func (sk *SuzukiKasami) Enter(id int) (*EnterResult, error) {
	if err := sk.validate(id); err != nil {
		return nil, err
	}

	sk.mu.Lock()
	defer sk.mu.Unlock()

	node := sk.nodes[id]
	if !node.hasToken {
		return &EnterResult{
			Message: fmt.Sprintf("Node%d cannot enter critical section: does not have token", id),
		}, nil
	}
	if node.inCS {
		return &EnterResult{
			Message: fmt.Sprintf("Node%d cannot enter critical section: already in critical section", id),
		}, nil
	}

	node.inCS = true
	sk.recordCSAccess(id, CSActionEnter)
	sk.log.WithField("node", id).Info("entered critical section")

	return &EnterResult{
		Success: true,
		Message: fmt.Sprintf("Node%d entered critical section", id),
	}, nil
}

// Exit takes node id out of the critical section and passes the token to
// the first waiting node, if any.
func (sk *SuzukiKasami) Exit(id int) (*ExitResult, error) {
	if err := sk.validate(id); err != nil {
		return nil, err
	}

	sk.mu.Lock()
	defer sk.mu.Unlock()

	node := sk.nodes[id]
	if !node.inCS {
		return &ExitResult{
			Message: fmt.Sprintf("Node%d cannot exit: not in critical section", id),
		}, nil
	}

	transfer := node.release()
	sk.recordCSAccess(id, CSActionExit)

	res := &ExitResult{
		Success: true,
		Message: fmt.Sprintf("Node%d exited critical section", id),
	}
	if transfer != nil {
		if err := sk.channel.Send(context.Background(), transfer); err != nil {
			return nil, errors.Wrapf(err, "pass token from node %d", id)
		}
		to := transfer.To
		res.TokenSentTo = &to
		res.Message += fmt.Sprintf(" and sent token to Node%d", to)
	}

	entry := sk.log.WithField("node", id)
	if res.TokenSentTo != nil {
		entry = entry.WithField("token_sent_to", *res.TokenSentTo)
	}
	entry.Info("exited critical section")
	return res, nil
}

// GrantNotify returns a channel that receives a value whenever node id is
// handed the token. The channel has a buffer of one and never blocks the
// engine; a signal may therefore be stale and callers should re-check.
func (sk *SuzukiKasami) GrantNotify(id int) (<-chan struct{}, error) {
	if err := sk.validate(id); err != nil {
		return nil, err
	}
	return sk.nodes[id].grantCh, nil
}

func (sk *SuzukiKasami) SystemState() SystemState {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	st := SystemState{
		NumNodes:      sk.numNodes,
		Nodes:         make([]NodeState, 0, sk.numNodes),
		TokenHolder:   -1,
		TotalMessages: len(sk.messageLog),
		CSAccesses:    len(sk.csLog),
	}
	for _, n := range sk.nodes {
		if n.hasToken {
			st.TokenHolder = n.ID
		}
		st.Nodes = append(st.Nodes, n.snapshot())
	}
	return st
}

func (sk *SuzukiKasami) MessageLog() []MessageLogEntry {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	out := make([]MessageLogEntry, len(sk.messageLog))
	copy(out, sk.messageLog)
	return out
}

func (sk *SuzukiKasami) CSAccessLog() []CSAccessEntry {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	out := make([]CSAccessEntry, len(sk.csLog))
	copy(out, sk.csLog)
	return out
}

func (sk *SuzukiKasami) holds(id int) (hasToken, inCS bool) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	n := sk.nodes[id]
	return n.hasToken, n.inCS
}

func (sk *SuzukiKasami) recordRequest(from, seq int) {
	ts := sk.now()
	entry := MessageLogEntry{
		ID:        uuid.NewString(),
		Type:      dsnet.MessageTypeRequest,
		From:      from,
		Sequence:  &seq,
		Timestamp: ts,
	}
	sk.messageLog = append(sk.messageLog, entry)
	sk.emit(trace.Event{
		ID:        entry.ID,
		Timestamp: ts.UnixNano(),
		EvtType:   trace.EvtTypeRequest,
		Node:      from,
		Sequence:  &seq,
	})
}

func (sk *SuzukiKasami) recordToken(env *dsnet.Envelope) {
	ts := sk.now()
	to := env.To
	entry := MessageLogEntry{
		ID:        env.ID,
		Type:      dsnet.MessageTypeToken,
		From:      env.From,
		To:        &to,
		Timestamp: ts,
	}
	sk.messageLog = append(sk.messageLog, entry)
	sk.emit(trace.Event{
		ID:        entry.ID,
		Timestamp: ts.UnixNano(),
		EvtType:   trace.EvtTypeToken,
		Node:      env.From,
		Peer:      &to,
	})
	sk.log.WithFields(logrus.Fields{"from": env.From, "to": to}).Debug("token transferred")
}

func (sk *SuzukiKasami) recordCSAccess(id int, action CSAction) {
	ts := sk.now()
	entry := CSAccessEntry{
		ID:        uuid.NewString(),
		NodeID:    id,
		Action:    action,
		Timestamp: ts,
	}
	sk.csLog = append(sk.csLog, entry)

	evt := trace.EvtTypeEnter
	if action == CSActionExit {
		evt = trace.EvtTypeExit
	}
	sk.emit(trace.Event{
		ID:        entry.ID,
		Timestamp: ts.UnixNano(),
		EvtType:   evt,
		Node:      id,
	})
}

// emit fans ev out to the configured sinks. Sink failures are logged and
// otherwise ignored; they never affect protocol state.
func (sk *SuzukiKasami) emit(ev trace.Event) {
	for _, s := range sk.sinks {
		if err := s.Record(ev); err != nil {
			sk.log.WithError(err).WithField("evt_type", ev.EvtType).Warn("trace sink failed")
		}
	}
}
