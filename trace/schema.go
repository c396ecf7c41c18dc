package trace

import "github.com/pkg/errors"

// ErrBacklogFull is returned by sinks that drop an event instead of blocking
// the engine.
var ErrBacklogFull = errors.New("trace backlog full, event dropped")

type EvtType string

const (
	EvtTypeRequest EvtType = "REQUEST"
	EvtTypeToken   EvtType = "TOKEN"
	EvtTypeEnter   EvtType = "ENTER"
	EvtTypeExit    EvtType = "EXIT"
)

// IsMessage reports whether the event describes a protocol message rather
// than a critical section access.
func (t EvtType) IsMessage() bool {
	return t == EvtTypeRequest || t == EvtTypeToken
}

// Event is one line of the execution trace.
//
// Node is the sender for REQUEST/TOKEN and the accessing node for ENTER/EXIT.
// Peer is only set for TOKEN (the receiver), Sequence only for REQUEST.
type Event struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // UnixNano
	EvtType   EvtType `json:"evt_type"`
	Node      int     `json:"node"`
	Peer      *int    `json:"peer,omitempty"`
	Sequence  *int    `json:"sequence,omitempty"`
}

// Sink receives every trace event the engine records. Record is called while
// the engine holds its lock, so implementations must neither block nor call
// back into it.
type Sink interface {
	Record(ev Event) error
}

// Recorder keeps events in memory. Useful for tests and small runs.
type Recorder struct {
	events []Event
}

func (r *Recorder) Record(ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
