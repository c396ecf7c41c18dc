package algorithms

import (
	"time"

	"github.com/distcodep7/suzukikasami/dsnet"
)

type RequestResult struct {
	Success   bool     `json:"success"`
	HasToken  bool     `json:"has_token"`
	Responses []string `json:"responses"`
	Message   string   `json:"message"`
}

type EnterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ExitResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	TokenSentTo *int   `json:"token_sent_to,omitempty"`
}

// NodeState is a read-only snapshot of one node. TokenQueue and LastGranted
// are only set on the node holding the token.
type NodeState struct {
	NodeID            int        `json:"node_id"`
	HasToken          bool       `json:"has_token"`
	InCriticalSection bool       `json:"in_critical_section"`
	RequestSequence   int        `json:"request_sequence"`
	Status            NodeStatus `json:"status"`
	LastKnownRequest  []int      `json:"last_known_request"`
	TokenQueue        []int      `json:"token_queue"`
	LastGranted       []int      `json:"last_granted,omitempty"`
}

type SystemState struct {
	NumNodes      int         `json:"num_nodes"`
	Nodes         []NodeState `json:"nodes"`
	TokenHolder   int         `json:"token_holder"`
	TotalMessages int         `json:"total_messages"`
	CSAccesses    int         `json:"cs_accesses"`
}

// MessageLogEntry records one protocol message. REQUEST entries carry
// Sequence and no To (they are broadcast); TOKEN entries carry To and no
// Sequence.
type MessageLogEntry struct {
	ID        string            `json:"id"`
	Type      dsnet.MessageType `json:"type"`
	From      int               `json:"from"`
	To        *int              `json:"to,omitempty"`
	Sequence  *int              `json:"sequence,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type CSAction string

const (
	CSActionEnter CSAction = "ENTER"
	CSActionExit  CSAction = "EXIT"
)

type CSAccessEntry struct {
	ID        string    `json:"id"`
	NodeID    int       `json:"node_id"`
	Action    CSAction  `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}
