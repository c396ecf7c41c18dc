package algorithms_test

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/distcodep7/suzukikasami/algorithms"
	"github.com/distcodep7/suzukikasami/dsnet"
	"github.com/distcodep7/suzukikasami/predicates"
	"github.com/distcodep7/suzukikasami/trace"
	"github.com/pkg/errors"
)

func newEngine(t *testing.T, n, holder int, sinks ...trace.Sink) *algorithms.SuzukiKasami {
	t.Helper()
	sk, err := algorithms.NewSuzukiKasami(algorithms.Props{
		NumNodes:      n,
		InitialHolder: holder,
		Sinks:         sinks,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return sk
}

func mustRequest(t *testing.T, sk *algorithms.SuzukiKasami, id int) *algorithms.RequestResult {
	t.Helper()
	res, err := sk.Request(id)
	if err != nil {
		t.Fatalf("request(%d): %v", id, err)
	}
	return res
}

func mustEnter(t *testing.T, sk *algorithms.SuzukiKasami, id int) *algorithms.EnterResult {
	t.Helper()
	res, err := sk.Enter(id)
	if err != nil {
		t.Fatalf("enter(%d): %v", id, err)
	}
	return res
}

func mustExit(t *testing.T, sk *algorithms.SuzukiKasami, id int) *algorithms.ExitResult {
	t.Helper()
	res, err := sk.Exit(id)
	if err != nil {
		t.Fatalf("exit(%d): %v", id, err)
	}
	return res
}

func checkState(t *testing.T, sk *algorithms.SuzukiKasami) algorithms.SystemState {
	t.Helper()
	st := sk.SystemState()
	if err := predicates.CheckState(st); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	return st
}

func TestNewSuzukiKasamiValidation(t *testing.T) {
	cases := []struct {
		name   string
		nodes  int
		holder int
	}{
		{"single node", 1, 0},
		{"no nodes", 0, 0},
		{"negative holder", 3, -1},
		{"holder out of range", 3, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := algorithms.NewSuzukiKasami(algorithms.Props{NumNodes: tc.nodes, InitialHolder: tc.holder})
			if !errors.Is(err, algorithms.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	sk := newEngine(t, 4, 2)
	st := checkState(t, sk)

	if st.NumNodes != 4 || st.TokenHolder != 2 || st.TotalMessages != 0 || st.CSAccesses != 0 {
		t.Fatalf("unexpected initial state %+v", st)
	}
	for _, n := range st.Nodes {
		if n.Status != algorithms.StatusIdle {
			t.Errorf("node %d: expected IDLE, got %s", n.NodeID, n.Status)
		}
		if n.RequestSequence != 0 {
			t.Errorf("node %d: expected sequence 0, got %d", n.NodeID, n.RequestSequence)
		}
		if n.HasToken != (n.NodeID == 2) {
			t.Errorf("node %d: unexpected has_token=%v", n.NodeID, n.HasToken)
		}
	}
	if st.Nodes[2].TokenQueue == nil || len(st.Nodes[2].TokenQueue) != 0 {
		t.Errorf("holder should report an empty queue, got %v", st.Nodes[2].TokenQueue)
	}
}

func TestInvalidNodeIsRejected(t *testing.T) {
	sk := newEngine(t, 3, 0)

	for _, id := range []int{-1, 3, 100} {
		if _, err := sk.Request(id); !errors.Is(err, algorithms.ErrInvalidNode) {
			t.Errorf("request(%d): expected ErrInvalidNode, got %v", id, err)
		}
		if _, err := sk.Enter(id); !errors.Is(err, algorithms.ErrInvalidNode) {
			t.Errorf("enter(%d): expected ErrInvalidNode, got %v", id, err)
		}
		if _, err := sk.Exit(id); !errors.Is(err, algorithms.ErrInvalidNode) {
			t.Errorf("exit(%d): expected ErrInvalidNode, got %v", id, err)
		}
		if _, err := sk.GrantNotify(id); !errors.Is(err, algorithms.ErrInvalidNode) {
			t.Errorf("grant notify(%d): expected ErrInvalidNode, got %v", id, err)
		}
	}
	if st := sk.SystemState(); st.TotalMessages != 0 || st.CSAccesses != 0 {
		t.Fatalf("rejected calls changed the logs: %+v", st)
	}
}

func TestIdleHolderHandsOverOnRequest(t *testing.T) {
	sk := newEngine(t, 3, 0)

	if res := mustEnter(t, sk, 0); !res.Success {
		t.Fatalf("holder could not enter: %s", res.Message)
	}
	res := mustExit(t, sk, 0)
	if !res.Success || res.TokenSentTo != nil {
		t.Fatalf("expected exit without transfer, got %+v", res)
	}

	req := mustRequest(t, sk, 1)
	if !req.Success || !req.HasToken {
		t.Fatalf("expected node 1 to get the token, got %+v", req)
	}
	if !slices.Equal(req.Responses, []string{"Received token from Node0"}) {
		t.Fatalf("unexpected responses %v", req.Responses)
	}
	if req.Message != "Node1 broadcasted request (seq=1)" {
		t.Fatalf("unexpected message %q", req.Message)
	}

	if res := mustEnter(t, sk, 1); !res.Success {
		t.Fatalf("node 1 could not enter: %s", res.Message)
	}

	st := checkState(t, sk)
	if st.TokenHolder != 1 || st.Nodes[1].Status != algorithms.StatusInCS {
		t.Fatalf("expected node 1 in CS with token, got %+v", st.Nodes[1])
	}

	log := sk.MessageLog()
	if len(log) != 2 {
		t.Fatalf("expected REQUEST and TOKEN, got %d entries", len(log))
	}
	if log[0].Type != dsnet.MessageTypeRequest || log[0].From != 1 || log[0].To != nil || *log[0].Sequence != 1 {
		t.Errorf("unexpected request entry %+v", log[0])
	}
	if log[1].Type != dsnet.MessageTypeToken || log[1].From != 0 || *log[1].To != 1 || log[1].Sequence != nil {
		t.Errorf("unexpected token entry %+v", log[1])
	}
}

func TestRequestsQueueBehindCriticalSection(t *testing.T) {
	sk := newEngine(t, 5, 0)
	mustEnter(t, sk, 0)

	for _, id := range []int{1, 2, 3} {
		res := mustRequest(t, sk, id)
		if !res.Success || res.HasToken || len(res.Responses) != 0 {
			t.Fatalf("request(%d): expected to wait, got %+v", id, res)
		}
	}

	st := checkState(t, sk)
	if !slices.Equal(st.Nodes[0].TokenQueue, []int{1, 2, 3}) {
		t.Fatalf("expected queue [1 2 3], got %v", st.Nodes[0].TokenQueue)
	}
	for _, id := range []int{1, 2, 3} {
		if st.Nodes[id].Status != algorithms.StatusWaiting {
			t.Errorf("node %d: expected WAITING, got %s", id, st.Nodes[id].Status)
		}
	}

	res := mustExit(t, sk, 0)
	if res.TokenSentTo == nil || *res.TokenSentTo != 1 {
		t.Fatalf("expected token sent to node 1, got %+v", res)
	}
	if res.Message != "Node0 exited critical section and sent token to Node1" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	st = checkState(t, sk)
	if st.TokenHolder != 1 || st.Nodes[1].Status != algorithms.StatusHolding {
		t.Fatalf("expected node 1 holding, got %+v", st.Nodes[1])
	}
	if !slices.Equal(st.Nodes[1].TokenQueue, []int{2, 3}) {
		t.Fatalf("expected queue [2 3], got %v", st.Nodes[1].TokenQueue)
	}
	if st.Nodes[0].TokenQueue != nil {
		t.Fatalf("former holder still reports a queue: %v", st.Nodes[0].TokenQueue)
	}
	if st.TotalMessages != 4 {
		t.Fatalf("expected 3 requests and 1 token, got %d messages", st.TotalMessages)
	}
}

func TestEnterWithoutTokenFails(t *testing.T) {
	sk := newEngine(t, 3, 0)
	before := sk.SystemState()

	res := mustEnter(t, sk, 2)
	if res.Success {
		t.Fatal("node 2 entered without token")
	}
	if res.Message != "Node2 cannot enter critical section: does not have token" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	after := sk.SystemState()
	if after.CSAccesses != before.CSAccesses || after.TotalMessages != before.TotalMessages ||
		after.TokenHolder != before.TokenHolder {
		t.Fatalf("failed enter changed the engine: before %+v, after %+v", before, after)
	}
	for i := range before.Nodes {
		b, a := before.Nodes[i], after.Nodes[i]
		if a.HasToken != b.HasToken || a.InCriticalSection != b.InCriticalSection ||
			a.Status != b.Status || a.RequestSequence != b.RequestSequence {
			t.Errorf("node %d changed on failed enter: before %+v, after %+v", i, b, a)
		}
	}
}

func TestDoubleEnterAndExitFail(t *testing.T) {
	sk := newEngine(t, 2, 0)

	if res := mustExit(t, sk, 0); res.Success || res.Message != "Node0 cannot exit: not in critical section" {
		t.Fatalf("exit outside CS: unexpected %+v", res)
	}
	mustEnter(t, sk, 0)
	if res := mustEnter(t, sk, 0); res.Success {
		t.Fatal("second enter succeeded")
	}
	if n := len(sk.CSAccessLog()); n != 1 {
		t.Fatalf("expected one ENTER logged, got %d", n)
	}
}

func TestRequestByHolderIsNoop(t *testing.T) {
	sk := newEngine(t, 3, 1)

	res := mustRequest(t, sk, 1)
	if !res.Success || !res.HasToken || len(res.Responses) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	st := sk.SystemState()
	if st.TotalMessages != 0 || st.Nodes[1].RequestSequence != 0 {
		t.Fatalf("holder request should not broadcast, got %d messages, seq %d",
			st.TotalMessages, st.Nodes[1].RequestSequence)
	}
}

func TestRepeatedRequestIsNotQueuedTwice(t *testing.T) {
	sk := newEngine(t, 3, 0)
	mustEnter(t, sk, 0)

	mustRequest(t, sk, 2)
	res := mustRequest(t, sk, 2)
	if res.Message != "Node2 broadcasted request (seq=2)" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	st := checkState(t, sk)
	if !slices.Equal(st.Nodes[0].TokenQueue, []int{2}) {
		t.Fatalf("expected queue [2], got %v", st.Nodes[0].TokenQueue)
	}

	mustExit(t, sk, 0)
	st = checkState(t, sk)
	if st.TokenHolder != 2 || st.Nodes[2].LastGranted[2] != 0 {
		t.Fatalf("expected node 2 holding with its request pending, got %+v", st.Nodes[2])
	}
	mustEnter(t, sk, 2)
	mustExit(t, sk, 2)
	if st := checkState(t, sk); st.Nodes[2].LastGranted[2] != 2 || st.Nodes[2].Status != algorithms.StatusIdle {
		t.Fatalf("expected ledger to catch up to seq 2, got %+v", st.Nodes[2])
	}
}

func TestHolderServesOwnTurnBeforeLaterRequests(t *testing.T) {
	sk := newEngine(t, 4, 0)
	mustEnter(t, sk, 0)
	mustRequest(t, sk, 1)
	mustRequest(t, sk, 2)
	mustExit(t, sk, 0)

	// Node 1 now holds the token but has not entered yet.
	mustRequest(t, sk, 3)
	st := checkState(t, sk)
	if st.TokenHolder != 1 || !slices.Equal(st.Nodes[1].TokenQueue, []int{2, 3}) {
		t.Fatalf("expected node 1 holding with queue [2 3], got holder %d queue %v",
			st.TokenHolder, st.Nodes[1].TokenQueue)
	}

	for _, id := range []int{1, 2, 3} {
		if res := mustEnter(t, sk, id); !res.Success {
			t.Fatalf("node %d could not enter: %s", id, res.Message)
		}
		mustExit(t, sk, id)
	}

	if order := predicates.GrantOrder(sk.MessageLog()); !slices.Equal(order, []int{1, 2, 3}) {
		t.Fatalf("expected grant order [1 2 3], got %v", order)
	}
	if err := predicates.AlternatingAccess(sk.CSAccessLog()); err != nil {
		t.Fatal(err)
	}
}

func TestGrantOrderFollowsRequestOrder(t *testing.T) {
	sk := newEngine(t, 5, 0)
	mustEnter(t, sk, 0)

	requests := []int{3, 1, 4, 2}
	for _, id := range requests {
		mustRequest(t, sk, id)
	}
	mustExit(t, sk, 0)

	for _, id := range requests {
		if res := mustEnter(t, sk, id); !res.Success {
			t.Fatalf("node %d could not enter: %s", id, res.Message)
		}
		mustExit(t, sk, id)
	}

	if order := predicates.GrantOrder(sk.MessageLog()); !slices.Equal(order, requests) {
		t.Fatalf("expected grant order %v, got %v", requests, order)
	}
}

type failingSink struct{}

func (failingSink) Record(trace.Event) error { return errors.New("disk full") }

func TestSinksReceiveEvents(t *testing.T) {
	rec := &trace.Recorder{}
	sk := newEngine(t, 3, 0, failingSink{}, rec)

	mustRequest(t, sk, 1)
	mustEnter(t, sk, 1)
	mustExit(t, sk, 1)

	events := rec.Events()
	want := []trace.EvtType{trace.EvtTypeRequest, trace.EvtTypeToken, trace.EvtTypeEnter, trace.EvtTypeExit}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.EvtType != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.EvtType)
		}
	}

	if events[1].Node != 0 || events[1].Peer == nil || *events[1].Peer != 1 {
		t.Errorf("unexpected token event %+v", events[1])
	}
	if log := sk.MessageLog(); events[0].ID != log[0].ID || events[1].ID != log[1].ID {
		t.Error("trace events and message log should share ids")
	}
}

// Drives the engine with random operations and checks every invariant after
// each step, then drains all outstanding requests.
func TestRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 2 + rng.Intn(5)
		sk := newEngine(t, n, rng.Intn(n))
		prev := sk.SystemState()

		for step := 0; step < 300; step++ {
			id := rng.Intn(n)
			var err error
			switch rng.Intn(3) {
			case 0:
				_, err = sk.Request(id)
			case 1:
				_, err = sk.Enter(id)
			case 2:
				_, err = sk.Exit(id)
			}
			if err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}

			st := sk.SystemState()
			if err := predicates.CheckState(st); err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}
			if err := predicates.SequenceMonotonic(prev, st); err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}
			prev = st
		}

		for i := 0; i < 2*n+2; i++ {
			st := sk.SystemState()
			holder := st.TokenHolder
			switch st.Nodes[holder].Status {
			case algorithms.StatusInCS:
				mustExit(t, sk, holder)
			case algorithms.StatusHolding:
				mustEnter(t, sk, holder)
			}
		}

		st := checkState(t, sk)
		for _, node := range st.Nodes {
			if node.Status != algorithms.StatusIdle {
				t.Fatalf("seed %d: node %d left %s after draining", seed, node.NodeID, node.Status)
			}
		}
		if err := predicates.AlternatingAccess(sk.CSAccessLog()); err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
	}
}
