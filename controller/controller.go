package controller

import (
	"context"
	"sync"

	"github.com/distcodep7/suzukikasami/algorithms"
	"github.com/distcodep7/suzukikasami/dsnet"
	"github.com/distcodep7/suzukikasami/logging"
	"github.com/distcodep7/suzukikasami/predicates"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

type ControllerProps struct {
	Engine *algorithms.SuzukiKasami
	Logger logrus.FieldLogger
	// VerifyInvariants re-checks the safety invariants after every mutating
	// call. Violations are logged and kept for InvariantReport.
	VerifyInvariants bool
}

// Controller exposes a SuzukiKasami engine to remote callers.
type Controller struct {
	sk     *algorithms.SuzukiKasami
	log    logrus.FieldLogger
	verify bool

	mu        sync.Mutex
	last      algorithms.SystemState
	violation error
}

type nodeRequest struct {
	NodeID int `json:"node_id"`
}

type messageLogResponse struct {
	Entries []algorithms.MessageLogEntry `json:"entries"`
}

type csAccessLogResponse struct {
	Entries []algorithms.CSAccessEntry `json:"entries"`
}

// InvariantReport is the outcome of the latest invariant check.
type InvariantReport struct {
	OK        bool   `json:"ok"`
	Violation string `json:"violation,omitempty"`
}

func NewController(props ControllerProps) *Controller {
	logger := props.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		sk:     props.Engine,
		log:    logger,
		verify: props.VerifyInvariants,
		last:   props.Engine.SystemState(),
	}
}

func (c *Controller) Engine() *algorithms.SuzukiKasami {
	return c.sk
}

func (c *Controller) Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := decodeNode(in)
	if err != nil {
		return nil, err
	}
	res, err := c.sk.Request(id)
	if err != nil {
		return nil, toStatus(err)
	}
	c.check("request", id)
	return encode(res)
}

func (c *Controller) Enter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := decodeNode(in)
	if err != nil {
		return nil, err
	}
	res, err := c.sk.Enter(id)
	if err != nil {
		return nil, toStatus(err)
	}
	c.check("enter", id)
	return encode(res)
}

func (c *Controller) Exit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := decodeNode(in)
	if err != nil {
		return nil, err
	}
	res, err := c.sk.Exit(id)
	if err != nil {
		return nil, toStatus(err)
	}
	c.check("exit", id)
	return encode(res)
}

func (c *Controller) State(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(c.sk.SystemState())
}

func (c *Controller) MessageLog(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(messageLogResponse{Entries: c.sk.MessageLog()})
}

func (c *Controller) CSAccessLog(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(csAccessLogResponse{Entries: c.sk.CSAccessLog()})
}

// check runs the invariant predicates after a mutating call when enabled.
func (c *Controller) check(op string, id int) {
	if !c.verify {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Snapshots are taken under c.mu so c.last is always the older one.
	st := c.sk.SystemState()
	err := predicates.CheckState(st)
	if err == nil {
		err = predicates.SequenceMonotonic(c.last, st)
	}
	c.last = st
	if err != nil {
		c.violation = err
		c.log.WithError(err).WithFields(logrus.Fields{"op": op, "node": id}).Error("invariant violated")
	}
}

// InvariantReport checks the current state and reports it together with any
// violation seen earlier by the per-call verification.
func (c *Controller) InvariantReport() InvariantReport {
	err := predicates.CheckState(c.sk.SystemState())

	c.mu.Lock()
	if err == nil {
		err = c.violation
	}
	c.mu.Unlock()

	if err != nil {
		return InvariantReport{Violation: err.Error()}
	}
	return InvariantReport{OK: true}
}

func decodeNode(in *structpb.Struct) (int, error) {
	var req nodeRequest
	if err := dsnet.DecodeStruct(in, &req); err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	return req.NodeID, nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := dsnet.EncodeStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	if errors.Is(err, algorithms.ErrInvalidNode) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
