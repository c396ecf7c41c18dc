package dsnet

import (
	"context"
	"sync"

	"github.com/distcodep7/suzukikasami/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrAlreadyRegistered  = errors.New("node already registered")
)

/*
* Channel moves envelopes between registered nodes.
* Implementations must deliver every envelope exactly once, and must have
* delivered it (plus anything the receiving handler sent in reply) before
* Send returns.
 */
type Channel interface {
	Register(id int, h Handler) error
	Send(ctx context.Context, env *Envelope) error
}

// LocalChannel delivers envelopes synchronously to handlers living in the
// same process. Replies produced by a handler are delivered in FIFO order
// before Send returns.
type LocalChannel struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	log      logrus.FieldLogger
}

func NewLocalChannel(logger logrus.FieldLogger) *LocalChannel {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LocalChannel{
		handlers: make(map[int]Handler),
		log:      logger,
	}
}

func (c *LocalChannel) Register(id int, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.handlers[id]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "node %d", id)
	}
	c.handlers[id] = h
	return nil
}

func (c *LocalChannel) Send(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pending := []*Envelope{env}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]

		c.mu.RLock()
		h, ok := c.handlers[next.To]
		c.mu.RUnlock()

		if !ok {
			return errors.Wrapf(ErrUnknownDestination, "%s %d -> %d", next.Type, next.From, next.To)
		}

		c.log.WithFields(logrus.Fields{
			"type": next.Type,
			"from": next.From,
			"to":   next.To,
		}).Debug("deliver")

		pending = append(pending, h.OnEvent(next)...)
	}
	return nil
}
