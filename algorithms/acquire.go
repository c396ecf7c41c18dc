package algorithms

import (
	"context"

	"github.com/pkg/errors"
)

// Acquire requests the critical section for node id and blocks until the
// node is inside it or ctx is done. The caller leaves with sk.Exit(id).
//
// If ctx ends first the request stays outstanding: the node will still be
// handed the token later and has to enter and exit to pass it on.
func Acquire(ctx context.Context, sk *SuzukiKasami, id int) error {
	granted, err := sk.GrantNotify(id)
	if err != nil {
		return err
	}
	if _, err := sk.Request(id); err != nil {
		return err
	}

	for {
		res, err := sk.Enter(id)
		if err != nil {
			return err
		}
		if res.Success {
			return nil
		}
		if hasToken, inCS := sk.holds(id); hasToken && inCS {
			return errors.Wrapf(ErrAlreadyInCS, "node %d", id)
		}

		select {
		case <-granted:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
