package algorithms

import "github.com/pkg/errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidNode   = errors.New("invalid node id")
	ErrAlreadyInCS   = errors.New("node already in critical section")
)
