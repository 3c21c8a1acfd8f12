package game

import (
	"errors"
	"fmt"
)

// Illegal actions are reported back to the offending client and never affect
// anyone else.
var (
	ErrInvalidMove       = errors.New("invalid move")
	ErrWorkLimitExceeded = errors.New("work limit exceeded")
)

// NoSuchSnakeError is returned when an operation names a snake that is not
// alive on the field.
type NoSuchSnakeError struct {
	Name string
}

func (e *NoSuchSnakeError) Error() string {
	return fmt.Sprintf("no such snake: %q", e.Name)
}
