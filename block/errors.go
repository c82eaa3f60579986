package block

import (
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown block type")

// SerializationError reports a payload that cannot be canonically encoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("block data is not serializable: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
