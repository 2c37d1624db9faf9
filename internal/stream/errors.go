package stream

import (
	"errors"
	"fmt"
)

// ErrNotActive is returned by pause controls while no phase is running.
var ErrNotActive = errors.New("no active download or unpack to pause")

// TransferError reports an I/O failure in a stream phase. Offset is the last
// progress position acknowledged to the sink; running the stream again
// resumes from it.
type TransferError struct {
	Phase  Phase
	Offset int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed at offset %d: %v", e.Phase, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
