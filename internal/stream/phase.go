package stream

import (
	"errors"
	"fmt"
)

// Phase is the stage an update stream is in.
type Phase int

const (
	Idle Phase = iota
	Downloading
	Unpacking
	Finished
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Downloading:
		return "downloading"
	case Unpacking:
		return "unpacking"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Active reports whether the phase is moving bytes and can be paused.
func (p Phase) Active() bool {
	return p == Downloading || p == Unpacking
}

// ErrPhaseOrder is returned for any transition other than to the next phase.
var ErrPhaseOrder = errors.New("invalid phase transition")

func checkAdvance(from, to Phase) error {
	if to != from+1 || to > Finished {
		return fmt.Errorf("%w: %s -> %s", ErrPhaseOrder, from, to)
	}
	return nil
}
