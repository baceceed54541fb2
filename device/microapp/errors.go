package microapp

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNoActions     = errors.New("no actions selected")
	ErrBusy          = errors.New("an upload is already running")
)

// CapacityError indicates that the device cannot hold the image in the
// requested slot.
type CapacityError struct {
	Index      uint8
	MaxApps    int
	Size       int
	MaxAppSize int
}

func (e *CapacityError) Error() string {
	if int(e.Index) >= e.MaxApps {
		return fmt.Sprintf("device has no room for index %d: max apps is %d", e.Index, e.MaxApps)
	}
	return fmt.Sprintf("device has no room for a binary of %d bytes: max app size is %d", e.Size, e.MaxAppSize)
}

// StepError wraps the failure of one plan step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
