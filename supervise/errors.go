package supervise

import "fmt"

// UnknownWorkerError reports an operation against an identity that was never
// registered. This is a programming or configuration error and is always
// propagated to the caller.
type UnknownWorkerError struct {
	Identity string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker %q", e.Identity)
}

// LaunchError reports a failed attempt to start a replacement process.
// Recovered locally by the restart controller via bounded retry; it is never
// fatal to the supervisor.
type LaunchError struct {
	Identity string
	Attempt  int
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching worker %q (attempt %d): %v", e.Identity, e.Attempt, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// SignalDeliveryError reports that the activate signal could not reach a
// worker's process handle, usually because the handle went stale in a race
// with a just-completed restart. The caller must retry against the fresh
// handle rather than swallow the error.
type SignalDeliveryError struct {
	Identity   string
	InstanceID string
	Err        error
}

func (e *SignalDeliveryError) Error() string {
	return fmt.Sprintf("activating worker %q (instance %s): %v", e.Identity, e.InstanceID, e.Err)
}

func (e *SignalDeliveryError) Unwrap() error {
	return e.Err
}
