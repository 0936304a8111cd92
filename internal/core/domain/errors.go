package domain

import "errors"

var (
	// ErrNoCompute is the server's explicit "no compute available" answer
	// (HTTP 503 with code E_NO_COMPUTE). It is the only error that moves a
	// dispatch from the remote target to the local one.
	ErrNoCompute = errors.New("server reports no compute available")

	// ErrLocalExecutorUnavailable means local execution was selected but this
	// device has no processing capability registered.
	ErrLocalExecutorUnavailable = errors.New("this device is not configured for local processing")

	// ErrJobSubmissionInvalid rejects a batch spec before a job is created.
	ErrJobSubmissionInvalid = errors.New("invalid job specification")

	// ErrJobNotFound means the handle is unknown to the controller.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotTerminal rejects acknowledgment of a still-running job.
	ErrJobNotTerminal = errors.New("job has not reached a terminal status")

	// ErrUnsupportedControl rejects pause/resume against a target that
	// cannot honor it. Controls are never silently ignored.
	ErrUnsupportedControl = errors.New("execution target does not support this control")

	// ErrTransport marks network/IO failures so pollers and the cache can
	// tell them apart from definitive upstream answers.
	ErrTransport = errors.New("transport error")

	// ErrResourceUnavailable means no resolution path produced the bytes.
	ErrResourceUnavailable = errors.New("resource could not be resolved")
)
