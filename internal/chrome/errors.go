package chrome

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolShutdown is returned by Acquire after Shutdown started.
	ErrPoolShutdown = errors.New("browser pool is shut down")

	// ErrInstanceDead means a browser failed its health check.
	ErrInstanceDead = errors.New("browser instance is dead")

	// ErrRestartFailed means a dead browser could not be replaced.
	ErrRestartFailed = errors.New("browser instance restart failed")

	// ErrWaitTimeout means the expected lifecycle event never arrived
	// within the soft timeout.
	ErrWaitTimeout = errors.New("timeout waiting for page event")

	// ErrHardTimeout means the hard deadline fired and the tab was torn
	// down mid flight.
	ErrHardTimeout = errors.New("hard timeout exceeded")

	// ErrPageDetached means the crash probe observed the tab going away
	// underneath us.
	ErrPageDetached = errors.New("page detached during processing")
)

// HTTPStatusError reports a navigation that completed with an error status.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("navigation to %s returned HTTP %d", e.URL, e.Status)
}
