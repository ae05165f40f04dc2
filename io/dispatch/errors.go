// SPDX-License-Identifier: Unlicense OR MIT

package dispatch

import "errors"

var (
	// ErrNilEvent is returned when a nil event is dispatched.
	ErrNilEvent = errors.New("dispatch: nil event")
	// ErrLoopRunning is returned when a second loop is started on a
	// dispatcher that is already running one.
	ErrLoopRunning = errors.New("dispatch: loop already running")
	// ErrControlBound is returned when a Control already bound to a
	// running loop is passed to another loop.
	ErrControlBound = errors.New("dispatch: loop control already bound")
)
