// SPDX-License-Identifier: Unlicense OR MIT

/*
Package app connects to a native windowing system and runs the loop
that delivers its events.

# Backends

A [Backend] opens a [Conn] to a display server. Programs register the
backends they support in a [Registry] and call [Open], which selects a
backend by the WithBackend option, the NY_BACKEND environment variable
or registration order.

# Dispatch loops

A [Context] delivers events through a router: handlers are attached to
the router and backends address events to the returned tags.

[Context.Loop] reads the connection, delivers its events and blocks
until more input arrives, [Context.Dispatch] is called or the loop's
[dispatch.Control] is stopped:

	var ctl dispatch.Control
	go func() {
		<-quit
		ctl.Stop()
	}()
	if err := ctx.Loop(&ctl); err != nil {
		// The connection is lost. err wraps ErrConnectionLost.
	}

[Context.ThreadedLoop] additionally delivers the events queued in a
[dispatch.Threaded] dispatcher, which worker goroutines may feed.

# Data exchange

[Context.Clipboard] returns the [transfer.Session] of the application
owning the clipboard. [Context.SetClipboard] offers local data.
*/
package app
