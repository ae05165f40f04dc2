// SPDX-License-Identifier: Unlicense OR MIT

// Package transfer contains the types for brokering data transfers
// between applications: clipboard selections and drag and drop.
//
// The transfer protocol is as follows:
//
//   - A peer owning a selection advertises the formats it can provide.
//     The backend creates a [Session] for the owner, either with the
//     complete format list or in the Querying state while the list is
//     being retrieved.
//   - Data targets call [Session.RequestData] with a [Format]. The
//     callback runs exactly once: with the data, or with ok == false if
//     the format is not offered, the peer fails, or the session ends
//     first.
//   - Data sources implement [Source]. The backend answers requests of
//     other applications through [Provide].
//
// [Manager] keeps the current session and source per [Selection].
package transfer

import "errors"

// ErrFormat is returned by the codecs for values or payloads that do
// not match the requested format.
var ErrFormat = errors.New("transfer: format mismatch")

// Selection identifies a data exchange channel.
type Selection uint8

const (
	// Clipboard is the explicit copy and paste selection.
	Clipboard Selection = iota
	// Primary is the implicit selection of the most recently selected
	// text, where supported.
	Primary
	// DragDrop is the selection of the active drag and drop transfer.
	DragDrop
)

func (s Selection) String() string {
	switch s {
	case Clipboard:
		return "clipboard"
	case Primary:
		return "primary"
	case DragDrop:
		return "dragdrop"
	default:
		return "unknown"
	}
}
