// SPDX-License-Identifier: Unlicense OR MIT

package event

// Payload is the closed set of typed event contents. The kind of an
// event created with New is determined by its payload type.
type Payload interface {
	kind() Kind
}

// ResizeEvent reports a new window size in pixels.
type ResizeEvent struct {
	Width, Height int
}

// KeyEvent reports a key press or release.
type KeyEvent struct {
	// Code is the backend independent key code.
	Code uint32
	// Rune is the text produced by the key, if any.
	Rune    rune
	Pressed bool
}

// PointerMoveEvent reports the pointer position.
type PointerMoveEvent struct {
	X, Y float32
}

// PointerButtonEvent reports a pointer button press or release.
type PointerButtonEvent struct {
	Button  uint32
	Pressed bool
	X, Y    float32
}

// FocusEvent reports a change of keyboard focus.
type FocusEvent struct {
	Gained bool
}

// DataOfferEvent delivers a data offer from another application, such
// as a drop onto the window. Offer is typically a *transfer.Session.
type DataOfferEvent struct {
	Offer any
}

// CloseEvent requests that a window be closed.
type CloseEvent struct{}

// DestroyEvent reports that a window was destroyed.
type DestroyEvent struct{}

// DrawEvent requests a redraw.
type DrawEvent struct{}

// WakeupEvent carries no content. It is used to nudge a loop.
type WakeupEvent struct{}

// CustomEvent carries application defined content. Its kind defaults
// to Custom; set Type to use a registered custom kind.
type CustomEvent struct {
	Type  Kind
	Value any
}

func (ResizeEvent) kind() Kind        { return Resize }
func (KeyEvent) kind() Kind           { return Key }
func (PointerMoveEvent) kind() Kind   { return PointerMove }
func (PointerButtonEvent) kind() Kind { return PointerButton }
func (FocusEvent) kind() Kind         { return Focus }
func (DataOfferEvent) kind() Kind     { return DataOffer }
func (CloseEvent) kind() Kind         { return Close }
func (DestroyEvent) kind() Kind       { return Destroy }
func (DrawEvent) kind() Kind          { return Draw }
func (WakeupEvent) kind() Kind        { return Wakeup }

func (c CustomEvent) kind() Kind {
	if c.Type == 0 {
		return Custom
	}
	return c.Type
}
