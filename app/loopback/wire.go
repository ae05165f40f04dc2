// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package loopback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/nyorain/ny/io/transfer"
	"github.com/tidwall/gjson"
)

// maxFrame bounds the size of a single message.
const maxFrame = 16 << 20

const headerLen = 4

var (
	errFrameTooLarge = errors.New("loopback: frame too large")
	errNoType        = errors.New("loopback: message without type")
)

// Message types. The first group flows from the server to the client,
// the second from the client to the server.
const (
	msgResize       = "resize"
	msgKey          = "key"
	msgPointer      = "pointer"
	msgButton       = "button"
	msgFocus        = "focus"
	msgClose        = "close"
	msgOffer        = "offer"
	msgFormat       = "format"
	msgFormatsDone  = "formats-done"
	msgData         = "data"
	msgDataFail     = "data-fail"
	msgRequest      = "request"
	msgGetFormats   = "get-formats"
	msgGetData      = "get-data"
	msgSetSelection = "set-selection"
	msgProvide      = "provide"
)

// message is the union of all message fields. Each type uses a subset.
type message struct {
	Type   string `json:"type"`
	Window uint32 `json:"window,omitempty"`

	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Code    uint32  `json:"code,omitempty"`
	Rune    rune    `json:"rune,omitempty"`
	Pressed bool    `json:"pressed,omitempty"`
	Button  uint32  `json:"button,omitempty"`
	X       float32 `json:"x,omitempty"`
	Y       float32 `json:"y,omitempty"`

	Selection transfer.Selection `json:"selection,omitempty"`
	Serial    uint64             `json:"serial,omitempty"`
	Owner     string             `json:"owner,omitempty"`
	// Query marks an offer whose format list must be requested.
	Query   bool     `json:"query,omitempty"`
	Formats []string `json:"formats,omitempty"`
	Format  string   `json:"format,omitempty"`
	Data    []byte   `json:"data,omitempty"`
	OK      bool     `json:"ok,omitempty"`
}

// appendFrame appends the framed encoding of m to buf.
func appendFrame(buf []byte, m *message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return buf, fmt.Errorf("loopback: encode %s: %w", m.Type, err)
	}
	if len(body) > maxFrame {
		return buf, errFrameTooLarge
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...), nil
}

// cutFrame splits the first complete frame body off buf. It returns
// false if buf holds no complete frame.
func cutFrame(buf []byte) (body, rest []byte, ok bool, err error) {
	if len(buf) < headerLen {
		return nil, buf, false, nil
	}
	n := binary.BigEndian.Uint32(buf)
	if n > maxFrame {
		return nil, buf, false, errFrameTooLarge
	}
	if len(buf)-headerLen < int(n) {
		return nil, buf, false, nil
	}
	end := headerLen + int(n)
	return buf[headerLen:end], buf[end:], true, nil
}

// readFrame reads one frame body from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, errFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// decode parses a frame body. Messages with a type unknown to known
// are reported with ok == false so peers can skip them.
func decode(body []byte, known func(typ string) bool) (m message, ok bool, err error) {
	typ := gjson.GetBytes(body, "type")
	if !typ.Exists() {
		return m, false, errNoType
	}
	if !known(typ.String()) {
		return message{Type: typ.String()}, false, nil
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return m, false, fmt.Errorf("loopback: decode %s: %w", typ.String(), err)
	}
	return m, true, nil
}

func clientBound(typ string) bool {
	switch typ {
	case msgResize, msgKey, msgPointer, msgButton, msgFocus, msgClose,
		msgOffer, msgFormat, msgFormatsDone, msgData, msgDataFail, msgRequest:
		return true
	}
	return false
}

func serverBound(typ string) bool {
	switch typ {
	case msgGetFormats, msgGetData, msgSetSelection, msgProvide:
		return true
	}
	return false
}
