// SPDX-License-Identifier: Unlicense OR MIT

package poller

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// NewWaker returns a waker backed by an eventfd.
func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}
	return &Waker{rfd: fd, wfd: fd}, nil
}

func (w *Waker) signal() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(w.wfd, one[:])
	return err
}
