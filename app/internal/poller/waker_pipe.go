// SPDX-License-Identifier: Unlicense OR MIT

//go:build darwin || freebsd || openbsd || netbsd

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewWaker returns a waker backed by a non-blocking self-pipe.
func NewWaker() (*Waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("poller: pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("poller: pipe: %w", err)
		}
	}
	return &Waker{rfd: p[0], wfd: p[1]}, nil
}

func (w *Waker) signal() error {
	oneByte := []byte{1}
	_, err := unix.Write(w.wfd, oneByte)
	return err
}
