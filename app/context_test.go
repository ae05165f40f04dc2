// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

package app

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/dispatch"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// byteConn is a Conn over a socketpair that turns every byte read into
// a key event for target.
type byteConn struct {
	fd     int
	peer   int
	target event.Tag
	queue  []*event.Event
	closed bool
}

func newByteConn(t *testing.T) *byteConn {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	c := &byteConn{fd: fds[0], peer: fds[1]}
	t.Cleanup(c.hangup)
	return c
}

// hangup closes the peer end.
func (c *byteConn) hangup() {
	if c.peer >= 0 {
		unix.Close(c.peer)
		c.peer = -1
	}
}

func (c *byteConn) Fd() int      { return c.fd }
func (c *byteConn) Flush() error { return nil }

func (c *byteConn) ReadEvents() error {
	var buf [64]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		switch {
		case err == unix.EAGAIN:
			return nil
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		case n == 0:
			return io.EOF
		}
		for _, b := range buf[:n] {
			c.queue = append(c.queue, event.New(c.target, event.KeyEvent{Rune: rune(b), Pressed: true}))
		}
	}
}

func (c *byteConn) Next() (*event.Event, bool) {
	if len(c.queue) == 0 {
		return nil, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	return e, true
}

func (c *byteConn) Clipboard() *transfer.Session           { return nil }
func (c *byteConn) SetClipboard(src transfer.Source) error { return errors.New("unsupported") }

func (c *byteConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// keys records the runes of delivered key events.
type keys struct {
	mu    sync.Mutex
	runes []rune
	kinds []event.Kind
	hook  func(e *event.Event)
}

func (k *keys) Event(e *event.Event) bool {
	k.mu.Lock()
	k.kinds = append(k.kinds, e.Kind)
	if p, ok := e.Payload.(event.KeyEvent); ok {
		k.runes = append(k.runes, p.Rune)
	}
	hook := k.hook
	k.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return true
}

func (k *keys) String() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return string(k.runes)
}

func testContext(t *testing.T) (*Context, *byteConn, *keys) {
	t.Helper()
	conn := newByteConn(t)
	c, err := New(conn, WithLogger(logx.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	k := new(keys)
	conn.target = c.Router().Attach(k)
	return c, conn, k
}

func runLoop(f func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f() }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
		return nil
	}
}

func TestDispatchEventsNonBlocking(t *testing.T) {
	c, conn, k := testContext(t)
	require.NoError(t, c.DispatchEvents())
	assert.Empty(t, k.String())

	_, err := unix.Write(conn.peer, []byte("ab"))
	require.NoError(t, err)
	require.NoError(t, c.Dispatch(event.New(conn.target, event.KeyEvent{Rune: 'q'})))
	require.NoError(t, c.DispatchEvents())
	assert.Equal(t, "qab", k.String())
}

func TestDispatchInvalid(t *testing.T) {
	c, _, k := testContext(t)
	assert.ErrorIs(t, c.Dispatch(nil), dispatch.ErrNilEvent)
	assert.NoError(t, c.Dispatch(event.New(0, event.CloseEvent{})))
	require.NoError(t, c.DispatchEvents())
	assert.Empty(t, k.kinds)
}

func TestLoopStopFromOtherGoroutine(t *testing.T) {
	c, conn, k := testContext(t)
	var ctl dispatch.Control
	done := runLoop(func() error { return c.Loop(&ctl) })

	_, err := unix.Write(conn.peer, []byte("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return k.String() == "x" }, 5*time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		go ctl.Stop()
	}
	assert.NoError(t, wait(t, done))
	assert.False(t, ctl.Bound())
	ctl.Stop()
}

func TestLoopStopFromHandler(t *testing.T) {
	c, conn, k := testContext(t)
	var ctl dispatch.Control
	k.hook = func(e *event.Event) { ctl.Stop() }
	done := runLoop(func() error { return c.Loop(&ctl) })
	_, err := unix.Write(conn.peer, []byte("s"))
	require.NoError(t, err)
	assert.NoError(t, wait(t, done))
}

func TestLoopDeliversDispatchedEvents(t *testing.T) {
	c, conn, k := testContext(t)
	var ctl dispatch.Control
	done := runLoop(func() error { return c.Loop(&ctl) })
	for _, r := range "hello" {
		require.NoError(t, c.Dispatch(event.New(conn.target, event.KeyEvent{Rune: r})))
	}
	require.Eventually(t, func() bool { return k.String() == "hello" }, 5*time.Second, time.Millisecond)
	ctl.Stop()
	assert.NoError(t, wait(t, done))
}

func TestLoopConnectionLost(t *testing.T) {
	c, conn, k := testContext(t)
	_, err := unix.Write(conn.peer, []byte("z"))
	require.NoError(t, err)
	conn.hangup()

	var ctl dispatch.Control
	err = wait(t, runLoop(func() error { return c.Loop(&ctl) }))
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, "z", k.String(), "input read before the hangup is delivered")
	assert.False(t, ctl.Bound())
}

func TestLoopMisuse(t *testing.T) {
	c, _, _ := testContext(t)
	var ctl dispatch.Control
	done := runLoop(func() error { return c.Loop(&ctl) })
	require.Eventually(t, ctl.Bound, 5*time.Second, time.Millisecond)

	var other dispatch.Control
	assert.ErrorIs(t, c.Loop(&other), dispatch.ErrLoopRunning)

	ctl.Stop()
	assert.NoError(t, wait(t, done))
}

func TestThreadedLoopWakesOnDispatch(t *testing.T) {
	c, _, _ := testContext(t)
	d, err := dispatch.NewThreaded(c.Router(), dispatch.WithLogger(logx.Discard()))
	require.NoError(t, err)
	k := new(keys)
	tag := c.Router().Attach(k)

	var ctl dispatch.Control
	done := runLoop(func() error { return c.ThreadedLoop(d, &ctl) })
	require.Eventually(t, ctl.Bound, 5*time.Second, time.Millisecond)

	// Events from a worker reach the handler without native input.
	go func() {
		for _, r := range "work" {
			assert.NoError(t, d.Dispatch(event.New(tag, event.KeyEvent{Rune: r})))
		}
	}()
	require.Eventually(t, func() bool { return k.String() == "work" }, 5*time.Second, time.Millisecond)

	ctl.Stop()
	assert.NoError(t, wait(t, done))
}

func TestRegisterFd(t *testing.T) {
	c, _, _ := testContext(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var ctl dispatch.Control
	var got int16
	var id FdID
	id = c.RegisterFd(fds[0], PollIn, func(fd int, revents int16) {
		got = revents
		c.UnregisterFd(id)
		ctl.Stop()
	})
	_, err = unix.Write(fds[1], []byte("r"))
	require.NoError(t, err)

	assert.NoError(t, c.Loop(&ctl))
	assert.NotZero(t, got&PollIn)
	assert.False(t, c.UnregisterFd(id))
}

func TestDispatchAfterClose(t *testing.T) {
	c, conn, _ := testContext(t)
	require.NoError(t, c.Close())
	assert.True(t, conn.closed)
	assert.ErrorIs(t, c.Dispatch(event.New(conn.target, event.CloseEvent{})), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestRegistry(t *testing.T) {
	var reg Registry
	_, err := reg.Select("")
	assert.ErrorIs(t, err, ErrNoBackend)

	open := func(name string) Backend {
		return Backend{Name: name, Open: func(*slog.Logger) (Conn, error) {
			return nil, errors.New(name)
		}}
	}
	require.NoError(t, reg.Register(open("a")))
	require.NoError(t, reg.Register(open("b")))
	assert.ErrorIs(t, reg.Register(open("a")), ErrDuplicateBackend)
	assert.Error(t, reg.Register(Backend{Name: "c"}))

	b, err := reg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "a", b.Name)
	b, err = reg.Select("b")
	require.NoError(t, err)
	assert.Equal(t, "b", b.Name)
	_, err = reg.Select("wayland")
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.Len(t, reg.Backends(), 2)
}

func TestOpenSelectsBackend(t *testing.T) {
	var reg Registry
	conn := newByteConn(t)
	var opened []string
	for _, name := range []string{"x11", "test"} {
		name := name
		require.NoError(t, reg.Register(Backend{Name: name, Open: func(*slog.Logger) (Conn, error) {
			opened = append(opened, name)
			return conn, nil
		}}))
	}

	t.Setenv(BackendEnv, "test")
	c, err := Open(&reg, WithLogger(logx.Discard()))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(&reg, WithLogger(logx.Discard()), WithBackend("x11"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, []string{"test", "x11"}, opened)

	_, err = Open(&reg, WithLogger(logx.Discard()), WithBackend("none"))
	assert.ErrorIs(t, err, ErrNoBackend)
}
