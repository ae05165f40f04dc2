// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || openbsd || netbsd

// Command nydemo runs a dispatch loop against the loopback display
// server. A worker goroutine reports progress through a threaded
// dispatcher while the server resizes the window, offers clipboard data
// and finally closes the window.
//
// The NY_BACKEND and NY_LOG_LEVEL variables are read from the
// environment and from a .env file in the working directory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nyorain/ny/app"
	"github.com/nyorain/ny/app/loopback"
	"github.com/nyorain/ny/internal/logx"
	"github.com/nyorain/ny/io/dispatch"
	"github.com/nyorain/ny/io/event"
	"github.com/nyorain/ny/io/transfer"
	"golang.org/x/sync/errgroup"
)

const progressKind event.Kind = 1000

var (
	steps = flag.Int("steps", 1000, "number of progress events the worker dispatches")
	delay = flag.Duration("delay", 50*time.Millisecond, "pause between server messages")
)

func main() {
	flag.Parse()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "nydemo: %v\n", err)
		os.Exit(2)
	}
	log := logx.New(os.Stderr, logx.ParseLevel(os.Getenv("NY_LOG_LEVEL")))
	if err := run(log); err != nil {
		log.Error("nydemo failed", logx.Err(err))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	if err := event.Register(progressKind, "progress", true); err != nil {
		return err
	}
	servers := make(chan *loopback.Server, 1)
	var reg app.Registry
	if err := reg.Register(loopback.Backend(func(s *loopback.Server) { servers <- s })); err != nil {
		return err
	}
	ctx, err := app.Open(&reg, app.WithLogger(log))
	if err != nil {
		return err
	}
	defer ctx.Close()
	conn, ok := ctx.Conn().(*loopback.Conn)
	if !ok {
		return fmt.Errorf("nydemo: backend %T is not supported", ctx.Conn())
	}
	server := <-servers

	d, err := dispatch.NewThreaded(ctx.Router(), dispatch.WithLogger(log))
	if err != nil {
		return err
	}
	var ctl dispatch.Control
	w := &window{log: log, ctl: &ctl}
	tag := ctx.Router().Attach(w)
	conn.Bind(1, tag)

	var g errgroup.Group
	g.Go(func() error {
		return ctx.ThreadedLoop(d, &ctl)
	})
	g.Go(func() error {
		for i := 1; i <= *steps; i++ {
			e := event.New(tag, event.CustomEvent{Type: progressKind, Value: i})
			if err := d.Dispatch(e); err != nil {
				return err
			}
		}
		d.WaitIdle().Wait()
		return script(server, *delay)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("nydemo: done",
		slog.Int("progress_events", w.progress), slog.Int("steps", *steps), slog.String("clipboard", w.clipboard))
	return nil
}

// script plays the display server side of the demo.
func script(s *loopback.Server, delay time.Duration) error {
	for _, size := range []int{320, 480, 640} {
		if err := s.Resize(1, size, size*3/4); err != nil {
			return err
		}
	}
	for _, r := range "hi" {
		if err := s.Key(1, uint32(r), r, true); err != nil {
			return err
		}
	}
	src := transfer.NewMemory()
	if err := src.SetValue(transfer.Text, "hello from the loopback server"); err != nil {
		return err
	}
	if err := s.Offer(transfer.Clipboard, 1, "nydemo-server", src, true); err != nil {
		return err
	}
	time.Sleep(delay)
	return s.CloseWindow(1)
}

// window logs its events and stops the loop when it is closed.
type window struct {
	log *slog.Logger
	ctl *dispatch.Control

	progress  int
	clipboard string
}

func (w *window) Event(e *event.Event) bool {
	switch p := e.Payload.(type) {
	case event.CustomEvent:
		if e.Kind == progressKind {
			w.progress++
			w.log.Debug("progress", slog.Any("step", p.Value))
		}
	case event.ResizeEvent:
		w.log.Info("resize", slog.Int("width", p.Width), slog.Int("height", p.Height))
	case event.KeyEvent:
		w.log.Info("key", slog.String("rune", string(p.Rune)), slog.Bool("pressed", p.Pressed))
	case event.DataOfferEvent:
		s, ok := p.Offer.(*transfer.Session)
		if !ok {
			return false
		}
		w.log.Info("clipboard offer", slog.String("owner", s.Owner()), logx.Stringer("state", s.State()))
		s.OnFormat(func(f transfer.Format) {
			if f.Equal(transfer.Text) {
				s.RequestData(f, w.paste)
			}
		})
	case event.CloseEvent:
		w.log.Info("close")
		w.ctl.Stop()
	default:
		return false
	}
	return true
}

func (w *window) paste(data []byte, ok bool) {
	if !ok {
		w.log.Warn("clipboard: no data")
		return
	}
	v, err := transfer.Decode(data, transfer.Text)
	if err != nil {
		w.log.Warn("clipboard: decode", logx.Err(err))
		return
	}
	w.clipboard = v.(string)
	w.log.Info("clipboard", slog.String("text", w.clipboard))
}
