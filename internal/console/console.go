// Package console bridges the firmware's simulated UART to the actual
// host terminal, adapted directly from elsie's internal/tty.Console:
// the keyboard/display goroutine pair there becomes a UART rx/tx
// goroutine pair here, same raw-mode setup via golang.org/x/term and
// golang.org/x/sys/unix. The caller restores the terminal by calling the
// function WithTerminal returns.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/ferrite-os/ferrite/internal/firmware"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal, in which
// case asynchronous I/O is not supported by the console.
var ErrNoTTY error = errors.New("console: not a TTY")

// Console adapts a firmware.UART16550 to Unix terminal I/O: bytes typed
// at the terminal are fed to the UART's receive queue, and bytes the
// UART transmits are written to the terminal.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	rxCh chan byte
}

// WithTerminal creates a Console wired to uart using the process's
// standard streams. The returned context is cancelled when reading the
// terminal fails or parent is cancelled, which stops the bridge
// goroutines; the returned function restores the terminal's saved state.
func WithTerminal(parent context.Context, uart *firmware.UART16550) (context.Context, *Console, context.CancelFunc, error) {
	ctx, cause := context.WithCancelCause(parent)

	cons, err := newConsole(os.Stdin, os.Stdout)
	if err != nil {
		cause(err)
		return ctx, nil, func() { cause(err) }, err
	}

	uart.Output = func(b byte) {
		_, _ = fmt.Fprintf(cons.out, "%c", b)
	}

	go cons.readTerminal(ctx, cause)
	go cons.feedUART(ctx, uart)

	return ctx, cons, cons.restore, nil
}

func newConsole(sin, sout *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	cons := &Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sin, ""),
		state: saved,
		rxCh:  make(chan byte, 1),
	}

	if err := cons.setTerminalParams(1, 0); err != nil {
		return nil, err
	}

	return cons, nil
}

// Writer returns an io.Writer that writes to the terminal, for
// diagnostics that should appear alongside UART output.
func (c *Console) Writer() io.Writer { return c.out }

func (c *Console) restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads bytes from the terminal and forwards them to rxCh
// until ctx is cancelled.
func (c *Console) readTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			cancel(err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.rxCh <- b:
		}
	}
}

// feedUART drains rxCh into the UART's receive queue until ctx is
// cancelled.
func (c *Console) feedUART(ctx context.Context, uart *firmware.UART16550) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.rxCh:
			uart.Feed(b)
		}
	}
}
