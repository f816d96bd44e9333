// Package console_test tries to test consoles.
//
// The test is skipped when stdin is not a terminal (ErrNoTTY). Notably,
// this includes when run with "go test" because it redirects tests'
// standard input/output streams. You can test it by building a test
// binary and running it directly:
//
//	$ go test -c && ./console.test
package console_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferrite-os/ferrite/internal/console"
	"github.com/ferrite-os/ferrite/internal/firmware"
)

func TestWithTerminal(tt *testing.T) {
	uart := firmware.NewUART16550(nil)

	ctx, cons, cancel, err := console.WithTerminal(context.Background(), uart)
	if errors.Is(err, console.ErrNoTTY) {
		tt.Skip("stdin is not a terminal")
	}

	if err != nil {
		tt.Fatalf("with terminal: %s", err)
	}

	defer cancel()

	select {
	case <-ctx.Done():
		tt.Fatalf("context done early: %s", context.Cause(ctx))
	case <-time.After(10 * time.Millisecond):
	}

	if cons.Writer() == nil {
		tt.Errorf("want a non-nil writer")
	}
}
