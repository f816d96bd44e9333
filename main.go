// Command ferrite is the command-line interface to the kernel: boot the
// simulated machine, or pack/inspect its boot image manifest.
package main

import (
	"context"
	"os"

	"github.com/ferrite-os/ferrite/internal/cli"
	"github.com/ferrite-os/ferrite/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Boot(),
		cmd.Imager(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
