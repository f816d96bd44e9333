package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ferrite-os/ferrite/internal/cli"
	"github.com/ferrite-os/ferrite/internal/image"
	"github.com/ferrite-os/ferrite/internal/log"
)

// Imager is the command that builds and inspects boot image manifests.
//
//	ferrite image pack -o boot.manifest FILE...
//	ferrite image list boot.manifest
func Imager() cli.Command {
	return new(imager)
}

type imager struct {
	output string
}

func (imager) Description() string {
	return "pack or list the kernel's boot image manifest"
}

func (imager) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `image pack -o manifest FILE...
image list manifest

Packs one or more ELF files into a manifest readable by "ferrite boot
--manifest", or lists the entries of an existing one. Each FILE's
basename (without extension), prefixed with /bin/, becomes its manifest
name -- e.g. initproc.elf packs as /bin/initproc. pack writes two files:
manifest (the entry table) and manifest.img (the concatenated blob).`)

	return err
}

func (im *imager) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("image", flag.ExitOnError)
	fs.StringVar(&im.output, "o", "boot.manifest", "manifest output `path`")

	return fs
}

func (im *imager) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("image: expected a subcommand, pack or list")
		return 1
	}

	switch args[0] {
	case "pack":
		fs := flag.NewFlagSet("image pack", flag.ContinueOnError)
		fs.StringVar(&im.output, "o", im.output, "manifest output `path`")

		if err := fs.Parse(args[1:]); err != nil {
			logger.Error("image pack: flags", "err", err)
			return 1
		}

		return im.pack(fs.Args(), logger)
	case "list":
		return im.list(args[1:], out, logger)
	default:
		logger.Error("image: unknown subcommand", "subcommand", args[0])
		return 1
	}
}

func (im *imager) pack(files []string, logger *log.Logger) int {
	if len(files) == 0 {
		logger.Error("image pack: expected at least one FILE")
		return 1
	}

	images := make(map[string][]byte, len(files))
	order := make([]string, 0, len(files))

	for _, fn := range files {
		data, err := os.ReadFile(fn)
		if err != nil {
			logger.Error("image pack: read", "file", fn, "err", err)
			return 1
		}

		name := "/bin/" + trimExt(baseName(fn))
		images[name] = data
		order = append(order, name)

		logger.Debug("packed entry", "name", name, "bytes", len(data))
	}

	blob, manifest := image.Pack(images, order)

	text, err := manifest.MarshalText()
	if err != nil {
		logger.Error("image pack: marshal", "err", err)
		return 1
	}

	if err := os.WriteFile(im.output, text, 0o644); err != nil {
		logger.Error("image pack: write manifest", "err", err)
		return 1
	}

	if err := os.WriteFile(im.output+".img", blob, 0o644); err != nil {
		logger.Error("image pack: write blob", "err", err)
		return 1
	}

	logger.Info("wrote manifest", "path", im.output, "entries", len(manifest.Entries), "blob_bytes", len(blob))

	return 0
}

func (im *imager) list(args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("image list: expected a manifest path")
		return 1
	}

	text, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error("image list: read", "err", err)
		return 1
	}

	var manifest image.Manifest
	if err := manifest.UnmarshalText(text); err != nil {
		logger.Error("image list: decode", "err", err)
		return 1
	}

	entries := append([]image.Entry(nil), manifest.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	for _, e := range entries {
		fmt.Fprintf(out, "%-24s offset=%-10d length=%d\n", e.Name, e.Offset, e.Length)
	}

	return 0
}

func baseName(fn string) string {
	for i := len(fn) - 1; i >= 0; i-- {
		if fn[i] == '/' {
			return fn[i+1:]
		}
	}

	return fn
}

func trimExt(fn string) string {
	for i := len(fn) - 1; i >= 0; i-- {
		if fn[i] == '.' {
			return fn[:i]
		}

		if fn[i] == '/' {
			break
		}
	}

	return fn
}
