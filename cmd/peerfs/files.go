package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/WendelHime/peerfs/internal/config"
	"github.com/WendelHime/peerfs/internal/pfs"
	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/schollz/progressbar/v3"
)

var errUsage = errors.New("missing file name")

func parseFileConfig(name string, args []string) (config.FileConfig, error) {
	cfg, err := config.ParseFileConfig(name, args)
	if err != nil {
		return cfg, err
	}
	if len(cfg.Args) == 0 {
		return cfg, errUsage
	}
	return cfg, nil
}

// openFileSystem parses the flags of a file command and opens its root.
func openFileSystem(name string, args []string, filler pfs.Filler) (config.FileConfig, *pfs.FileSystem, error) {
	cfg, err := parseFileConfig(name, args)
	if err != nil {
		return cfg, nil, err
	}
	fs, err := pfs.NewFileSystem(cfg.Root, filler)
	return cfg, fs, err
}

func runCreate(args []string, stdout, _ io.Writer) error {
	cfg, fs, err := openFileSystem("create", args, pfs.ZeroFiller{})
	if err != nil {
		return err
	}
	defer fs.Close()
	for _, name := range cfg.Args {
		if _, err := fs.Create(name, cfg.Size); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created %s (%d bytes, %d blocks)\n", name, cfg.Size, models.BlockCount(cfg.Size))
	}
	return nil
}

func runFill(args []string, stdout, stderr io.Writer) error {
	cfg, err := parseFileConfig("fill", args)
	if err != nil {
		return err
	}
	var filler pfs.Filler = pfs.ZeroFiller{}
	if cfg.Source != "" {
		source, err := os.Open(cfg.Source)
		if err != nil {
			return err
		}
		defer source.Close()
		filler = pfs.NewSourceFiller(source)
	}
	fs, err := pfs.NewFileSystem(cfg.Root, filler)
	if err != nil {
		return err
	}
	defer fs.Close()
	for _, name := range cfg.Args {
		pf, err := openFile(fs, name)
		if err != nil {
			return err
		}
		if pf.IsFull() {
			fmt.Fprintf(stdout, "%s is full\n", name)
			continue
		}

		bar := progressbar.NewOptions64(int64(pf.BlockCount()),
			progressbar.OptionSetDescription("filling "+name),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionShowCount(),
		)
		err = pfs.Fill(pf, func(present, _ uint64) {
			bar.Set64(int64(present))
		})
		bar.Finish()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "filled %s\n", name)
	}
	return nil
}

func runComplete(args []string, stdout, _ io.Writer) error {
	cfg, fs, err := openFileSystem("complete", args, pfs.ZeroFiller{})
	if err != nil {
		return err
	}
	defer fs.Close()
	for _, name := range cfg.Args {
		pf, err := openFile(fs, name)
		if err != nil {
			return err
		}
		if !pf.HasAllBlocks() {
			return fmt.Errorf("%s: %d block ranges missing", name, len(pf.MissingBlocks()))
		}
		if err := pf.Complete(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "completed %s\n", name)
	}
	return nil
}

func runInfo(args []string, stdout, _ io.Writer) error {
	cfg, fs, err := openFileSystem("info", args, pfs.ZeroFiller{})
	if err != nil {
		return err
	}
	defer fs.Close()
	for _, name := range cfg.Args {
		pf, err := openFile(fs, name)
		if err != nil {
			return err
		}
		if pf.IsFull() {
			fmt.Fprintf(stdout, "%s: full, %d bytes\n", name, pf.Size())
			continue
		}
		var present uint64
		for _, r := range pf.Blocks() {
			present += r.To - r.From
		}
		fmt.Fprintf(stdout, "%s: partial, %d bytes, %d/%d blocks %v\n", name, pf.Size(), present, pf.BlockCount(), pf.Blocks())
	}
	return nil
}

func openFile(fs *pfs.FileSystem, name string) (*pfs.PartialFile, error) {
	h, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	return fs.File(h)
}
