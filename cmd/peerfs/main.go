package main

import (
	"fmt"
	"io"
	"os"
)

const usage = `usage: peerfs <command> [flags] [args]

commands:
  run                  run a peer
  tracker              run a seed tracker
  create -size N NAME  create an empty partial file
  fill [-source F] NAME  fill the missing blocks of a partial file
  complete NAME        remove the footer of a fully filled file
  info NAME...         show the blocks of partial files
`

type command func(args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"run":      runPeer,
	"tracker":  runTracker,
	"create":   runCreate,
	"fill":     runFill,
	"complete": runComplete,
	"info":     runInfo,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err := cmd(os.Args[2:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "peerfs %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
