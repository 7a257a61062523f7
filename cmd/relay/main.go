package main

import (
	"fmt"
	"os"
)

const usageText = `relay supervises coding-agent runs and relays approvals.

Usage:
  relay <command> [flags]

Commands:
  daemon   run the background daemon
  config   print or edit configuration
  ps       list runs
  start    start a run
  cancel   cancel a run
  help     show help

Flags:
  -h, --help   show help

Examples:
  relay daemon
  relay start --repo myrepo --prompt "fix the flaky test"
  relay ps
  relay cancel <run-id>
  relay config set daemon.address 127.0.0.1:7878
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
