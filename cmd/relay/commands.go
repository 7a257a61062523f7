package main

import (
	"io"
	"os"

	relayclient "relay/internal/client"
	"relay/internal/config"
)

type commandRunner interface {
	Run(args []string) error
}

type clientFactory func() (*relayclient.Client, error)

type commandWiring struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
	runDaemon func() error
	version   string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newRelayClient,
		runDaemon: runDaemonProcess,
		version:   buildVersion(),
	}
}

func newRelayClient() (*relayclient.Client, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	return relayclient.New(&settings)
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"daemon": NewDaemonCommand(wiring.stderr, wiring.runDaemon),
		"config": NewConfigCommand(wiring.stdout, wiring.stderr),
		"ps":     NewPSCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"start":  NewStartCommand(wiring.stdout, wiring.stderr, wiring.newClient),
		"cancel": NewCancelCommand(wiring.stdout, wiring.stderr, wiring.newClient),
	}
}
