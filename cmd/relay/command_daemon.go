package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"relay/internal/config"
	"relay/internal/daemon"
	"relay/internal/logging"
	"relay/internal/store"
)

type DaemonCommand struct {
	stderr    io.Writer
	runDaemon func() error
}

func NewDaemonCommand(stderr io.Writer, runDaemon func() error) *DaemonCommand {
	return &DaemonCommand{
		stderr:    stderr,
		runDaemon: runDaemon,
	}
}

func (c *DaemonCommand) Run(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.runDaemon()
}

func runDaemonProcess() error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(settings.LogLevel()))

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	apiKey := settings.Daemon.APIKey
	if apiKey == "" {
		keyPath, err := config.APIKeyPath()
		if err != nil {
			return err
		}
		apiKey, err = daemon.LoadOrCreateAPIKey(keyPath)
		if err != nil {
			return err
		}
	}

	dbPath, err := config.DBPath()
	if err != nil {
		return err
	}
	repo, err := store.OpenRepository(dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	starter := &daemon.ExecAgentStarter{
		Command: settings.Agent.Command,
		Args:    settings.Agent.Args,
		Logger:  logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.New(&settings, apiKey, buildVersion(), repo, starter, logger).Run(ctx)
}
