package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
)

type CancelCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewCancelCommand(stdout, stderr io.Writer, newClient clientFactory) *CancelCommand {
	return &CancelCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *CancelCommand) Run(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: relay cancel <run-id>")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	run, err := client.CancelRun(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "run %s is %s\n", run.ID, run.State)
	return nil
}
