package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	relayclient "relay/internal/client"
)

type StartCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewStartCommand(stdout, stderr io.Writer, newClient clientFactory) *StartCommand {
	return &StartCommand{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newClient,
	}
}

func (c *StartCommand) Run(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	repo := fs.String("repo", "", "repository identifier")
	prompt := fs.String("prompt", "", "task prompt for the agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" && fs.NArg() > 0 {
		joined := strings.Join(fs.Args(), " ")
		prompt = &joined
	}
	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}
	if strings.TrimSpace(*prompt) == "" {
		return errors.New("--prompt is required")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	run, err := client.CreateRun(ctx, relayclient.CreateRunRequest{
		RepoID: *repo,
		Prompt: *prompt,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "started run %s (%s)\n", run.ID, run.State)
	return nil
}
