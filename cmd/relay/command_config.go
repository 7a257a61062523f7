package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"relay/internal/config"
)

type ConfigCommand struct {
	stdout io.Writer
	stderr io.Writer
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout: stdout,
		stderr: stderr,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	if len(args) > 0 && args[0] == "set" {
		return c.runSet(args[1:])
	}

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	path, err := config.SettingsPath()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "# %s\n", path)
	encoder := yaml.NewEncoder(c.stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(settings); err != nil {
		return err
	}
	return encoder.Close()
}

func (c *ConfigCommand) runSet(args []string) error {
	fs := flag.NewFlagSet("config set", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return errors.New("usage: relay config set <key> <value>")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if err := settings.Set(rest[0], rest[1]); err != nil {
		return err
	}
	if err := settings.Save(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s = %s\n", rest[0], rest[1])
	return nil
}
