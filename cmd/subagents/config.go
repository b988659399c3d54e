package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/aristath/subagents/internal/config"
)

// configPath returns the file edited by the config commands.
func configPath(global bool) (string, error) {
	if global {
		return config.GlobalPath()
	}
	return config.ProjectPath(), nil
}

func runConfigEdit(command string, out io.Writer) error {
	path, err := configPath(*configGlobal)
	if err != nil {
		return err
	}
	switch command {
	case configInitCmd.FullCommand():
		return initConfig(path, *configInitForce, out)
	case configSetCmd.FullCommand():
		return setConfig(path, *configSetKey, *configSetValue, out)
	}
	return nil
}

// initConfig writes the defaults to path unless a file is already there.
func initConfig(path string, force bool, out io.Writer) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

// setConfig changes one key in the file at path.
func setConfig(path, key, value string, out io.Writer) error {
	if _, err := config.Update(path, key, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %s (%s)\n", key, value, path)
	return nil
}

// showConfig prints the effective configuration after files, environment
// and flags.
func showConfig(cfg *config.Config, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
