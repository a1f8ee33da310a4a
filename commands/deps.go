package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/manager"
	"github.com/nixval/declarch/state"
)

// Deps carries the collaborators every command consumes. Tests swap in an
// in-memory filesystem and a mock command runner.
type Deps struct {
	Fs       afero.Fs
	Runner   manager.CommandRunner
	Registry *manager.Registry
	Store    *state.Store
	Out      io.Writer
	Confirm  func(prompt string) bool

	// ConfigPath is the root config file; empty means the default location.
	ConfigPath string
	// Selectors filter profile/host blocks while loading.
	Selectors config.Selectors
}

// DefaultDeps wires the real filesystem, command runner, global registry and
// default state directory.
func DefaultDeps() *Deps {
	fs := afero.NewOsFs()
	return &Deps{
		Fs:         fs,
		Runner:     manager.NewDefaultCommandRunner(),
		Registry:   manager.Global(),
		Store:      state.NewStore(fs, state.DefaultDir()),
		Out:        os.Stdout,
		Confirm:    terminalConfirm,
		ConfigPath: config.RootConfigPath(),
	}
}

func terminalConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (d *Deps) configPath() string {
	if d.ConfigPath != "" {
		return d.ConfigPath
	}
	return config.RootConfigPath()
}

// loadConfig loads and merges the configuration tree, then feeds backend
// imports and runtime options into the registry.
func (d *Deps) loadConfig() (*config.MergedConfig, error) {
	loader := config.NewLoader(d.Fs)
	loader.SetSelectors(d.Selectors)
	merged, err := loader.Load(d.configPath())
	if err != nil {
		return nil, err
	}
	if err := d.registerBackendImports(merged); err != nil {
		return nil, err
	}
	d.Registry.SetOverrides(merged.BackendOptions)
	return merged, nil
}

// registerBackendImports loads user backend definition files in resolution
// order: the global backends file first, then explicit imports, so explicit
// imports override on name collisions.
func (d *Deps) registerBackendImports(merged *config.MergedConfig) error {
	paths := []string{}
	if ok, _ := afero.Exists(d.Fs, config.GlobalBackendsPath()); ok {
		paths = append(paths, config.GlobalBackendsPath())
	}
	paths = append(paths, merged.BackendImports...)

	for _, path := range paths {
		raw, err := afero.ReadFile(d.Fs, path)
		if err != nil {
			return err
		}
		configs, err := manager.ParseBackendDefinitions(string(raw), path)
		if err != nil {
			return err
		}
		if err := d.Registry.RegisterAll(configs); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deps) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d *Deps) printf(format string, args ...interface{}) {
	fmt.Fprintf(d.out(), format, args...)
}
