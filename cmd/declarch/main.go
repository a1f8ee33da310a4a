// Command declarch is the CLI entry point: a thin wrapper that parses flags
// and invokes the core operations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/nixval/declarch/commands"
	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/executor"
)

var version = "dev"

func main() {
	executor.InstallSignalHandler()

	app := &cli.App{
		Name:    "declarch",
		Usage:   "declarative meta package manager",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the root config file"},
			&cli.StringFlag{Name: "profile", Usage: "activate a profile block"},
			&cli.StringFlag{Name: "host", Usage: "activate a host block"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Before: func(c *cli.Context) error {
			logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			syncCommand(),
			lintCommand(),
			searchCommand(),
			infoCommand(),
			switchCommand(),
			installCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var interrupted *executor.InterruptedError
		if errors.As(err, &interrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func depsFrom(c *cli.Context) *commands.Deps {
	deps := commands.DefaultDeps()
	if path := c.String("config"); path != "" {
		deps.ConfigPath = path
	}
	deps.Selectors = config.Selectors{
		Profile: c.String("profile"),
		Host:    c.String("host"),
	}
	return deps
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "format", Value: commands.FormatText, Usage: "output format: text, json or yaml"},
		&cli.StringFlag{Name: "output-version", Usage: "machine output contract version (v1)"},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "reconcile the system with the configuration",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "plan only, mutate nothing"},
			&cli.BoolFlag{Name: "prune", Usage: "remove packages no longer declared"},
			&cli.BoolFlag{Name: "update", Usage: "refresh backend databases first"},
			&cli.BoolFlag{Name: "diff", Usage: "show per-backend differences and exit"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation"},
			&cli.BoolFlag{Name: "noconfirm", Usage: "pass non-interactive flags to backends"},
			&cli.BoolFlag{Name: "no-hooks", Usage: "skip lifecycle hooks"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "restrict to a backend, package or module"},
		}, outputFlags()...),
		Action: func(c *cli.Context) error {
			return commands.Sync(depsFrom(c), commands.SyncOptions{
				DryRun:        c.Bool("dry-run"),
				Prune:         c.Bool("prune"),
				Update:        c.Bool("update"),
				Diff:          c.Bool("diff"),
				Yes:           c.Bool("yes"),
				Noconfirm:     c.Bool("noconfirm"),
				NoHooks:       c.Bool("no-hooks"),
				Target:        c.String("target"),
				Format:        c.String("format"),
				OutputVersion: c.String("output-version"),
			})
		},
	}
}

func lintCommand() *cli.Command {
	return &cli.Command{
		Name:  "lint",
		Usage: "check the configuration tree and state store",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "mode", Value: commands.LintAll, Usage: "all, validate, duplicates or conflicts"},
			&cli.BoolFlag{Name: "fix", Usage: "sort and dedupe imports blocks"},
			&cli.BoolFlag{Name: "repair-state", Usage: "sanitize the state store"},
			&cli.StringFlag{Name: "state-rm", Usage: "remove one state entry by key"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation for state mutations"},
		}, outputFlags()...),
		Action: func(c *cli.Context) error {
			return commands.Lint(depsFrom(c), commands.LintOptions{
				Mode:          c.String("mode"),
				Fix:           c.Bool("fix"),
				RepairState:   c.Bool("repair-state"),
				StateRm:       c.String("state-rm"),
				Yes:           c.Bool("yes"),
				Format:        c.String("format"),
				OutputVersion: c.String("output-version"),
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search packages across backends",
		ArgsUsage: "<query>",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{Name: "backend", Aliases: []string{"b"}, Usage: "restrict to specific backends"},
			&cli.StringFlag{Name: "limit", Usage: "per-backend result cap, a number or 'all'"},
			&cli.BoolFlag{Name: "local", Usage: "search installed packages"},
		}, outputFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("search needs a query")
			}
			return commands.Search(depsFrom(c), commands.SearchOptions{
				Query:         c.Args().First(),
				Backends:      c.StringSlice("backend"),
				Limit:         c.String("limit"),
				Local:         c.Bool("local"),
				Format:        c.String("format"),
				OutputVersion: c.String("output-version"),
			})
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "show configuration and state diagnostics",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "doctor", Usage: "check backend binaries and OS fit"},
			&cli.BoolFlag{Name: "plan", Usage: "show the current resolution plan"},
			&cli.StringFlag{Name: "list", Usage: "state view: orphans, synced or unmanaged"},
		}, outputFlags()...),
		Action: func(c *cli.Context) error {
			return commands.Info(depsFrom(c), commands.InfoOptions{
				Doctor:        c.Bool("doctor"),
				Plan:          c.Bool("plan"),
				List:          c.String("list"),
				Format:        c.String("format"),
				OutputVersion: c.String("output-version"),
			})
		},
	}
}

func switchCommand() *cli.Command {
	return &cli.Command{
		Name:      "switch",
		Usage:     "replace one installed package with another",
		ArgsUsage: "<old> <new>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "backend to switch on"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("switch needs exactly two package names")
			}
			return commands.Switch(depsFrom(c), commands.SwitchOptions{
				Old:     c.Args().Get(0),
				New:     c.Args().Get(1),
				Backend: c.String("backend"),
				Yes:     c.Bool("yes"),
			})
		},
	}
}

func installCommand() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Aliases:   []string{"i"},
		Usage:     "declare packages in the config and sync",
		ArgsUsage: "<backend:name>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "module", Aliases: []string{"m"}, Usage: "declare in modules/<name>.kdl"},
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "default backend for bare names"},
			&cli.BoolFlag{Name: "no-sync", Usage: "edit the config only"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip confirmation"},
			&cli.BoolFlag{Name: "noconfirm", Usage: "pass non-interactive flags to backends"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("install needs at least one package")
			}
			return commands.Install(depsFrom(c), commands.InstallOptions{
				Packages:       c.Args().Slice(),
				Module:         c.String("module"),
				DefaultBackend: c.String("backend"),
				NoSync:         c.Bool("no-sync"),
				Yes:            c.Bool("yes"),
				Noconfirm:      c.Bool("noconfirm"),
			})
		},
	}
}
