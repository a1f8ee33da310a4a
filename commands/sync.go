package commands

import (
	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/executor"
)

// SyncOptions mirror the sync command surface.
type SyncOptions struct {
	DryRun        bool
	Prune         bool
	Update        bool
	Yes           bool
	Force         bool
	Noconfirm     bool
	NoHooks       bool
	Diff          bool
	Target        string
	Format        string
	OutputVersion string
}

// SyncData is the envelope payload for sync --dry-run.
type SyncData struct {
	DryRun       bool     `json:"dry_run" yaml:"dry_run"`
	Prune        bool     `json:"prune" yaml:"prune"`
	Update       bool     `json:"update" yaml:"update"`
	Target       string   `json:"target" yaml:"target"`
	InstallCount int      `json:"install_count" yaml:"install_count"`
	RemoveCount  int      `json:"remove_count" yaml:"remove_count"`
	AdoptCount   int      `json:"adopt_count" yaml:"adopt_count"`
	ToInstall    []string `json:"to_install" yaml:"to_install"`
	ToRemove     []string `json:"to_remove" yaml:"to_remove"`
	ToAdopt      []string `json:"to_adopt" yaml:"to_adopt"`
}

// Sync reconciles the system against the configuration.
func Sync(deps *Deps, opts SyncOptions) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return err
	}

	target, err := parseTarget(deps, opts.Target)
	if err != nil {
		return err
	}

	exec := executor.New(deps.Registry, deps.Store, cfg, deps.Runner)
	exec.Confirm = deps.Confirm

	result, err := exec.Sync(executor.Options{
		DryRun:    opts.DryRun,
		Prune:     opts.Prune,
		Update:    opts.Update,
		Yes:       opts.Yes,
		Force:     opts.Force,
		Noconfirm: opts.Noconfirm,
		Hooks:     !opts.NoHooks,
		Diff:      opts.Diff,
		Target:    target,
	})
	if err != nil {
		return err
	}

	switch {
	case opts.Diff:
		renderDiff(deps, result)
	case opts.DryRun && WantsEnvelope(opts.Format, opts.OutputVersion):
		envelope := NewEnvelope("sync")
		envelope.Data = syncData(opts, result)
		for _, w := range result.Warnings {
			envelope.Warn(w)
		}
		rendered, err := envelope.Render(opts.Format)
		if err != nil {
			return err
		}
		deps.printf("%s", rendered)
	default:
		renderPlan(deps, result, opts.DryRun)
	}
	return nil
}

func syncData(opts SyncOptions, result *executor.Result) SyncData {
	tx := result.Transaction
	return SyncData{
		DryRun:       true,
		Prune:        opts.Prune,
		Update:       opts.Update,
		Target:       targetLabel(opts.Target),
		InstallCount: len(tx.ToInstall),
		RemoveCount:  len(tx.ToPrune),
		AdoptCount:   len(tx.ToAdopt),
		ToInstall:    idStrings(tx.ToInstall),
		ToRemove:     idStrings(tx.ToPrune),
		ToAdopt:      idStrings(tx.ToAdopt),
	}
}

func targetLabel(target string) string {
	if target == "" {
		return "all"
	}
	return target
}

// parseTarget maps a target string to a SyncTarget: empty means everything,
// a defined backend name scopes by backend, anything else is a named target.
func parseTarget(deps *Deps, target string) (core.SyncTarget, error) {
	if target == "" {
		return core.AllTarget(), nil
	}
	if _, ok := deps.Registry.Lookup(target); ok {
		return core.BackendTarget(target), nil
	}
	return core.NamedTarget(target), nil
}

func idStrings(ids []core.PackageId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// renderPlan prints the transaction as a human report.
func renderPlan(deps *Deps, result *executor.Result, dryRun bool) {
	tx := result.Transaction
	if tx.IsEmpty() && len(result.Kept) == 0 {
		deps.printf("Everything in sync, nothing to do.\n")
		return
	}
	verb := "were"
	if dryRun || !result.Applied {
		verb = "would be"
	}
	if len(tx.ToInstall) > 0 {
		deps.printf("Packages %s installed:\n", verb)
		for _, id := range tx.ToInstall {
			deps.printf("  + %s\n", id)
		}
	}
	if len(tx.ToAdopt) > 0 {
		deps.printf("Packages %s adopted:\n", verb)
		for _, id := range tx.ToAdopt {
			deps.printf("  ~ %s\n", id)
		}
	}
	if len(tx.ToPrune) > 0 {
		deps.printf("Packages %s removed:\n", verb)
		for _, id := range tx.ToPrune {
			deps.printf("  - %s\n", id)
		}
	}
	for _, id := range result.Kept {
		deps.printf("  [keep] %s (critical)\n", id)
	}
	for _, warning := range result.Warnings {
		deps.printf("warning: %s\n", warning)
	}
}

// renderDiff prints per-backend adds/removes/adopts with versions from the
// installed snapshot for context, without mutating anything.
func renderDiff(deps *Deps, result *executor.Result) {
	tx := result.Transaction
	if tx.IsEmpty() {
		deps.printf("No differences.\n")
		return
	}
	byBackend := make(map[string][]string)
	record := func(id core.PackageId, marker string) {
		line := marker + " " + id.Name
		if meta, ok := result.Snapshot[id]; ok && meta.Version != "" {
			line += " (" + meta.Version + ")"
		}
		byBackend[id.Backend.Name()] = append(byBackend[id.Backend.Name()], line)
	}
	for _, id := range tx.ToInstall {
		record(id, "+")
	}
	for _, id := range tx.ToAdopt {
		record(id, "~")
	}
	for _, id := range tx.ToPrune {
		record(id, "-")
	}
	for _, backend := range sortedStringKeys(byBackend) {
		deps.printf("[%s]\n", backend)
		for _, line := range byBackend[backend] {
			deps.printf("  %s\n", line)
		}
	}
}
