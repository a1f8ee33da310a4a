package executor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/manager"
	"github.com/nixval/declarch/resolver"
	"github.com/nixval/declarch/state"
)

// criticalPackages are never pruned regardless of policy; losing one can
// leave the machine unbootable or declarch unable to run.
var criticalPackages = map[string]bool{
	"linux":     true,
	"linux-lts": true,
	"systemd":   true,
	"grub":      true,
	"base":      true,
	"sudo":      true,
	"declarch":  true,
}

// Options control one sync application.
type Options struct {
	DryRun    bool
	Prune     bool
	Update    bool
	Yes       bool
	Force     bool
	Noconfirm bool
	Hooks     bool
	Diff      bool
	Target    core.SyncTarget
}

// Result reports what a sync did (or, for dry runs, would do).
type Result struct {
	Transaction core.Transaction
	Snapshot    core.Snapshot
	Installed   []core.PackageId
	Adopted     []core.PackageId
	Pruned      []core.PackageId
	// Kept lists prune candidates held back by the critical allowlist.
	Kept     []core.PackageId
	Warnings []string
	// Applied is false for dry-run/diff/declined runs.
	Applied bool
}

// Executor wires the reconciliation flow: snapshot, resolve, confirm, apply,
// commit.
type Executor struct {
	registry *manager.Registry
	store    *state.Store
	cfg      *config.MergedConfig
	runner   manager.CommandRunner

	// Confirm gates destructive steps; it defaults to accepting only when
	// Options.Yes is set.
	Confirm func(prompt string) bool
}

// New builds an executor. runner is used for hook commands; nil means the
// real command runner.
func New(registry *manager.Registry, store *state.Store, cfg *config.MergedConfig, runner manager.CommandRunner) *Executor {
	if runner == nil {
		runner = manager.NewDefaultCommandRunner()
	}
	return &Executor{registry: registry, store: store, cfg: cfg, runner: runner}
}

// involvedBackends returns the backends a sync touches: everything with
// desired packages plus everything recorded in state, scoped to the target.
func (e *Executor) involvedBackends(st *state.State, target core.SyncTarget) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] && target.IncludesBackend(core.NewBackend(name)) {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, backend := range e.cfg.Backends() {
		add(backend.Name())
	}
	for _, ps := range st.Packages {
		add(ps.Backend)
	}
	sort.Strings(names)
	return names
}

// Sync runs the full reconciliation. Ordering within one sync: pre-sync
// hooks, snapshot, updates, resolution, confirm, lock, adoption, installs,
// removes, state commit, post hooks.
func (e *Executor) Sync(opts Options) (*Result, error) {
	result := &Result{}

	if opts.Hooks && !opts.DryRun && !opts.Diff {
		if err := runActions(e.runner, e.cfg, config.PhasePreSync, ""); err != nil {
			return result, err
		}
	}
	if err := checkInterrupt(); err != nil {
		return result, err
	}

	st, err := e.store.Load()
	if err != nil {
		return result, err
	}

	managers := e.registry.Managers(e.involvedBackends(st, opts.Target))
	e.configureManagers(managers, opts)

	snapshot, warnings, err := BuildSnapshot(managers)
	if err != nil {
		return result, err
	}
	result.Snapshot = snapshot
	result.Warnings = append(result.Warnings, warnings...)

	if opts.Update && !opts.DryRun && !opts.Diff {
		if err := e.runUpdates(managers); err != nil {
			return result, err
		}
		if opts.Hooks {
			if err := runActions(e.runner, e.cfg, config.PhaseOnUpdate, ""); err != nil {
				return result, err
			}
		}
	}

	plan, err := resolver.Resolve(resolver.Request{
		Config:   e.cfg,
		State:    st,
		Snapshot: snapshot,
		Target:   opts.Target,
		Prune:    opts.Prune,
	})
	if err != nil {
		return result, err
	}
	result.Transaction = plan.Transaction

	// Critical names are withheld from pruning with a [keep] marker.
	kept, pruneable := splitCritical(plan.Transaction.ToPrune)
	result.Kept = kept
	result.Transaction.ToPrune = pruneable

	if opts.DryRun || opts.Diff {
		return result, nil
	}
	if result.Transaction.IsEmpty() {
		result.Applied = true
		return result, nil
	}

	if !opts.Yes {
		confirm := e.Confirm
		if confirm == nil {
			return result, errors.New("confirmation required: re-run with --yes or interactively")
		}
		if !confirm(describeTransaction(&result.Transaction)) {
			logrus.Info("sync cancelled by user")
			return result, nil
		}
	}

	lock, err := e.store.Acquire()
	if err != nil {
		return result, err
	}
	defer lock.Release()

	// Reload under the lock: another process may have committed since the
	// optimistic read above.
	st, err = e.store.Load()
	if err != nil {
		return result, err
	}

	e.adopt(st, plan, result)
	installErr := e.installAll(st, plan, opts, result)
	var removeErr error
	if opts.Prune && installErr == nil {
		removeErr = e.removeAll(st, opts, result)
	}

	state.Touch(st)
	if err := e.store.Save(st); err != nil {
		return result, err
	}
	result.Applied = true

	if opts.Hooks {
		if err := runActions(e.runner, e.cfg, config.PhasePostSync, ""); err != nil {
			return result, err
		}
		outcome := config.PhaseOnSuccess
		if installErr != nil || removeErr != nil {
			outcome = config.PhaseOnFailure
		}
		if err := runActions(e.runner, e.cfg, outcome, ""); err != nil {
			return result, err
		}
	}

	if installErr != nil {
		return result, installErr
	}
	return result, removeErr
}

func (e *Executor) configureManagers(managers map[string]*manager.GenericManager, opts Options) {
	for _, mgr := range managers {
		mgr.SetNoconfirm(opts.Noconfirm || opts.Yes)
		mgr.SetInteractive(!opts.Noconfirm && !opts.Yes)
	}
}

// runUpdates refreshes each involved backend's database before any install.
// Update failures abort: installing against a stale or half-updated database
// is how partial upgrades break systems.
func (e *Executor) runUpdates(managers map[string]*manager.GenericManager) error {
	names := make([]string, 0, len(managers))
	for name := range managers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mgr := managers[name]
		if !mgr.IsAvailable() {
			continue
		}
		if err := checkInterrupt(); err != nil {
			return err
		}
		if err := mgr.Update(); err != nil {
			if errors.Is(err, manager.ErrOperationNotSupported) {
				continue
			}
			return errors.Wrapf(err, "updating backend '%s'", name)
		}
	}
	return nil
}

// adopt claims packages already present on the system, persisting the
// variant the matcher resolved when it differs from the declared name.
func (e *Executor) adopt(st *state.State, plan *resolver.Plan, result *Result) {
	for _, id := range plan.Transaction.ToAdopt {
		match := plan.Matches[id]
		meta := result.Snapshot[match.Installed]
		ps := state.PackageState{
			Backend:       id.Backend.Name(),
			ConfigName:    id.Name,
			ProvidesName:  id.Name,
			InstalledAt:   time.Now().UTC(),
			Version:       meta.Version,
			InstallReason: state.InstallReasonAdopted,
			SourceModule:  firstSource(e.cfg, id),
		}
		if match.Variant {
			ps.ActualPackageName = match.Installed.Name
		}
		st.Insert(ps)
		result.Adopted = append(result.Adopted, id)
	}
}

// installAll groups installs per backend, deduplicates and sorts the names,
// and records state rows only for backends whose install succeeded.
func (e *Executor) installAll(st *state.State, plan *resolver.Plan, opts Options, result *Result) error {
	grouped := groupByBackend(plan.Transaction.ToInstall)
	backends := sortedKeys(grouped)

	var firstErr error
	for _, backend := range backends {
		if err := checkInterrupt(); err != nil {
			return err
		}
		ids := grouped[backend]
		names := uniqueSortedNames(ids)

		mgr, err := e.registry.Manager(backend)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("backend '%s': %v", backend, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		mgr.SetNoconfirm(opts.Noconfirm || opts.Yes)
		mgr.SetInteractive(!opts.Noconfirm && !opts.Yes)

		if opts.Hooks {
			for _, id := range ids {
				if err := runActions(e.runner, e.cfg, config.PhasePreInstall, id.Name); err != nil {
					return err
				}
			}
		}

		if err := mgr.Install(names); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("installing on '%s' failed: %v", backend, err))
			logrus.WithField("backend", backend).WithError(err).Error("install failed")
			if firstErr == nil {
				firstErr = err
			}
			// Do not mark this backend's packages as installed.
			continue
		}

		for _, id := range ids {
			st.Insert(state.PackageState{
				Backend:      id.Backend.Name(),
				ConfigName:   id.Name,
				ProvidesName: id.Name,
				InstalledAt:  time.Now().UTC(),
				SourceModule: firstSource(e.cfg, id),
			})
			result.Installed = append(result.Installed, id)
		}

		if opts.Hooks {
			for _, id := range ids {
				if err := runActions(e.runner, e.cfg, config.PhasePostInstall, id.Name); err != nil {
					return err
				}
			}
		}
	}
	return firstErr
}

// removeAll prunes per backend and drops state rows on success.
func (e *Executor) removeAll(st *state.State, opts Options, result *Result) error {
	grouped := groupByBackend(result.Transaction.ToPrune)
	backends := sortedKeys(grouped)

	var firstErr error
	for _, backend := range backends {
		if err := checkInterrupt(); err != nil {
			return err
		}
		ids := grouped[backend]
		names := uniqueSortedNames(ids)

		mgr, err := e.registry.Manager(backend)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("backend '%s': %v", backend, err))
			continue
		}
		mgr.SetNoconfirm(opts.Noconfirm || opts.Yes)
		mgr.SetInteractive(!opts.Noconfirm && !opts.Yes)

		if opts.Hooks {
			for _, id := range ids {
				if err := runActions(e.runner, e.cfg, config.PhasePreRemove, id.Name); err != nil {
					return err
				}
			}
		}

		if err := mgr.Remove(names); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("removing on '%s' failed: %v", backend, err))
			logrus.WithField("backend", backend).WithError(err).Error("remove failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, id := range ids {
			st.Remove(id.Backend.Name(), id.Name)
			result.Pruned = append(result.Pruned, id)
		}

		if opts.Hooks {
			for _, id := range ids {
				if err := runActions(e.runner, e.cfg, config.PhasePostRemove, id.Name); err != nil {
					return err
				}
			}
		}
	}
	return firstErr
}

func splitCritical(ids []core.PackageId) (kept, pruneable []core.PackageId) {
	for _, id := range ids {
		if criticalPackages[id.Name] {
			kept = append(kept, id)
			continue
		}
		pruneable = append(pruneable, id)
	}
	return kept, pruneable
}

func groupByBackend(ids []core.PackageId) map[string][]core.PackageId {
	grouped := make(map[string][]core.PackageId)
	for _, id := range ids {
		grouped[id.Backend.Name()] = append(grouped[id.Backend.Name()], id)
	}
	return grouped
}

func sortedKeys(m map[string][]core.PackageId) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueSortedNames(ids []core.PackageId) []string {
	seen := make(map[string]bool, len(ids))
	var names []string
	for _, id := range ids {
		if !seen[id.Name] {
			seen[id.Name] = true
			names = append(names, id.Name)
		}
	}
	sort.Strings(names)
	return names
}

func firstSource(cfg *config.MergedConfig, id core.PackageId) string {
	if sources := cfg.Sources(id); len(sources) > 0 {
		return sources[0]
	}
	return ""
}

func describeTransaction(tx *core.Transaction) string {
	var parts []string
	if n := len(tx.ToInstall); n > 0 {
		parts = append(parts, fmt.Sprintf("install %d", n))
	}
	if n := len(tx.ToAdopt); n > 0 {
		parts = append(parts, fmt.Sprintf("adopt %d", n))
	}
	if n := len(tx.ToPrune); n > 0 {
		parts = append(parts, fmt.Sprintf("remove %d", n))
	}
	if len(parts) == 0 {
		return "Nothing to do. Proceed?"
	}
	return "About to " + strings.Join(parts, ", ") + " package(s). Proceed?"
}
