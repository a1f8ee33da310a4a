// Package resolver plans reconciliation: it compares the desired package set
// against the installed snapshot and the recorded state and produces the
// transaction the executor applies. Resolution never mutates state or the
// system.
package resolver

import (
	"strings"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/state"
)

// Request carries the resolver inputs.
type Request struct {
	Config   *config.MergedConfig
	State    *state.State
	Snapshot core.Snapshot
	Target   core.SyncTarget
	// Prune enables orphan detection; without it ToPrune stays empty.
	Prune bool
}

// Match records how an adopted package was found in the snapshot, so the
// executor can persist the variant that actually satisfies it.
type Match struct {
	// Installed is the snapshot id the desired package resolved to.
	Installed core.PackageId
	// Variant is set when the match came through the matcher rather than an
	// exact id hit.
	Variant bool
}

// Plan is a Transaction plus the adoption match details the executor needs.
type Plan struct {
	Transaction core.Transaction
	Matches     map[core.PackageId]Match
}

// Resolve produces the reconciliation plan.
//
// Each desired package that is present on the system but absent from state
// is adopted; desired packages absent from the system are installed; state
// entries no longer desired become prune candidates when pruning is enabled.
// Protected and excluded names are never pruned.
func Resolve(req Request) (*Plan, error) {
	if err := checkConflicts(req.Config, req.Target); err != nil {
		return nil, err
	}

	matcher := core.NewPackageMatcher()
	plan := &Plan{Matches: make(map[core.PackageId]Match)}

	desired, err := filterTarget(req.Config, req.Target)
	if err != nil {
		return nil, err
	}

	desiredKeys := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredKeys[state.Key(id.Backend.Name(), id.Name)] = true

		if req.Config.IsExcluded(id.Name) {
			continue
		}
		installed, found := matcher.FindPackage(id, req.Snapshot)
		if !found {
			// Not on the system: install. A stale state row (recorded but
			// vanished) also lands here and gets reinstalled.
			plan.Transaction.ToInstall = append(plan.Transaction.ToInstall, id)
			continue
		}
		if _, inState := req.State.Get(id.Backend.Name(), id.Name); inState {
			continue
		}
		plan.Transaction.ToAdopt = append(plan.Transaction.ToAdopt, id)
		plan.Matches[id] = Match{Installed: installed, Variant: installed != id}
	}

	if req.Prune {
		for _, key := range req.State.Keys() {
			ps := req.State.Packages[key]
			if desiredKeys[key] {
				continue
			}
			backend := core.NewBackend(ps.Backend)
			if !req.Target.IncludesBackend(backend) {
				continue
			}
			if req.Target.Kind == core.TargetNamed && ps.ConfigName != req.Target.Name {
				continue
			}
			if req.Config.IsProtected(ps.ConfigName) || req.Config.IsExcluded(ps.ConfigName) {
				continue
			}
			plan.Transaction.ToPrune = append(plan.Transaction.ToPrune, core.NewPackageId(ps.Backend, ps.ConfigName))
		}
	}

	plan.Transaction.Sort()
	return plan, nil
}

// filterTarget narrows the desired set to the sync target. A named target
// matches a package name or a substring of a declaring module path; a target
// matching nothing is an error.
func filterTarget(cfg *config.MergedConfig, target core.SyncTarget) ([]core.PackageId, error) {
	all := cfg.PackageIds()
	switch target.Kind {
	case core.TargetAll:
		return all, nil
	case core.TargetBackend:
		var filtered []core.PackageId
		for _, id := range all {
			if id.Backend == target.Backend {
				filtered = append(filtered, id)
			}
		}
		return filtered, nil
	case core.TargetNamed:
		var filtered []core.PackageId
		for _, id := range all {
			if id.Name == target.Name || sourceMatches(cfg.Sources(id), target.Name) {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			return nil, &core.TargetNotFoundError{Target: target.Name}
		}
		return filtered, nil
	}
	return all, nil
}

func sourceMatches(sources []string, target string) bool {
	for _, source := range sources {
		if strings.Contains(source, target) {
			return true
		}
	}
	return false
}

// checkConflicts fails when more than one member of a declared conflict set
// is desired within the target scope.
func checkConflicts(cfg *config.MergedConfig, target core.SyncTarget) error {
	desiredNames := make(map[string]bool)
	for _, id := range cfg.PackageIds() {
		if target.IncludesBackend(id.Backend) {
			desiredNames[id.Name] = true
		}
	}
	for _, rule := range cfg.Conflicts {
		var colliding []string
		for _, name := range rule.Packages {
			if desiredNames[name] {
				colliding = append(colliding, name)
			}
		}
		if len(colliding) > 1 {
			return config.NewConfigError(
				"conflicting packages declared together: %s", strings.Join(colliding, ", "))
		}
	}
	return nil
}
