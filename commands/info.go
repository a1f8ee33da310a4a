package commands

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/executor"
	"github.com/nixval/declarch/resolver"
	"github.com/nixval/declarch/state"
)

// Info list views.
const (
	ListOrphans   = "orphans"
	ListSynced    = "synced"
	ListUnmanaged = "unmanaged"
)

// InfoOptions mirror the info command surface.
type InfoOptions struct {
	Doctor        bool
	Plan          bool
	List          string
	Format        string
	OutputVersion string
}

// DoctorCheck is one backend health row.
type DoctorCheck struct {
	Backend   string `json:"backend" yaml:"backend"`
	Defined   bool   `json:"defined" yaml:"defined"`
	Available bool   `json:"available" yaml:"available"`
	Fallback  string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// InfoData is the envelope payload for info.
type InfoData struct {
	ConfigPath    string        `json:"config_path" yaml:"config_path"`
	StatePath     string        `json:"state_path" yaml:"state_path"`
	PackageCount  int           `json:"package_count" yaml:"package_count"`
	ManagedCount  int           `json:"managed_count" yaml:"managed_count"`
	LastSync      string        `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Doctor        []DoctorCheck `json:"doctor,omitempty" yaml:"doctor,omitempty"`
	PlanInstall   int           `json:"plan_install,omitempty" yaml:"plan_install,omitempty"`
	PlanAdopt     int           `json:"plan_adopt,omitempty" yaml:"plan_adopt,omitempty"`
	PlanPrune     int           `json:"plan_prune,omitempty" yaml:"plan_prune,omitempty"`
	List          string        `json:"list,omitempty" yaml:"list,omitempty"`
	ListEntries   []string      `json:"list_entries,omitempty" yaml:"list_entries,omitempty"`
	ListviewCount int           `json:"list_count,omitempty" yaml:"list_count,omitempty"`
}

// Info reports configuration and state diagnostics: overall counts, backend
// doctor checks, the current resolution plan, and state-derived list views.
func Info(deps *Deps, opts InfoOptions) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return err
	}
	st, err := deps.Store.Load()
	if err != nil {
		return err
	}

	data := InfoData{
		ConfigPath:   deps.configPath(),
		StatePath:    deps.Store.Path(),
		PackageCount: len(cfg.PackageIds()),
		ManagedCount: len(st.Packages),
	}
	if !st.Meta.LastSync.IsZero() {
		data.LastSync = st.Meta.LastSync.Format("2006-01-02 15:04:05 MST")
	}

	if opts.Doctor {
		for _, backend := range cfg.Backends() {
			check := DoctorCheck{Backend: backend.Name()}
			if bcfg, ok := deps.Registry.Lookup(backend.Name()); ok {
				check.Defined = true
				check.Fallback = bcfg.Fallback
				if mgr, err := deps.Registry.Manager(backend.Name()); err == nil {
					check.Available = mgr.IsAvailable()
				}
			}
			data.Doctor = append(data.Doctor, check)
		}
	}

	if opts.Plan {
		managers := deps.Registry.Managers(backendNames(cfg.Backends()))
		snapshot, _, err := executor.BuildSnapshot(managers)
		if err != nil {
			return err
		}
		plan, err := resolver.Resolve(resolver.Request{
			Config:   cfg,
			State:    st,
			Snapshot: snapshot,
			Target:   core.AllTarget(),
			Prune:    true,
		})
		if err != nil {
			return err
		}
		data.PlanInstall = len(plan.Transaction.ToInstall)
		data.PlanAdopt = len(plan.Transaction.ToAdopt)
		data.PlanPrune = len(plan.Transaction.ToPrune)
	}

	if opts.List != "" {
		entries, err := listView(deps, cfg.PackageIds(), st, opts.List)
		if err != nil {
			return err
		}
		data.List = opts.List
		data.ListEntries = entries
		data.ListviewCount = len(entries)
	}

	if WantsEnvelope(opts.Format, opts.OutputVersion) {
		envelope := NewEnvelope("info")
		envelope.Data = data
		rendered, err := envelope.Render(opts.Format)
		if err != nil {
			return err
		}
		deps.printf("%s", rendered)
		return nil
	}

	deps.printf("Config:  %s\n", data.ConfigPath)
	deps.printf("State:   %s\n", data.StatePath)
	deps.printf("Declared packages: %d\n", data.PackageCount)
	deps.printf("Managed packages:  %d\n", data.ManagedCount)
	if data.LastSync != "" {
		deps.printf("Last sync: %s\n", data.LastSync)
	}
	for _, check := range data.Doctor {
		status := "missing"
		if check.Available {
			status = "ok"
		} else if check.Fallback != "" {
			status = "missing (fallback: " + check.Fallback + ")"
		}
		deps.printf("  %-10s %s\n", check.Backend, status)
	}
	if opts.Plan {
		deps.printf("Plan: %d to install, %d to adopt, %d to prune\n",
			data.PlanInstall, data.PlanAdopt, data.PlanPrune)
	}
	if data.List != "" {
		deps.printf("%s (%d):\n", data.List, data.ListviewCount)
		for _, entry := range data.ListEntries {
			deps.printf("  %s\n", entry)
		}
	}
	return nil
}

// listView derives the requested view: orphans (in state, not desired),
// synced (in state and desired), unmanaged (on the system, not in state).
func listView(deps *Deps, desired []core.PackageId, st *state.State, view string) ([]string, error) {
	desiredKeys := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredKeys[state.Key(id.Backend.Name(), id.Name)] = true
	}

	var entries []string
	switch view {
	case ListOrphans:
		for _, key := range st.Keys() {
			if !desiredKeys[key] {
				entries = append(entries, key)
			}
		}
	case ListSynced:
		for _, key := range st.Keys() {
			if desiredKeys[key] {
				entries = append(entries, key)
			}
		}
	case ListUnmanaged:
		backends := make(map[string]bool)
		for _, ps := range st.Packages {
			backends[ps.Backend] = true
		}
		for _, id := range desired {
			backends[id.Backend.Name()] = true
		}
		var names []string
		for backend := range backends {
			names = append(names, backend)
		}
		snapshot, _, err := executor.BuildSnapshot(deps.Registry.Managers(names))
		if err != nil {
			return nil, err
		}
		for id := range snapshot {
			key := state.Key(id.Backend.Name(), id.Name)
			if _, managed := st.Packages[key]; !managed {
				entries = append(entries, key)
			}
		}
		sort.Strings(entries)
	default:
		return nil, errors.Errorf("unknown list view %q (expected orphans, synced or unmanaged)", view)
	}
	return entries, nil
}

func backendNames(backends []core.Backend) []string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	return names
}
