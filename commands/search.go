package commands

import (
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/manager"
)

// DefaultSearchLimit bounds per-backend search results unless overridden.
const DefaultSearchLimit = 10

// SearchOptions mirror the search command surface.
type SearchOptions struct {
	Query    string
	Backends []string
	// Limit is the per-backend cap: a number, "all", or "0" for unlimited.
	Limit         string
	Local         bool
	Format        string
	OutputVersion string
}

// SearchHit is one result row.
type SearchHit struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	Backend   string `json:"backend" yaml:"backend"`
	Installed bool   `json:"installed" yaml:"installed"`
}

// SearchData is the envelope payload for search.
type SearchData struct {
	Query   string      `json:"query" yaml:"query"`
	Limit   int         `json:"limit" yaml:"limit"`
	Total   int         `json:"total" yaml:"total"`
	Results []SearchHit `json:"results" yaml:"results"`
}

// ParseSearchLimit interprets the --limit flag: "all" and "0" mean
// unlimited (returned as 0), anything else must be a positive integer.
func ParseSearchLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultSearchLimit, nil
	}
	if raw == "all" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.Errorf("invalid --limit value %q: expected a number or 'all'", raw)
	}
	return limit, nil
}

// Search queries the selected backends (or every search-capable one)
// concurrently and annotates hits that state records as installed.
func Search(deps *Deps, opts SearchOptions) error {
	limit, err := ParseSearchLimit(opts.Limit)
	if err != nil {
		return err
	}

	// Config load is best-effort here: search works without a config tree,
	// but runtime backend overrides should apply when one exists.
	if _, err := deps.loadConfig(); err != nil {
		logrus.WithError(err).Debug("no loadable config for search, using defaults")
	}

	backends := opts.Backends
	if len(backends) == 0 {
		for _, name := range deps.Registry.Names() {
			cfg, _ := deps.Registry.Lookup(name)
			if cfg.SearchCmd != "" || cfg.SearchLocalCmd != "" || cfg.PreferListForLocalSearch {
				backends = append(backends, name)
			}
		}
	}

	st, err := deps.Store.Load()
	if err != nil {
		return err
	}

	type backendResult struct {
		backend string
		hits    []manager.SearchResult
		err     error
	}
	results := make(chan backendResult, len(backends))
	var wg sync.WaitGroup

	for _, backend := range backends {
		mgr, err := deps.Registry.Manager(backend)
		if err != nil {
			results <- backendResult{backend: backend, err: err}
			continue
		}
		if !mgr.IsAvailable() {
			logrus.WithField("backend", backend).Debug("backend unavailable, skipping search")
			continue
		}
		wg.Add(1)
		go func(backend string, mgr *manager.GenericManager) {
			defer wg.Done()
			hits, err := mgr.Search(opts.Query, opts.Local)
			results <- backendResult{backend: backend, hits: hits, err: err}
		}(backend, mgr)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	data := SearchData{Query: opts.Query, Limit: limit, Results: []SearchHit{}}
	var warnings []string
	for result := range results {
		if result.err != nil {
			warnings = append(warnings, errors.Wrapf(result.err, "search on '%s'", result.backend).Error())
			continue
		}
		hits := result.hits
		if limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}
		for _, hit := range hits {
			_, installed := st.Get(result.backend, hit.Name)
			data.Results = append(data.Results, SearchHit{
				Name:      hit.Name,
				Version:   hit.Version,
				Backend:   result.backend,
				Installed: installed,
			})
		}
	}
	sort.Slice(data.Results, func(i, j int) bool {
		if data.Results[i].Backend != data.Results[j].Backend {
			return data.Results[i].Backend < data.Results[j].Backend
		}
		return data.Results[i].Name < data.Results[j].Name
	})
	data.Total = len(data.Results)

	if WantsEnvelope(opts.Format, opts.OutputVersion) {
		envelope := NewEnvelope("search")
		envelope.Data = data
		for _, w := range warnings {
			envelope.Warn(w)
		}
		rendered, err := envelope.Render(opts.Format)
		if err != nil {
			return err
		}
		deps.printf("%s", rendered)
		return nil
	}

	if data.Total == 0 {
		deps.printf("No results for '%s'.\n", opts.Query)
		return nil
	}
	for _, hit := range data.Results {
		marker := " "
		if hit.Installed {
			marker = "*"
		}
		if hit.Version != "" {
			deps.printf("%s %s:%s (%s)\n", marker, hit.Backend, hit.Name, hit.Version)
		} else {
			deps.printf("%s %s:%s\n", marker, hit.Backend, hit.Name)
		}
	}
	for _, w := range warnings {
		deps.printf("warning: %s\n", w)
	}
	return nil
}
