package manager

import (
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/core"
)

// Registry resolves backend names to configurations and hands out Manager
// instances. Definitions layer in resolution order: built-ins first, then the
// user's global backends file, then explicit custom-file imports; later
// layers override earlier ones on the same name.
//
// Thread safety: all public methods lock internally. Configurations are
// cloned into each manager, so managers never share mutable state with the
// registry.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]BackendConfig
	runner      CommandRunner
	overrides   map[string]map[string]string
	lookPath    func(string) (string, error)
}

// globalRegistry is the default registry, lazily initialized with the
// built-in definitions on first use.
var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry(nil)
	})
	return globalRegistry
}

// NewRegistry creates a registry seeded with the built-in definitions.
// Definitions whose platform set excludes the current OS are still
// registered (their managers report unavailable) with a warning.
func NewRegistry(runner CommandRunner) *Registry {
	r := &Registry{
		definitions: make(map[string]BackendConfig),
		runner:      runner,
		overrides:   make(map[string]map[string]string),
	}
	for _, cfg := range builtinDefinitions() {
		r.register(cfg)
	}
	return r
}

func (r *Registry) register(cfg BackendConfig) {
	if len(cfg.Platforms) > 0 && !platformMatches(cfg.Platforms) {
		logrus.WithFields(logrus.Fields{
			"backend":   cfg.Name,
			"platforms": cfg.Platforms,
			"os":        runtime.GOOS,
		}).Warn("backend definition does not apply to this platform")
	}
	r.definitions[cfg.Name] = cfg
}

func platformMatches(platforms []string) bool {
	for _, p := range platforms {
		if strings.EqualFold(p, runtime.GOOS) {
			return true
		}
	}
	return false
}

// Register validates and adds (or overrides) a definition.
func (r *Registry) Register(cfg BackendConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(cfg)
	return nil
}

// RegisterAll registers definitions in order, so later files override earlier
// ones on the same name.
func (r *Registry) RegisterAll(cfgs []BackendConfig) error {
	for _, cfg := range cfgs {
		if err := r.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// SetLookPath overrides binary resolution for managers this registry
// constructs (tests).
func (r *Registry) SetLookPath(fn func(string) (string, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookPath = fn
}

// SetOverrides installs runtime option overrides (options:<backend> blocks)
// applied when managers are constructed.
func (r *Registry) SetOverrides(overrides map[string]map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = overrides
}

// Lookup returns a clone of the named definition.
func (r *Registry) Lookup(name string) (BackendConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.definitions[strings.ToLower(name)]
	if !ok {
		return BackendConfig{}, false
	}
	return cfg.Clone(), true
}

// Names returns all defined backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manager constructs a manager for the named backend, applying any runtime
// overrides and wiring the fallback chain.
func (r *Registry) Manager(name string) (*GenericManager, error) {
	return r.manager(name, map[string]bool{})
}

func (r *Registry) manager(name string, seen map[string]bool) (*GenericManager, error) {
	normalized := strings.ToLower(name)
	if seen[normalized] {
		return nil, errors.Errorf("backend '%s': fallback chain forms a cycle", name)
	}
	seen[normalized] = true

	cfg, ok := r.Lookup(normalized)
	if !ok {
		return nil, errors.Wrap(ErrUnknownBackend, name)
	}

	r.mu.RLock()
	opts := r.overrides[normalized]
	runner := r.runner
	lookPath := r.lookPath
	r.mu.RUnlock()

	derived, err := cfg.ApplyOptions(opts)
	if err != nil {
		return nil, err
	}
	mgr := NewGenericManager(derived, core.NewBackend(normalized), runner)
	if lookPath != nil {
		mgr.lookPath = lookPath
	}
	if derived.Fallback != "" {
		fb, err := r.manager(derived.Fallback, seen)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"backend":  normalized,
				"fallback": derived.Fallback,
			}).WithError(err).Warn("fallback backend unavailable")
		} else {
			mgr.SetFallback(fb)
		}
	}
	return mgr, nil
}

// Managers constructs a manager for every named backend, skipping unknown
// names with a warning.
func (r *Registry) Managers(names []string) map[string]*GenericManager {
	managers := make(map[string]*GenericManager, len(names))
	for _, name := range names {
		mgr, err := r.Manager(name)
		if err != nil {
			logrus.WithField("backend", name).WithError(err).Warn("skipping backend")
			continue
		}
		managers[strings.ToLower(name)] = mgr
	}
	return managers
}
