package manager

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/core"
)

// RetryPolicy bounds retries for mutating backend operations. Listing and
// search never retry.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy retries a failed install/remove/update up to 3 attempts
// with a 1 second pause between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

// GenericManager executes a BackendConfig's command templates. It covers
// every backend whose behavior the declarative grammar can express; a
// specialized implementation is only warranted when command or output
// semantics exceed it.
type GenericManager struct {
	cfg         BackendConfig
	backend     core.Backend
	runner      CommandRunner
	interactive bool
	noconfirm   bool
	retry       RetryPolicy

	// fallback delegates operations when the primary binary is missing.
	// State keys still use the declared backend name.
	fallback *GenericManager

	// lookPath and goos are injectable for tests.
	lookPath func(string) (string, error)
	goos     string
}

// NewGenericManager builds a manager for cfg under the given declared
// backend name.
func NewGenericManager(cfg BackendConfig, backend core.Backend, runner CommandRunner) *GenericManager {
	if runner == nil {
		runner = NewDefaultCommandRunner()
	}
	return &GenericManager{
		cfg:      cfg,
		backend:  backend,
		runner:   runner,
		retry:    DefaultRetryPolicy,
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
	}
}

// SetInteractive switches install/remove to inherited stdio so the backend
// tool can prompt.
func (g *GenericManager) SetInteractive(interactive bool) { g.interactive = interactive }

// SetNoconfirm appends the backend's noconfirm flag to mutating commands.
func (g *GenericManager) SetNoconfirm(noconfirm bool) { g.noconfirm = noconfirm }

// SetRetryPolicy overrides the mutating-operation retry policy.
func (g *GenericManager) SetRetryPolicy(p RetryPolicy) { g.retry = p }

// SetFallback wires the manager operations delegate to when the primary
// binary is missing.
func (g *GenericManager) SetFallback(fb *GenericManager) { g.fallback = fb }

// Config returns the manager's backend configuration.
func (g *GenericManager) Config() BackendConfig { return g.cfg }

// Name returns the declared backend identity.
func (g *GenericManager) Name() core.Backend { return g.backend }

// platformSupported reports whether the definition applies to this OS. An
// empty platform set means everywhere.
func (g *GenericManager) platformSupported() bool {
	if len(g.cfg.Platforms) == 0 {
		return true
	}
	for _, p := range g.cfg.Platforms {
		if strings.EqualFold(p, g.goos) {
			return true
		}
	}
	return false
}

// resolveBinary returns the first binary alternate that resolves on PATH.
func (g *GenericManager) resolveBinary() (string, bool) {
	for _, bin := range g.cfg.Binary {
		if _, err := g.lookPath(bin); err == nil {
			return bin, true
		}
	}
	return "", false
}

// IsAvailable reports whether operations against this backend can run here.
func (g *GenericManager) IsAvailable() bool {
	if !g.platformSupported() {
		return false
	}
	if _, ok := g.resolveBinary(); ok {
		return true
	}
	return g.fallback != nil && g.fallback.IsAvailable()
}

// delegate returns the manager that should actually execute: the fallback
// when the primary binary is missing, otherwise the receiver.
func (g *GenericManager) delegate() (*GenericManager, string, error) {
	if bin, ok := g.resolveBinary(); ok {
		return g, bin, nil
	}
	if g.fallback != nil {
		if bin, ok := g.fallback.resolveBinary(); ok {
			logrus.WithFields(logrus.Fields{
				"backend":  g.backend.Name(),
				"fallback": g.fallback.backend.Name(),
			}).Debug("primary binary missing, delegating to fallback backend")
			return g.fallback, bin, nil
		}
	}
	return nil, "", &PackageManagerError{
		Backend:   g.backend.Name(),
		Operation: "resolve",
		Cause:     ErrBackendUnavailable,
	}
}

// envOverlay renders preinstall_env as KEY=VALUE pairs in stable order.
func envOverlay(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	overlay := make([]string, 0, len(keys))
	for _, k := range keys {
		overlay = append(overlay, k+"="+env[k])
	}
	return overlay
}

// ListInstalled runs the backend's list command and parses its stdout. A
// backend without a list command reports nothing installed.
func (g *GenericManager) ListInstalled() (map[string]core.PackageMetadata, error) {
	mgr, bin, err := g.delegate()
	if err != nil {
		return nil, err
	}
	if mgr.cfg.ListCmd == "" {
		return map[string]core.PackageMetadata{}, nil
	}
	shellCmd, err := RenderCommand(mgr.cfg.ListCmd, bin, "", "")
	if err != nil {
		return nil, &PackageManagerError{Backend: g.backend.Name(), Operation: "list", Cause: err}
	}
	result, err := mgr.runner.Run(context.Background(), shellCmd, RunOptions{
		Env:     envOverlay(mgr.cfg.PreinstallEnv),
		Timeout: DefaultListTimeout,
	})
	if err != nil {
		return nil, err
	}
	packages, parseErr := ParseListOutput(&mgr.cfg, result.Stdout, shellCmd)
	if result.ExitCode != 0 {
		// Some tools exit non-zero while still printing a usable listing
		// (npm ls with peer warnings). Only fail when the output was not
		// parseable either.
		if parseErr != nil || len(packages) == 0 {
			return nil, &PackageManagerError{
				Backend:   g.backend.Name(),
				Operation: "list",
				Cause:     fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr))),
			}
		}
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return packages, nil
}

// Search runs the backend's search command for query. With local set, the
// local-search command is used when declared; backends that prefer their list
// output for local search fall back to ListInstalled filtering.
func (g *GenericManager) Search(query string, local bool) ([]SearchResult, error) {
	mgr, bin, err := g.delegate()
	if err != nil {
		return nil, err
	}
	if local && mgr.cfg.PreferListForLocalSearch {
		return g.searchViaList(query)
	}
	template := mgr.cfg.SearchCmd
	if local && mgr.cfg.SearchLocalCmd != "" {
		template = mgr.cfg.SearchLocalCmd
	}
	if template == "" {
		return nil, &PackageManagerError{Backend: g.backend.Name(), Operation: "search", Cause: ErrOperationNotSupported}
	}
	shellCmd, err := RenderCommand(template, bin, "", ShellEscape(query))
	if err != nil {
		return nil, &PackageManagerError{Backend: g.backend.Name(), Operation: "search", Cause: err}
	}
	result, err := mgr.runner.Run(context.Background(), shellCmd, RunOptions{
		Env:     envOverlay(mgr.cfg.PreinstallEnv),
		Timeout: DefaultSearchTimeout,
	})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		// Many search tools exit 1 on "no results"; an empty hit list is not
		// an error.
		return []SearchResult{}, nil
	}
	parsed, err := ParseListOutput(&mgr.cfg, result.Stdout, shellCmd)
	if err != nil {
		return nil, err
	}
	return searchResults(g.backend.Name(), parsed), nil
}

// searchViaList serves local search by substring-filtering the installed
// listing.
func (g *GenericManager) searchViaList(query string) ([]SearchResult, error) {
	installed, err := g.ListInstalled()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	filtered := make(map[string]core.PackageMetadata)
	for name, meta := range installed {
		if strings.Contains(strings.ToLower(name), needle) {
			filtered[name] = meta
		}
	}
	return searchResults(g.backend.Name(), filtered), nil
}

func searchResults(backend string, parsed map[string]core.PackageMetadata) []SearchResult {
	results := make([]SearchResult, 0, len(parsed))
	for name, meta := range parsed {
		results = append(results, SearchResult{Name: name, Version: meta.Version, Backend: backend})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Install installs the named packages through the install template.
func (g *GenericManager) Install(names []string) error {
	return g.mutate("install", g.cfgFor().InstallCmd, names)
}

// Remove uninstalls the named packages.
func (g *GenericManager) Remove(names []string) error {
	cfg := g.cfgFor()
	if cfg.RemoveCmd == "" {
		return &PackageManagerError{Backend: g.backend.Name(), Operation: "remove", Cause: ErrOperationNotSupported}
	}
	return g.mutate("remove", cfg.RemoveCmd, names)
}

// Update refreshes the backend's package database.
func (g *GenericManager) Update() error {
	cfg := g.cfgFor()
	if cfg.UpdateCmd == "" {
		return &PackageManagerError{Backend: g.backend.Name(), Operation: "update", Cause: ErrOperationNotSupported}
	}
	return g.mutate("update", cfg.UpdateCmd, nil)
}

// Upgrade upgrades all packages under this backend.
func (g *GenericManager) Upgrade() error {
	cfg := g.cfgFor()
	if cfg.UpgradeCmd == "" {
		return &PackageManagerError{Backend: g.backend.Name(), Operation: "upgrade", Cause: ErrOperationNotSupported}
	}
	return g.mutate("upgrade", cfg.UpgradeCmd, nil)
}

// CacheClean clears the backend's caches.
func (g *GenericManager) CacheClean() error {
	cfg := g.cfgFor()
	if cfg.CacheCleanCmd == "" {
		return &PackageManagerError{Backend: g.backend.Name(), Operation: "cache_clean", Cause: ErrOperationNotSupported}
	}
	return g.mutate("cache_clean", cfg.CacheCleanCmd, nil)
}

// cfgFor returns the config whose templates will run: the fallback's when
// delegation is in effect.
func (g *GenericManager) cfgFor() BackendConfig {
	if mgr, _, err := g.delegate(); err == nil {
		return mgr.cfg
	}
	return g.cfg
}

// mutate renders and executes a mutating command template with validation,
// escaping, noconfirm handling, sudo, and retry.
func (g *GenericManager) mutate(operation, template string, names []string) error {
	mgr, bin, err := g.delegate()
	if err != nil {
		return err
	}
	packages := ""
	if len(names) > 0 {
		packages, err = ShellEscapeJoin(names)
		if err != nil {
			return &PackageManagerError{Backend: g.backend.Name(), Operation: operation, Packages: names, Cause: err}
		}
	}
	shellCmd, err := RenderCommand(template, bin, packages, "")
	if err != nil {
		return &PackageManagerError{Backend: g.backend.Name(), Operation: operation, Packages: names, Cause: err}
	}
	if !g.interactive && g.noconfirm && mgr.cfg.NoconfirmFlag != "" {
		shellCmd += " " + mgr.cfg.NoconfirmFlag
	}
	opts := RunOptions{
		Sudo:    mgr.cfg.NeedsSudo,
		Env:     envOverlay(mgr.cfg.PreinstallEnv),
		Timeout: DefaultMutateTimeout,
	}

	run := func() error {
		if g.interactive {
			// Interactive children own the prompt; their own timeout applies.
			return g.runner.RunInteractive(context.Background(), shellCmd, opts)
		}
		result, err := g.runner.Run(context.Background(), shellCmd, opts)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return &PackageManagerError{
				Backend:   g.backend.Name(),
				Operation: operation,
				Packages:  names,
				Cause:     fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr))),
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(g.retry.Delay),
		uint64(g.retry.MaxAttempts-1),
	)
	return backoff.Retry(func() error {
		if err := run(); err != nil {
			logrus.WithFields(logrus.Fields{
				"backend":   g.backend.Name(),
				"operation": operation,
			}).WithError(err).Warn("backend operation failed, retrying")
			return err
		}
		return nil
	}, policy)
}
