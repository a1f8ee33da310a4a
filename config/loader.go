package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/kdl"
)

// Selectors filter profile and host blocks while loading.
type Selectors struct {
	Profile string
	Host    string
}

// Issue is one problem found while loading in collect mode (lint).
type Issue struct {
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// Loader parses a configuration tree rooted at one file, resolving imports
// with cycle detection and path-traversal protection, filtering selector
// blocks, and merging every file's contributions in import order.
//
// In collect mode (used by lint) the loader records problems as Issues and
// keeps going instead of aborting on the first error.
type Loader struct {
	fs        afero.Fs
	home      string
	selectors Selectors
	collect   bool

	// Issues accumulates problems in collect mode.
	Issues []Issue
	// FilesChecked counts files visited, for lint reporting.
	FilesChecked int
}

// NewLoader builds a loader over the given filesystem; nil means the real
// one.
func NewLoader(fs afero.Fs) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return &Loader{fs: fs, home: home}
}

// SetHome overrides the home directory used for ~ expansion (tests).
func (l *Loader) SetHome(home string) { l.home = home }

// SetSelectors sets the active profile/host selectors.
func (l *Loader) SetSelectors(s Selectors) { l.selectors = s }

// SetCollectIssues switches the loader to report-and-continue mode.
func (l *Loader) SetCollectIssues(collect bool) { l.collect = collect }

type importContext struct {
	stack   []string
	visited map[string]bool
}

// Load parses the tree rooted at rootPath into a merged view.
func (l *Loader) Load(rootPath string) (*MergedConfig, error) {
	merged := NewMergedConfig()
	ctx := &importContext{visited: make(map[string]bool)}

	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, errors.Wrap(err, "resolving config path")
	}
	exists, err := afero.Exists(l.fs, abs)
	if err != nil {
		return nil, errors.Wrap(err, "checking config path")
	}
	if !exists {
		return nil, &ConfigNotFoundError{Path: abs}
	}
	if err := l.loadFile(abs, merged, ctx); err != nil {
		return nil, err
	}
	return merged, nil
}

// fail either surfaces an error or records it as an issue, depending on
// collect mode.
func (l *Loader) fail(path string, line int, err error) error {
	if !l.collect {
		return err
	}
	l.Issues = append(l.Issues, Issue{
		Severity: "error",
		Path:     path,
		Line:     line,
		Message:  err.Error(),
	})
	return nil
}

func (l *Loader) warn(path string, line int, message string) {
	if l.collect {
		l.Issues = append(l.Issues, Issue{Severity: "warning", Path: path, Line: line, Message: message})
		return
	}
	logrus.WithFields(logrus.Fields{"file": path, "line": line}).Warn(message)
}

func (l *Loader) loadFile(path string, merged *MergedConfig, ctx *importContext) error {
	for _, onStack := range ctx.stack {
		if onStack == path {
			cycle := append(append([]string{}, ctx.stack...), path)
			return NewConfigError("Circular import detected: %s", strings.Join(cycle, " -> "))
		}
	}
	if ctx.visited[path] {
		return nil
	}

	content, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return l.fail(path, 0, errors.Wrapf(err, "reading %s", path))
	}
	l.FilesChecked++

	doc, err := kdl.Parse(string(content))
	if err != nil {
		line := 0
		var parseErr *kdl.ParseError
		if errors.As(err, &parseErr) {
			line = parseErr.Line
		}
		return l.fail(path, line, errors.Wrapf(err, "parsing %s", path))
	}

	ctx.stack = append(ctx.stack, path)
	defer func() {
		ctx.stack = ctx.stack[:len(ctx.stack)-1]
		ctx.visited[path] = true
	}()

	for _, node := range l.expandSelectors(doc.Nodes) {
		if err := l.processNode(node, merged, ctx, path); err != nil {
			if ferr := l.fail(path, node.Line, err); ferr != nil {
				return ferr
			}
		}
	}
	return nil
}

// expandSelectors flattens profile/host blocks whose selector matches and
// drops those that do not. Everything else passes through unconditionally.
func (l *Loader) expandSelectors(nodes []*kdl.Node) []*kdl.Node {
	var out []*kdl.Node
	for _, node := range nodes {
		switch node.Name {
		case "profile":
			if node.FirstArg() == l.selectors.Profile && l.selectors.Profile != "" {
				out = append(out, l.expandSelectors(node.Children)...)
			}
		case "host":
			if node.FirstArg() == l.selectors.Host && l.selectors.Host != "" {
				out = append(out, l.expandSelectors(node.Children)...)
			}
		default:
			out = append(out, node)
		}
	}
	return out
}

func (l *Loader) processNode(node *kdl.Node, merged *MergedConfig, ctx *importContext, path string) error {
	name := node.Name
	switch {
	case name == "imports":
		return l.processImports(node, merged, ctx, path)
	case name == "import":
		return l.importOne(node.FirstArg(), merged, ctx, path, node.Line)
	case name == "backends":
		return l.processBackendImports(node, merged, path)
	case name == "pkg" || name == "packages":
		l.processPkgBlock(node, merged, path)
	case strings.HasPrefix(name, "pkg:"):
		backend := strings.TrimPrefix(name, "pkg:")
		addPackages(merged, backend, collectNames(node), path)
	case name == "excludes" || name == "exclude":
		merged.Excludes = appendUnique(merged.Excludes, collectNames(node)...)
	case name == "conflicts":
		if names := collectNames(node); len(names) > 1 {
			merged.Conflicts = append(merged.Conflicts, ConflictRule{Packages: names})
		} else {
			l.warn(path, node.Line, "conflicts needs at least two package names")
		}
	case strings.HasPrefix(name, "options:"):
		backend := strings.ToLower(strings.TrimPrefix(name, "options:"))
		opts := merged.BackendOptions[backend]
		if opts == nil {
			opts = make(map[string]string)
			merged.BackendOptions[backend] = opts
		}
		for _, child := range node.Children {
			opts[child.Name] = child.FirstArg()
		}
	case name == "env":
		mergeEnv(merged, "", node)
	case strings.HasPrefix(name, "env:"):
		mergeEnv(merged, strings.ToLower(strings.TrimPrefix(name, "env:")), node)
	case strings.HasPrefix(name, "repos:") || strings.HasPrefix(name, "repositories:"):
		backend := strings.ToLower(name[strings.Index(name, ":")+1:])
		for _, child := range node.Children {
			merged.PackageSources[backend] = appendUnique(merged.PackageSources[backend], child.Name)
			merged.PackageSources[backend] = appendUnique(merged.PackageSources[backend], child.ArgValues()...)
		}
		for _, arg := range node.ArgValues() {
			merged.PackageSources[backend] = appendUnique(merged.PackageSources[backend], arg)
		}
	case name == "policy":
		l.processPolicy(node, merged)
	case name == "hooks":
		return l.processHooks(node, merged, path)
	case name == "on-sync":
		merged.Actions = append(merged.Actions, Action{Command: node.FirstArg(), Type: ActionUser, Phase: PhasePostSync, ErrorBehavior: BehaviorWarn})
	case name == "on-sync-sudo":
		merged.Actions = append(merged.Actions, Action{Command: node.FirstArg(), Type: ActionRoot, Phase: PhasePostSync, ErrorBehavior: BehaviorWarn})
	case name == "on-pre-sync":
		merged.Actions = append(merged.Actions, Action{Command: node.FirstArg(), Type: ActionUser, Phase: PhasePreSync, ErrorBehavior: BehaviorWarn})
	case name == "meta":
		for _, child := range node.Children {
			merged.ProjectMeta[child.Name] = strings.Join(child.ArgValues(), " ")
		}
	case name == "editor":
		merged.Editor = node.FirstArg()
	case name == "experimental":
		merged.Experimental = appendUnique(merged.Experimental, node.ArgValues()...)
	case name == "mcp":
		for _, child := range node.Children {
			switch child.Name {
			case "mode":
				merged.MCP.Mode = child.FirstArg()
			case "allow-tools", "allow_tools":
				merged.MCP.AllowTools = appendUnique(merged.MCP.AllowTools, child.ArgValues()...)
			}
		}
	default:
		// An unknown node may be a bare "<backend>:<name>" package shorthand.
		if backend, pkgName, ok := strings.Cut(name, ":"); ok && backend != "" && pkgName != "" {
			merged.AddPackage(core.NewPackageId(backend, pkgName), path)
			return nil
		}
		l.warn(path, node.Line, "unknown configuration node '"+name+"'")
	}
	return nil
}

func (l *Loader) processImports(node *kdl.Node, merged *MergedConfig, ctx *importContext, path string) error {
	for _, arg := range node.ArgValues() {
		if err := l.importOne(arg, merged, ctx, path, node.Line); err != nil {
			return err
		}
	}
	for _, child := range node.Children {
		if err := l.importOne(child.Name, merged, ctx, path, child.Line); err != nil {
			return err
		}
		// Several quoted paths on one line parse as arguments of the first.
		for _, extra := range child.QuotedArgs() {
			if err := l.importOne(extra, merged, ctx, path, child.Line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) importOne(raw string, merged *MergedConfig, ctx *importContext, fromFile string, line int) error {
	if raw == "" {
		return nil
	}
	resolved, err := l.resolveImportPath(raw, filepath.Dir(fromFile))
	if err != nil {
		return err
	}
	merged.Imports = appendUnique(merged.Imports, resolved)
	if err := l.loadFile(resolved, merged, ctx); err != nil {
		return err
	}
	return nil
}

func (l *Loader) processBackendImports(node *kdl.Node, merged *MergedConfig, path string) error {
	paths := append(node.QuotedArgs(), childNames(node)...)
	for _, raw := range paths {
		resolved, err := l.resolveImportPath(raw, filepath.Dir(path))
		if err != nil {
			return err
		}
		merged.BackendImports = appendUnique(merged.BackendImports, resolved)
	}
	return nil
}

// resolveImportPath expands ~, passes absolute paths through, resolves
// relative paths against the importing file's directory, and rejects any
// path containing a ".." component. When the resolved file is absent and has
// no extension, a .kdl suffix is tried.
func (l *Loader) resolveImportPath(raw, baseDir string) (string, error) {
	for _, component := range strings.Split(filepath.ToSlash(raw), "/") {
		if component == ".." {
			return "", NewConfigError("Path traversal blocked: %s", raw)
		}
	}
	var resolved string
	switch {
	case raw == "~" || strings.HasPrefix(raw, "~/"):
		resolved = filepath.Join(l.home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
	case filepath.IsAbs(raw):
		resolved = raw
	default:
		resolved = filepath.Join(baseDir, raw)
	}
	resolved = filepath.Clean(resolved)

	exists, _ := afero.Exists(l.fs, resolved)
	if !exists && filepath.Ext(resolved) == "" {
		withExt := resolved + ".kdl"
		if ok, _ := afero.Exists(l.fs, withExt); ok {
			return withExt, nil
		}
	}
	return resolved, nil
}

// processPkgBlock handles pkg { <backend> { names... } } plus the inline
// <backend>:<name> shorthand.
func (l *Loader) processPkgBlock(node *kdl.Node, merged *MergedConfig, path string) {
	for _, child := range node.Children {
		if backend, pkgName, ok := strings.Cut(child.Name, ":"); ok && len(child.Children) == 0 {
			merged.AddPackage(core.NewPackageId(backend, pkgName), path)
			for _, extra := range child.ArgValues() {
				merged.AddPackage(core.NewPackageId(backend, extra), path)
			}
			continue
		}
		addPackages(merged, child.Name, collectNames(child), path)
	}
}

func (l *Loader) processPolicy(node *kdl.Node, merged *MergedConfig) {
	for _, child := range node.Children {
		switch child.Name {
		case "protected":
			merged.Policy.Protected = appendUnique(merged.Policy.Protected, collectNames(child)...)
		case "orphans":
			merged.Policy.Orphans = child.FirstArg()
		}
	}
}

// processHooks parses the hooks block: phase nodes, package blocks, and
// <package>:<phase> shorthand.
func (l *Loader) processHooks(node *kdl.Node, merged *MergedConfig, path string) error {
	for _, child := range node.Children {
		switch {
		case knownPhases[Phase(child.Name)]:
			merged.Actions = append(merged.Actions, hookAction(child, Phase(child.Name), ""))
		case strings.Contains(child.Name, ":"):
			pkg, phase, _ := strings.Cut(child.Name, ":")
			if !knownPhases[Phase(phase)] {
				return NewConfigError("unknown hook phase '%s' in %s", phase, path)
			}
			merged.Actions = append(merged.Actions, hookAction(child, Phase(phase), pkg))
		case len(child.Children) > 0:
			for _, phaseNode := range child.Children {
				if !knownPhases[Phase(phaseNode.Name)] {
					return NewConfigError("unknown hook phase '%s' for package '%s' in %s", phaseNode.Name, child.Name, path)
				}
				merged.Actions = append(merged.Actions, hookAction(phaseNode, Phase(phaseNode.Name), child.Name))
			}
		default:
			return NewConfigError("unknown hook phase '%s' in %s", child.Name, path)
		}
	}
	return nil
}

func hookAction(node *kdl.Node, phase Phase, pkg string) Action {
	action := Action{
		Command:       node.FirstArg(),
		Type:          ActionUser,
		Phase:         phase,
		Package:       pkg,
		ErrorBehavior: BehaviorWarn,
	}
	if quoted := node.QuotedArgs(); len(quoted) > 0 {
		action.Command = quoted[0]
	}
	if node.HasFlag("--sudo") {
		action.Type = ActionRoot
	}
	if node.HasFlag("--required") {
		action.ErrorBehavior = BehaviorRequired
	}
	if node.HasFlag("--ignore") {
		action.ErrorBehavior = BehaviorIgnore
	}
	return action
}

// collectNames gathers package names from a block: each child node's name,
// its bareword arguments, and any quoted child names.
func collectNames(node *kdl.Node) []string {
	var names []string
	names = append(names, node.ArgValues()...)
	for _, child := range node.Children {
		names = append(names, child.Name)
		names = append(names, child.ArgValues()...)
	}
	return names
}

func childNames(node *kdl.Node) []string {
	names := make([]string, 0, len(node.Children))
	for _, child := range node.Children {
		names = append(names, child.Name)
	}
	return names
}

func addPackages(merged *MergedConfig, backend string, names []string, source string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		merged.AddPackage(core.NewPackageId(backend, name), source)
	}
}

func appendUnique(slice []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range slice {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			slice = append(slice, v)
		}
	}
	return slice
}

func mergeEnv(merged *MergedConfig, backend string, node *kdl.Node) {
	for _, child := range node.Children {
		entry := child.Name + "=" + child.FirstArg()
		merged.Env[backend] = appendUnique(merged.Env[backend], entry)
	}
}
