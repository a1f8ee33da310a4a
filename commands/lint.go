package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/kdl"
	"github.com/nixval/declarch/state"
)

// Lint modes.
const (
	LintAll        = "all"
	LintValidate   = "validate"
	LintDuplicates = "duplicates"
	LintConflicts  = "conflicts"
)

// LintOptions mirror the lint command surface.
type LintOptions struct {
	Mode          string
	Fix           bool
	RepairState   bool
	StateRm       string
	Yes           bool
	Format        string
	OutputVersion string
}

// LintData is the envelope payload for lint.
type LintData struct {
	Mode          string         `json:"mode" yaml:"mode"`
	FilesChecked  int            `json:"files_checked" yaml:"files_checked"`
	TotalIssues   int            `json:"total_issues" yaml:"total_issues"`
	WarningsCount int            `json:"warnings_count" yaml:"warnings_count"`
	ErrorsCount   int            `json:"errors_count" yaml:"errors_count"`
	Issues        []config.Issue `json:"issues" yaml:"issues"`
}

// Lint walks the configuration tree in report-only mode and reports every
// problem found instead of stopping at the first.
func Lint(deps *Deps, opts LintOptions) error {
	if opts.Mode == "" {
		opts.Mode = LintAll
	}

	if opts.RepairState {
		if err := repairState(deps, opts.Yes); err != nil {
			return err
		}
	}
	if opts.StateRm != "" {
		if err := stateRemove(deps, opts.StateRm, opts.Yes); err != nil {
			return err
		}
	}

	loader := config.NewLoader(deps.Fs)
	loader.SetSelectors(deps.Selectors)
	loader.SetCollectIssues(true)
	merged, err := loader.Load(deps.configPath())
	if err != nil {
		// Only a missing root file aborts collect-mode loading.
		return err
	}
	issues := loader.Issues

	if opts.Mode == LintAll || opts.Mode == LintDuplicates {
		issues = append(issues, duplicateIssues(merged)...)
	}
	if opts.Mode == LintAll || opts.Mode == LintConflicts {
		issues = append(issues, conflictIssues(merged)...)
	}

	if opts.Fix {
		if err := fixImports(deps, deps.configPath()); err != nil {
			return err
		}
	}

	data := LintData{
		Mode:         opts.Mode,
		FilesChecked: loader.FilesChecked,
		Issues:       issues,
	}
	if data.Issues == nil {
		data.Issues = []config.Issue{}
	}
	for _, issue := range issues {
		if issue.Severity == "error" {
			data.ErrorsCount++
		} else {
			data.WarningsCount++
		}
	}
	data.TotalIssues = len(issues)

	if WantsEnvelope(opts.Format, opts.OutputVersion) {
		envelope := NewEnvelope("lint")
		envelope.Data = data
		envelope.OK = data.ErrorsCount == 0
		rendered, err := envelope.Render(opts.Format)
		if err != nil {
			return err
		}
		deps.printf("%s", rendered)
		return nil
	}

	deps.printf("Checked %d file(s): %d error(s), %d warning(s)\n",
		data.FilesChecked, data.ErrorsCount, data.WarningsCount)
	for _, issue := range issues {
		location := issue.Path
		if issue.Line > 0 {
			location = fmt.Sprintf("%s:%d", issue.Path, issue.Line)
		}
		deps.printf("  [%s] %s: %s\n", issue.Severity, location, issue.Message)
	}
	return nil
}

// duplicateIssues flags packages declared from more than one file.
func duplicateIssues(merged *config.MergedConfig) []config.Issue {
	var issues []config.Issue
	for _, id := range merged.PackageIds() {
		if sources := merged.Sources(id); len(sources) > 1 {
			issues = append(issues, config.Issue{
				Severity: "warning",
				Path:     sources[1],
				Message:  fmt.Sprintf("package '%s' already declared in %s", id, sources[0]),
			})
		}
	}
	return issues
}

// conflictIssues flags conflict rules violated by the desired set.
func conflictIssues(merged *config.MergedConfig) []config.Issue {
	desired := make(map[string]bool)
	for _, id := range merged.PackageIds() {
		desired[id.Name] = true
	}
	var issues []config.Issue
	for _, rule := range merged.Conflicts {
		var colliding []string
		for _, name := range rule.Packages {
			if desired[name] {
				colliding = append(colliding, name)
			}
		}
		if len(colliding) > 1 {
			issues = append(issues, config.Issue{
				Severity: "error",
				Message:  "conflicting packages declared together: " + strings.Join(colliding, ", "),
			})
		}
	}
	return issues
}

// fixImports sorts and deduplicates the entries of every imports block in
// the root file. Applying it twice is a no-op.
func fixImports(deps *Deps, path string) error {
	raw, err := afero.ReadFile(deps.Fs, path)
	if err != nil {
		return err
	}
	fixed, changed, err := SortImportsBlock(string(raw))
	if err != nil || !changed {
		return err
	}
	return afero.WriteFile(deps.Fs, path, []byte(fixed), 0o644)
}

// SortImportsBlock rewrites every imports { ... } block with its entries
// sorted and deduplicated, preserving the rest of the file verbatim.
func SortImportsBlock(content string) (string, bool, error) {
	if _, err := kdl.Parse(content); err != nil {
		return content, false, err
	}
	lines := strings.Split(content, "\n")
	var out []string
	changed := false
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "imports {" {
			out = append(out, lines[i])
			continue
		}
		out = append(out, lines[i])
		var entries []string
		j := i + 1
		for ; j < len(lines); j++ {
			inner := strings.TrimSpace(lines[j])
			if inner == "}" {
				break
			}
			if inner != "" {
				entries = append(entries, inner)
			}
		}
		sorted := append([]string(nil), entries...)
		sort.Strings(sorted)
		sorted = dedupeSorted(sorted)
		if len(sorted) != len(entries) || !equalStrings(sorted, entries) {
			changed = true
		}
		indent := leadingIndent(lines[i]) + "    "
		for _, entry := range sorted {
			out = append(out, indent+entry)
		}
		if j < len(lines) {
			out = append(out, lines[j])
		}
		i = j
	}
	return strings.Join(out, "\n"), changed, nil
}

// repairState runs the sanitizer under the lock and persists the result.
func repairState(deps *Deps, yes bool) error {
	if !yes && deps.Confirm != nil && !deps.Confirm("Repair the state store?") {
		return nil
	}
	lock, err := deps.Store.Acquire()
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := deps.Store.Load()
	if err != nil {
		return err
	}
	report := state.Sanitize(st)
	if !report.Changed() {
		deps.printf("State is already clean (%d entries).\n", report.TotalAfter)
		return nil
	}
	state.Touch(st)
	if err := deps.Store.Save(st); err != nil {
		return err
	}
	deps.printf("State repaired: %d rekeyed, %d duplicate(s) removed, %d empty name(s) dropped, %d field(s) normalized.\n",
		report.RekeyedEntries, report.RemovedDuplicates, report.RemovedEmptyName, report.NormalizedFields)
	return nil
}

// stateRemove drops a single entry by its state key.
func stateRemove(deps *Deps, key string, yes bool) error {
	if !yes && deps.Confirm != nil && !deps.Confirm(fmt.Sprintf("Remove '%s' from the state store?", key)) {
		return nil
	}
	lock, err := deps.Store.Acquire()
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := deps.Store.Load()
	if err != nil {
		return err
	}
	backend, name, ok := strings.Cut(key, ":")
	if !ok || !st.Remove(backend, name) {
		return fmt.Errorf("state entry '%s' not found", key)
	}
	state.Touch(st)
	if err := deps.Store.Save(st); err != nil {
		return err
	}
	deps.printf("Removed '%s' from state.\n", key)
	return nil
}

func dedupeSorted(sorted []string) []string {
	var out []string
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func leadingIndent(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
