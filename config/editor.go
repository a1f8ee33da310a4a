package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/kdl"
)

// Editor applies small structured edits to configuration files: the install
// operation uses it to append declared packages. Edits are textual so user
// formatting and comments survive; a .bak copy of the original is written
// before any rewrite.
type Editor struct {
	fs afero.Fs
}

// NewEditor builds an editor over the given filesystem; nil means the real
// one.
func NewEditor(fs afero.Fs) *Editor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Editor{fs: fs}
}

// AddPackages declares the given packages in the file at path, creating the
// file when absent. Names already declared under their backend are skipped.
func (e *Editor) AddPackages(path string, ids []core.PackageId) error {
	exists, err := afero.Exists(e.fs, path)
	if err != nil {
		return errors.Wrapf(err, "checking %s", path)
	}

	var content string
	if exists {
		raw, err := afero.ReadFile(e.fs, path)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		content = string(raw)
		if err := afero.WriteFile(e.fs, path+".bak", raw, 0o644); err != nil {
			return errors.Wrapf(err, "writing backup for %s", path)
		}
	}

	pending := e.filterAlreadyDeclared(content, path, ids)
	if len(pending) == 0 {
		return nil
	}

	byBackend := make(map[string][]string)
	var backendOrder []string
	for _, id := range pending {
		name := id.Backend.Name()
		if _, seen := byBackend[name]; !seen {
			backendOrder = append(backendOrder, name)
		}
		byBackend[name] = append(byBackend[name], id.Name)
	}

	for _, backend := range backendOrder {
		content = insertIntoBackendBlock(content, backend, byBackend[backend])
	}

	return errors.Wrapf(afero.WriteFile(e.fs, path, []byte(content), 0o644), "writing %s", path)
}

// filterAlreadyDeclared drops ids the file already declares.
func (e *Editor) filterAlreadyDeclared(content, path string, ids []core.PackageId) []core.PackageId {
	if content == "" {
		return ids
	}
	doc, err := kdl.Parse(content)
	if err != nil {
		// An unparseable file still gets the append; lint will flag it.
		return ids
	}
	declared := make(map[core.PackageId]bool)
	merged := NewMergedConfig()
	loader := NewLoader(afero.NewMemMapFs())
	for _, node := range doc.Nodes {
		// Imports are irrelevant for duplicate detection within one file.
		if node.Name == "imports" || node.Name == "import" || node.Name == "backends" {
			continue
		}
		_ = loader.processNode(node, merged, &importContext{visited: map[string]bool{}}, path)
	}
	for _, id := range merged.PackageIds() {
		declared[id] = true
	}
	var pending []core.PackageId
	for _, id := range ids {
		if !declared[id] {
			pending = append(pending, id)
		}
	}
	return pending
}

// insertIntoBackendBlock adds names inside pkg { <backend> { ... } },
// creating the blocks as needed. Insertion is line-based to preserve the
// surrounding formatting.
func insertIntoBackendBlock(content, backend string, names []string) string {
	lines := strings.Split(content, "\n")

	pkgOpen := -1
	depth := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if pkgOpen == -1 && (trimmed == "pkg {" || strings.HasPrefix(trimmed, "pkg {")) {
			pkgOpen = i
			depth = 1
			continue
		}
		if pkgOpen != -1 {
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(trimmed, "{")), " ") == backend && strings.HasSuffix(trimmed, "{") {
				// Found the backend block; insert before its closing brace.
				closing := findClosingBrace(lines, i)
				if closing != -1 {
					indent := leadingWhitespace(lines[i]) + "    "
					inserted := make([]string, len(names))
					for j, name := range names {
						inserted[j] = indent + name
					}
					out := append([]string{}, lines[:closing]...)
					out = append(out, inserted...)
					out = append(out, lines[closing:]...)
					return strings.Join(out, "\n")
				}
			}
			if depth == 0 {
				// pkg block closed without our backend: insert a new backend
				// block just before this line.
				indent := leadingWhitespace(lines[pkgOpen]) + "    "
				block := []string{indent + backend + " {"}
				for _, name := range names {
					block = append(block, indent+"    "+name)
				}
				block = append(block, indent+"}")
				out := append([]string{}, lines[:i]...)
				out = append(out, block...)
				out = append(out, lines[i:]...)
				return strings.Join(out, "\n")
			}
		}
	}

	// No pkg block at all: append one.
	var sb strings.Builder
	sb.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("pkg {\n")
	sb.WriteString(fmt.Sprintf("    %s {\n", backend))
	for _, name := range names {
		sb.WriteString("        " + name + "\n")
	}
	sb.WriteString("    }\n")
	sb.WriteString("}\n")
	return sb.String()
}

func findClosingBrace(lines []string, open int) int {
	depth := 0
	for i := open; i < len(lines); i++ {
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if depth == 0 {
			return i
		}
	}
	return -1
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
