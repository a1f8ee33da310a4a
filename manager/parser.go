// Output parsing for backend list and search commands.
package manager

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/core"
)

// OutputParseError reports backend output the configured format could not be
// parsed as.
type OutputParseError struct {
	Source  string
	Message string
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("parsing error in '%s': %s", e.Source, e.Message)
}

// InvalidRegexError reports an uncompilable list_regex pattern.
type InvalidRegexError struct {
	Pattern string
	Cause   error
}

func (e *InvalidRegexError) Error() string {
	return fmt.Sprintf("invalid regex pattern: %s: %v", e.Pattern, e.Cause)
}

func (e *InvalidRegexError) Unwrap() error {
	return e.Cause
}

// ParseListOutput converts a backend's raw stdout into name -> metadata
// according to the config's list format. Versions are preserved verbatim;
// declarch never normalizes backend version strings.
func ParseListOutput(cfg *BackendConfig, output []byte, source string) (map[string]core.PackageMetadata, error) {
	switch cfg.ListFormat {
	case FormatWhitespace:
		return parseColumns(cfg, string(output), source, false)
	case FormatTSV:
		return parseColumns(cfg, string(output), source, true)
	case FormatJSON:
		return parseJSONArray(cfg, output, source)
	case FormatJSONObjectKeys:
		return parseJSONObjectKeys(cfg, output, source)
	case FormatRegex:
		return parseRegex(cfg, string(output))
	default:
		return nil, &OutputParseError{Source: source, Message: fmt.Sprintf("unknown list format %q", cfg.ListFormat)}
	}
}

// parseColumns handles whitespace and tab separated formats. Tab-separated
// output splits on '\t' only; '|' is visual decoration in some tools and is
// never a separator.
func parseColumns(cfg *BackendConfig, output, source string, tabs bool) (map[string]core.PackageMetadata, error) {
	packages := make(map[string]core.PackageMetadata)
	now := time.Now()
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		var fields []string
		if tabs {
			fields = strings.Split(line, "\t")
		} else {
			fields = strings.Fields(line)
		}
		if cfg.ListNameCol < 0 || cfg.ListNameCol >= len(fields) {
			return nil, &OutputParseError{
				Source:  source,
				Message: fmt.Sprintf("name column %d out of range for line %q", cfg.ListNameCol, line),
			}
		}
		name := strings.TrimSpace(fields[cfg.ListNameCol])
		if name == "" {
			continue
		}
		meta := core.PackageMetadata{InstalledAt: now}
		if cfg.ListVersionCol != ColUnset && cfg.ListVersionCol < len(fields) {
			meta.Version = strings.TrimSpace(fields[cfg.ListVersionCol])
		}
		packages[name] = meta
	}
	return packages, nil
}

func parseJSONArray(cfg *BackendConfig, output []byte, source string) (map[string]core.PackageMetadata, error) {
	var root interface{}
	if err := json.Unmarshal(output, &root); err != nil {
		return nil, &OutputParseError{Source: source, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	node, ok := walkJSONPath(root, cfg.ListJSONPath)
	if !ok {
		logrus.WithFields(logrus.Fields{"backend": cfg.Name, "path": cfg.ListJSONPath}).
			Warn("JSON path not found in list output; treating as empty")
		return map[string]core.PackageMetadata{}, nil
	}
	items, ok := node.([]interface{})
	if !ok {
		return nil, &OutputParseError{Source: source, Message: fmt.Sprintf("JSON path %q is not an array", cfg.ListJSONPath)}
	}
	packages := make(map[string]core.PackageMetadata, len(items))
	now := time.Now()
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, ok := obj[cfg.ListNameKey].(string)
		if !ok || name == "" {
			continue
		}
		meta := core.PackageMetadata{InstalledAt: now}
		if cfg.ListVersionKey != "" {
			if version, ok := obj[cfg.ListVersionKey].(string); ok {
				meta.Version = version
			}
		}
		packages[name] = meta
	}
	return packages, nil
}

func parseJSONObjectKeys(cfg *BackendConfig, output []byte, source string) (map[string]core.PackageMetadata, error) {
	var root interface{}
	if err := json.Unmarshal(output, &root); err != nil {
		return nil, &OutputParseError{Source: source, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	node, ok := walkJSONPath(root, cfg.ListJSONPath)
	if !ok {
		logrus.WithFields(logrus.Fields{"backend": cfg.Name, "path": cfg.ListJSONPath}).
			Warn("JSON path not found in list output; treating as empty")
		return map[string]core.PackageMetadata{}, nil
	}
	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, &OutputParseError{Source: source, Message: fmt.Sprintf("JSON path %q is not an object", cfg.ListJSONPath)}
	}
	packages := make(map[string]core.PackageMetadata, len(obj))
	now := time.Now()
	for name, child := range obj {
		meta := core.PackageMetadata{InstalledAt: now}
		if cfg.ListVersionKey != "" {
			if childObj, ok := child.(map[string]interface{}); ok {
				if version, ok := childObj[cfg.ListVersionKey].(string); ok {
					meta.Version = version
				}
			}
		}
		packages[name] = meta
	}
	return packages, nil
}

func parseRegex(cfg *BackendConfig, output string) (map[string]core.PackageMetadata, error) {
	re, err := CompileCached(cfg.ListRegex)
	if err != nil {
		return nil, err
	}
	nameIdx := re.SubexpIndex("name")
	versionIdx := re.SubexpIndex("version")
	if nameIdx == -1 {
		return nil, &InvalidRegexError{Pattern: cfg.ListRegex, Cause: fmt.Errorf("missing capture group 'name'")}
	}
	packages := make(map[string]core.PackageMetadata)
	now := time.Now()
	for _, line := range strings.Split(output, "\n") {
		match := re.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name := match[nameIdx]
		if name == "" {
			continue
		}
		meta := core.PackageMetadata{InstalledAt: now}
		if versionIdx != -1 && versionIdx < len(match) {
			meta.Version = match[versionIdx]
		}
		packages[name] = meta
	}
	return packages, nil
}

// walkJSONPath follows a dotted path ("dependencies" or "result.items") into
// a decoded JSON value. An empty path returns the root.
func walkJSONPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}
	node := root
	for _, step := range strings.Split(path, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = obj[step]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
