package manager

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/kdl"
)

// ParseBackendDefinitions parses backend "<name>" { ... } blocks from a
// definition file. Nodes other than backend blocks are ignored with a
// warning so aggregate files can carry comments and metadata.
func ParseBackendDefinitions(content, source string) ([]BackendConfig, error) {
	doc, err := kdl.Parse(content)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing backend file %s", source)
	}
	var configs []BackendConfig
	for _, node := range doc.Nodes {
		if node.Name != "backend" {
			logrus.WithFields(logrus.Fields{"file": source, "node": node.Name}).
				Debug("ignoring non-backend node in backend file")
			continue
		}
		cfg, err := parseBackendNode(node, source)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func parseBackendNode(node *kdl.Node, source string) (BackendConfig, error) {
	name := node.FirstArg()
	cfg := NewBackendConfig(strings.ToLower(name))
	if name == "" {
		return cfg, errors.Errorf("%s: backend block on line %d has no name", source, node.Line)
	}

	for _, child := range node.Children {
		switch child.Name {
		case "binary":
			cfg.Binary = child.ArgValues()
		case "title", "display_title":
			cfg.DisplayTitle = child.FirstArg()
		case "platforms":
			cfg.Platforms = child.ArgValues()
		case "requires":
			cfg.Requires = child.ArgValues()
		case "needs_sudo":
			cfg.NeedsSudo = boolArg(child)
		case "fallback":
			cfg.Fallback = strings.ToLower(child.FirstArg())
		case "list":
			cfg.ListCmd = child.FirstArg()
			if err := parseListHints(&cfg, child, source); err != nil {
				return cfg, err
			}
		case "search":
			cfg.SearchCmd = child.FirstArg()
			if err := parseListHints(&cfg, child, source); err != nil {
				return cfg, err
			}
		case "search_local":
			cfg.SearchLocalCmd = child.FirstArg()
		case "install":
			cfg.InstallCmd = child.FirstArg()
		case "remove":
			cfg.RemoveCmd = child.FirstArg()
		case "update":
			cfg.UpdateCmd = child.FirstArg()
		case "upgrade":
			cfg.UpgradeCmd = child.FirstArg()
		case "cache_clean":
			cfg.CacheCleanCmd = child.FirstArg()
		case "noconfirm":
			cfg.NoconfirmFlag = child.FirstArg()
		case "env":
			cfg.PreinstallEnv = parseEnvPairs(child)
		case "package_sources", "sources":
			cfg.PackageSources = child.ArgValues()
		case "prefer_list_for_local_search":
			cfg.PreferListForLocalSearch = boolArg(child)
		case "meta":
			// Descriptive only; nothing in the engine consumes it.
		default:
			logrus.WithFields(logrus.Fields{"file": source, "backend": name, "key": child.Name}).
				Warn("unknown key in backend definition")
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "%s: backend '%s'", source, name)
	}
	return cfg, nil
}

// parseListHints reads the parsing-hint block attached to a list or search
// command node.
func parseListHints(cfg *BackendConfig, node *kdl.Node, source string) error {
	for _, hint := range node.Children {
		value := hint.FirstArg()
		switch hint.Name {
		case "format":
			cfg.ListFormat = ListFormat(value)
		case "name_col":
			col, err := strconv.Atoi(value)
			if err != nil {
				return errors.Errorf("%s: line %d: name_col must be a number, got %q", source, hint.Line, value)
			}
			cfg.ListNameCol = col
		case "version_col":
			col, err := strconv.Atoi(value)
			if err != nil {
				return errors.Errorf("%s: line %d: version_col must be a number, got %q", source, hint.Line, value)
			}
			cfg.ListVersionCol = col
		case "json_path":
			cfg.ListJSONPath = value
		case "name_key":
			cfg.ListNameKey = value
		case "version_key":
			cfg.ListVersionKey = value
		case "regex":
			cfg.ListRegex = value
		default:
			logrus.WithFields(logrus.Fields{"file": source, "key": hint.Name}).
				Warn("unknown parsing hint in backend definition")
		}
	}
	return nil
}

// parseEnvPairs accepts both inline KEY="val" arguments and a child block of
// KEY "val" nodes.
func parseEnvPairs(node *kdl.Node) map[string]string {
	env := make(map[string]string)
	args := node.Args
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !a.Quoted && strings.HasSuffix(a.Value, "=") && i+1 < len(args) && args[i+1].Quoted {
			env[strings.TrimSuffix(a.Value, "=")] = args[i+1].Value
			i++
			continue
		}
		if key, value, ok := strings.Cut(a.Value, "="); ok && !a.Quoted {
			env[key] = value
		}
	}
	for _, child := range node.Children {
		env[child.Name] = child.FirstArg()
	}
	return env
}

func boolArg(node *kdl.Node) bool {
	switch strings.ToLower(node.FirstArg()) {
	case "true", "yes", "1":
		return true
	default:
		// A bare `needs_sudo` node with no argument also means true.
		return len(node.Args) == 0
	}
}
