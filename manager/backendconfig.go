package manager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ListFormat selects the output parser applied to a backend's list and search
// commands.
type ListFormat string

const (
	FormatWhitespace     ListFormat = "whitespace"
	FormatTSV            ListFormat = "tsv"
	FormatJSON           ListFormat = "json"
	FormatJSONObjectKeys ListFormat = "json_object_keys"
	FormatRegex          ListFormat = "regex"
)

// ColUnset marks an absent column index in a BackendConfig.
const ColUnset = -1

// backendNameRegex constrains backend names to lowercase alphanumerics plus
// '-' and '_'.
var backendNameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

// BackendConfig is the declarative definition of how to drive one package
// manager: which binary to run, the command templates for each operation, and
// how to parse list/search output. Backends are data, not code; a new manager
// ships as a definition file, and only semantics the declarative grammar
// cannot express warrant a bespoke implementation.
//
// Command templates may contain the placeholders {binary}, {packages} and
// {query}; every placeholder is substituted before execution.
type BackendConfig struct {
	Name         string   `mapstructure:"name"`
	Binary       []string `mapstructure:"binary"`
	DisplayTitle string   `mapstructure:"display_title"`
	Platforms    []string `mapstructure:"platforms"`
	Requires     []string `mapstructure:"requires"`
	NeedsSudo    bool     `mapstructure:"needs_sudo"`
	Fallback     string   `mapstructure:"fallback"`

	ListCmd        string `mapstructure:"list"`
	SearchCmd      string `mapstructure:"search"`
	SearchLocalCmd string `mapstructure:"search_local"`
	InstallCmd     string `mapstructure:"install"`
	RemoveCmd      string `mapstructure:"remove"`
	UpdateCmd      string `mapstructure:"update"`
	UpgradeCmd     string `mapstructure:"upgrade"`
	CacheCleanCmd  string `mapstructure:"cache_clean"`

	ListFormat     ListFormat `mapstructure:"list_format"`
	ListNameCol    int        `mapstructure:"list_name_col"`
	ListVersionCol int        `mapstructure:"list_version_col"`
	ListJSONPath   string     `mapstructure:"list_json_path"`
	ListNameKey    string     `mapstructure:"list_name_key"`
	ListVersionKey string     `mapstructure:"list_version_key"`
	ListRegex      string     `mapstructure:"list_regex"`

	NoconfirmFlag            string            `mapstructure:"noconfirm"`
	PreinstallEnv            map[string]string `mapstructure:"env"`
	PackageSources           []string          `mapstructure:"package_sources"`
	PreferListForLocalSearch bool              `mapstructure:"prefer_list_for_local_search"`
}

// NewBackendConfig returns a config with unset column sentinels in place.
func NewBackendConfig(name string) BackendConfig {
	return BackendConfig{
		Name:           name,
		ListFormat:     FormatWhitespace,
		ListNameCol:    ColUnset,
		ListVersionCol: ColUnset,
	}
}

// Validate enforces the structural invariants of a backend definition.
func (c *BackendConfig) Validate() error {
	if c.Name == "" {
		return errors.New("backend name cannot be empty")
	}
	if !backendNameRegex.MatchString(c.Name) {
		return errors.Errorf("backend name '%s' must be lowercase alphanumeric with '-' or '_'", c.Name)
	}
	if len(c.Binary) == 0 {
		return errors.Errorf("backend '%s': binary is required", c.Name)
	}
	if c.InstallCmd == "" {
		return errors.Errorf("backend '%s': install command is required", c.Name)
	}
	if !strings.Contains(c.InstallCmd, "{packages}") {
		return errors.Errorf("backend '%s': install command must contain {packages}", c.Name)
	}
	switch c.ListFormat {
	case FormatWhitespace, FormatTSV:
		if c.ListCmd != "" && c.ListNameCol == ColUnset {
			return errors.Errorf("backend '%s': list_format %q requires name_col", c.Name, c.ListFormat)
		}
	case FormatJSON, FormatJSONObjectKeys:
		if c.ListNameKey == "" && c.ListFormat == FormatJSON {
			return errors.Errorf("backend '%s': list_format json requires name_key", c.Name)
		}
	case FormatRegex:
		if c.ListRegex == "" {
			return errors.Errorf("backend '%s': list_format regex requires a regex", c.Name)
		}
	case "":
		// Tolerated for backends with no list command at all.
		if c.ListCmd != "" {
			return errors.Errorf("backend '%s': list command without list_format", c.Name)
		}
	default:
		return errors.Errorf("backend '%s': unknown list_format %q", c.Name, c.ListFormat)
	}
	return nil
}

// Clone returns a deep copy so runtime overrides never mutate the registry's
// canonical definition.
func (c *BackendConfig) Clone() BackendConfig {
	out := *c
	out.Binary = append([]string(nil), c.Binary...)
	out.Platforms = append([]string(nil), c.Platforms...)
	out.Requires = append([]string(nil), c.Requires...)
	out.PackageSources = append([]string(nil), c.PackageSources...)
	if c.PreinstallEnv != nil {
		out.PreinstallEnv = make(map[string]string, len(c.PreinstallEnv))
		for k, v := range c.PreinstallEnv {
			out.PreinstallEnv[k] = v
		}
	}
	return out
}

// ApplyOptions decodes runtime key/value overrides from config
// (options:<backend> blocks) onto a derived clone. Unknown keys are an error
// so typos surface during lint rather than silently changing nothing.
func (c *BackendConfig) ApplyOptions(opts map[string]string) (BackendConfig, error) {
	derived := c.Clone()
	if len(opts) == 0 {
		return derived, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &derived,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return derived, errors.Wrap(err, "building option decoder")
	}
	input := make(map[string]interface{}, len(opts))
	for k, v := range opts {
		input[k] = v
	}
	if err := decoder.Decode(input); err != nil {
		return derived, errors.Wrapf(err, "invalid options for backend '%s'", c.Name)
	}
	if err := derived.Validate(); err != nil {
		return derived, errors.Wrapf(err, "options for backend '%s' produce an invalid config", c.Name)
	}
	return derived, nil
}

// Title returns the display title, falling back to the backend name.
func (c *BackendConfig) Title() string {
	if c.DisplayTitle != "" {
		return c.DisplayTitle
	}
	return c.Name
}

// RenderCommand substitutes every placeholder in a command template and
// verifies none leaks through to the child process.
func RenderCommand(template, binary, packages, query string) (string, error) {
	cmd := template
	cmd = strings.ReplaceAll(cmd, "{binary}", binary)
	cmd = strings.ReplaceAll(cmd, "{packages}", packages)
	cmd = strings.ReplaceAll(cmd, "{query}", query)
	if idx := strings.IndexByte(cmd, '{'); idx != -1 {
		if end := strings.IndexByte(cmd[idx:], '}'); end != -1 {
			return "", fmt.Errorf("command template contains unresolved placeholder %q", cmd[idx:idx+end+1])
		}
	}
	return cmd, nil
}
