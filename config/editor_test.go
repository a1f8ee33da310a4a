package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixval/declarch/core"
)

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(raw)
}

func TestAddPackagesToExistingBackendBlock(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `pkg {
    aur {
        bat
    }
}
`,
	})
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/declarch.kdl", []core.PackageId{
		core.NewPackageId("aur", "ripgrep"),
	}))

	content := readFile(t, fs, "/cfg/declarch.kdl")
	merged := loadWith(t, writeFiles(t, map[string]string{"/out.kdl": content}), "/out.kdl")
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "bat")))
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "ripgrep")))
}

func TestAddPackagesCreatesBackendBlock(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `pkg {
    aur {
        bat
    }
}
`,
	})
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/declarch.kdl", []core.PackageId{
		core.NewPackageId("npm", "typescript"),
	}))

	content := readFile(t, fs, "/cfg/declarch.kdl")
	merged := loadWith(t, writeFiles(t, map[string]string{"/out.kdl": content}), "/out.kdl")
	assert.True(t, merged.HasPackage(core.NewPackageId("npm", "typescript")))
	assert.True(t, merged.HasPackage(core.NewPackageId("aur", "bat")))
}

func TestAddPackagesCreatesFileWhenAbsent(t *testing.T) {
	fs := afero.NewMemMapFs()
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/modules/tools.kdl", []core.PackageId{
		core.NewPackageId("aur", "bat"),
		core.NewPackageId("aur", "ripgrep"),
	}))

	content := readFile(t, fs, "/cfg/modules/tools.kdl")
	merged := loadWith(t, writeFiles(t, map[string]string{"/out.kdl": content}), "/out.kdl")
	assert.Len(t, merged.PackageIds(), 2)
}

func TestAddPackagesSkipsAlreadyDeclared(t *testing.T) {
	original := `pkg {
    aur {
        bat
    }
}
`
	fs := writeFiles(t, map[string]string{"/cfg/declarch.kdl": original})
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/declarch.kdl", []core.PackageId{
		core.NewPackageId("aur", "bat"),
	}))

	assert.Equal(t, original, readFile(t, fs, "/cfg/declarch.kdl"))
}

func TestAddPackagesWritesBackup(t *testing.T) {
	original := "pkg {\n    aur {\n        bat\n    }\n}\n"
	fs := writeFiles(t, map[string]string{"/cfg/declarch.kdl": original})
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/declarch.kdl", []core.PackageId{
		core.NewPackageId("aur", "ripgrep"),
	}))

	assert.Equal(t, original, readFile(t, fs, "/cfg/declarch.kdl.bak"))
}

func TestAddPackagesPreservesComments(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/cfg/declarch.kdl": `// my tools
pkg {
    aur {
        bat // the good cat
    }
}
`,
	})
	editor := NewEditor(fs)
	require.NoError(t, editor.AddPackages("/cfg/declarch.kdl", []core.PackageId{
		core.NewPackageId("aur", "ripgrep"),
	}))

	content := readFile(t, fs, "/cfg/declarch.kdl")
	assert.Contains(t, content, "// my tools")
	assert.Contains(t, content, "// the good cat")
}
