package manager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid package names
		{"simple name", "vim", false},
		{"name with version chars", "python3.8", false},
		{"name with dash", "gcc-9-base", false},
		{"name with underscore", "libc6_dev", false},
		{"name with plus", "g++", false},
		{"architecture specifier", "libc6:amd64", false},
		{"reverse-dns id", "com.spotify.Client", false},
		{"scoped npm package", "@angular/cli", false},

		// Injection attempts
		{"semicolon injection", "package; rm -rf /", true},
		{"pipe injection", "package | cat /etc/passwd", true},
		{"ampersand injection", "package && other", true},
		{"backtick injection", "package`evil`", true},
		{"subshell injection", "package$(bad)", true},
		{"redirect injection", "package > /etc/shadow", true},
		{"newline injection", "package\nrm -rf /", true},
		{"path traversal", "../../etc/passwd", true},

		// Structural limits
		{"empty name", "", true},
		{"overlong name", strings.Repeat("a", 256), true},
		{"embedded space", "two words", true},
		{"control character", "pkg\x07", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePackageNamesReportsOffender(t *testing.T) {
	err := ValidatePackageNames([]string{"vim", "bad;name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad;name")
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain word", "vim", "'vim'"},
		{"embedded quote", "it's", `'it'\''s'`},
		{"spaces preserved", "a b", "'a b'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellEscape(tt.input))
		})
	}
}

func TestShellEscapeJoin(t *testing.T) {
	joined, err := ShellEscapeJoin([]string{"vim", "bat"})
	require.NoError(t, err)
	assert.Equal(t, "'vim' 'bat'", joined)

	_, err = ShellEscapeJoin([]string{"vim", "bad;rm"})
	assert.Error(t, err)
}
