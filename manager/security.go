// Package name validation and shell escaping for backend commands.
package manager

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// shellMetacharacters are rejected outright in package names to prevent
// command injection through template interpolation.
const shellMetacharacters = ";|&$`()<>\n"

// ErrInvalidPackageName is returned when a package name contains characters
// that could alter the shell command a backend template expands into.
var ErrInvalidPackageName = errors.New("invalid package name: contains potentially dangerous characters")

// ValidatePackageName checks that an externally supplied package token is safe
// to interpolate into a backend command template.
//
// A valid name is non-empty, at most 255 characters, printable, free of shell
// metacharacters and whitespace-control characters, and contains no ".."
// sequence.
//
// Example valid names:
//   - "vim"
//   - "lib32stdc++-9-dev:i386"
//   - "com.spotify.Client"
//   - "@angular/cli"
//
// Example rejected names:
//   - "package; rm -rf /"
//   - "package$(bad)"
//   - "../../etc/passwd"
func ValidatePackageName(name string) error {
	if name == "" {
		return errors.New("package name cannot be empty")
	}
	if len(name) > 255 {
		return errors.New("package name too long (max 255 characters)")
	}
	if strings.Contains(name, "..") {
		return ErrInvalidPackageName
	}
	if strings.ContainsAny(name, shellMetacharacters) {
		return ErrInvalidPackageName
	}
	for _, r := range name {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ErrInvalidPackageName
		}
	}
	return nil
}

// ValidatePackageNames validates every name, reporting the first offender.
func ValidatePackageNames(names []string) error {
	for _, name := range names {
		if err := ValidatePackageName(name); err != nil {
			return fmt.Errorf("invalid package name '%s': %w", name, err)
		}
	}
	return nil
}

// ShellEscape wraps s in single quotes, escaping embedded single quotes, so
// the result is a single shell word regardless of content.
func ShellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellEscapeJoin validates and escapes each name and joins them with spaces,
// ready for substitution into a {packages} placeholder.
func ShellEscapeJoin(names []string) (string, error) {
	if err := ValidatePackageNames(names); err != nil {
		return "", err
	}
	escaped := make([]string, len(names))
	for i, name := range names {
		escaped[i] = ShellEscape(name)
	}
	return strings.Join(escaped, " "), nil
}
