// Package commands implements the orchestration layer: sync, lint, search,
// info, switch and install built on the loader, registry, resolver, executor
// and state store. Each operation produces either a human report or, when
// requested, the stable v1 machine envelope.
package commands

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvelopeVersion is the stable machine-output contract version.
const EnvelopeVersion = "v1"

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Envelope is the versioned machine-output wrapper contracted for info,
// lint, search and sync --dry-run.
type Envelope struct {
	Version  string       `json:"version" yaml:"version"`
	Command  string       `json:"command" yaml:"command"`
	OK       bool         `json:"ok" yaml:"ok"`
	Data     interface{}  `json:"data" yaml:"data"`
	Warnings []string     `json:"warnings" yaml:"warnings"`
	Errors   []string     `json:"errors" yaml:"errors"`
	Meta     EnvelopeMeta `json:"meta" yaml:"meta"`
}

// EnvelopeMeta stamps generation time.
type EnvelopeMeta struct {
	GeneratedAt string `json:"generated_at" yaml:"generated_at"`
}

// NewEnvelope builds an empty successful envelope for a command.
func NewEnvelope(command string) *Envelope {
	return &Envelope{
		Version:  EnvelopeVersion,
		Command:  command,
		OK:       true,
		Warnings: []string{},
		Errors:   []string{},
		Meta:     EnvelopeMeta{GeneratedAt: time.Now().UTC().Format(time.RFC3339)},
	}
}

// Warn attaches a warning without failing the envelope.
func (e *Envelope) Warn(message string) {
	e.Warnings = append(e.Warnings, message)
}

// Fail marks the envelope unsuccessful and records the error.
func (e *Envelope) Fail(err error) {
	e.OK = false
	e.Errors = append(e.Errors, err.Error())
}

// Render serializes the envelope in the requested format.
func (e *Envelope) Render(format string) (string, error) {
	switch format {
	case FormatJSON:
		raw, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "rendering json envelope")
		}
		return string(raw) + "\n", nil
	case FormatYAML:
		raw, err := yaml.Marshal(e)
		if err != nil {
			return "", errors.Wrap(err, "rendering yaml envelope")
		}
		return string(raw), nil
	}
	return "", errors.Errorf("unsupported envelope format %q", format)
}

// WantsEnvelope reports whether the caller asked for machine output.
func WantsEnvelope(format, outputVersion string) bool {
	return (format == FormatJSON || format == FormatYAML) && outputVersion == EnvelopeVersion
}
