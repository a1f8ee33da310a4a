package state

import (
	"strings"
	"time"
)

// SanitizeReport summarizes what a sanitization pass changed.
type SanitizeReport struct {
	RemovedEmptyName  int `json:"removed_empty_name"`
	RemovedDuplicates int `json:"removed_duplicates"`
	RekeyedEntries    int `json:"rekeyed_entries"`
	NormalizedFields  int `json:"normalized_fields"`
	TotalBefore       int `json:"total_before"`
	TotalAfter        int `json:"total_after"`
}

// Changed reports whether the pass modified anything.
func (r SanitizeReport) Changed() bool {
	return r.RemovedEmptyName > 0 || r.RemovedDuplicates > 0 ||
		r.RekeyedEntries > 0 || r.NormalizedFields > 0
}

// Migrate brings an older-schema state up to CurrentSchemaVersion: entries
// are rekeyed to canonical form, duplicates deduplicated, and missing fields
// populated. The schema version only ever advances.
func Migrate(st *State, hostname, generator string) SanitizeReport {
	report := Sanitize(st)
	if st.Meta.SchemaVersion < CurrentSchemaVersion {
		st.Meta.SchemaVersion = CurrentSchemaVersion
	}
	if st.Meta.Hostname == "" {
		st.Meta.Hostname = hostname
	}
	if st.Meta.Generator == "" {
		st.Meta.Generator = generator
	}
	return report
}

// Sanitize repairs a state in place: drops entries with no usable name,
// rekeys entries whose map key is not canonical, deduplicates entries that
// share (backend, config_name) keeping the earliest install, and fills
// missing provides_name fields. Running it twice reports zero changes the
// second time.
func Sanitize(st *State) SanitizeReport {
	report := SanitizeReport{TotalBefore: len(st.Packages)}
	if st.Packages == nil {
		st.Packages = make(map[string]PackageState)
	}

	cleaned := make(map[string]PackageState, len(st.Packages))
	for key, ps := range st.Packages {
		// Recover identity from the key for legacy entries that predate the
		// backend/config_name fields.
		if ps.Backend == "" || ps.ConfigName == "" {
			if backend, name, ok := strings.Cut(key, ":"); ok && ps.Backend == "" && ps.ConfigName == "" {
				ps.Backend = backend
				ps.ConfigName = name
				report.NormalizedFields++
			}
		}
		if ps.ConfigName == "" || ps.Backend == "" {
			report.RemovedEmptyName++
			continue
		}
		if lowered := strings.ToLower(ps.Backend); lowered != ps.Backend {
			ps.Backend = lowered
			report.NormalizedFields++
		}
		if ps.ProvidesName == "" {
			ps.ProvidesName = ps.ConfigName
			report.NormalizedFields++
		}
		if ps.InstalledAt.IsZero() {
			ps.InstalledAt = time.Now().UTC()
			report.NormalizedFields++
		}

		canonical := Key(ps.Backend, ps.ConfigName)
		if canonical != key {
			report.RekeyedEntries++
		}
		if existing, ok := cleaned[canonical]; ok {
			// Keep the earliest install on duplicate signatures.
			report.RemovedDuplicates++
			if existing.InstalledAt.Before(ps.InstalledAt) {
				continue
			}
		}
		cleaned[canonical] = ps
	}

	st.Packages = cleaned
	report.TotalAfter = len(cleaned)
	return report
}

// ValidateIntegrity runs the post-sanitization checks and returns a
// human-readable problem list, empty when the state is coherent.
func ValidateIntegrity(st *State) []string {
	var problems []string
	seen := make(map[string]string)
	for key, ps := range st.Packages {
		if ps.ProvidesName == "" {
			problems = append(problems, "entry '"+key+"' has an empty provides_name")
		}
		canonical := Key(ps.Backend, ps.ConfigName)
		if key != canonical {
			problems = append(problems, "entry '"+key+"' is not canonically keyed (expected '"+canonical+"')")
		}
		signature := ps.Backend + "\x00" + ps.ConfigName
		if prev, dup := seen[signature]; dup {
			problems = append(problems, "entries '"+prev+"' and '"+key+"' share the same package signature")
		}
		seen[signature] = key
	}
	if st.Meta.LastSync.After(time.Now().Add(time.Minute)) {
		problems = append(problems, "last_sync is in the future")
	}
	return problems
}
