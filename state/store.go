package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	stateFileName = "state.json"
	tempFileName  = "state.tmp"
	backupCount   = 3
)

// Store reads and writes the canonical state document in one directory.
// Writes are atomic: serialize, verify the serialization parses back, write
// to a temp file, fsync, rotate backups, rename over state.json.
type Store struct {
	fs        afero.Fs
	dir       string
	strict    bool
	hostname  string
	generator string
}

// NewStore builds a store over dir; a nil fs means the real filesystem.
func NewStore(fs afero.Fs, dir string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Store{fs: fs, dir: dir, hostname: hostname, generator: "declarch"}
}

// SetStrict controls corrupt-state handling: strict mode attempts backup
// restoration and fails when none parses; non-strict mode falls back to an
// empty state with a warning.
func (s *Store) SetStrict(strict bool) { s.strict = strict }

// SetIdentity overrides the hostname and generator stamped into new state.
func (s *Store) SetIdentity(hostname, generator string) {
	s.hostname = hostname
	s.generator = generator
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the canonical state file path.
func (s *Store) Path() string { return filepath.Join(s.dir, stateFileName) }

func (s *Store) backupPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.bak.%d", stateFileName, n))
}

// Acquire claims the exclusive state lock for this store's directory.
// Locking always happens on the real filesystem.
func (s *Store) Acquire() (*Lock, error) {
	return AcquireLock(s.dir)
}

// Load reads the state file, migrating older schemas forward. A missing file
// yields an empty default. A corrupt file is recovered from backups in
// strict mode or replaced by an empty default otherwise.
func (s *Store) Load() (*State, error) {
	raw, err := afero.ReadFile(s.fs, s.Path())
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return Default(s.hostname, s.generator), nil
		}
		return nil, errors.Wrapf(err, "reading %s", s.Path())
	}

	st, parseErr := parseState(raw)
	if parseErr != nil {
		if !s.strict {
			logrus.WithField("path", s.Path()).WithError(parseErr).
				Warn("state file unreadable, starting from empty state")
			return Default(s.hostname, s.generator), nil
		}
		st, err = s.restoreFromBackups()
		if err != nil {
			return nil, &CorruptError{Path: s.Path(), Reason: parseErr.Error()}
		}
		logrus.WithField("path", s.Path()).Warn("state restored from backup")
	}

	if st.Meta.SchemaVersion < CurrentSchemaVersion {
		report := Migrate(st, s.hostname, s.generator)
		logrus.WithFields(logrus.Fields{
			"rekeyed":    report.RekeyedEntries,
			"duplicates": report.RemovedDuplicates,
			"normalized": report.NormalizedFields,
		}).Debug("migrated state schema")
	}
	return st, nil
}

func (s *Store) restoreFromBackups() (*State, error) {
	for n := 1; n <= backupCount; n++ {
		raw, err := afero.ReadFile(s.fs, s.backupPath(n))
		if err != nil {
			continue
		}
		if st, err := parseState(raw); err == nil {
			return st, nil
		}
	}
	return nil, errors.New("no parseable backup found")
}

func parseState(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	if st.Packages == nil {
		st.Packages = make(map[string]PackageState)
	}
	return &st, nil
}

// Save atomically persists the state.
func (s *Store) Save(st *State) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing state")
	}
	// Paranoia gate: never rename a document over the canonical state unless
	// it parses back.
	if _, err := parseState(raw); err != nil {
		return errors.Wrap(err, "serialized state failed validation")
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", s.dir)
	}

	tmpPath := filepath.Join(s.dir, tempFileName)
	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", tmpPath)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", tmpPath)
	}
	if err := f.Sync(); err != nil {
		logrus.WithError(err).Debug("fsync on state temp file failed")
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpPath)
	}

	s.rotateBackups()

	if err := s.fs.Rename(tmpPath, s.Path()); err != nil {
		return errors.Wrapf(err, "renaming %s over %s", tmpPath, s.Path())
	}
	return nil
}

// rotateBackups shifts state.json.bak.1 -> .2 -> .3 and copies the current
// state to .bak.1, keeping at most backupCount backups.
func (s *Store) rotateBackups() {
	if ok, _ := afero.Exists(s.fs, s.Path()); !ok {
		return
	}
	for n := backupCount - 1; n >= 1; n-- {
		if ok, _ := afero.Exists(s.fs, s.backupPath(n)); ok {
			_ = s.fs.Rename(s.backupPath(n), s.backupPath(n+1))
		}
	}
	if raw, err := afero.ReadFile(s.fs, s.Path()); err == nil {
		_ = afero.WriteFile(s.fs, s.backupPath(1), raw, 0o644)
	}
}

// Touch stamps the sync metadata before a commit: last_sync advances and the
// revision increments.
func Touch(st *State) {
	st.Meta.LastSync = time.Now().UTC()
	st.Meta.StateRevision++
	st.Meta.SchemaVersion = CurrentSchemaVersion
}
