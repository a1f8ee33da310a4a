package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/state")
	store.SetIdentity("testhost", "declarch/test")
	return store, fs
}

func samplePackage(backend, name string) PackageState {
	return PackageState{
		Backend:      backend,
		ConfigName:   name,
		ProvidesName: name,
		InstalledAt:  time.Now().UTC().Truncate(time.Second),
		Version:      "1.0.0",
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	store, _ := testStore()
	st, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, CurrentSchemaVersion, st.Meta.SchemaVersion)
	assert.Equal(t, "testhost", st.Meta.Hostname)
	assert.Empty(t, st.Packages)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := testStore()
	st := Default("testhost", "declarch/test")
	st.Insert(samplePackage("aur", "bat"))
	st.Insert(samplePackage("npm", "typescript"))
	require.NoError(t, store.Save(st))

	loaded, err := store.Load()
	require.NoError(t, err)

	// Round-trip equality under JSON canonicalization.
	a, _ := json.Marshal(st)
	b, _ := json.Marshal(loaded)
	assert.JSONEq(t, string(a), string(b))
}

func TestSaveRotatesBackups(t *testing.T) {
	store, fs := testStore()
	st := Default("testhost", "declarch/test")

	for i := 0; i < 5; i++ {
		st.Insert(samplePackage("aur", "pkg"))
		require.NoError(t, store.Save(st))
	}

	for _, path := range []string{
		"/state/state.json",
		"/state/state.json.bak.1",
		"/state/state.json.bak.2",
		"/state/state.json.bak.3",
	} {
		ok, _ := afero.Exists(fs, path)
		assert.True(t, ok, path)
	}
	ok, _ := afero.Exists(fs, "/state/state.json.bak.4")
	assert.False(t, ok, "at most 3 backups are kept")
}

func TestCorruptStateNonStrictFallsBackToDefault(t *testing.T) {
	store, fs := testStore()
	require.NoError(t, afero.WriteFile(fs, "/state/state.json", []byte("{broken"), 0o644))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Packages)
}

func TestCorruptStateStrictRestoresFromBackup(t *testing.T) {
	store, fs := testStore()
	store.SetStrict(true)

	good := Default("testhost", "declarch/test")
	good.Insert(samplePackage("aur", "bat"))
	raw, err := json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/state/state.json", []byte("{broken"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/state/state.json.bak.1", []byte("also broken"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/state/state.json.bak.2", raw, 0o644))

	st, err := store.Load()
	require.NoError(t, err)
	_, ok := st.Get("aur", "bat")
	assert.True(t, ok)
}

func TestCorruptStateStrictWithoutBackupsFails(t *testing.T) {
	store, fs := testStore()
	store.SetStrict(true)
	require.NoError(t, afero.WriteFile(fs, "/state/state.json", []byte("{broken"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	var corrupt *CorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoadMigratesOldSchema(t *testing.T) {
	store, fs := testStore()
	old := `{
  "meta": {"schema_version": 1, "last_sync": "2024-01-01T00:00:00Z", "hostname": "testhost"},
  "packages": {
    "AUR:bat": {"backend": "AUR", "config_name": "bat", "installed_at": "2024-01-01T00:00:00Z"}
  }
}`
	require.NoError(t, afero.WriteFile(fs, "/state/state.json", []byte(old), 0o644))

	st, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, CurrentSchemaVersion, st.Meta.SchemaVersion)
	ps, ok := st.Get("aur", "bat")
	require.True(t, ok)
	assert.Equal(t, "aur", ps.Backend)
	assert.Equal(t, "bat", ps.ProvidesName)
	_, stale := st.Packages["AUR:bat"]
	assert.False(t, stale)
}

func TestTouchAdvancesRevision(t *testing.T) {
	st := Default("h", "g")
	before := st.Meta.StateRevision
	Touch(st)
	assert.Equal(t, before+1, st.Meta.StateRevision)
}

func TestInsertGetRemove(t *testing.T) {
	st := Default("h", "g")
	st.Insert(samplePackage("AUR", "bat"))

	_, ok := st.Get("aur", "bat")
	assert.True(t, ok)
	assert.True(t, st.Remove("AUR", "bat"))
	assert.False(t, st.Remove("aur", "bat"))
}

func TestAcquireLockContention(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	defer first.Release()

	_, err = AcquireLock(dir)
	require.Error(t, err)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Contains(t, lockErr.Error(), "currently running")
}

func TestAcquireLockAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	first.Release()

	second, err := AcquireLock(dir)
	require.NoError(t, err)
	second.Release()
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()

	// A lock file nobody holds (simulating a crashed process).
	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	lock.fl.Unlock()
	lock.fl = nil // leave the file behind

	second, err := AcquireLock(dir)
	require.NoError(t, err)
	second.Release()
}
