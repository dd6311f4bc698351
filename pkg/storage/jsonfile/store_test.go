package jsonfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptobot/pkg/storage/jsonfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Admins []int64 `json:"admins"`
}

func newStore(t *testing.T) *jsonfile.Store {
	t.Helper()
	s, err := jsonfile.New(filepath.Join(t.TempDir(), "data"), "admin")
	require.NoError(t, err)
	return s
}

// go test -v --run TestReadMissing
func TestReadMissing(t *testing.T) {
	s := newStore(t)

	var d doc
	err := s.Read(&d)
	require.Error(t, err)

	var storeErr *jsonfile.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, jsonfile.KindIO, storeErr.Kind)
	assert.True(t, jsonfile.IsNotExist(err))
	assert.False(t, s.Exists())
}

// go test -v --run TestReadCorrupt
func TestReadCorrupt(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	var d doc
	err := s.Read(&d)
	require.Error(t, err)
	assert.True(t, jsonfile.IsParse(err))
	assert.False(t, jsonfile.IsNotExist(err))

	assert.True(t, jsonfile.IsParse(s.Validate()))
}

// go test -v --run TestSetAside
func TestSetAside(t *testing.T) {
	s := newStore(t)
	_, err := s.SetAside(time.Now())
	assert.True(t, jsonfile.IsNotExist(err))

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	path, err := s.SetAside(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "admin.corrupt_20240501_120000.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))
}

// go test -v --run TestWriteRead
func TestWriteRead(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Write(doc{Admins: []int64{7, 42}}))
	require.NoError(t, s.Validate())

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"admins\"")

	var got doc
	require.NoError(t, s.Read(&got))
	assert.Equal(t, []int64{7, 42}, got.Admins)

	// no temp files left behind
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// go test -v --run TestBackups
func TestBackups(t *testing.T) {
	s := newStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older, err := s.WriteBackup("shutdown_backup", doc{Admins: []int64{1}}, base)
	require.NoError(t, err)
	assert.Equal(t, "shutdown_backup_admin_20240301_120000.json", older)

	newer, err := s.WriteBackup("shutdown_backup", doc{Admins: []int64{2}}, base.Add(time.Hour))
	require.NoError(t, err)

	// make the mtimes unambiguous
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), older), base, base))
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), newer), base.Add(time.Hour), base.Add(time.Hour)))

	// other prefixes and documents are ignored
	_, err = s.WriteBackup("manual", doc{}, base.Add(2*time.Hour))
	require.NoError(t, err)

	backups, err := s.Backups("shutdown_backup")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, filepath.Join(s.Dir(), newer), backups[0])

	latest, ok, err := s.LatestValidBackup("shutdown_backup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(), newer), latest)

	require.NoError(t, s.CopyFrom(latest))
	var got doc
	require.NoError(t, s.Read(&got))
	assert.Equal(t, []int64{2}, got.Admins)
}

// go test -v --run TestLatestValidBackupSkipsCorrupt
func TestLatestValidBackupSkipsCorrupt(t *testing.T) {
	s := newStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	good, err := s.WriteBackup("shutdown_backup", doc{Admins: []int64{9}}, base)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), good), base, base))

	bad := filepath.Join(s.Dir(), "shutdown_backup_admin_20240301_130000.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	require.NoError(t, os.Chtimes(bad, base.Add(time.Hour), base.Add(time.Hour)))

	latest, ok, err := s.LatestValidBackup("shutdown_backup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(), good), latest)

	_, ok, err = s.LatestValidBackup("missing_prefix")
	require.NoError(t, err)
	assert.False(t, ok)
}
