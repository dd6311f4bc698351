package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupTimeLayout matches the suffix the bot has always used for backups.
const backupTimeLayout = "20060102_150405"

// Store reads and writes one JSON document under a data directory.
type Store struct {
	dir  string
	name string
}

// New returns a store for <dir>/<name>.json, creating dir when needed.
func New(dir, name string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Kind: KindIO, Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{dir: dir, name: name}, nil
}

func (s *Store) Name() string { return s.name }
func (s *Store) Dir() string  { return s.dir }

// Path returns the location of the main document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.name+".json")
}

// Read decodes the main document into v.
func (s *Store) Read(v any) error {
	return s.ReadFile(s.Path(), v)
}

// ReadFile decodes an arbitrary document (e.g. a backup) into v.
func (s *Store) ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Kind: KindIO, Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: KindParse, Op: "decode", Path: path, Err: err}
	}
	return nil
}

// Write encodes v with two-space indentation and atomically replaces the
// main document.
func (s *Store) Write(v any) error {
	return s.writeFile(s.Path(), v)
}

func (s *Store) writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Kind: KindParse, Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &Error{Kind: KindIO, Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Op: "rename", Path: path, Err: err}
	}

	return nil
}

// Validate reports whether the main document exists and holds valid JSON.
// The content itself is not checked.
func (s *Store) Validate() error {
	return validateFile(s.Path())
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Kind: KindIO, Op: "read", Path: path, Err: err}
	}
	if !json.Valid(data) {
		return &Error{Kind: KindParse, Op: "validate", Path: path, Err: errors.New("invalid JSON")}
	}
	return nil
}

// WriteBackup writes v to <prefix>_<name>_<YYYYMMDD_HHMMSS>.json and returns
// the file name.
func (s *Store) WriteBackup(prefix string, v any, now time.Time) (string, error) {
	filename := fmt.Sprintf("%s_%s_%s.json", prefix, s.name, now.Format(backupTimeLayout))
	if err := s.writeFile(filepath.Join(s.dir, filename), v); err != nil {
		return "", err
	}
	return filename, nil
}

// Backups lists the backup files for prefix, newest first by modification time.
func (s *Store) Backups(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "list", Path: s.dir, Err: err}
	}

	type candidate struct {
		path    string
		modTime time.Time
	}

	pattern := prefix + "_" + s.name + "_"
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), pattern) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(s.dir, e.Name()), modTime: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].modTime.Equal(found[j].modTime) {
			// same mtime: the timestamp suffix decides
			return found[i].path > found[j].path
		}
		return found[i].modTime.After(found[j].modTime)
	})

	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.path
	}
	return out, nil
}

// LatestValidBackup returns the newest backup for prefix that holds valid
// JSON. ok is false when there is none.
func (s *Store) LatestValidBackup(prefix string) (path string, ok bool, err error) {
	backups, err := s.Backups(prefix)
	if err != nil {
		return "", false, err
	}
	for _, b := range backups {
		if validateFile(b) == nil {
			return b, true, nil
		}
	}
	return "", false, nil
}

// CopyFrom replaces the main document with the bytes of src.
func (s *Store) CopyFrom(src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &Error{Kind: KindIO, Op: "read", Path: src, Err: err}
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &Error{Kind: KindParse, Op: "decode", Path: src, Err: err}
	}
	return s.writeFile(s.Path(), raw)
}

// SetAside copies the main document byte for byte to
// <name>.corrupt_<YYYYMMDD_HHMMSS>.json so a rejected document survives the
// next save. It returns the path of the copy.
func (s *Store) SetAside(now time.Time) (string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return "", &Error{Kind: KindIO, Op: "read", Path: s.Path(), Err: err}
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.corrupt_%s.json", s.name, now.Format(backupTimeLayout)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &Error{Kind: KindIO, Op: "write", Path: path, Err: err}
	}
	return path, nil
}

// Exists reports whether the main document is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return !errors.Is(err, fs.ErrNotExist)
}
