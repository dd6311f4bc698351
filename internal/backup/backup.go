package backup

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultPrefix is used for the backups written on shutdown.
const DefaultPrefix = "shutdown_backup"

// Document is a restorable document on disk. *jsonfile.Store satisfies it.
type Document interface {
	Name() string
	Validate() error
	LatestValidBackup(prefix string) (string, bool, error)
	CopyFrom(src string) error
}

type Outcome string

const (
	Kept     Outcome = "kept"
	Restored Outcome = "restored"
	NoBackup Outcome = "no-backup"
)

// Result is the restore outcome of one document.
type Result struct {
	Document string
	Outcome  Outcome
	Backup   string
	// Cause is why the main document was rejected.
	Cause error
}

// RestoreMissing replaces every main document that is missing or not valid
// JSON with its newest valid backup. It must run before the documents are
// loaded. Content is never inspected, only JSON validity.
func RestoreMissing(prefix string, logger *zap.Logger, docs ...Document) ([]Result, error) {
	logger = logger.Named("backup")

	results := make([]Result, 0, len(docs))
	var errs []error

	for _, d := range docs {
		res := Result{Document: d.Name(), Outcome: Kept}

		cause := d.Validate()
		if cause == nil {
			logger.Info("main document is valid", zap.String("document", d.Name()))
			results = append(results, res)
			continue
		}
		res.Cause = cause
		logger.Warn("main document missing or corrupt", zap.String("document", d.Name()), zap.Error(cause))

		path, ok, err := d.LatestValidBackup(prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: list backups: %w", d.Name(), err))
			res.Outcome = NoBackup
			results = append(results, res)
			continue
		}
		if !ok {
			logger.Info("no backup found, defaults will be used", zap.String("document", d.Name()))
			res.Outcome = NoBackup
			results = append(results, res)
			continue
		}

		if err := d.CopyFrom(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: restore %s: %w", d.Name(), filepath.Base(path), err))
			res.Outcome = NoBackup
			results = append(results, res)
			continue
		}

		res.Outcome = Restored
		res.Backup = filepath.Base(path)
		logger.Info("restored from backup", zap.String("document", d.Name()), zap.String("backup", res.Backup))
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

// Saver flushes a document to disk.
type Saver interface {
	Save() error
}

// Backupper can additionally write a timestamped copy of itself.
type Backupper interface {
	Saver
	Backup(prefix string) (string, error)
}

// Target names a document for Shutdown.
type Target struct {
	Name string
	Doc  Saver
}

// Shutdown force-saves every target and writes a backup of those that
// support it. Every target is attempted even if an earlier one fails.
func Shutdown(prefix string, logger *zap.Logger, targets ...Target) error {
	logger = logger.Named("backup")
	logger.Info("saving all data before shutdown")

	var errs []error
	for _, t := range targets {
		if err := t.Doc.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", t.Name, err))
			continue
		}

		b, ok := t.Doc.(Backupper)
		if !ok {
			continue
		}
		name, err := b.Backup(prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("backup %s: %w", t.Name, err))
			continue
		}
		logger.Info("shutdown backup written", zap.String("document", t.Name), zap.String("file", name))
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("shutdown backup incomplete", zap.Error(err))
		return err
	}
	logger.Info("shutdown backup completed")
	return nil
}
