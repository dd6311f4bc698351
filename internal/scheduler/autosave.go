package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var errPanic = errors.New("price update panicked")

// Saver is anything that can flush its state to disk.
type Saver interface {
	Save() error
}

// Target names a saver for logging.
type Target struct {
	Name  string
	Saver Saver
}

// AutoSaver periodically force-saves every target on a cron schedule.
type AutoSaver struct {
	cron    *cron.Cron
	targets []Target
	logger  *zap.Logger
}

// NewAutoSaver parses schedule (standard cron or a descriptor such as
// "@every 5m") and registers the save job. It does not start the scheduler.
func NewAutoSaver(schedule string, logger *zap.Logger, targets ...Target) (*AutoSaver, error) {
	a := &AutoSaver{
		cron:    cron.New(),
		targets: targets,
		logger:  logger.Named("autosave"),
	}

	if _, err := a.cron.AddFunc(schedule, func() {
		if err := a.SaveAll(); err != nil {
			a.logger.Error("auto-save failed", zap.Error(err))
			return
		}
		a.logger.Debug("auto-save completed", zap.Int("targets", len(a.targets)))
	}); err != nil {
		return nil, fmt.Errorf("invalid autosave schedule %q: %w", schedule, err)
	}

	return a, nil
}

// SaveAll saves every target and joins the failures.
func (a *AutoSaver) SaveAll() error {
	var errs []error
	for _, t := range a.targets {
		if err := t.Saver.Save(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *AutoSaver) Start() {
	a.cron.Start()
	a.logger.Info("auto-save scheduled", zap.Int("targets", len(a.targets)))
}

// Stop halts the schedule and returns a context that is done once a running
// save has finished.
func (a *AutoSaver) Stop() context.Context {
	return a.cron.Stop()
}
