package datafeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"fam_backend/config"
)

// DataLink owns the scheduler that drives every refresh task. One pass runs
// every RefreshInterval: each asset class executes whichever of its tasks
// are due, then the cross-class tasks get the same treatment. Passes run in
// singleton mode, so a slow pass delays the next one instead of overlapping
// it.
//
// A fatal error from any task stops the scheduler and is returned from Run;
// deciding what to do with it (exit, in practice) is main's job.
type DataLink struct {
	classes  []AssetClass
	crossCut []Updater
	interval time.Duration
	logger   *slog.Logger

	fatal chan error
	now   func() time.Time
}

// NewDataLink wires the asset classes and cross-class tasks into a scheduler
// loop.
func NewDataLink(classes []AssetClass, crossCut []Updater, cfg *config.Config, logger *slog.Logger) *DataLink {
	return &DataLink{
		classes:  classes,
		crossCut: crossCut,
		interval: cfg.RefreshInterval,
		logger:   logger,
		fatal:    make(chan error, 1),
		now:      time.Now,
	}
}

// Run seeds every asset class, starts the scheduler and blocks until the
// context is cancelled or a task fails fatally. The first pass runs
// immediately rather than one interval in.
func (d *DataLink) Run(ctx context.Context) error {
	for _, class := range d.classes {
		if err := class.OnStartup(ctx); err != nil {
			return err
		}
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	if _, err := scheduler.Every(d.interval).StartImmediately().Do(func() { d.pass(ctx) }); err != nil {
		return err
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	select {
	case err := <-d.fatal:
		return err
	case <-ctx.Done():
		d.logger.Info("shutdown requested, stopping scheduler")
		return nil
	}
}

func (d *DataLink) pass(ctx context.Context) {
	now := d.now()
	d.logger.Debug("scheduler pass started")
	for _, class := range d.classes {
		if err := class.OnInterval(ctx, now); err != nil {
			d.reportFatal(err)
			return
		}
	}
	if err := runDueUpdaters(ctx, now, d.crossCut, d.logger); err != nil {
		d.reportFatal(err)
	}
}

func (d *DataLink) reportFatal(err error) {
	select {
	case d.fatal <- err:
	default:
	}
}
