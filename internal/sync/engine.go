package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/flavordex/flavorsync/internal/photosync"
)

const (
	otelScope            = "flavorsync/sync"
	spanCycle            = "sync.cycle"
	spanPhotos           = "sync.photos"
	metricPushed         = "flavorsync.sync.records.pushed"
	metricPulled         = "flavorsync.sync.records.pulled"
	metricDeleted        = "flavorsync.sync.records.deleted"
	metricErrors         = "flavorsync.sync.errors"
	metricFailedCycles   = "flavorsync.sync.cycles.failed"
	metricPhotosUploaded = "flavorsync.photos.uploaded"
	metricPhotosFetched  = "flavorsync.photos.downloaded"

	flightSync   = "sync"
	flightPhotos = "photos"

	defaultPollInterval = 5 * time.Minute
)

// EngineConfig holds the scheduling knobs of an [Engine].
type EngineConfig struct {
	// PollInterval is the delay between cycles while cycles succeed.
	PollInterval time.Duration
	// PhotoValidateInterval is how often the photo pass compares local blob
	// ids against the blob store listing. Zero disables validation.
	PhotoValidateInterval time.Duration
	// BackoffBase and BackoffMax bound the retry delay after failed cycles.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Engine schedules sync cycles. It owns the persisted [State], runs at most
// one cycle at a time, backs off after failures, and follows a metadata
// cycle with a photo cycle when one is needed. Create one with [NewEngine]
// and start it with [Engine.Run].
type Engine struct {
	syncer *Syncer
	photos PhotoSyncer
	meta   MetaStore
	cfg    EngineConfig
	log    *slog.Logger
	now    func() time.Time

	flight  singleflight.Group
	trigger chan struct{}

	mu   gosync.Mutex
	last State

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer            trace.Tracer
	cntPushed         metric.Int64Counter
	cntPulled         metric.Int64Counter
	cntDeleted        metric.Int64Counter
	cntErrors         metric.Int64Counter
	cntFailed         metric.Int64Counter
	cntPhotosUploaded metric.Int64Counter
	cntPhotosFetched  metric.Int64Counter
}

// NewEngine creates an Engine. If photos is nil, photo cycles are skipped.
func NewEngine(syncer *Syncer, photos PhotoSyncer, meta MetaStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		syncer:  syncer,
		photos:  photos,
		meta:    meta,
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
		trigger: make(chan struct{}, 1),

		tracer:            tracer,
		cntPushed:         mustCounter(metricPushed, "Number of records and deletions pushed"),
		cntPulled:         mustCounter(metricPulled, "Number of records merged from the remote"),
		cntDeleted:        mustCounter(metricDeleted, "Number of local records deleted by remote deletions"),
		cntErrors:         mustCounter(metricErrors, "Number of per-record errors during sync"),
		cntFailed:         mustCounter(metricFailedCycles, "Number of sync cycles that did not complete"),
		cntPhotosUploaded: mustCounter(metricPhotosUploaded, "Number of photos uploaded to the blob store"),
		cntPhotosFetched:  mustCounter(metricPhotosFetched, "Number of photos downloaded from the blob store"),
	}
}

// Trigger requests a cycle as soon as the running one, if any, finishes.
// It never blocks.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs one metadata cycle, followed by a photo cycle when needed.
// Concurrent callers share the result of a single cycle.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	v, err, _ := e.flight.Do(flightSync, func() (any, error) {
		return e.runCycle(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// RunPhotos runs a photo cycle on its own.
func (e *Engine) RunPhotos(ctx context.Context, validate bool) (photosync.Stats, error) {
	if e.photos == nil {
		return photosync.Stats{}, errors.New("photo sync not configured")
	}
	v, err, _ := e.flight.Do(flightPhotos, func() (any, error) {
		return e.photoCycle(ctx, validate)
	})
	if err != nil {
		return photosync.Stats{}, err
	}
	return v.(photosync.Stats), nil
}

// Status returns the persisted scheduler state.
func (e *Engine) Status(ctx context.Context) (State, error) {
	return LoadState(ctx, e.meta)
}

// ResetAuth clears the disabled flag set after rejected credentials, so the
// next cycle contacts the service again.
func (e *Engine) ResetAuth(ctx context.Context) error {
	st, err := LoadState(ctx, e.meta)
	if err != nil {
		return err
	}
	st.AuthDisabled = false
	st.FailureCount = 0
	if err := SaveState(ctx, e.meta, st); err != nil {
		return err
	}
	e.setLast(st)
	e.log.Info("sync re-enabled")
	return nil
}

// Run starts the scheduling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	// Run an immediate first cycle.
	if _, err := e.RunOnce(ctx); err != nil {
		e.log.Error("initial sync failed", "error", err)
	}

	timer := time.NewTimer(e.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-timer.C:
		case <-e.trigger:
			e.log.Debug("sync triggered")
		}
		if _, err := e.RunOnce(ctx); err != nil {
			e.log.Error("sync failed", "error", err)
		}
		timer.Reset(e.nextDelay())
	}
}

// nextDelay is the poll interval after a good cycle and the backoff delay
// after failed ones.
func (e *Engine) nextDelay() time.Duration {
	st := e.lastState()
	if st.FailureCount == 0 || st.AuthDisabled {
		return e.cfg.PollInterval
	}
	d := backoffDelay(st.FailureCount, e.cfg.BackoffBase, e.cfg.BackoffMax)
	e.log.Info("backing off after failed sync", "failures", st.FailureCount, "delay", d)
	return d
}

func (e *Engine) runCycle(ctx context.Context) (Result, error) {
	st, err := LoadState(ctx, e.meta)
	if err != nil {
		return Result{}, err
	}

	st, res := e.syncCycle(ctx, st)
	if err := e.save(ctx, st); err != nil {
		return res, err
	}
	if !res.Completed || e.photos == nil {
		return res, nil
	}

	validate := e.cfg.PhotoValidateInterval > 0 && e.now().Sub(st.LastPhotoValidation) >= e.cfg.PhotoValidateInterval
	if !res.PhotoSyncRequested && !validate && !st.PhotosPending && res.Stats.EntriesPushed == 0 {
		return res, nil
	}

	pstats, err := e.photoCycle(ctx, validate)
	if err != nil {
		e.log.Error("photo sync failed", "error", err)
		st.PhotosPending = true
		return res, e.save(ctx, st)
	}
	st.PhotosPending = pstats.Errors > 0
	if validate {
		st.LastPhotoValidation = e.now()
	}
	if err := e.save(ctx, st); err != nil {
		return res, err
	}

	// Entries that gained blob ids must be pushed again so other devices
	// learn where to download from.
	if pstats.EntriesMarked > 0 {
		e.log.Info("re-pushing entries with new blob ids", "entries", pstats.EntriesMarked)
		st, _ = e.syncCycle(ctx, st)
		if err := e.save(ctx, st); err != nil {
			return res, err
		}
	}
	return res, nil
}

// syncCycle runs one metadata cycle, recording a trace span and metrics.
func (e *Engine) syncCycle(ctx context.Context, st State) (State, Result) {
	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	st, res := e.syncer.Sync(ctx, st)
	stats := res.Stats

	// Record counters.
	if n := stats.CategoriesPushed + stats.EntriesPushed + stats.DeletionsPushed; n > 0 {
		e.cntPushed.Add(ctx, int64(n))
	}
	if n := stats.CategoriesPulled + stats.EntriesPulled; n > 0 {
		e.cntPulled.Add(ctx, int64(n))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}
	if !res.Completed {
		e.cntFailed.Add(ctx, 1)
	}

	span.SetAttributes(
		attribute.Bool("sync.completed", res.Completed),
		attribute.Int("sync.categories_pushed", stats.CategoriesPushed),
		attribute.Int("sync.entries_pushed", stats.EntriesPushed),
		attribute.Int("sync.deletions_pushed", stats.DeletionsPushed),
		attribute.Int("sync.categories_pulled", stats.CategoriesPulled),
		attribute.Int("sync.entries_pulled", stats.EntriesPulled),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.errors", stats.Errors),
		attribute.Int("sync.failures", st.FailureCount),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	return st, res
}

// photoCycle runs one photo pass, recording a trace span and metrics.
func (e *Engine) photoCycle(ctx context.Context, validate bool) (photosync.Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPhotos)
	defer span.End()

	stats, err := e.photos.Run(ctx, photosync.Options{Validate: validate})
	if stats.Uploaded > 0 {
		e.cntPhotosUploaded.Add(ctx, int64(stats.Uploaded))
	}
	if stats.Downloaded > 0 {
		e.cntPhotosFetched.Add(ctx, int64(stats.Downloaded))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Bool("photos.validate", validate),
		attribute.Int("photos.uploaded", stats.Uploaded),
		attribute.Int("photos.deduplicated", stats.Deduplicated),
		attribute.Int("photos.downloaded", stats.Downloaded),
		attribute.Int("photos.cleared", stats.Cleared),
		attribute.Int("photos.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

func (e *Engine) save(ctx context.Context, st State) error {
	e.setLast(st)
	return SaveState(ctx, e.meta, st)
}

func (e *Engine) setLast(st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = st
}

func (e *Engine) lastState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
