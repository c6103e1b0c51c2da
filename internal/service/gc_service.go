package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/lock"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// GC run results reported to metrics.
const (
	gcResultOK      = "ok"
	gcResultError   = "error"
	gcResultSkipped = "skipped"
)

// GarbageCollector deletes chunks left behind by uploads that never completed
// or cancelled, typically because the writing process crashed.
type GarbageCollector struct {
	store      repository.ChunkStore
	lister     repository.OrphanLister
	bucketName string
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     GCConfig
	now        func() time.Time

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// GCConfig contains garbage collection configuration.
type GCConfig struct {
	// Interval is how often to run garbage collection.
	Interval time.Duration

	// GracePeriod is how old orphaned chunks must be before they are deleted.
	// Uploads in progress have chunks but no document yet.
	GracePeriod time.Duration

	// BatchSize is the maximum number of files to process per run.
	BatchSize int

	// DryRun logs what would be deleted without actually deleting.
	DryRun bool
}

// DefaultGCConfig returns sensible defaults.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		Interval:    1 * time.Hour,
		GracePeriod: 24 * time.Hour,
		BatchSize:   1000,
		DryRun:      false,
	}
}

// NewGarbageCollector creates a new garbage collector.
// Returns ErrGCUnsupported if the store cannot list orphaned chunks.
func NewGarbageCollector(
	store repository.ChunkStore,
	bucketName string,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config GCConfig,
) (*GarbageCollector, error) {
	lister, ok := repository.AsOrphanLister(store)
	if !ok {
		return nil, ErrGCUnsupported
	}

	return &GarbageCollector{
		store:      store,
		lister:     lister,
		bucketName: bucketName,
		locker:     locker,
		metrics:    m,
		logger:     logger.With().Str("service", "gc").Logger(),
		config:     config,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start begins the garbage collection scheduler.
func (gc *GarbageCollector) Start() {
	gc.mu.Lock()
	if gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = true
	gc.mu.Unlock()

	gc.logger.Info().
		Dur("interval", gc.config.Interval).
		Dur("grace_period", gc.config.GracePeriod).
		Int("batch_size", gc.config.BatchSize).
		Bool("dry_run", gc.config.DryRun).
		Msg("Starting garbage collector")

	go gc.runLoop()
}

// Stop stops the garbage collection scheduler and waits for a running pass.
func (gc *GarbageCollector) Stop() {
	gc.mu.Lock()
	if !gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = false
	gc.mu.Unlock()

	close(gc.stopChan)
	<-gc.doneChan

	gc.logger.Info().Msg("Garbage collector stopped")
}

func (gc *GarbageCollector) runLoop() {
	defer close(gc.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-gc.stopChan
		cancel()
	}()

	gc.RunOnce(ctx)

	ticker := time.NewTicker(gc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gc.RunOnce(ctx)
		case <-gc.stopChan:
			return
		}
	}
}

// GCResult contains the result of a garbage collection run.
type GCResult struct {
	// FilesCollected is the number of files whose orphaned chunks were deleted.
	FilesCollected int

	// FilesSkipped counts orphans that were being written or completed meanwhile.
	FilesSkipped int

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration

	// MoreRemaining is set when the batch was full.
	MoreRemaining bool
}

// RunOnce executes a single garbage collection run.
// This can be called manually or by the scheduler.
func (gc *GarbageCollector) RunOnce(ctx context.Context) GCResult {
	start := gc.now()
	result := GCResult{}

	gc.logger.Debug().Msg("Starting garbage collection run")

	lockKey := lock.Keys.GC(gc.bucketName)
	lockTTL := max(gc.config.Interval/2, 5*time.Minute)

	acquired, err := gc.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		gc.logger.Error().Err(err).Msg("Failed to acquire GC lock")
		result.Errors++
		return gc.finish(start, result, gcResultError)
	}
	if !acquired {
		gc.logger.Debug().Msg("GC lock held by another process, skipping run")
		return gc.finish(start, result, gcResultSkipped)
	}
	defer func() {
		if _, err := gc.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			gc.logger.Error().Err(err).Msg("Failed to release GC lock")
		}
	}()

	orphans, err := gc.lister.ListOrphans(ctx, start.Add(-gc.config.GracePeriod), gc.config.BatchSize)
	if err != nil {
		gc.logger.Error().Err(err).Msg("Failed to list orphaned chunks")
		result.Errors++
		return gc.finish(start, result, gcResultError)
	}

	if len(orphans) == 0 {
		gc.logger.Debug().Msg("No orphaned chunks found")
		return gc.finish(start, result, gcResultOK)
	}

	gc.logger.Info().
		Int("count", len(orphans)).
		Msg("Found orphaned chunks for cleanup")

	for _, id := range orphans {
		if ctx.Err() != nil {
			break
		}
		gc.collect(ctx, id, &result)
	}

	result.MoreRemaining = gc.config.BatchSize > 0 && len(orphans) == gc.config.BatchSize
	if result.MoreRemaining {
		gc.logger.Info().Msg("More orphaned chunks remain for next run")
	}

	outcome := gcResultOK
	if result.Errors > 0 {
		outcome = gcResultError
	}
	return gc.finish(start, result, outcome)
}

// collect deletes the chunks of one orphaned file under its write lock, so an
// upload that is still running or has just completed is left alone.
func (gc *GarbageCollector) collect(ctx context.Context, id any, result *GCResult) {
	key, err := domain.FileKey(id)
	if err != nil {
		key = domain.MustFileKey(id)
	}
	log := gc.logger.With().Str("file", key).Logger()

	l := lock.NewLock(gc.locker, lock.Keys.FileWrite(gc.bucketName, key))
	acquired, err := l.Acquire(ctx, time.Minute)
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire file lock")
		result.Errors++
		return
	}
	if !acquired {
		log.Debug().Msg("File is being written, skipping")
		result.FilesSkipped++
		return
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("Failed to release file lock")
		}
	}()

	_, err = gc.store.FindDocument(ctx, id)
	switch {
	case err == nil:
		log.Debug().Msg("Upload completed meanwhile, skipping")
		result.FilesSkipped++
		return
	case !errors.Is(err, domain.ErrFileNotFound):
		log.Error().Err(err).Msg("Failed to check file document")
		result.Errors++
		return
	}

	if gc.config.DryRun {
		log.Info().Msg("[DRY RUN] Would delete orphaned chunks")
		result.FilesCollected++
		return
	}

	if err := gc.store.DeleteChunks(ctx, id); err != nil {
		log.Error().Err(err).Msg("Failed to delete orphaned chunks")
		result.Errors++
		return
	}

	log.Debug().Msg("Deleted orphaned chunks")
	result.FilesCollected++
}

func (gc *GarbageCollector) finish(start time.Time, result GCResult, outcome string) GCResult {
	result.Duration = gc.now().Sub(start)

	deleted := result.FilesCollected
	if gc.config.DryRun {
		deleted = 0
	}
	gc.metrics.GCRun(outcome, deleted)

	if outcome != gcResultSkipped {
		gc.logger.Info().
			Int("files_collected", result.FilesCollected).
			Int("files_skipped", result.FilesSkipped).
			Int("errors", result.Errors).
			Dur("duration", result.Duration).
			Bool("dry_run", gc.config.DryRun).
			Msg("Garbage collection run completed")
	}
	return result
}
