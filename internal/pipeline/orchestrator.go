// Package pipeline drives one sync run: resolve the watermark, walk the
// upstream sequence newest-first, and commit every record not yet archived.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	"github.com/JakeFAU/trailcam-archiver/internal/dedup"
	"github.com/JakeFAU/trailcam-archiver/internal/extract"
	"github.com/JakeFAU/trailcam-archiver/internal/metrics"
	"github.com/JakeFAU/trailcam-archiver/internal/retry"
)

// ErrRunInProgress is returned when another run holds the catalog lock.
var ErrRunInProgress = errors.New("another sync run holds the catalog lock")

// Defaults applied by New.
const (
	DefaultMaxAttempts       = 200
	DefaultNavigationRetries = 3
	DefaultNavigationBackoff = time.Second
	DefaultLockName          = "sync"
)

// Record outcomes reported to metrics.
const (
	outcomeArchived  = "archived"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Options parameterize a run.
type Options struct {
	// Target is the number of records to archive. Zero or less is unbounded.
	Target int
	// MaxAttempts caps failed attempts before the run gives up.
	MaxAttempts int
	// Jump advances this many records before the main loop without reading them.
	Jump int
	// Force ignores the watermark. Dedup still applies.
	Force bool
	// NavigationRetries is how many times a failed move is retried.
	NavigationRetries int
	NavigationBackoff time.Duration
	// Topic receives an archive.ArchivedEvent per committed record.
	Topic string
	// Location interprets upstream timestamps. Defaults to UTC.
	Location *time.Location
	LockName string
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Jump < 0 {
		o.Jump = 0
	}
	if o.NavigationRetries < 0 {
		o.NavigationRetries = DefaultNavigationRetries
	}
	if o.NavigationBackoff < 0 {
		o.NavigationBackoff = DefaultNavigationBackoff
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.LockName == "" {
		o.LockName = DefaultLockName
	}
	return o
}

// Committer persists one record and its payload.
type Committer interface {
	Commit(ctx context.Context, rec archive.Record, payload archive.Payload) (archive.Record, error)
}

// Snapshotter captures a debug image of the remote view.
type Snapshotter interface {
	Snapshot(ctx context.Context, label string) (string, error)
}

// FileHasher is implemented by hashers that can stream a file.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Stager clears the local working area.
type Stager interface {
	Reset() error
}

// Deps are the collaborators of a run. Publisher, Locker, Staging and
// Snapshots are optional.
type Deps struct {
	Navigator archive.Navigator
	Extractor archive.Extractor
	Fetcher   archive.AssetFetcher
	Catalog   archive.Catalog
	Committer Committer
	Hasher    archive.Hasher
	Clock     archive.Clock
	IDs       archive.IDGenerator

	Publisher archive.Publisher
	Locker    archive.RunLocker
	Staging   Stager
	Snapshots Snapshotter

	Logger *zap.Logger
}

// Orchestrator runs the sync state machine.
type Orchestrator struct {
	deps      Deps
	opts      Options
	navPolicy retry.Policy
	logger    *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Navigator == nil, deps.Extractor == nil, deps.Fetcher == nil:
		return nil, fmt.Errorf("pipeline requires a navigator, extractor and fetcher")
	case deps.Catalog == nil, deps.Committer == nil:
		return nil, fmt.Errorf("pipeline requires a catalog and committer")
	case deps.Hasher == nil, deps.Clock == nil, deps.IDs == nil:
		return nil, fmt.Errorf("pipeline requires a hasher, clock and id generator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	opts = opts.withDefaults()
	backoff := opts.NavigationBackoff
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		navPolicy: retry.NewExponential(opts.NavigationRetries+1, backoff, backoff*8),
		logger:    logger.Named("pipeline"),
	}, nil
}

// Run executes one sync. It returns an error only when the run could not
// start; how a started run ended is reported by the Summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID))

	if o.deps.Locker != nil {
		acquired, err := o.deps.Locker.AcquireRunLock(ctx, o.opts.LockName, runID)
		if err != nil {
			return Summary{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			return Summary{}, ErrRunInProgress
		}
		defer o.releaseLock(runID, logger)
	}

	r := &run{
		o:      o,
		rs:     newRunState(runID, o.deps.Clock.Now()),
		logger: logger,
	}
	r.index = dedup.New(o.deps.Catalog, r.rs.Seen)

	cause := r.execute(ctx)
	summary := newSummary(r.rs, o.opts.Force, o.deps.Clock.Now(), cause)
	metrics.ObserveRun(string(summary.State), summary.OK(), summary.Duration(), summary.FinishedAt)
	if summary.OK() {
		logger.Info("sync finished", summary.Fields()...)
	} else {
		logger.Warn("sync finished", summary.Fields()...)
	}
	return summary, nil
}

func (o *Orchestrator) releaseLock(runID string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.deps.Locker.ReleaseRunLock(ctx, o.opts.LockName, runID); err != nil {
		logger.Warn("release run lock failed", zap.Error(err))
	}
}

// run carries the state of one Run call.
type run struct {
	o      *Orchestrator
	rs     *RunState
	index  *dedup.Index
	logger *zap.Logger
}

func (r *run) execute(ctx context.Context) error {
	o := r.o
	if o.deps.Staging != nil {
		if err := o.deps.Staging.Reset(); err != nil {
			return r.fail(fmt.Errorf("reset staging: %w", err))
		}
	}

	if !o.opts.Force {
		watermark, err := o.deps.Catalog.LatestExternalID(ctx)
		if err != nil {
			return r.fail(fmt.Errorf("resolve watermark: %w", err))
		}
		r.rs.Watermark = watermark
	}
	r.logger.Info("sync started",
		zap.String("watermark", r.rs.Watermark),
		zap.Bool("force", o.opts.Force),
		zap.Int("jump", o.opts.Jump),
		zap.Int("target", o.opts.Target),
		zap.Int("max_attempts", o.opts.MaxAttempts),
	)

	r.transition(StateNavigating)
	if err := r.navigate(ctx, "enter", o.deps.Navigator.Enter); err != nil {
		return r.endNavigation(ctx, err)
	}

	for r.rs.Jumped < o.opts.Jump {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		if err := r.navigate(ctx, "jump", o.deps.Navigator.Advance); err != nil {
			return r.endNavigation(ctx, err)
		}
		r.rs.Jumped++
	}
	if r.rs.Jumped > 0 {
		r.logger.Info("jumped ahead", zap.Int("records", r.rs.Jumped))
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		if r.budgetSpent() {
			return r.exhaust()
		}
		done, err := r.step(ctx)
		if err != nil || done {
			return err
		}
		if r.targetReached() {
			r.rs.State = StateCompleted
			return nil
		}
		if r.budgetSpent() {
			return r.exhaust()
		}
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.transition(StateAdvancing)
		if err := r.navigate(ctx, "advance", o.deps.Navigator.Advance); err != nil {
			return r.endNavigation(ctx, err)
		}
	}
}

// step handles the record under the cursor. done is true when the run has
// reached a terminal state; err is the cause for FAILED and CANCELED.
//
// Once the record is identified it is processed to completion: the stop
// signal is observed only between records, and each stage is bounded by its
// own timeout instead.
func (r *run) step(ctx context.Context) (bool, error) {
	r.transition(StateNavigating)
	id, err := r.o.deps.Navigator.CurrentID(ctx)
	if err != nil {
		if archive.IsFatal(err) {
			return true, r.fail(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return true, r.cancel(ctxErr)
		}
		r.recordFailure(ctx, "", r.logger, fmt.Errorf("read current id: %w", err))
		return false, nil
	}

	r.rs.Visited++
	logger := r.logger.With(zap.String("external_id", id))

	if !r.o.opts.Force && r.rs.Watermark != "" && id == r.rs.Watermark {
		r.rs.State = StateStoppedAtWatermark
		logger.Info("reached watermark")
		return true, nil
	}
	if r.index.InSession(id) {
		r.rs.Skipped++
		metrics.ObserveRecord(outcomeSkipped)
		logger.Debug("record already handled this run")
		return false, nil
	}

	recordCtx := context.WithoutCancel(ctx)
	err = r.process(recordCtx, id, logger)
	switch {
	case err == nil:
	case archive.IsFatal(err):
		return true, r.fail(err)
	case errors.Is(err, archive.ErrCommit):
		r.recordFailure(recordCtx, id, logger, err)
	case errors.Is(err, archive.ErrDuplicate):
		r.rs.Duplicates++
		r.index.MarkSeen(id)
		metrics.ObserveRecord(outcomeDuplicate)
		logger.Info("duplicate record skipped", zap.Error(err))
	default:
		r.recordFailure(recordCtx, id, logger, err)
	}
	return false, nil
}

func (r *run) process(ctx context.Context, id string, logger *zap.Logger) error {
	deps := r.o.deps

	r.transition(StateDeduping)
	seen, err := r.index.SeenByExternalID(ctx, id)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("%w: external id %s", archive.ErrDuplicate, id)
	}

	r.transition(StateExtracting)
	meta, err := deps.Extractor.Extract(ctx)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	for _, dropped := range meta.Dropped {
		metrics.ObserveDroppedField(dropped.Label)
		logger.Warn("metadata field dropped",
			zap.String("label", dropped.Label),
			zap.String("value", dropped.Value),
			zap.String("reason", dropped.Reason),
		)
	}

	r.transition(StateFetching)
	payload, err := deps.Fetcher.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	r.transition(StateDeduping)
	hash, err := r.hashFile(payload.Path)
	if err != nil {
		discard(payload, logger)
		return fmt.Errorf("hash payload: %w", err)
	}
	dup, err := r.index.SeenByHash(ctx, hash)
	if err != nil {
		return err
	}
	if dup {
		discard(payload, logger)
		return fmt.Errorf("%w: content hash %s", archive.ErrDuplicate, hash)
	}

	rec := r.buildRecord(id, hash, meta, logger)

	r.transition(StateCommitting)
	stored, err := deps.Committer.Commit(ctx, rec, payload)
	if err != nil {
		if errors.Is(err, archive.ErrDuplicate) && !errors.Is(err, archive.ErrCommit) {
			discard(payload, logger)
		}
		return err
	}

	r.index.MarkSeen(id)
	r.index.MarkHash(hash)
	r.rs.Successful++
	metrics.ObserveRecord(outcomeArchived)
	r.publish(ctx, stored, logger)
	return nil
}

func (r *run) buildRecord(id, hash string, meta archive.Metadata, logger *zap.Logger) archive.Record {
	now := r.o.deps.Clock.Now().In(r.o.opts.Location)
	captured, parsed := extract.ParseCaptureTime(meta.Timestamp, now)
	if !parsed {
		logger.Warn("capture time not parsed; using ingestion time", zap.String("raw", meta.Timestamp))
	}
	return archive.Record{
		ExternalID:        id,
		CaptureTime:       captured,
		CaptureTimeParsed: parsed,
		PrimaryLocation:   meta.PrimaryLocation,
		SecondaryLocation: meta.SecondaryLocation,
		Environment:       meta.Environment,
		RawMetadata:       meta.Raw,
		ContentHash:       hash,
	}
}

func (r *run) hashFile(path string) (string, error) {
	if fh, ok := r.o.deps.Hasher.(FileHasher); ok {
		return fh.HashFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return r.o.deps.Hasher.Hash(data)
}

func (r *run) publish(ctx context.Context, rec archive.Record, logger *zap.Logger) {
	if r.o.deps.Publisher == nil {
		return
	}
	event := archive.ArchivedEvent{
		RunID:       r.rs.RunID,
		RecordID:    rec.ID,
		ExternalID:  rec.ExternalID,
		ContentHash: rec.ContentHash,
		AssetURI:    rec.AssetURI,
		CaptureTime: rec.CaptureTime,
		ArchivedAt:  rec.CreatedAt,
	}
	msgID, err := r.o.deps.Publisher.Publish(ctx, r.o.opts.Topic, event)
	if err != nil {
		logger.Warn("publish archive event failed", zap.Error(err))
		return
	}
	logger.Debug("archive event published", zap.String("message_id", msgID))
}

// navigate runs a cursor move under the navigation retry policy. Every
// failed move counts against the attempt budget, and retries stop once the
// budget is spent.
func (r *run) navigate(ctx context.Context, action string, move func(context.Context) error) error {
	retries := r.o.opts.NavigationRetries
	return retry.Do(ctx, r.o.navPolicy, func(ctx context.Context, attempt int) error {
		err := move(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, archive.ErrEndOfSequence), ctx.Err() != nil:
			return retry.Permanent(err)
		case errors.Is(err, archive.ErrNavigation):
			r.rs.Attempts++
			if attempt <= retries {
				metrics.ObserveNavigationRetry()
			}
			r.logger.Warn("navigation failed",
				zap.String("action", action),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", retries+1),
				zap.Error(err),
			)
			if r.budgetSpent() {
				return retry.Permanent(err)
			}
			return err
		default:
			return retry.Permanent(err)
		}
	})
}

func (r *run) endNavigation(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, archive.ErrEndOfSequence):
		r.rs.State = StateCompleted
		r.logger.Info("reached end of sequence")
		return nil
	case ctx.Err() != nil:
		return r.cancel(ctx.Err())
	case errors.Is(err, archive.ErrNavigation) && r.budgetSpent():
		return r.exhaust()
	default:
		return r.fail(fmt.Errorf("navigation: %w", err))
	}
}

func (r *run) recordFailure(ctx context.Context, id string, logger *zap.Logger, err error) {
	r.rs.Attempts++
	r.rs.Failures++
	metrics.ObserveRecord(outcomeFailed)
	logger.Warn("record failed",
		zap.Int("attempts", r.rs.Attempts),
		zap.Int("max_attempts", r.o.opts.MaxAttempts),
		zap.Error(err),
	)
	if r.o.deps.Snapshots == nil {
		return
	}
	label := "failure"
	if id != "" {
		label += "_" + id
	}
	if path, snapErr := r.o.deps.Snapshots.Snapshot(ctx, label); snapErr != nil {
		logger.Debug("debug screenshot failed", zap.Error(snapErr))
	} else if path != "" {
		logger.Info("debug screenshot saved", zap.String("path", path))
	}
}

func (r *run) budgetSpent() bool {
	return r.rs.Attempts >= r.o.opts.MaxAttempts
}

func (r *run) exhaust() error {
	r.rs.State = StateExhaustedAttempts
	r.logger.Warn("attempt budget spent",
		zap.Int("attempts", r.rs.Attempts),
		zap.Int("max_attempts", r.o.opts.MaxAttempts),
	)
	return nil
}

func (r *run) targetReached() bool {
	return r.o.opts.Target > 0 && r.rs.Successful >= r.o.opts.Target
}

func (r *run) transition(s State) {
	r.rs.State = s
}

func (r *run) fail(err error) error {
	r.rs.State = StateFailed
	r.logger.Error("sync failed", zap.Error(err))
	return err
}

func (r *run) cancel(err error) error {
	r.rs.State = StateCanceled
	return fmt.Errorf("run canceled: %w", err)
}

func discard(payload archive.Payload, logger *zap.Logger) {
	if err := os.Remove(payload.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove staged payload", zap.String("path", payload.Path), zap.Error(err))
	}
}
