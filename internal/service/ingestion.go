package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/linky-feed-ingester/internal/anomaly"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/logging"
	"github.com/septivank/linky-feed-ingester/internal/notify"
	"github.com/septivank/linky-feed-ingester/internal/reconcile"
	"github.com/septivank/linky-feed-ingester/internal/settings"
	"github.com/septivank/linky-feed-ingester/internal/transform"
	"github.com/septivank/linky-feed-ingester/tools/timeparser"
	"go.uber.org/zap"
)

// ErrNotConfigured marks a run that found no feed URL. It is reported, never returned.
var ErrNotConfigured = errors.New("feed URL not configured")

// Store is the storage a run writes to. It is opened per run and closed when the run ends.
type Store interface {
	settings.Reader
	Upsert(ctx context.Context, sample db.ConsumptionSample) error
	Close()
}

// StoreOpener opens the store for one run
type StoreOpener func(ctx context.Context) (Store, error)

// Fetcher fetches the raw feed
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, mode feed.Mode) (*feed.Payload, error)
}

// Trigger tells who started a run
type Trigger string

const (
	TriggerScheduled   Trigger = "scheduled"
	TriggerInteractive Trigger = "interactive"
)

func (t Trigger) progressEvery() int {
	if t == TriggerInteractive {
		return 100
	}
	return 500
}

// State is the lifecycle state of a run
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateSkipped is only ever a Result: the run never entered Running.
	StateSkipped State = "skipped"
)

// Result is the outcome of one Run call
type Result struct {
	RunID         string    `json:"run_id"`
	Mode          feed.Mode `json:"mode"`
	Trigger       Trigger   `json:"trigger"`
	State         State     `json:"state"`
	Fetched       int       `json:"fetched"`
	Saved         int       `json:"saved"`
	Alerts        int       `json:"alerts"`
	NotConfigured bool      `json:"not_configured,omitempty"`
	Empty         bool      `json:"empty,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// Status is the runner's state container: the active run, or the outcome of the last one
type Status struct {
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	Mode       feed.Mode `json:"mode,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Saved      int       `json:"saved"`
	Error      string    `json:"error,omitempty"`
}

// RunnerConfig holds runner settings
type RunnerConfig struct {
	// FallbackFeedURL is used when the settings store has no feed URL.
	FallbackFeedURL string
	RecentWindow    time.Duration
}

// IngestionRunner runs ingestion cycles, at most one at a time per instance
type IngestionRunner struct {
	openStore StoreOpener
	fetcher   Fetcher
	notifier  notify.Notifier
	cfg       RunnerConfig
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	status Status
}

// NewIngestionRunner creates a new runner
func NewIngestionRunner(
	openStore StoreOpener,
	fetcher Fetcher,
	notifier notify.Notifier,
	cfg RunnerConfig,
	logger *zap.Logger,
) *IngestionRunner {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 5 * time.Minute
	}
	return &IngestionRunner{
		openStore: openStore,
		fetcher:   fetcher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		status:    Status{State: StateIdle},
	}
}

// SetClock replaces the wall clock used for the recent window
func (r *IngestionRunner) SetClock(now func() time.Time) {
	r.now = now
}

// Status returns a snapshot of the runner state
func (r *IngestionRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run executes one ingestion cycle. A call made while another run is active returns
// a skipped Result without touching the network or the store. Cancelling ctx does not
// interrupt a started run. An unknown mode fails the run before the store is opened.
func (r *IngestionRunner) Run(ctx context.Context, mode feed.Mode, trigger Trigger) (res Result, err error) {
	runID := uuid.NewString()
	logger := logging.WithRunID(r.logger, runID).With(
		zap.String("mode", string(mode)),
		zap.String("trigger", string(trigger)),
	)

	res = Result{RunID: runID, Mode: mode, Trigger: trigger}
	active, ok := r.begin(runID, mode)
	if !ok {
		res.State = StateSkipped
		logger.Info("SKIP: ingestion already running", zap.String("active_run_id", active.RunID))
		return res, nil
	}
	res.StartedAt = active.StartedAt
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ingestion run panicked: %v", p)
		}
		res.FinishedAt = r.now()
		if err != nil {
			res.State = StateFailed
			res.Error = err.Error()
			logger.Error("ERROR: ingestion run failed", zap.Error(err), zap.Int("saved", res.Saved))
		} else {
			res.State = StateCompleted
		}
		r.finish(res)
		r.notifyRun(ctx, logger, res)
	}()

	logger.Info("START: ingestion run")
	err = r.execute(ctx, logger, &res)
	return res, err
}

func (r *IngestionRunner) begin(runID string, mode feed.Mode) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State == StateRunning {
		return r.status, false
	}
	r.status = Status{
		State:     StateRunning,
		RunID:     runID,
		Mode:      mode,
		StartedAt: r.now(),
	}
	return r.status, true
}

func (r *IngestionRunner) finish(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = Status{
		State:      res.State,
		RunID:      res.RunID,
		Mode:       res.Mode,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Saved:      res.Saved,
		Error:      res.Error,
	}
}

func (r *IngestionRunner) execute(ctx context.Context, logger *zap.Logger, res *Result) error {
	if _, err := feed.ParseMode(string(res.Mode)); err != nil {
		return err
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	cfg, err := settings.Load(ctx, store, r.cfg.FallbackFeedURL)
	if err != nil {
		return err
	}
	if !cfg.Configured() {
		res.NotConfigured = true
		logger.Info("CONFIG: " + ErrNotConfigured.Error() + ", nothing to ingest")
		return nil
	}

	payload, err := r.fetcher.Fetch(ctx, cfg.FeedURL, res.Mode)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}
	if payload == nil || len(payload.Feeds) == 0 {
		res.Empty = true
		logger.Info("EMPTY: feed returned no data")
		return nil
	}
	res.Fetched = len(payload.Feeds)

	transformer := transform.NewTransformer(cfg.Fields, cfg.Timezone, logger)
	detector := anomaly.NewDetector(cfg.PowerThreshold)

	if res.Mode == feed.ModeFullHistory {
		return r.ingestFullHistory(ctx, logger, store, transformer, payload.Feeds, res)
	}
	return r.ingestRecent(ctx, logger, store, transformer, detector, payload.Feeds, res)
}

func (r *IngestionRunner) ingestRecent(
	ctx context.Context,
	logger *zap.Logger,
	store Store,
	transformer *transform.Transformer,
	detector *anomaly.Detector,
	records []feed.Record,
	res *Result,
) error {
	recent := SelectRecent(records, r.now(), r.cfg.RecentWindow)
	logger.Info(fmt.Sprintf("FETCH: %d points from the last %s", len(recent), r.cfg.RecentWindow),
		zap.Int("fetched", len(records)),
	)

	samples := transformer.TransformAll(recent)
	reconcile.SortStable(samples)

	for _, sample := range samples {
		if err := store.Upsert(ctx, sample); err != nil {
			return fmt.Errorf("failed to save sample: %w", err)
		}
		res.Saved++

		if exceeded, reason := detector.CheckPower(sample.Papp); exceeded {
			res.Alerts++
			r.notify(ctx, logger, notify.Notification{
				Kind:      notify.KindAlert,
				RunID:     res.RunID,
				Severity:  notify.SeverityHigh,
				Message:   reason,
				Timestamp: sample.Timestamp,
				Papp:      sample.Papp,
				Threshold: detector.Threshold(),
				RaisedAt:  r.now(),
			})
		}
	}

	logger.Info(fmt.Sprintf("OK: %d points saved", res.Saved), zap.Int("alerts", res.Alerts))
	return nil
}

func (r *IngestionRunner) ingestFullHistory(
	ctx context.Context,
	logger *zap.Logger,
	store Store,
	transformer *transform.Transformer,
	records []feed.Record,
	res *Result,
) error {
	logger.Info(fmt.Sprintf("FETCH: %d points", len(records)))

	samples := reconcile.Reconcile(transformer.TransformAll(records))
	every := res.Trigger.progressEvery()

	for i, sample := range samples {
		if err := store.Upsert(ctx, sample); err != nil {
			return fmt.Errorf("failed to save sample %d/%d: %w", i+1, len(samples), err)
		}
		res.Saved++

		if i > 0 && i%every == 0 {
			r.notify(ctx, logger, notify.Notification{
				Kind:     notify.KindProgress,
				RunID:    res.RunID,
				Severity: notify.SeverityLow,
				Message:  fmt.Sprintf("%d/%d", i, len(samples)),
				Done:     i,
				Total:    len(samples),
				RaisedAt: r.now(),
			})
		}
	}

	logger.Info(fmt.Sprintf("DONE: %d points saved", res.Saved), zap.Int("duplicates", len(records)-len(samples)))
	return nil
}

// SelectRecent keeps the records created within window before now. When none
// qualify, the last record of the batch is kept so every run makes progress.
// Records with unparseable creation times never qualify.
func SelectRecent(records []feed.Record, now time.Time, window time.Duration) []feed.Record {
	var recent []feed.Record
	for _, rec := range records {
		created, err := timeparser.ParseFeedTimestamp(rec.CreatedAt)
		if err != nil {
			continue
		}
		if timeparser.IsWithinWindow(created, now, window) {
			recent = append(recent, rec)
		}
	}

	if len(recent) == 0 && len(records) > 0 {
		recent = append(recent, records[len(records)-1])
	}
	return recent
}

func (r *IngestionRunner) notifyRun(ctx context.Context, logger *zap.Logger, res Result) {
	n := notify.Notification{
		Kind:     notify.KindRun,
		RunID:    res.RunID,
		Severity: notify.SeverityLow,
		State:    string(res.State),
		Done:     res.Saved,
		Total:    res.Fetched,
		RaisedAt: res.FinishedAt,
	}
	switch {
	case res.State == StateFailed:
		n.Severity = notify.SeverityCritical
		n.Message = "ingestion failed: " + res.Error
	case res.NotConfigured:
		n.Message = ErrNotConfigured.Error()
	default:
		n.Message = fmt.Sprintf("%s ingestion saved %d points", res.Mode, res.Saved)
	}
	r.notify(ctx, logger, n)
}

// notify never fails a run; delivery problems are logged
func (r *IngestionRunner) notify(ctx context.Context, logger *zap.Logger, n notify.Notification) {
	if err := r.notifier.Notify(ctx, n); err != nil {
		logger.Warn("failed to deliver notification",
			zap.Error(err),
			zap.String("kind", string(n.Kind)),
		)
	}
}
