// Package service wires the attendance store, the verifier and the async
// intake pipeline into the operations the HTTP API and the CLI call.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowmax205/eas/internal/adapters/mq/queue"
	"github.com/lowmax205/eas/internal/adapters/mq/worker"
	"github.com/lowmax205/eas/internal/adapters/repository"
	"github.com/lowmax205/eas/internal/domain/dedupe"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/internal/domain/verify"
	"github.com/lowmax205/eas/pkg/logger"
	"github.com/lowmax205/eas/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

// SubmitStatus tells the caller what happened to an async submission.
type SubmitStatus string

const (
	SubmitAccepted  SubmitStatus = "accepted"
	SubmitDuplicate SubmitStatus = "duplicate"
)

// healthChecker is implemented by collaborators that can report liveness.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Service implements the attendance verification use cases.
type Service struct {
	mu sync.RWMutex

	store    repository.Store
	deduper  dedupe.Deduper
	queue    queue.Queue
	pool     *worker.Pool
	verifier *verify.Verifier
	faces    scoring.FaceAnalyzer

	verifyCfg     verify.Config
	windowMinutes func(campusID string) int
	workerCount   int
	queueSize     int
	dedupeSize    int
	version       string

	now   func() time.Time
	newID func() string

	started   bool
	runCancel context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		verifyCfg:     verify.DefaultConfig(),
		windowMinutes: func(string) int { return 30 },
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     10_000,
		dedupeSize:    50_000,
		version:       "dev",
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the verifier and starts the worker pool. Missing
// collaborators default to in-memory implementations.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting attendance verification service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.queue == nil {
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	v, err := verify.New(s.verifyCfg, s.store, s.store,
		verify.WithLogger(s.logger.Named("verify")),
		verify.WithFaceAnalyzer(s.faces),
		verify.WithClock(s.now),
		verify.WithIDGenerator(s.newID),
	)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}
	s.verifier = v

	// workers outlive the request that started the service
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel
	s.pool = worker.NewPool(s.workerCount, s.queue, s, worker.WithLogger(s.logger))
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "attendance verification service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queue.Capacity()),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the queue, stops the workers and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping attendance verification service...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.runCancel()

	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "attendance verification service stopped")
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// RegisterEvent stores the reference data of an event. An event given only
// an EventStart gets the default window around it.
func (s *Service) RegisterEvent(ctx context.Context, w model.EventWindow) (model.EventWindow, error) {
	if err := s.ready(); err != nil {
		return w, err
	}
	if w.EventID == "" {
		return w, fmt.Errorf("%w: event id is required", ErrInvalidReference)
	}
	if w.WindowStart.IsZero() && w.WindowEnd.IsZero() {
		if w.EventStart.IsZero() {
			return w, fmt.Errorf("%w: event %s needs a window or a start time", ErrInvalidReference, w.EventID)
		}
		w.WindowStart, w.WindowEnd = model.DefaultWindow(w.EventStart, s.windowMinutes(w.CampusID))
	}
	if w.WindowEnd.Before(w.WindowStart) {
		return w, fmt.Errorf("%w: event %s window ends before it starts", ErrInvalidReference, w.EventID)
	}
	if err := s.store.SaveEvent(ctx, w); err != nil {
		return w, s.storeFailure("save event", err)
	}
	return w, nil
}

// RegisterProfile stores a user's biometric references.
func (s *Service) RegisterProfile(ctx context.Context, p model.ReferenceProfile) error {
	if err := s.ready(); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidReference)
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return s.storeFailure("save profile", err)
	}
	return nil
}

// VerifyNow stores the submission and verifies it synchronously. Resending
// a submission that was already verified returns the stored result; a
// different submission under a known id fails with ErrConflict.
func (s *Service) VerifyNow(ctx context.Context, sub model.AttendanceSubmission) (verify.Result, error) {
	if err := s.ready(); err != nil {
		return verify.Result{}, err
	}
	if err := validateSubmission(sub); err != nil {
		return verify.Result{}, err
	}
	window, profile, err := s.references(ctx, sub)
	if err != nil {
		return verify.Result{}, err
	}
	if err := s.saveSubmission(ctx, sub); err != nil {
		return verify.Result{}, err
	}
	if res, ok, err := s.storedResult(ctx, sub.ID); err != nil || ok {
		return res, err
	}
	return s.runVerification(ctx, sub, window, profile)
}

// Submit stores the submission and queues it for verification. A
// submission already queued, being verified or verified is acknowledged as
// a duplicate without being queued again. Use Reverify to run it again.
func (s *Service) Submit(ctx context.Context, sub model.AttendanceSubmission) (SubmitStatus, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := validateSubmission(sub); err != nil {
		return "", err
	}
	if _, err := s.store.EventWindow(ctx, sub.EventID); err != nil {
		return "", s.lookupFailure("event", err)
	}

	if s.deduper.SeenAndRecord(ctx, sub.ID) {
		metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission detected, skipping",
			logger.String("submission_id", sub.ID))
		return SubmitDuplicate, nil
	}

	if err := s.saveSubmission(ctx, sub); err != nil {
		s.deduper.Unrecord(ctx, sub.ID)
		return "", err
	}
	if _, ok, err := s.storedResult(ctx, sub.ID); err != nil || ok {
		s.deduper.Unrecord(ctx, sub.ID)
		if err != nil {
			return "", err
		}
		metrics.RecordSubmissionDuplicate()
		return SubmitDuplicate, nil
	}
	if err := s.queue.Enqueue(ctx, queue.Job{SubmissionID: sub.ID, EnqueuedAt: s.now()}); err != nil {
		s.deduper.Unrecord(ctx, sub.ID)
		if errors.Is(err, queue.ErrQueueFull) {
			return "", ErrQueueFull
		}
		return "", fmt.Errorf("%w: enqueue: %w", ErrDependencyUnavailable, err)
	}
	return SubmitAccepted, nil
}

// Process implements worker.Processor for queued submissions.
func (s *Service) Process(ctx context.Context, job queue.Job) error {
	defer s.deduper.Unrecord(ctx, job.SubmissionID)
	// Stop holds the lock while the pool drains, so no ready() here.
	_, err := s.verifyStored(ctx, job.SubmissionID)
	return err
}

// VerifyStored verifies a submission that is already in the store.
func (s *Service) VerifyStored(ctx context.Context, submissionID string) (verify.Result, error) {
	if err := s.ready(); err != nil {
		return verify.Result{}, err
	}
	return s.verifyStored(ctx, submissionID)
}

func (s *Service) verifyStored(ctx context.Context, submissionID string) (verify.Result, error) {
	sub, err := s.store.Submission(ctx, submissionID)
	if err != nil {
		return verify.Result{}, s.lookupFailure("submission", err)
	}
	window, profile, err := s.references(ctx, sub)
	if err != nil {
		return verify.Result{}, err
	}
	return s.runVerification(ctx, sub, window, profile)
}

// runVerification runs the pipeline and reports the record as stored, so an
// overridden record keeps its verified flag and method.
func (s *Service) runVerification(ctx context.Context, sub model.AttendanceSubmission, w model.EventWindow, p model.ReferenceProfile) (verify.Result, error) {
	res, err := s.verifier.Verify(ctx, sub, w, p)
	if err != nil {
		return res, err
	}
	if r, err := s.store.Record(ctx, res.Record.ID); err == nil {
		res.Record = r
	}
	return res, nil
}

// storedResult returns the latest persisted verification of a submission.
// ok is false when it has not been verified yet.
func (s *Service) storedResult(ctx context.Context, submissionID string) (res verify.Result, ok bool, err error) {
	sv, err := s.store.LatestVerification(ctx, submissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return res, false, nil
	}
	if err != nil {
		return res, false, s.storeFailure("load verification", err)
	}
	r, err := s.store.Record(ctx, verify.RecordID(submissionID))
	if err != nil {
		return res, false, s.lookupFailure("record", err)
	}
	return verify.Result{Outcome: sv.Outcome, Checks: sv.Checks, Record: r}, true, nil
}

func (s *Service) saveSubmission(ctx context.Context, sub model.AttendanceSubmission) error {
	err := s.store.SaveSubmission(ctx, sub)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict):
		metrics.RecordErrorByComponent("service", "submission_conflict")
		return fmt.Errorf("%w: submission id %s is already used by a different submission", ErrConflict, sub.ID)
	default:
		return s.storeFailure("save submission", err)
	}
}

// Reverify re-runs the pipeline for a stored submission. It writes a new
// outcome and new check results; earlier ones stay in the history.
func (s *Service) Reverify(ctx context.Context, submissionID string) (verify.Result, error) {
	res, err := s.VerifyStored(ctx, submissionID)
	if err != nil {
		return res, err
	}
	s.logger.Info(ctx, "submission re-verified",
		logger.String("submission_id", submissionID),
		logger.Float64("score", res.Outcome.OverallScore),
		logger.Bool("accepted", res.Outcome.IsAccepted))
	return res, nil
}

// Verification returns the latest stored outcome of a submission.
func (s *Service) Verification(ctx context.Context, submissionID string) (repository.StoredVerification, error) {
	if err := s.ready(); err != nil {
		return repository.StoredVerification{}, err
	}
	sv, err := s.store.LatestVerification(ctx, submissionID)
	if err != nil {
		return sv, s.lookupFailure("verification", err)
	}
	return sv, nil
}

// Record returns an attendance record with its history.
func (s *Service) Record(ctx context.Context, recordID string) (model.AttendanceRecord, []model.AttendanceLog, error) {
	if err := s.ready(); err != nil {
		return model.AttendanceRecord{}, nil, err
	}
	r, err := s.store.Record(ctx, recordID)
	if err != nil {
		return r, nil, s.lookupFailure("record", err)
	}
	logs, err := s.store.Logs(ctx, recordID)
	if err != nil {
		return r, nil, s.storeFailure("list logs", err)
	}
	return r, logs, nil
}

// Override lets an administrator accept or reject a record regardless of
// its score. The outcome and the check results are not changed.
func (s *Service) Override(ctx context.Context, recordID string, accept bool, adminID, reason string) (model.AttendanceRecord, error) {
	if err := s.ready(); err != nil {
		return model.AttendanceRecord{}, err
	}
	if adminID == "" {
		return model.AttendanceRecord{}, fmt.Errorf("%w: admin id is required", ErrInvalidOverride)
	}
	prev, err := s.store.Record(ctx, recordID)
	if err != nil {
		return prev, s.lookupFailure("record", err)
	}

	action := model.ActionRejected
	if accept {
		action = model.ActionVerified
	}
	entry := model.AttendanceLog{
		ID:       s.newID(),
		RecordID: recordID,
		Action:   action,
		Details: map[string]any{
			"override":          true,
			"reason":            reason,
			"previous_verified": prev.IsVerified,
			"score":             prev.VerificationScore,
		},
		PerformedBy: adminID,
		CreatedAt:   s.now(),
	}
	r, err := s.store.ApplyOverride(ctx, recordID, accept, entry)
	if err != nil {
		return r, s.lookupFailure("record", err)
	}
	metrics.RecordOverride(accept)
	s.logger.Info(ctx, "attendance overridden",
		logger.String("record_id", recordID),
		logger.String("admin_id", adminID),
		logger.Bool("accepted", accept))
	return r, nil
}

// Health reports the state of the store and of the face service.
func (s *Service) Health(ctx context.Context) map[string]any {
	out := map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"database":  "ok",
	}
	if err := s.ready(); err != nil {
		out["status"] = "starting"
		out["database"] = "unknown"
		return out
	}
	if err := s.store.Ping(ctx); err != nil {
		out["status"] = "degraded"
		out["database"] = err.Error()
	}
	if hc, ok := s.faces.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			out["status"] = "degraded"
			out["face_service"] = err.Error()
		} else {
			out["face_service"] = "ok"
		}
	}
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		queueLen := s.queue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["queueCapacity"] = s.queue.Capacity()
		stats["busyWorkers"] = s.pool.Busy()
		stats["inFlight"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}

// references loads the event window and the user's profile. A user without
// a stored profile is verified without reference images.
func (s *Service) references(ctx context.Context, sub model.AttendanceSubmission) (model.EventWindow, model.ReferenceProfile, error) {
	window, err := s.store.EventWindow(ctx, sub.EventID)
	if err != nil {
		return window, model.ReferenceProfile{}, s.lookupFailure("event", err)
	}
	profile, err := s.store.ReferenceProfile(ctx, sub.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return window, model.ReferenceProfile{UserID: sub.UserID}, nil
	}
	if err != nil {
		return window, profile, s.storeFailure("load profile", err)
	}
	return window, profile, nil
}

func (s *Service) lookupFailure(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return s.storeFailure("load "+what, err)
}

// storeFailure turns an unexpected store error into a retryable one.
func (s *Service) storeFailure(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	metrics.RecordErrorByComponent("service", "store")
	s.logger.Error(context.Background(), "store operation failed", logger.String("op", op), logger.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, op, err)
}

func validateSubmission(sub model.AttendanceSubmission) error {
	if sub.ID == "" || sub.EventID == "" || sub.UserID == "" {
		return fmt.Errorf("%w: id, event id and user id are required", ErrInvalidSubmission)
	}
	if sub.SubmittedAt.IsZero() {
		return fmt.Errorf("%w: submitted_at is required", ErrInvalidSubmission)
	}
	if p := sub.ReportedPosition; p != nil {
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return fmt.Errorf("%w: position out of range", ErrInvalidSubmission)
		}
	}
	return nil
}
