// Package verify aggregates the attendance checks into a single decision and
// persists the full audit trail.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/pkg/logger"
	"github.com/lowmax205/eas/pkg/metrics"
)

// recordNamespace derives stable record ids from submission ids, so a
// re-verification updates the same attendance record.
var recordNamespace = uuid.MustParse("6f1c1f0e-3c59-4d0a-9a55-0b8f1e4f2a11") //nolint:gochecknoglobals // constant namespace

// AuditWriter persists one verification atomically: either every row is
// stored or none is.
type AuditWriter interface {
	SaveVerification(ctx context.Context, v model.Verification) error
}

// Result is what Verify returns.
type Result struct {
	Outcome model.VerificationOutcome
	Checks  []model.CheckResult
	Record  model.AttendanceRecord
}

// Verifier runs the checks of one submission and aggregates them.
type Verifier struct {
	cfg    Config
	checks []scoring.Check
	audit  AuditWriter
	log    logger.Logger
	now    func() time.Time
	newID  func() string

	faces  scoring.FaceAnalyzer
	tuning *scoring.Tuning
}

// Option applies a configuration option to the Verifier.
type Option func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithIDGenerator overrides how check, outcome and log ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(v *Verifier) {
		if gen != nil {
			v.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithFaceAnalyzer sets the analyzer used by the image check.
func WithFaceAnalyzer(fa scoring.FaceAnalyzer) Option {
	return func(v *Verifier) { v.faces = fa }
}

// WithTuning overrides the image and signature heuristics.
func WithTuning(t scoring.Tuning) Option {
	return func(v *Verifier) { v.tuning = &t }
}

// WithChecks replaces the standard check suite.
func WithChecks(checks ...scoring.Check) Option {
	return func(v *Verifier) { v.checks = checks }
}

// New creates a Verifier. records backs the duplicate check and audit
// receives the results.
func New(cfg Config, records scoring.RecordCounter, audit AuditWriter, opts ...Option) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit writer is required", ErrInvalidConfig)
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}

	v := &Verifier{
		cfg:   cfg,
		audit: audit,
		log:   logger.Nop(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.checks == nil {
		suiteOpts := []scoring.Option{scoring.WithFaceAnalyzer(v.faces)}
		if v.tuning != nil {
			suiteOpts = append(suiteOpts, scoring.WithTuning(*v.tuning))
		}
		v.checks = scoring.NewSuite(records, suiteOpts...).Checks()
	}
	return v, nil
}

// Verify runs every applicable check concurrently, aggregates the weighted
// score and persists the checks, the outcome and the attendance record
// before returning. If ctx is cancelled nothing is persisted. A duplicate
// store failure aborts with ErrDependencyUnavailable.
func (v *Verifier) Verify(ctx context.Context, sub model.AttendanceSubmission, window model.EventWindow, profile model.ReferenceProfile) (Result, error) {
	if sub.ID == "" || sub.EventID == "" || sub.UserID == "" {
		return Result{}, fmt.Errorf("%w: id, event id and user id are required", ErrInvalidSubmission)
	}
	if sub.SubmittedAt.IsZero() {
		return Result{}, fmt.Errorf("%w: submitted_at is required", ErrInvalidSubmission)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	policy := v.cfg.policy(window.CampusID)
	in := scoring.Input{
		Submission:          sub,
		Window:              window,
		Profile:             profile,
		DefaultRadiusMeters: policy.RadiusMeters,
		GracePeriod:         policy.GracePeriod,
	}

	var applicable []scoring.Check
	for _, c := range v.checks {
		if c.Applicable(in) {
			applicable = append(applicable, c)
		}
	}

	scores, err := v.runChecks(ctx, applicable, in)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, ErrDependencyUnavailable) {
			metrics.RecordDependencyUnavailable()
			v.log.Warn(ctx, "verification aborted",
				logger.String("submission_id", sub.ID),
				logger.Error(err))
		}
		metrics.RecordVerificationError()
		return Result{}, err
	}

	now := v.now()
	types := make([]model.CheckType, len(applicable))
	checks := make([]model.CheckResult, len(applicable))
	for i, c := range applicable {
		types[i] = c.Type()
		checks[i] = model.CheckResult{
			ID:              v.newID(),
			SubmissionID:    sub.ID,
			CheckType:       c.Type(),
			Passed:          scores[i].Passed,
			ConfidenceScore: scores[i].Confidence,
			Details:         scores[i].Details,
			CreatedAt:       now,
		}
	}

	overall := aggregate(v.cfg.Weights, checks)
	accepted := overall >= policy.AcceptanceThreshold
	notes := buildNotes(overall, policy.AcceptanceThreshold, accepted, checks, missingEvidence(sub, window))

	outcome := model.VerificationOutcome{
		ID:           v.newID(),
		SubmissionID: sub.ID,
		EventID:      sub.EventID,
		UserID:       sub.UserID,
		OverallScore: overall,
		IsAccepted:   accepted,
		Notes:        notes,
		Weights:      Renormalize(v.cfg.Weights, types),
		CreatedAt:    now,
	}
	record := v.buildRecord(sub, window, profile, outcome)
	logs := v.buildLogs(record, outcome, now)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := v.audit.SaveVerification(ctx, model.Verification{
		Record:  record,
		Outcome: outcome,
		Checks:  checks,
		Logs:    logs,
	}); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		metrics.RecordVerificationError()
		metrics.RecordErrorByComponent("verify", "persist")
		return Result{}, fmt.Errorf("%w: persist verification: %w", ErrDependencyUnavailable, err)
	}

	for _, c := range checks {
		metrics.RecordCheckResult(string(c.CheckType), c.Passed, c.ConfidenceScore)
	}
	metrics.RecordVerification(accepted, overall, float64(time.Since(start).Milliseconds()))
	v.log.Debug(ctx, "verification complete",
		logger.String("submission_id", sub.ID),
		logger.Float64("score", overall),
		logger.Bool("accepted", accepted),
		logger.Int("checks", len(checks)))

	return Result{Outcome: outcome, Checks: checks, Record: record}, nil
}

// aggregate computes sum(w*s)/sum(w) over the checks that ran.
func aggregate(w Weights, checks []model.CheckResult) float64 {
	if len(checks) == 0 {
		return 0
	}
	var num, den float64
	for _, c := range checks {
		num += w[c.CheckType] * c.ConfidenceScore
		den += w[c.CheckType]
	}
	if den == 0 {
		// every applicable weight is zero: plain mean
		for _, c := range checks {
			num += c.ConfidenceScore
		}
		return num / float64(len(checks))
	}
	return num / den
}

// runChecks runs the checks concurrently and returns their scores in order.
func (v *Verifier) runChecks(ctx context.Context, checks []scoring.Check, in scoring.Input) ([]scoring.Score, error) {
	scores := make([]scoring.Score, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			s, err := v.runOne(gctx, c, in)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (v *Verifier) timeoutFor(t model.CheckType) time.Duration {
	switch t {
	case model.CheckImageQuality, model.CheckSignatureQuality:
		return v.cfg.ImageTimeout
	case model.CheckDuplicate:
		return v.cfg.DuplicateTimeout
	}
	return 0
}

type checkReply struct {
	score scoring.Score
	err   error
}

// runOne runs c under its timeout. A check that overruns degrades to zero
// confidence, except the duplicate check which reports the store as
// unavailable.
func (v *Verifier) runOne(ctx context.Context, c scoring.Check, in scoring.Input) (scoring.Score, error) {
	timeout := v.timeoutFor(c.Type())
	if timeout <= 0 {
		return c.Run(ctx, in)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan checkReply, 1)
	go func() {
		s, err := c.Run(cctx, in)
		reply <- checkReply{score: s, err: err}
	}()

	select {
	case r := <-reply:
		if r.err == nil && cctx.Err() != nil && ctx.Err() == nil && c.Type() != model.CheckDuplicate {
			// finished, but only after its deadline
			metrics.RecordCheckDegraded(string(c.Type()), "timeout")
			return scoring.Degraded("timeout", nil), nil
		}
		if r.err == nil {
			if _, degraded := r.score.Details["error"]; degraded {
				metrics.RecordCheckDegraded(string(c.Type()), "error")
			}
		}
		return r.score, r.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return scoring.Score{}, err
		}
		if c.Type() == model.CheckDuplicate {
			return scoring.Score{}, fmt.Errorf("%w: duplicate lookup timed out after %s", ErrDependencyUnavailable, timeout)
		}
		metrics.RecordCheckDegraded(string(c.Type()), "timeout")
		return scoring.Degraded("timeout", nil), nil
	}
}

func (v *Verifier) buildRecord(sub model.AttendanceSubmission, w model.EventWindow, p model.ReferenceProfile, o model.VerificationOutcome) model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:                 RecordID(sub.ID),
		SubmissionID:       sub.ID,
		EventID:            sub.EventID,
		UserID:             sub.UserID,
		CampusID:           w.CampusID,
		Status:             model.StatusFor(sub.SubmittedAt, w),
		VerificationMethod: model.MethodFor(sub),
		CrossCampus:        p.CampusID != "" && w.CampusID != "" && p.CampusID != w.CampusID,
		IsVerified:         o.IsAccepted,
		VerificationScore:  o.OverallScore,
		VerificationNotes:  o.Notes,
		MarkedAt:           sub.SubmittedAt,
	}
}

func (v *Verifier) buildLogs(r model.AttendanceRecord, o model.VerificationOutcome, now time.Time) []model.AttendanceLog {
	action := model.ActionRejected
	if o.IsAccepted {
		action = model.ActionVerified
	}
	return []model.AttendanceLog{
		{
			ID:          v.newID(),
			RecordID:    r.ID,
			Action:      model.ActionMarked,
			Details:     map[string]any{"status": string(r.Status), "method": string(r.VerificationMethod)},
			PerformedBy: model.SystemActor,
			CreatedAt:   now,
		},
		{
			ID:          v.newID(),
			RecordID:    r.ID,
			Action:      action,
			Details:     map[string]any{"outcome_id": o.ID, "score": o.OverallScore},
			PerformedBy: model.SystemActor,
			CreatedAt:   now,
		},
	}
}

// RecordID returns the attendance record id owned by a submission.
func RecordID(submissionID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(submissionID)).String()
}
