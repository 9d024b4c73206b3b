package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lowmax205/eas/internal/domain/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts ...Option) (*PostgresStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = o.maxConns
	cfg.MinConns = o.minConns
	cfg.MaxConnLifetime = o.maxConnLifetime
	cfg.MaxConnIdleTime = o.maxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	accuracy_meters DOUBLE PRECISION,
	submitted_at    TIMESTAMPTZ NOT NULL,
	photo           BYTEA,
	signature       BYTEA
);

CREATE TABLE IF NOT EXISTS events (
	event_id              TEXT PRIMARY KEY,
	campus_id             TEXT NOT NULL DEFAULT '',
	latitude              DOUBLE PRECISION NOT NULL,
	longitude             DOUBLE PRECISION NOT NULL,
	window_start          TIMESTAMPTZ NOT NULL,
	window_end            TIMESTAMPTZ NOT NULL,
	event_start           TIMESTAMPTZ,
	allowed_radius_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
	requires_selfie       BOOLEAN NOT NULL DEFAULT false,
	requires_gps          BOOLEAN NOT NULL DEFAULT false,
	requires_signature    BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id             TEXT PRIMARY KEY,
	campus_id           TEXT NOT NULL DEFAULT '',
	reference_photo     BYTEA,
	reference_signature BYTEA
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                  TEXT PRIMARY KEY,
	submission_id       TEXT NOT NULL UNIQUE,
	event_id            TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	campus_id           TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	verification_method TEXT NOT NULL,
	cross_campus        BOOLEAN NOT NULL DEFAULT false,
	is_verified         BOOLEAN NOT NULL DEFAULT false,
	verification_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	verification_notes  TEXT NOT NULL DEFAULT '',
	marked_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_outcomes (
	seq           BIGSERIAL,
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL,
	event_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	overall_score DOUBLE PRECISION NOT NULL,
	is_accepted   BOOLEAN NOT NULL,
	notes         TEXT NOT NULL,
	weights       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS check_results (
	seq              BIGSERIAL,
	id               TEXT PRIMARY KEY,
	outcome_id       TEXT NOT NULL REFERENCES verification_outcomes(id),
	submission_id    TEXT NOT NULL,
	check_type       TEXT NOT NULL,
	passed           BOOLEAN NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	details          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance_logs (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	record_id    TEXT NOT NULL REFERENCES attendance_records(id),
	action       TEXT NOT NULL,
	details      JSONB NOT NULL,
	performed_by TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_event_user ON attendance_records(event_id, user_id) WHERE is_verified;
CREATE INDEX IF NOT EXISTS idx_outcomes_submission ON verification_outcomes(submission_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_checks_outcome ON check_results(outcome_id);
CREATE INDEX IF NOT EXISTS idx_logs_record ON attendance_logs(record_id, seq);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CountAccepted(ctx context.Context, eventID, userID, excludeSubmissionID string) (n int, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "count_accepted", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attendance_records
		 WHERE event_id = $1 AND user_id = $2 AND is_verified AND submission_id <> $3`,
		eventID, userID, excludeSubmissionID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count accepted")
}

func (s *PostgresStore) SaveVerification(ctx context.Context, v model.Verification) (err error) {
	defer func(start time.Time) { observe(DriverPostgres, "save_verification", start, err) }(time.Now())

	weights, err := encodeWeights(v.Outcome.Weights)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	r := v.Record
	if _, err := tx.Exec(ctx,
		`INSERT INTO attendance_records
			(id, submission_id, event_id, user_id, campus_id, status, verification_method,
			 cross_campus, is_verified, verification_score, verification_notes, marked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			verification_method = CASE WHEN attendance_records.verification_method = 'admin_override'
				THEN attendance_records.verification_method ELSE EXCLUDED.verification_method END,
			cross_campus = EXCLUDED.cross_campus,
			is_verified = CASE WHEN attendance_records.verification_method = 'admin_override'
				THEN attendance_records.is_verified ELSE EXCLUDED.is_verified END,
			verification_score = EXCLUDED.verification_score,
			verification_notes = EXCLUDED.verification_notes,
			marked_at = EXCLUDED.marked_at`,
		r.ID, r.SubmissionID, r.EventID, r.UserID, r.CampusID, string(r.Status), string(r.VerificationMethod),
		r.CrossCampus, r.IsVerified, r.VerificationScore, r.VerificationNotes, r.MarkedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: upsert record")
	}

	o := v.Outcome
	if _, err := tx.Exec(ctx,
		`INSERT INTO verification_outcomes
			(id, submission_id, event_id, user_id, overall_score, is_accepted, notes, weights, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.SubmissionID, o.EventID, o.UserID, o.OverallScore, o.IsAccepted, o.Notes, weights, o.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert outcome")
	}

	for _, c := range v.Checks {
		details, err := encodeDetails(c.Details)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO check_results
				(id, outcome_id, submission_id, check_type, passed, confidence_score, details, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, o.ID, c.SubmissionID, string(c.CheckType), c.Passed, c.ConfidenceScore, details, c.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert %s check", c.CheckType)
		}
	}

	for _, l := range v.Logs {
		if err := insertLogPostgres(ctx, tx, l); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit verification")
}

func insertLogPostgres(ctx context.Context, tx pgx.Tx, l model.AttendanceLog) error {
	details, err := encodeDetails(l.Details)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO attendance_logs (id, record_id, action, details, performed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.RecordID, string(l.Action), details, l.PerformedBy, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert log")
}

func (s *PostgresStore) SaveSubmission(ctx context.Context, sub model.AttendanceSubmission) (err error) {
	defer func(start time.Time) { observe(DriverPostgres, "save_submission", start, err) }(time.Now())

	var lat, lon, acc *float64
	if p := sub.ReportedPosition; p != nil {
		lat, lon, acc = &p.Latitude, &p.Longitude, p.AccuracyMeters
	}
	args := []any{sub.ID, sub.EventID, sub.UserID, lat, lon, acc, sub.SubmittedAt, sub.Photo, sub.Signature}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO submissions
			(id, event_id, user_id, latitude, longitude, accuracy_meters, submitted_at, photo, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`, args...)
	if err != nil {
		return eris.Wrap(err, "postgres: save submission")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var same bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions
		 WHERE id = $1 AND event_id = $2 AND user_id = $3
		   AND latitude IS NOT DISTINCT FROM $4 AND longitude IS NOT DISTINCT FROM $5
		   AND accuracy_meters IS NOT DISTINCT FROM $6 AND submitted_at = $7
		   AND photo IS NOT DISTINCT FROM $8 AND signature IS NOT DISTINCT FROM $9)`, args...,
	).Scan(&same)
	if err != nil {
		return eris.Wrap(err, "postgres: compare submission")
	}
	if !same {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Submission(ctx context.Context, id string) (sub model.AttendanceSubmission, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "submission", start, err) }(time.Now())

	var lat, lon, acc *float64
	err = s.pool.QueryRow(ctx,
		`SELECT id, event_id, user_id, latitude, longitude, accuracy_meters, submitted_at, photo, signature
		 FROM submissions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.EventID, &sub.UserID, &lat, &lon, &acc, &sub.SubmittedAt, &sub.Photo, &sub.Signature)
	if errors.Is(err, pgx.ErrNoRows) {
		return sub, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return sub, eris.Wrap(err, "postgres: get submission")
	}
	if lat != nil && lon != nil {
		sub.ReportedPosition = &model.Position{Latitude: *lat, Longitude: *lon, AccuracyMeters: acc}
	}
	return sub, nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, w model.EventWindow) (err error) {
	defer func(start time.Time) { observe(DriverPostgres, "save_event", start, err) }(time.Now())

	var eventStart *time.Time
	if !w.EventStart.IsZero() {
		eventStart = &w.EventStart
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events
			(event_id, campus_id, latitude, longitude, window_start, window_end, event_start,
			 allowed_radius_meters, requires_selfie, requires_gps, requires_signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (event_id) DO UPDATE SET
			campus_id = EXCLUDED.campus_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			event_start = EXCLUDED.event_start,
			allowed_radius_meters = EXCLUDED.allowed_radius_meters,
			requires_selfie = EXCLUDED.requires_selfie,
			requires_gps = EXCLUDED.requires_gps,
			requires_signature = EXCLUDED.requires_signature`,
		w.EventID, w.CampusID, w.EventPosition.Latitude, w.EventPosition.Longitude,
		w.WindowStart, w.WindowEnd, eventStart,
		w.AllowedRadiusMeters, w.RequiresSelfie, w.RequiresGPS, w.RequiresSignature,
	)
	return eris.Wrap(err, "postgres: save event")
}

func (s *PostgresStore) EventWindow(ctx context.Context, eventID string) (w model.EventWindow, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "event", start, err) }(time.Now())

	var eventStart *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT event_id, campus_id, latitude, longitude, window_start, window_end, event_start,
			allowed_radius_meters, requires_selfie, requires_gps, requires_signature
		 FROM events WHERE event_id = $1`, eventID,
	).Scan(&w.EventID, &w.CampusID, &w.EventPosition.Latitude, &w.EventPosition.Longitude,
		&w.WindowStart, &w.WindowEnd, &eventStart,
		&w.AllowedRadiusMeters, &w.RequiresSelfie, &w.RequiresGPS, &w.RequiresSignature)
	if errors.Is(err, pgx.ErrNoRows) {
		return w, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return w, eris.Wrap(err, "postgres: get event")
	}
	if eventStart != nil {
		w.EventStart = *eventStart
	}
	return w, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p model.ReferenceProfile) (err error) {
	defer func(start time.Time) { observe(DriverPostgres, "save_profile", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, campus_id, reference_photo, reference_signature)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			campus_id = EXCLUDED.campus_id,
			reference_photo = EXCLUDED.reference_photo,
			reference_signature = EXCLUDED.reference_signature`,
		p.UserID, p.CampusID, p.ReferencePhoto, p.ReferenceSignature,
	)
	return eris.Wrap(err, "postgres: save profile")
}

func (s *PostgresStore) ReferenceProfile(ctx context.Context, userID string) (p model.ReferenceProfile, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "profile", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx,
		`SELECT user_id, campus_id, reference_photo, reference_signature FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.CampusID, &p.ReferencePhoto, &p.ReferenceSignature)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, eris.Wrap(err, "postgres: get profile")
}

func (s *PostgresStore) LatestVerification(ctx context.Context, submissionID string) (sv StoredVerification, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "latest_verification", start, err) }(time.Now())

	var (
		o       = &sv.Outcome
		weights []byte
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, submission_id, event_id, user_id, overall_score, is_accepted, notes, weights, created_at
		 FROM verification_outcomes WHERE submission_id = $1
		 ORDER BY seq DESC LIMIT 1`, submissionID,
	).Scan(&o.ID, &o.SubmissionID, &o.EventID, &o.UserID, &o.OverallScore, &o.IsAccepted, &o.Notes, &weights, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sv, fmt.Errorf("verification of %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return sv, eris.Wrap(err, "postgres: get outcome")
	}
	if o.Weights, err = decodeWeights(weights); err != nil {
		return sv, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, submission_id, check_type, passed, confidence_score, details, created_at
		 FROM check_results WHERE outcome_id = $1 ORDER BY seq`, o.ID)
	if err != nil {
		return sv, eris.Wrap(err, "postgres: list checks")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         model.CheckResult
			checkType string
			details   []byte
		)
		if err := rows.Scan(&c.ID, &c.SubmissionID, &checkType, &c.Passed, &c.ConfidenceScore, &details, &c.CreatedAt); err != nil {
			return sv, eris.Wrap(err, "postgres: scan check")
		}
		c.CheckType = model.CheckType(checkType)
		if c.Details, err = decodeDetails(details); err != nil {
			return sv, err
		}
		sv.Checks = append(sv.Checks, c)
	}
	return sv, eris.Wrap(rows.Err(), "postgres: iterate checks")
}

const postgresSelectRecord = `SELECT id, submission_id, event_id, user_id, campus_id, status, verification_method,
	cross_campus, is_verified, verification_score, verification_notes, marked_at
	FROM attendance_records WHERE id = $1`

func scanRecordPostgres(row pgx.Row, recordID string) (model.AttendanceRecord, error) {
	var (
		r              model.AttendanceRecord
		status, method string
	)
	err := row.Scan(&r.ID, &r.SubmissionID, &r.EventID, &r.UserID, &r.CampusID, &status, &method,
		&r.CrossCampus, &r.IsVerified, &r.VerificationScore, &r.VerificationNotes, &r.MarkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return r, eris.Wrap(err, "postgres: get record")
	}
	r.Status = model.AttendanceStatus(status)
	r.VerificationMethod = model.VerificationMethod(method)
	return r, nil
}

func (s *PostgresStore) Record(ctx context.Context, recordID string) (r model.AttendanceRecord, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "record", start, err) }(time.Now())
	return scanRecordPostgres(s.pool.QueryRow(ctx, postgresSelectRecord, recordID), recordID)
}

func (s *PostgresStore) Logs(ctx context.Context, recordID string) (logs []model.AttendanceLog, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "logs", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, action, details, performed_by, created_at
		 FROM attendance_logs WHERE record_id = $1 ORDER BY seq`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l       model.AttendanceLog
			action  string
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.RecordID, &action, &details, &l.PerformedBy, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log")
		}
		l.Action = model.LogAction(action)
		if l.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: iterate logs")
}

func (s *PostgresStore) ApplyOverride(ctx context.Context, recordID string, accepted bool, entry model.AttendanceLog) (r model.AttendanceRecord, err error) {
	defer func(start time.Time) { observe(DriverPostgres, "override", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return r, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE attendance_records SET is_verified = $1, verification_method = $2 WHERE id = $3`,
		accepted, string(model.MethodAdminOverride), recordID)
	if err != nil {
		return r, eris.Wrap(err, "postgres: update record")
	}
	if tag.RowsAffected() == 0 {
		return r, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}

	entry.RecordID = recordID
	if err := insertLogPostgres(ctx, tx, entry); err != nil {
		return r, err
	}
	if r, err = scanRecordPostgres(tx.QueryRow(ctx, postgresSelectRecord, recordID), recordID); err != nil {
		return r, err
	}
	return r, eris.Wrap(tx.Commit(ctx), "postgres: commit override")
}
