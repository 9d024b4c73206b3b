package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lowmax205/eas/internal/domain/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "eas.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// one writer at a time keeps transactions from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	latitude        REAL,
	longitude       REAL,
	accuracy_meters REAL,
	submitted_at    TEXT NOT NULL,
	photo           BLOB,
	signature       BLOB
);

CREATE TABLE IF NOT EXISTS events (
	event_id              TEXT PRIMARY KEY,
	campus_id             TEXT NOT NULL DEFAULT '',
	latitude              REAL NOT NULL,
	longitude             REAL NOT NULL,
	window_start          TEXT NOT NULL,
	window_end            TEXT NOT NULL,
	event_start           TEXT NOT NULL DEFAULT '',
	allowed_radius_meters REAL NOT NULL DEFAULT 0,
	requires_selfie       INTEGER NOT NULL DEFAULT 0,
	requires_gps          INTEGER NOT NULL DEFAULT 0,
	requires_signature    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id             TEXT PRIMARY KEY,
	campus_id           TEXT NOT NULL DEFAULT '',
	reference_photo     BLOB,
	reference_signature BLOB
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                  TEXT PRIMARY KEY,
	submission_id       TEXT NOT NULL UNIQUE,
	event_id            TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	campus_id           TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	verification_method TEXT NOT NULL,
	cross_campus        INTEGER NOT NULL DEFAULT 0,
	is_verified         INTEGER NOT NULL DEFAULT 0,
	verification_score  REAL NOT NULL DEFAULT 0,
	verification_notes  TEXT NOT NULL DEFAULT '',
	marked_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_outcomes (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL,
	event_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	overall_score REAL NOT NULL,
	is_accepted   INTEGER NOT NULL,
	notes         TEXT NOT NULL,
	weights       TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS check_results (
	id               TEXT PRIMARY KEY,
	outcome_id       TEXT NOT NULL REFERENCES verification_outcomes(id),
	submission_id    TEXT NOT NULL,
	check_type       TEXT NOT NULL,
	passed           INTEGER NOT NULL,
	confidence_score REAL NOT NULL,
	details          TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance_logs (
	id           TEXT PRIMARY KEY,
	record_id    TEXT NOT NULL REFERENCES attendance_records(id),
	action       TEXT NOT NULL,
	details      TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_event_user ON attendance_records(event_id, user_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_submission ON verification_outcomes(submission_id);
CREATE INDEX IF NOT EXISTS idx_checks_outcome ON check_results(outcome_id);
CREATE INDEX IF NOT EXISTS idx_logs_record ON attendance_logs(record_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CountAccepted(ctx context.Context, eventID, userID, excludeSubmissionID string) (n int, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "count_accepted", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records
		 WHERE event_id = ? AND user_id = ? AND is_verified = 1 AND submission_id <> ?`,
		eventID, userID, excludeSubmissionID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count accepted")
}

func (s *SQLiteStore) SaveVerification(ctx context.Context, v model.Verification) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "save_verification", start, err) }(time.Now())

	weights, err := encodeWeights(v.Outcome.Weights)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	r := v.Record
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attendance_records
			(id, submission_id, event_id, user_id, campus_id, status, verification_method,
			 cross_campus, is_verified, verification_score, verification_notes, marked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			verification_method = CASE WHEN attendance_records.verification_method = 'admin_override'
				THEN attendance_records.verification_method ELSE excluded.verification_method END,
			cross_campus = excluded.cross_campus,
			is_verified = CASE WHEN attendance_records.verification_method = 'admin_override'
				THEN attendance_records.is_verified ELSE excluded.is_verified END,
			verification_score = excluded.verification_score,
			verification_notes = excluded.verification_notes,
			marked_at = excluded.marked_at`,
		r.ID, r.SubmissionID, r.EventID, r.UserID, r.CampusID, string(r.Status), string(r.VerificationMethod),
		r.CrossCampus, r.IsVerified, r.VerificationScore, r.VerificationNotes, formatTime(r.MarkedAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: upsert record")
	}

	o := v.Outcome
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO verification_outcomes
			(id, submission_id, event_id, user_id, overall_score, is_accepted, notes, weights, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SubmissionID, o.EventID, o.UserID, o.OverallScore, o.IsAccepted, o.Notes, string(weights), formatTime(o.CreatedAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert outcome")
	}

	for _, c := range v.Checks {
		details, err := encodeDetails(c.Details)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO check_results
				(id, outcome_id, submission_id, check_type, passed, confidence_score, details, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, o.ID, c.SubmissionID, string(c.CheckType), c.Passed, c.ConfidenceScore, string(details), formatTime(c.CreatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s check", c.CheckType)
		}
	}

	for _, l := range v.Logs {
		if err := insertLogSQLite(ctx, tx, l); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit verification")
}

func insertLogSQLite(ctx context.Context, tx *sql.Tx, l model.AttendanceLog) error {
	details, err := encodeDetails(l.Details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attendance_logs (id, record_id, action, details, performed_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.RecordID, string(l.Action), string(details), l.PerformedBy, formatTime(l.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert log")
}

func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub model.AttendanceSubmission) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "save_submission", start, err) }(time.Now())

	var lat, lon, acc sql.NullFloat64
	if p := sub.ReportedPosition; p != nil {
		lat = sql.NullFloat64{Float64: p.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: p.Longitude, Valid: true}
		if p.AccuracyMeters != nil {
			acc = sql.NullFloat64{Float64: *p.AccuracyMeters, Valid: true}
		}
	}
	args := []any{sub.ID, sub.EventID, sub.UserID, lat, lon, acc, formatTime(sub.SubmittedAt), sub.Photo, sub.Signature}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions
			(id, event_id, user_id, latitude, longitude, accuracy_meters, submitted_at, photo, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: save submission")
	}
	if n, err := res.RowsAffected(); err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	} else if n == 1 {
		return nil
	}

	var same bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions
		 WHERE id = ? AND event_id = ? AND user_id = ? AND latitude IS ? AND longitude IS ?
		   AND accuracy_meters IS ? AND submitted_at = ? AND photo IS ? AND signature IS ?)`, args...,
	).Scan(&same)
	if err != nil {
		return eris.Wrap(err, "sqlite: compare submission")
	}
	if !same {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) Submission(ctx context.Context, id string) (sub model.AttendanceSubmission, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "submission", start, err) }(time.Now())

	var (
		lat, lon, acc sql.NullFloat64
		submittedAt   string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, latitude, longitude, accuracy_meters, submitted_at, photo, signature
		 FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.EventID, &sub.UserID, &lat, &lon, &acc, &submittedAt, &sub.Photo, &sub.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return sub, eris.Wrap(err, "sqlite: get submission")
	}
	if lat.Valid && lon.Valid {
		sub.ReportedPosition = &model.Position{Latitude: lat.Float64, Longitude: lon.Float64}
		if acc.Valid {
			a := acc.Float64
			sub.ReportedPosition.AccuracyMeters = &a
		}
	}
	sub.SubmittedAt, err = parseTime(submittedAt)
	return sub, err
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, w model.EventWindow) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "save_event", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events
			(event_id, campus_id, latitude, longitude, window_start, window_end, event_start,
			 allowed_radius_meters, requires_selfie, requires_gps, requires_signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.EventID, w.CampusID, w.EventPosition.Latitude, w.EventPosition.Longitude,
		formatTime(w.WindowStart), formatTime(w.WindowEnd), formatTime(w.EventStart),
		w.AllowedRadiusMeters, w.RequiresSelfie, w.RequiresGPS, w.RequiresSignature,
	)
	return eris.Wrap(err, "sqlite: save event")
}

func (s *SQLiteStore) EventWindow(ctx context.Context, eventID string) (w model.EventWindow, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "event", start, err) }(time.Now())

	var from, to, at string
	err = s.db.QueryRowContext(ctx,
		`SELECT event_id, campus_id, latitude, longitude, window_start, window_end, event_start,
			allowed_radius_meters, requires_selfie, requires_gps, requires_signature
		 FROM events WHERE event_id = ?`, eventID,
	).Scan(&w.EventID, &w.CampusID, &w.EventPosition.Latitude, &w.EventPosition.Longitude,
		&from, &to, &at, &w.AllowedRadiusMeters, &w.RequiresSelfie, &w.RequiresGPS, &w.RequiresSignature)
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return w, eris.Wrap(err, "sqlite: get event")
	}
	if w.WindowStart, err = parseTime(from); err != nil {
		return w, err
	}
	if w.WindowEnd, err = parseTime(to); err != nil {
		return w, err
	}
	w.EventStart, err = parseTime(at)
	return w, err
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p model.ReferenceProfile) (err error) {
	defer func(start time.Time) { observe(DriverSQLite, "save_profile", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO profiles (user_id, campus_id, reference_photo, reference_signature)
		 VALUES (?, ?, ?, ?)`,
		p.UserID, p.CampusID, p.ReferencePhoto, p.ReferenceSignature,
	)
	return eris.Wrap(err, "sqlite: save profile")
}

func (s *SQLiteStore) ReferenceProfile(ctx context.Context, userID string) (p model.ReferenceProfile, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "profile", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, campus_id, reference_photo, reference_signature FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.CampusID, &p.ReferencePhoto, &p.ReferenceSignature)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, eris.Wrap(err, "sqlite: get profile")
}

func (s *SQLiteStore) LatestVerification(ctx context.Context, submissionID string) (sv StoredVerification, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "latest_verification", start, err) }(time.Now())

	var (
		o                  = &sv.Outcome
		weights, createdAt string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, submission_id, event_id, user_id, overall_score, is_accepted, notes, weights, created_at
		 FROM verification_outcomes WHERE submission_id = ?
		 ORDER BY rowid DESC LIMIT 1`, submissionID,
	).Scan(&o.ID, &o.SubmissionID, &o.EventID, &o.UserID, &o.OverallScore, &o.IsAccepted, &o.Notes, &weights, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sv, fmt.Errorf("verification of %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return sv, eris.Wrap(err, "sqlite: get outcome")
	}
	if o.Weights, err = decodeWeights([]byte(weights)); err != nil {
		return sv, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return sv, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, check_type, passed, confidence_score, details, created_at
		 FROM check_results WHERE outcome_id = ? ORDER BY rowid`, o.ID)
	if err != nil {
		return sv, eris.Wrap(err, "sqlite: list checks")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c           model.CheckResult
			checkType   string
			details, at string
		)
		if err := rows.Scan(&c.ID, &c.SubmissionID, &checkType, &c.Passed, &c.ConfidenceScore, &details, &at); err != nil {
			return sv, eris.Wrap(err, "sqlite: scan check")
		}
		c.CheckType = model.CheckType(checkType)
		if c.Details, err = decodeDetails([]byte(details)); err != nil {
			return sv, err
		}
		if c.CreatedAt, err = parseTime(at); err != nil {
			return sv, err
		}
		sv.Checks = append(sv.Checks, c)
	}
	return sv, eris.Wrap(rows.Err(), "sqlite: iterate checks")
}

func (s *SQLiteStore) Record(ctx context.Context, recordID string) (r model.AttendanceRecord, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "record", start, err) }(time.Now())
	return scanRecordSQLite(s.db.QueryRowContext(ctx, sqliteSelectRecord, recordID), recordID)
}

const sqliteSelectRecord = `SELECT id, submission_id, event_id, user_id, campus_id, status, verification_method,
	cross_campus, is_verified, verification_score, verification_notes, marked_at
	FROM attendance_records WHERE id = ?`

func scanRecordSQLite(row *sql.Row, recordID string) (model.AttendanceRecord, error) {
	var (
		r                      model.AttendanceRecord
		status, method, marked string
	)
	err := row.Scan(&r.ID, &r.SubmissionID, &r.EventID, &r.UserID, &r.CampusID, &status, &method,
		&r.CrossCampus, &r.IsVerified, &r.VerificationScore, &r.VerificationNotes, &marked)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return r, eris.Wrap(err, "sqlite: get record")
	}
	r.Status = model.AttendanceStatus(status)
	r.VerificationMethod = model.VerificationMethod(method)
	r.MarkedAt, err = parseTime(marked)
	return r, err
}

func (s *SQLiteStore) Logs(ctx context.Context, recordID string) (logs []model.AttendanceLog, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "logs", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, action, details, performed_by, created_at
		 FROM attendance_logs WHERE record_id = ? ORDER BY rowid`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                   model.AttendanceLog
			action, details, at string
		)
		if err := rows.Scan(&l.ID, &l.RecordID, &action, &details, &l.PerformedBy, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log")
		}
		l.Action = model.LogAction(action)
		if l.Details, err = decodeDetails([]byte(details)); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: iterate logs")
}

func (s *SQLiteStore) ApplyOverride(ctx context.Context, recordID string, accepted bool, entry model.AttendanceLog) (r model.AttendanceRecord, err error) {
	defer func(start time.Time) { observe(DriverSQLite, "override", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return r, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE attendance_records SET is_verified = ?, verification_method = ? WHERE id = ?`,
		accepted, string(model.MethodAdminOverride), recordID)
	if err != nil {
		return r, eris.Wrap(err, "sqlite: update record")
	}
	if n, err := res.RowsAffected(); err != nil {
		return r, eris.Wrap(err, "rows affected")
	} else if n == 0 {
		return r, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}

	entry.RecordID = recordID
	if err := insertLogSQLite(ctx, tx, entry); err != nil {
		return r, err
	}
	if r, err = scanRecordSQLite(tx.QueryRowContext(ctx, sqliteSelectRecord, recordID), recordID); err != nil {
		return r, err
	}
	return r, eris.Wrap(tx.Commit(), "sqlite: commit override")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, eris.Wrapf(err, "parse time %q", s)
}
