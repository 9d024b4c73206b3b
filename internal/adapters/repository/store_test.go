package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/lowmax205/eas/internal/domain/model"
)

func fixtureVerification(submissionID, outcomeID string, accepted bool, at time.Time) model.Verification {
	recordID := "rec-" + submissionID
	return model.Verification{
		Record: model.AttendanceRecord{
			ID:                 recordID,
			SubmissionID:       submissionID,
			EventID:            "evt-1",
			UserID:             "user-1",
			CampusID:           "main",
			Status:             model.StatusPresent,
			VerificationMethod: model.MethodFacialRecognition,
			IsVerified:         accepted,
			VerificationScore:  0.82,
			VerificationNotes:  "Verification passed (score 0.82).",
			MarkedAt:           at,
		},
		Outcome: model.VerificationOutcome{
			ID:           outcomeID,
			SubmissionID: submissionID,
			EventID:      "evt-1",
			UserID:       "user-1",
			OverallScore: 0.82,
			IsAccepted:   accepted,
			Notes:        "Verification passed (score 0.82).",
			Weights:      map[model.CheckType]float64{model.CheckDistance: 0.6, model.CheckTimeWindow: 0.4},
			CreatedAt:    at,
		},
		Checks: []model.CheckResult{
			{ID: outcomeID + "-c1", SubmissionID: submissionID, CheckType: model.CheckDistance, Passed: true, ConfidenceScore: 0.7, Details: map[string]any{"distance_meters": 30.0}, CreatedAt: at},
			{ID: outcomeID + "-c2", SubmissionID: submissionID, CheckType: model.CheckTimeWindow, Passed: true, ConfidenceScore: 1, Details: map[string]any{"position": "within"}, CreatedAt: at},
		},
		Logs: []model.AttendanceLog{
			{ID: outcomeID + "-l1", RecordID: recordID, Action: model.ActionMarked, Details: map[string]any{"status": "present"}, PerformedBy: model.SystemActor, CreatedAt: at},
			{ID: outcomeID + "-l2", RecordID: recordID, Action: model.ActionVerified, Details: map[string]any{"outcome_id": outcomeID}, PerformedBy: model.SystemActor, CreatedAt: at},
		},
	}
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(newStore func() Store) {
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)

	Convey("Submissions round-trip with optional evidence", func() {
		s := newStore()
		acc := 12.5
		sub := model.AttendanceSubmission{
			ID: "sub-1", EventID: "evt-1", UserID: "user-1", SubmittedAt: at,
			ReportedPosition: &model.Position{Latitude: 8.95, Longitude: 125.54, AccuracyMeters: &acc},
			Photo:            []byte{0x89, 0x50},
		}
		So(s.SaveSubmission(ctx, sub), ShouldBeNil)

		got, err := s.Submission(ctx, "sub-1")
		So(err, ShouldBeNil)
		So(got.UserID, ShouldEqual, "user-1")
		So(got.SubmittedAt.Equal(at), ShouldBeTrue)
		So(got.ReportedPosition, ShouldNotBeNil)
		So(*got.ReportedPosition.AccuracyMeters, ShouldEqual, 12.5)
		So(got.Photo, ShouldResemble, []byte{0x89, 0x50})
		So(got.HasSignature(), ShouldBeFalse)

		_, err = s.Submission(ctx, "missing")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})

	Convey("A stored submission cannot be replaced under its id", func() {
		s := newStore()
		sub := model.AttendanceSubmission{
			ID: "sub-1", EventID: "evt-1", UserID: "user-1", SubmittedAt: at,
			ReportedPosition: &model.Position{Latitude: 8.95, Longitude: 125.54},
			Signature:        []byte{0x01},
		}
		So(s.SaveSubmission(ctx, sub), ShouldBeNil)

		Convey("An exact resend is accepted and changes nothing", func() {
			resend := sub
			resend.Signature = []byte{0x01}
			So(s.SaveSubmission(ctx, resend), ShouldBeNil)

			got, err := s.Submission(ctx, "sub-1")
			So(err, ShouldBeNil)
			So(got.UserID, ShouldEqual, "user-1")
		})

		Convey("Another user's submission under the same id is refused", func() {
			other := sub
			other.UserID = "user-2"
			So(errors.Is(s.SaveSubmission(ctx, other), ErrConflict), ShouldBeTrue)

			moved := sub
			moved.ReportedPosition = &model.Position{Latitude: 9.1, Longitude: 125.54}
			So(errors.Is(s.SaveSubmission(ctx, moved), ErrConflict), ShouldBeTrue)

			got, err := s.Submission(ctx, "sub-1")
			So(err, ShouldBeNil)
			So(got.UserID, ShouldEqual, "user-1")
			So(got.ReportedPosition.Latitude, ShouldEqual, 8.95)
		})
	})

	Convey("Events and profiles are looked up by id", func() {
		s := newStore()
		w := model.EventWindow{
			EventID: "evt-1", CampusID: "main",
			EventPosition: model.Position{Latitude: 8.95, Longitude: 125.54},
			WindowStart:   at.Add(-30 * time.Minute), WindowEnd: at.Add(30 * time.Minute),
			AllowedRadiusMeters: 80, RequiresSelfie: true,
		}
		So(s.SaveEvent(ctx, w), ShouldBeNil)
		So(s.SaveProfile(ctx, model.ReferenceProfile{UserID: "user-1", CampusID: "north", ReferencePhoto: []byte{1}}), ShouldBeNil)

		gotW, err := s.EventWindow(ctx, "evt-1")
		So(err, ShouldBeNil)
		So(gotW.CampusID, ShouldEqual, "main")
		So(gotW.AllowedRadiusMeters, ShouldEqual, 80)
		So(gotW.RequiresSelfie, ShouldBeTrue)
		So(gotW.EventStart.IsZero(), ShouldBeTrue)
		So(gotW.WindowEnd.Equal(w.WindowEnd), ShouldBeTrue)

		p, err := s.ReferenceProfile(ctx, "user-1")
		So(err, ShouldBeNil)
		So(p.CampusID, ShouldEqual, "north")

		_, err = s.EventWindow(ctx, "evt-x")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		_, err = s.ReferenceProfile(ctx, "user-x")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})

	Convey("A verification persists record, outcome, checks and logs", func() {
		s := newStore()
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-1", true, at)), ShouldBeNil)

		sv, err := s.LatestVerification(ctx, "sub-1")
		So(err, ShouldBeNil)
		So(sv.Outcome.ID, ShouldEqual, "out-1")
		So(sv.Outcome.IsAccepted, ShouldBeTrue)
		So(sv.Outcome.Weights[model.CheckDistance], ShouldEqual, 0.6)
		So(len(sv.Checks), ShouldEqual, 2)
		So(sv.Checks[0].CheckType, ShouldEqual, model.CheckDistance)
		So(sv.Checks[0].Details["distance_meters"], ShouldEqual, 30.0)

		r, err := s.Record(ctx, "rec-sub-1")
		So(err, ShouldBeNil)
		So(r.IsVerified, ShouldBeTrue)
		So(r.Status, ShouldEqual, model.StatusPresent)

		logs, err := s.Logs(ctx, "rec-sub-1")
		So(err, ShouldBeNil)
		So(len(logs), ShouldEqual, 2)
		So(logs[0].Action, ShouldEqual, model.ActionMarked)
		So(logs[1].Action, ShouldEqual, model.ActionVerified)

		_, err = s.LatestVerification(ctx, "sub-x")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})

	Convey("A re-verification appends a new outcome and updates the record", func() {
		s := newStore()
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-1", true, at)), ShouldBeNil)
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-2", false, at.Add(time.Minute))), ShouldBeNil)

		sv, err := s.LatestVerification(ctx, "sub-1")
		So(err, ShouldBeNil)
		So(sv.Outcome.ID, ShouldEqual, "out-2")
		So(sv.Checks[0].ID, ShouldEqual, "out-2-c1")

		r, err := s.Record(ctx, "rec-sub-1")
		So(err, ShouldBeNil)
		So(r.IsVerified, ShouldBeFalse)

		logs, _ := s.Logs(ctx, "rec-sub-1")
		So(len(logs), ShouldEqual, 4)
	})

	Convey("Accepted records are counted per event and user", func() {
		s := newStore()
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-1", true, at)), ShouldBeNil)
		So(s.SaveVerification(ctx, fixtureVerification("sub-2", "out-2", false, at)), ShouldBeNil)

		n, err := s.CountAccepted(ctx, "evt-1", "user-1", "sub-3")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		n, err = s.CountAccepted(ctx, "evt-1", "user-1", "sub-1")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 0)

		n, err = s.CountAccepted(ctx, "evt-2", "user-1", "")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 0)
	})

	Convey("An override flips the record and appends a log without touching the outcome", func() {
		s := newStore()
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-1", false, at)), ShouldBeNil)

		r, err := s.ApplyOverride(ctx, "rec-sub-1", true, model.AttendanceLog{
			ID: "log-admin", Action: model.ActionVerified, PerformedBy: "admin-7",
			Details: map[string]any{"reason": "verified in person"}, CreatedAt: at.Add(time.Hour),
		})
		So(err, ShouldBeNil)
		So(r.IsVerified, ShouldBeTrue)
		So(r.VerificationMethod, ShouldEqual, model.MethodAdminOverride)

		sv, _ := s.LatestVerification(ctx, "sub-1")
		So(sv.Outcome.IsAccepted, ShouldBeFalse)

		logs, _ := s.Logs(ctx, "rec-sub-1")
		So(len(logs), ShouldEqual, 3)
		So(logs[2].PerformedBy, ShouldEqual, "admin-7")
		So(logs[2].RecordID, ShouldEqual, "rec-sub-1")

		n, _ := s.CountAccepted(ctx, "evt-1", "user-1", "")
		So(n, ShouldEqual, 1)

		_, err = s.ApplyOverride(ctx, "rec-missing", true, model.AttendanceLog{ID: "log-x", Action: model.ActionVerified, CreatedAt: at})
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})

	Convey("A re-verification keeps an administrator's override", func() {
		s := newStore()
		So(s.SaveVerification(ctx, fixtureVerification("sub-1", "out-1", true, at)), ShouldBeNil)
		_, err := s.ApplyOverride(ctx, "rec-sub-1", false, model.AttendanceLog{
			ID: "log-admin", Action: model.ActionRejected, PerformedBy: "admin-7", CreatedAt: at.Add(time.Hour),
		})
		So(err, ShouldBeNil)

		rerun := fixtureVerification("sub-1", "out-2", true, at.Add(2*time.Hour))
		rerun.Record.VerificationScore = 0.91
		So(s.SaveVerification(ctx, rerun), ShouldBeNil)

		r, err := s.Record(ctx, "rec-sub-1")
		So(err, ShouldBeNil)
		So(r.IsVerified, ShouldBeFalse)
		So(r.VerificationMethod, ShouldEqual, model.MethodAdminOverride)
		So(r.VerificationScore, ShouldEqual, 0.91)

		sv, err := s.LatestVerification(ctx, "sub-1")
		So(err, ShouldBeNil)
		So(sv.Outcome.ID, ShouldEqual, "out-2")

		logs, _ := s.Logs(ctx, "rec-sub-1")
		So(len(logs), ShouldEqual, 5)

		n, _ := s.CountAccepted(ctx, "evt-1", "user-1", "")
		So(n, ShouldEqual, 0)
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		runStoreContract(func() Store { return NewMemoryStore() })

		Convey("Cancelled contexts are rejected", func() {
			s := NewMemoryStore()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := s.CountAccepted(ctx, "evt-1", "user-1", "")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(errors.Is(s.SaveVerification(ctx, model.Verification{}), context.Canceled), ShouldBeTrue)
		})
	})
}

func TestSQLiteStore(t *testing.T) {
	Convey("Given a migrated SQLite store", t, func() {
		runStoreContract(func() Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "eas.db"))
			So(err, ShouldBeNil)
			So(s.Migrate(context.Background()), ShouldBeNil)
			Reset(func() { _ = s.Close() })
			return s
		})

		Convey("Migrate is idempotent and Ping succeeds", func() {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "eas.db"))
			So(err, ShouldBeNil)
			defer s.Close()
			So(s.Migrate(context.Background()), ShouldBeNil)
			So(s.Migrate(context.Background()), ShouldBeNil)
			So(s.Ping(context.Background()), ShouldBeNil)
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Open selects the driver by name", t, func() {
		s, err := Open(context.Background(), DriverMemory, "")
		So(err, ShouldBeNil)
		So(s, ShouldHaveSameTypeAs, &MemoryStore{})

		_, err = Open(context.Background(), "mongo", "")
		So(errors.Is(err, ErrUnknownDriver), ShouldBeTrue)
	})
}
