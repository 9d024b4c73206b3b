package verify_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/internal/domain/verify"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	venue       = model.Position{Latitude: 14.5995, Longitude: 120.9842}
	windowStart = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	fixedNow    = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
)

type auditStub struct {
	mu    sync.Mutex
	saved []model.Verification
	err   error
}

func (a *auditStub) SaveVerification(_ context.Context, v model.Verification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, v)
	return nil
}

func (a *auditStub) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}

type counterStub struct {
	n     int
	err   error
	block bool
}

func (c *counterStub) CountAccepted(ctx context.Context, _, _, _ string) (int, error) {
	if c.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return c.n, c.err
}

// fixedCheck is a check with a predetermined score.
type fixedCheck struct {
	typ   model.CheckType
	conf  float64
	delay time.Duration
}

func (f fixedCheck) Type() model.CheckType        { return f.typ }
func (f fixedCheck) Applicable(scoring.Input) bool { return true }
func (f fixedCheck) Run(ctx context.Context, _ scoring.Input) (scoring.Score, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return scoring.Score{Passed: f.conf >= 0.5, Confidence: f.conf, Details: map[string]any{}}, nil
}

func fixedChecks(conf ...float64) []scoring.Check {
	out := make([]scoring.Check, len(conf))
	for i, c := range conf {
		out[i] = fixedCheck{typ: model.AllCheckTypes[i], conf: c}
	}
	return out
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func north(meters float64) *model.Position {
	dLat := meters / scoring.EarthRadiusMeters * 180 / math.Pi
	return &model.Position{Latitude: venue.Latitude + dLat, Longitude: venue.Longitude}
}

func baseInputs() (model.AttendanceSubmission, model.EventWindow, model.ReferenceProfile) {
	sub := model.AttendanceSubmission{
		ID:               "sub-1",
		EventID:          "event-1",
		UserID:           "user-1",
		ReportedPosition: north(50),
		SubmittedAt:      windowStart.Add(10 * time.Minute),
	}
	win := model.EventWindow{
		EventID:             "event-1",
		CampusID:            "main",
		EventPosition:       venue,
		WindowStart:         windowStart,
		WindowEnd:           windowStart.Add(2 * time.Hour),
		EventStart:          windowStart.Add(30 * time.Minute),
		AllowedRadiusMeters: 100,
	}
	return sub, win, model.ReferenceProfile{UserID: "user-1", CampusID: "main"}
}

func newVerifier(cfg verify.Config, counter scoring.RecordCounter, audit verify.AuditWriter, opts ...verify.Option) *verify.Verifier {
	opts = append([]verify.Option{
		verify.WithClock(func() time.Time { return fixedNow }),
		verify.WithIDGenerator(sequentialIDs()),
	}, opts...)
	v, err := verify.New(cfg, counter, audit, opts...)
	So(err, ShouldBeNil)
	return v
}

func TestRenormalize(t *testing.T) {
	Convey("Given the default weight table", t, func() {
		w := verify.DefaultWeights()
		all := model.AllCheckTypes

		Convey("Every non-empty subset renormalizes to one", func() {
			for mask := 1; mask < 1<<len(all); mask++ {
				var subset []model.CheckType
				for i, c := range all {
					if mask&(1<<i) != 0 {
						subset = append(subset, c)
					}
				}
				norm := verify.Renormalize(w, subset)
				var sum float64
				for _, c := range subset {
					sum += norm[c]
				}
				So(math.Abs(sum-1), ShouldBeLessThan, 1e-9)
				So(len(norm), ShouldEqual, len(subset))
			}
		})

		Convey("Distance, time and duplicate keep their proportions", func() {
			norm := verify.Renormalize(w, []model.CheckType{model.CheckDistance, model.CheckTimeWindow, model.CheckDuplicate})
			So(norm[model.CheckDistance], ShouldAlmostEqual, 0.5, 1e-9)
			So(norm[model.CheckTimeWindow], ShouldAlmostEqual, 1.0/3, 1e-9)
			So(norm[model.CheckDuplicate], ShouldAlmostEqual, 1.0/6, 1e-9)
		})

		Convey("Zero weights share equally", func() {
			norm := verify.Renormalize(verify.Weights{}, []model.CheckType{model.CheckDistance, model.CheckDuplicate})
			So(norm[model.CheckDistance], ShouldEqual, 0.5)
		})

		Convey("An empty subset yields no weights", func() {
			So(verify.Renormalize(w, nil), ShouldBeEmpty)
		})
	})
}

func TestVerifyScenarios(t *testing.T) {
	Convey("Given a verifier with default configuration", t, func() {
		audit := &auditStub{}
		counter := &counterStub{}
		ctx := context.Background()
		sub, win, profile := baseInputs()

		Convey("Scenario C: only distance, time and duplicate run", func() {
			v := newVerifier(verify.DefaultConfig(), counter, audit)
			res, err := v.Verify(ctx, sub, win, profile)

			So(err, ShouldBeNil)
			So(len(res.Checks), ShouldEqual, 3)
			for _, c := range res.Checks {
				So(c.CheckType, ShouldNotEqual, model.CheckImageQuality)
				So(c.CheckType, ShouldNotEqual, model.CheckSignatureQuality)
			}
			w := res.Outcome.Weights
			So(w[model.CheckDistance], ShouldAlmostEqual, 0.5, 1e-9)
			So(w[model.CheckTimeWindow], ShouldAlmostEqual, 0.333333333, 1e-6)
			So(w[model.CheckDuplicate], ShouldAlmostEqual, 0.166666667, 1e-6)

			// distance 0.5, time 1.0, duplicate 1.0
			So(res.Outcome.OverallScore, ShouldAlmostEqual, 0.5*0.5+1.0/3+1.0/6, 1e-6)
			So(res.Outcome.IsAccepted, ShouldBeTrue)
			So(audit.count(), ShouldEqual, 1)
		})

		Convey("Scenario D: all five checks at full confidence", func() {
			v := newVerifier(verify.DefaultConfig(), counter, audit, verify.WithChecks(fixedChecks(1, 1, 1, 1, 1)...))
			res, err := v.Verify(ctx, sub, win, profile)

			So(err, ShouldBeNil)
			So(res.Outcome.OverallScore, ShouldEqual, 1.0)
			So(res.Outcome.IsAccepted, ShouldBeTrue)
			So(res.Outcome.Notes, ShouldStartWith, "Verification passed")
		})

		Convey("Scenario E: all five checks at zero confidence", func() {
			v := newVerifier(verify.DefaultConfig(), counter, audit, verify.WithChecks(fixedChecks(0, 0, 0, 0, 0)...))
			res, err := v.Verify(ctx, sub, win, profile)

			So(err, ShouldBeNil)
			So(res.Outcome.OverallScore, ShouldEqual, 0.0)
			So(res.Outcome.IsAccepted, ShouldBeFalse)
			for _, c := range model.AllCheckTypes {
				So(res.Outcome.Notes, ShouldContainSubstring, string(c)+":")
			}
		})
	})
}

func TestVerifyProperties(t *testing.T) {
	Convey("Given a verifier", t, func() {
		audit := &auditStub{}
		counter := &counterStub{}
		ctx := context.Background()
		sub, win, profile := baseInputs()

		Convey("Identical inputs give identical outcomes", func() {
			a, errA := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			b, errB := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)

			So(errA, ShouldBeNil)
			So(errB, ShouldBeNil)
			So(a.Outcome, ShouldResemble, b.Outcome)
			So(a.Checks, ShouldResemble, b.Checks)
			So(a.Record, ShouldResemble, b.Record)
		})

		Convey("A prior accepted record fails the duplicate check", func() {
			counter.n = 1
			res, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)

			So(err, ShouldBeNil)
			for _, c := range res.Checks {
				if c.CheckType == model.CheckDuplicate {
					So(c.Passed, ShouldBeFalse)
					So(c.ConfidenceScore, ShouldEqual, 0)
				}
			}
			So(res.Outcome.Notes, ShouldContainSubstring, "already recorded")
		})

		Convey("An unreachable duplicate store aborts without persisting", func() {
			counter.err = errors.New("connection refused")
			_, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)

			So(errors.Is(err, verify.ErrDependencyUnavailable), ShouldBeTrue)
			So(audit.count(), ShouldEqual, 0)
		})

		Convey("A duplicate lookup that overruns its timeout aborts", func() {
			counter.block = true
			cfg := verify.DefaultConfig()
			cfg.DuplicateTimeout = 20 * time.Millisecond
			_, err := newVerifier(cfg, counter, audit).Verify(ctx, sub, win, profile)

			So(errors.Is(err, verify.ErrDependencyUnavailable), ShouldBeTrue)
			So(audit.count(), ShouldEqual, 0)
		})

		Convey("A slow image check degrades to zero confidence", func() {
			cfg := verify.DefaultConfig()
			cfg.ImageTimeout = 20 * time.Millisecond
			checks := fixedChecks(1, 1, 1, 1, 1)
			checks[2] = fixedCheck{typ: model.CheckImageQuality, conf: 1, delay: time.Second}
			res, err := newVerifier(cfg, counter, audit, verify.WithChecks(checks...)).Verify(ctx, sub, win, profile)

			So(err, ShouldBeNil)
			img := res.Checks[2]
			So(img.CheckType, ShouldEqual, model.CheckImageQuality)
			So(img.ConfidenceScore, ShouldEqual, 0)
			So(img.Details["error"], ShouldEqual, "timeout")
			So(res.Outcome.OverallScore, ShouldAlmostEqual, 0.7, 1e-9)
		})

		Convey("A cancelled context persists nothing", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(cctx, sub, win, profile)

			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(audit.count(), ShouldEqual, 0)
		})

		Convey("A persistence failure is retryable", func() {
			audit.err = errors.New("disk full")
			_, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			So(errors.Is(err, verify.ErrDependencyUnavailable), ShouldBeTrue)
		})

		Convey("A submission without ids is rejected", func() {
			sub.UserID = ""
			_, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			So(errors.Is(err, verify.ErrInvalidSubmission), ShouldBeTrue)
		})

		Convey("Required but missing evidence is noted", func() {
			win.RequiresSelfie = true
			win.RequiresSignature = true
			res, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			So(err, ShouldBeNil)
			So(res.Outcome.Notes, ShouldContainSubstring, "selfie required")
			So(res.Outcome.Notes, ShouldContainSubstring, "signature required")
			So(strings.Contains(res.Outcome.Notes, "GPS location required"), ShouldBeFalse)
		})

		Convey("A far away submission names the distance in the notes", func() {
			sub.ReportedPosition = north(500)
			res, _ := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			So(res.Outcome.Notes, ShouldContainSubstring, "GPS too far from event venue")
		})

		Convey("A campus policy can raise the threshold", func() {
			cfg := verify.DefaultConfig()
			cfg.Policy = func(string) verify.Policy {
				return verify.Policy{RadiusMeters: 100, GracePeriod: 30 * time.Minute, AcceptanceThreshold: 0.95}
			}
			res, err := newVerifier(cfg, counter, audit).Verify(ctx, sub, win, profile)
			So(err, ShouldBeNil)
			So(res.Outcome.IsAccepted, ShouldBeFalse)
			So(res.Outcome.Notes, ShouldContainSubstring, "below threshold 0.95")
		})

		Convey("The persisted bundle carries record, checks and logs", func() {
			sub.SubmittedAt = win.EventStart.Add(5 * time.Minute)
			profile.CampusID = "north"
			res, err := newVerifier(verify.DefaultConfig(), counter, audit).Verify(ctx, sub, win, profile)
			So(err, ShouldBeNil)

			saved := audit.saved[0]
			So(saved.Outcome, ShouldResemble, res.Outcome)
			So(len(saved.Checks), ShouldEqual, len(res.Checks))
			So(saved.Record.ID, ShouldEqual, verify.RecordID(sub.ID))
			So(saved.Record.Status, ShouldEqual, model.StatusLate)
			So(saved.Record.CrossCampus, ShouldBeTrue)
			So(saved.Record.VerificationMethod, ShouldEqual, model.MethodQRCode)
			So(len(saved.Logs), ShouldEqual, 2)
			So(saved.Logs[0].Action, ShouldEqual, model.ActionMarked)
			So(saved.Logs[1].Action, ShouldEqual, model.ActionVerified)
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given invalid verifier configuration", t, func() {
		Convey("A threshold above one is rejected", func() {
			cfg := verify.DefaultConfig()
			cfg.AcceptanceThreshold = 2
			_, err := verify.New(cfg, &counterStub{}, &auditStub{})
			So(errors.Is(err, verify.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("A missing audit writer is rejected", func() {
			_, err := verify.New(verify.DefaultConfig(), &counterStub{}, nil)
			So(errors.Is(err, verify.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}
