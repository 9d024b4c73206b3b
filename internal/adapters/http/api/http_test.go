package api_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lowmax205/eas/internal/adapters/http/api"
	"github.com/lowmax205/eas/internal/adapters/repository"
	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/verify"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeService records what the handlers pass in and returns canned values.
type fakeService struct {
	lastSub      model.AttendanceSubmission
	lastEvent    model.EventWindow
	lastProfile  model.ReferenceProfile
	lastOverride struct {
		recordID, adminID, reason string
		accept                    bool
	}

	result       verify.Result
	stored       repository.StoredVerification
	record       model.AttendanceRecord
	logs         []model.AttendanceLog
	submitStatus service.SubmitStatus
	health       map[string]any
	err          error
}

func (f *fakeService) VerifyNow(_ context.Context, sub model.AttendanceSubmission) (verify.Result, error) {
	f.lastSub = sub
	return f.result, f.err
}

func (f *fakeService) Submit(_ context.Context, sub model.AttendanceSubmission) (service.SubmitStatus, error) {
	f.lastSub = sub
	return f.submitStatus, f.err
}

func (f *fakeService) Reverify(context.Context, string) (verify.Result, error) {
	return f.result, f.err
}

func (f *fakeService) Verification(context.Context, string) (repository.StoredVerification, error) {
	return f.stored, f.err
}

func (f *fakeService) Record(context.Context, string) (model.AttendanceRecord, []model.AttendanceLog, error) {
	return f.record, f.logs, f.err
}

func (f *fakeService) Override(_ context.Context, recordID string, accept bool, adminID, reason string) (model.AttendanceRecord, error) {
	f.lastOverride.recordID = recordID
	f.lastOverride.accept = accept
	f.lastOverride.adminID = adminID
	f.lastOverride.reason = reason
	return f.record, f.err
}

func (f *fakeService) RegisterEvent(_ context.Context, w model.EventWindow) (model.EventWindow, error) {
	f.lastEvent = w
	return w, f.err
}

func (f *fakeService) RegisterProfile(_ context.Context, p model.ReferenceProfile) error {
	f.lastProfile = p
	return f.err
}

func (f *fakeService) Health(context.Context) map[string]any {
	if f.health != nil {
		return f.health
	}
	return map[string]any{"status": "healthy"}
}

func (f *fakeService) GetStats() map[string]any {
	return map[string]any{"started": true, "workerCount": 4}
}

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(svc *fakeService, opts ...api.Option) *api.Server {
	opts = append([]api.Option{api.WithClock(func() time.Time { return fixedNow })}, opts...)
	return api.NewServer(svc, opts...)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func acceptedResult() verify.Result {
	return verify.Result{
		Outcome: model.VerificationOutcome{
			ID:           "out-1",
			SubmissionID: "s-1",
			OverallScore: 0.92,
			IsAccepted:   true,
			Weights:      map[model.CheckType]float64{model.CheckDistance: 0.6, model.CheckDuplicate: 0.4},
		},
		Checks: []model.CheckResult{
			{ID: "c-1", CheckType: model.CheckDistance, Passed: true, ConfidenceScore: 0.9},
			{ID: "c-2", CheckType: model.CheckDuplicate, Passed: true, ConfidenceScore: 1},
		},
		Record: model.AttendanceRecord{ID: "r-1", SubmissionID: "s-1", IsVerified: true, Status: model.StatusPresent},
	}
}

func TestVerificationEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := &fakeService{result: acceptedResult()}
		srv := newTestServer(svc)

		Convey("When a valid submission is verified synchronously", func() {
			photo := base64.StdEncoding.EncodeToString([]byte("jpeg"))
			body := fmt.Sprintf(`{"id":"s-1","event_id":"ev-1","user_id":"u-1","latitude":8.9,"longitude":125.5,
				"submitted_at":"2025-03-10T08:55:00Z","photo_base64":"data:image/jpeg;base64,%s"}`, photo)
			w := do(srv, http.MethodPost, "/v1/verifications", body)

			Convey("Then the outcome, checks and record are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeBody(w)
				So(out["outcome"].(map[string]any)["is_accepted"], ShouldBeTrue)
				So(out["checks"], ShouldHaveLength, 2)
				So(out["record"].(map[string]any)["id"], ShouldEqual, "r-1")

				So(svc.lastSub.ID, ShouldEqual, "s-1")
				So(string(svc.lastSub.Photo), ShouldEqual, "jpeg")
				So(svc.lastSub.ReportedPosition, ShouldNotBeNil)
				So(svc.lastSub.SubmittedAt, ShouldEqual, time.Date(2025, 3, 10, 8, 55, 0, 0, time.UTC))
			})
		})

		Convey("When the submission has no id or timestamp", func() {
			w := do(srv, http.MethodPost, "/v1/verifications", `{"event_id":"ev-1","user_id":"u-1"}`)

			Convey("Then the server fills them in", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.lastSub.ID, ShouldNotBeEmpty)
				So(svc.lastSub.SubmittedAt, ShouldEqual, fixedNow)
				So(svc.lastSub.ReportedPosition, ShouldBeNil)
			})
		})

		Convey("When the body is malformed", func() {
			cases := []string{
				`{"event_id":`,
				`{"user_id":"u-1"}`,
				`{"event_id":"ev-1","user_id":"u-1","latitude":1}`,
				`{"event_id":"ev-1","user_id":"u-1","submitted_at":"yesterday"}`,
				`{"event_id":"ev-1","user_id":"u-1","photo_base64":"***"}`,
				`{"event_id":"ev-1","user_id":"u-1","unknown":true}`,
			}

			Convey("Then every case is a 400", func() {
				for _, body := range cases {
					w := do(srv, http.MethodPost, "/v1/verifications", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(decodeBody(w)["code"], ShouldEqual, "bad_request")
				}
			})
		})

		Convey("When the service reports error kinds", func() {
			cases := []struct {
				err        error
				status     int
				retryAfter bool
			}{
				{fmt.Errorf("%w: x", service.ErrInvalidSubmission), http.StatusBadRequest, false},
				{fmt.Errorf("event: %w", service.ErrNotFound), http.StatusNotFound, false},
				{fmt.Errorf("%w: id reused", service.ErrConflict), http.StatusConflict, false},
				{fmt.Errorf("%w: db down", service.ErrDependencyUnavailable), http.StatusServiceUnavailable, true},
				{service.ErrNotStarted, http.StatusServiceUnavailable, true},
				{fmt.Errorf("boom"), http.StatusInternalServerError, false},
			}

			Convey("Then each maps to its status", func() {
				for _, c := range cases {
					svc.err = c.err
					w := do(srv, http.MethodPost, "/v1/verifications", `{"event_id":"ev-1","user_id":"u-1"}`)
					So(w.Code, ShouldEqual, c.status)
					So(w.Header().Get("Retry-After") != "", ShouldEqual, c.retryAfter)
				}
			})
		})

		Convey("When a stored verification is fetched", func() {
			svc.stored = repository.StoredVerification{Outcome: acceptedResult().Outcome, Checks: acceptedResult().Checks}
			w := do(srv, http.MethodGet, "/v1/verifications/s-1", "")

			Convey("Then the latest outcome is returned without a record", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeBody(w)
				So(out["outcome"].(map[string]any)["id"], ShouldEqual, "out-1")
				So(out["outcome"].(map[string]any)["weights"].(map[string]any)["distance"], ShouldEqual, 0.6)
				_, hasRecord := out["record"]
				So(hasRecord, ShouldBeFalse)
			})
		})

		Convey("When a submission is re-verified", func() {
			w := do(srv, http.MethodPost, "/v1/verifications/s-1/reverify", "")

			Convey("Then the new result is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestSubmissionEndpoint(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := &fakeService{}
		srv := newTestServer(svc)
		body := `{"id":"s-1","event_id":"ev-1","user_id":"u-1"}`

		Convey("When a new submission is accepted", func() {
			svc.submitStatus = service.SubmitAccepted
			w := do(srv, http.MethodPost, "/v1/submissions", body)

			Convey("Then it responds 202", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				out := decodeBody(w)
				So(out["status"], ShouldEqual, "accepted")
				So(out["submission_id"], ShouldEqual, "s-1")
				So(out["duplicate"], ShouldBeFalse)
			})
		})

		Convey("When the submission is already in flight", func() {
			svc.submitStatus = service.SubmitDuplicate
			w := do(srv, http.MethodPost, "/v1/submissions", body)

			Convey("Then it responds 200 with a duplicate ack", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["duplicate"], ShouldBeTrue)
			})
		})

		Convey("When the queue is full", func() {
			svc.err = service.ErrQueueFull
			w := do(srv, http.MethodPost, "/v1/submissions", body)

			Convey("Then it responds 429 with Retry-After", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Header().Get("Retry-After"), ShouldNotBeEmpty)
				So(decodeBody(w)["code"], ShouldEqual, "backpressure")
			})
		})
	})
}

func TestAttendanceEndpoints(t *testing.T) {
	Convey("Given an API server with a stored record", t, func() {
		svc := &fakeService{
			record: model.AttendanceRecord{ID: "r-1", IsVerified: true, VerificationMethod: model.MethodAdminOverride},
			logs: []model.AttendanceLog{
				{ID: "l-1", Action: model.ActionMarked, PerformedBy: model.SystemActor},
				{ID: "l-2", Action: model.ActionVerified, PerformedBy: "admin-1"},
			},
		}
		srv := newTestServer(svc)

		Convey("When the record is fetched", func() {
			w := do(srv, http.MethodGet, "/v1/attendance/r-1", "")

			Convey("Then it comes with its history", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeBody(w)
				So(out["logs"], ShouldHaveLength, 2)
				So(out["record"].(map[string]any)["verification_method"], ShouldEqual, "admin_override")
			})
		})

		Convey("When an override is posted", func() {
			w := do(srv, http.MethodPost, "/v1/attendance/r-1/override", `{"accept":true,"admin_id":"admin-1","reason":"manual check"}`)

			Convey("Then the service receives it", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.lastOverride.recordID, ShouldEqual, "r-1")
				So(svc.lastOverride.accept, ShouldBeTrue)
				So(svc.lastOverride.adminID, ShouldEqual, "admin-1")
				So(svc.lastOverride.reason, ShouldEqual, "manual check")
			})
		})

		Convey("When the override does not say accept or reject", func() {
			w := do(srv, http.MethodPost, "/v1/attendance/r-1/override", `{"admin_id":"admin-1"}`)

			Convey("Then it is a 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestReferenceEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := &fakeService{}
		srv := newTestServer(svc)

		Convey("When an event is registered", func() {
			w := do(srv, http.MethodPut, "/v1/events/ev-1", `{"campus_id":"main","latitude":8.94,"longitude":125.54,
				"event_start":"2025-03-10T09:00:00Z","allowed_radius_meters":150,"requires_gps":true}`)

			Convey("Then the path id and fields reach the service", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(svc.lastEvent.EventID, ShouldEqual, "ev-1")
				So(svc.lastEvent.EventStart, ShouldEqual, fixedNow)
				So(svc.lastEvent.AllowedRadiusMeters, ShouldEqual, 150)
				So(svc.lastEvent.RequiresGPS, ShouldBeTrue)
			})
		})

		Convey("When an event has a bad timestamp", func() {
			w := do(srv, http.MethodPut, "/v1/events/ev-1", `{"window_start":"soon"}`)

			Convey("Then it is a 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a profile is registered", func() {
			sig := base64.StdEncoding.EncodeToString([]byte("png"))
			w := do(srv, http.MethodPut, "/v1/profiles/u-1", `{"campus_id":"main","reference_signature_base64":"`+sig+`"}`)

			Convey("Then it responds 204", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(svc.lastProfile.UserID, ShouldEqual, "u-1")
				So(string(svc.lastProfile.ReferenceSignature), ShouldEqual, "png")
				So(svc.lastProfile.ReferencePhoto, ShouldBeNil)
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := &fakeService{}
		srv := newTestServer(svc)

		Convey("When health is healthy", func() {
			w := do(srv, http.MethodGet, "/healthz", "")

			Convey("Then it responds 200", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["status"], ShouldEqual, "healthy")
			})
		})

		Convey("When health is degraded", func() {
			svc.health = map[string]any{"status": "degraded", "database": "down"}
			w := do(srv, http.MethodGet, "/healthz", "")

			Convey("Then it responds 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When stats are requested", func() {
			w := do(srv, http.MethodGet, "/stats", "")

			Convey("Then the provider's stats are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["workerCount"], ShouldEqual, 4)
			})
		})

		Convey("When metrics are scraped", func() {
			w := do(srv, http.MethodGet, "/metrics", "")

			Convey("Then the registry is exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When a CORS preflight arrives", func() {
			req := httptest.NewRequest(http.MethodOptions, "/v1/submissions", http.NoBody)
			req.Header.Set("Origin", "https://portal.example.edu")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			Convey("Then the origin is allowed", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldNotBeEmpty)
			})
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a server limited to two requests per minute", t, func() {
		svc := &fakeService{}
		srv := newTestServer(svc, api.WithRateLimit(2))

		Convey("When a client sends three requests", func() {
			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, do(srv, http.MethodGet, "/v1/verifications/s-1", "").Code)
			}

			Convey("Then the third is rejected", func() {
				So(codes[0], ShouldEqual, http.StatusOK)
				So(codes[1], ShouldEqual, http.StatusOK)
				So(codes[2], ShouldEqual, http.StatusTooManyRequests)
			})
		})

		Convey("When operational endpoints are hit repeatedly", func() {
			var last int
			for i := 0; i < 5; i++ {
				last = do(srv, http.MethodGet, "/stats", "").Code
			}

			Convey("Then they are not limited", func() {
				So(last, ShouldEqual, http.StatusOK)
			})
		})
	})

	Convey("Given a rate limiter", t, func() {
		l := api.NewRateLimiter(1)

		Convey("Then clients are limited independently", func() {
			So(l.Allow("10.0.0.1"), ShouldBeTrue)
			So(l.Allow("10.0.0.1"), ShouldBeFalse)
			So(l.Allow("10.0.0.2"), ShouldBeTrue)
		})
	})
}
