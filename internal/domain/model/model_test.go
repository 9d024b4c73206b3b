package model_test

import (
	"testing"
	"time"

	model "github.com/lowmax205/eas/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventWindow(t *testing.T) {
	convey.Convey("Given an event window", t, func() {
		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		w := model.EventWindow{WindowStart: start.Add(-30 * time.Minute), WindowEnd: start.Add(time.Hour)}

		convey.Convey("Start falls back to the window start", func() {
			convey.So(w.Start(), convey.ShouldEqual, w.WindowStart)
		})

		convey.Convey("Start prefers an explicit event start", func() {
			w.EventStart = start
			convey.So(w.Start(), convey.ShouldEqual, start)
		})

		convey.Convey("Marking after the event start is late", func() {
			w.EventStart = start
			convey.So(model.StatusFor(start.Add(time.Second), w), convey.ShouldEqual, model.StatusLate)
			convey.So(model.StatusFor(start, w), convey.ShouldEqual, model.StatusPresent)
			convey.So(model.StatusFor(start.Add(-time.Minute), w), convey.ShouldEqual, model.StatusPresent)
		})
	})
}

func TestDefaultWindow(t *testing.T) {
	convey.Convey("Given an event start and a window size", t, func() {
		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		from, to := model.DefaultWindow(start, 30)

		convey.Convey("The window is centred on the start", func() {
			convey.So(from, convey.ShouldEqual, start.Add(-30*time.Minute))
			convey.So(to, convey.ShouldEqual, start.Add(30*time.Minute))
		})
	})
}

func TestSubmissionEvidence(t *testing.T) {
	convey.Convey("Given submissions with and without blobs", t, func() {
		empty := model.AttendanceSubmission{Photo: []byte{}}
		full := model.AttendanceSubmission{Photo: []byte{1}, Signature: []byte{2}}

		convey.So(empty.HasPhoto(), convey.ShouldBeFalse)
		convey.So(empty.HasSignature(), convey.ShouldBeFalse)
		convey.So(full.HasPhoto(), convey.ShouldBeTrue)
		convey.So(full.HasSignature(), convey.ShouldBeTrue)
		convey.So(model.MethodFor(full), convey.ShouldEqual, model.MethodFacialRecognition)
		convey.So(model.MethodFor(empty), convey.ShouldEqual, model.MethodQRCode)
	})
}

func TestSubmissionSameContent(t *testing.T) {
	convey.Convey("Given a stored submission", t, func() {
		acc := 12.5
		at := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
		stored := model.AttendanceSubmission{
			ID: "sub-1", EventID: "evt-1", UserID: "user-1", SubmittedAt: at,
			ReportedPosition: &model.Position{Latitude: 8.9475, Longitude: 125.5406, AccuracyMeters: &acc},
			Photo:            []byte{1, 2, 3},
		}

		convey.Convey("An exact resend matches", func() {
			resend := stored
			accCopy := acc
			resend.ReportedPosition = &model.Position{Latitude: 8.9475, Longitude: 125.5406, AccuracyMeters: &accCopy}
			resend.Photo = []byte{1, 2, 3}
			resend.SubmittedAt = at.In(time.FixedZone("PHT", 8*3600))
			convey.So(stored.SameContent(resend), convey.ShouldBeTrue)
		})

		convey.Convey("A different owner does not match", func() {
			other := stored
			other.UserID = "user-2"
			convey.So(stored.SameContent(other), convey.ShouldBeFalse)
		})

		convey.Convey("A changed payload does not match", func() {
			moved := stored
			moved.ReportedPosition = &model.Position{Latitude: 8.95, Longitude: 125.5406, AccuracyMeters: &acc}
			convey.So(stored.SameContent(moved), convey.ShouldBeFalse)

			noAcc := stored
			noAcc.ReportedPosition = &model.Position{Latitude: 8.9475, Longitude: 125.5406}
			convey.So(stored.SameContent(noAcc), convey.ShouldBeFalse)

			noPos := stored
			noPos.ReportedPosition = nil
			convey.So(stored.SameContent(noPos), convey.ShouldBeFalse)

			newPhoto := stored
			newPhoto.Photo = []byte{9}
			convey.So(stored.SameContent(newPhoto), convey.ShouldBeFalse)
		})
	})
}

func TestCheckType(t *testing.T) {
	convey.Convey("Known check types are valid", t, func() {
		for _, c := range model.AllCheckTypes {
			convey.So(c.Valid(), convey.ShouldBeTrue)
		}
		convey.So(model.CheckType("liveness").Valid(), convey.ShouldBeFalse)
		convey.So(len(model.AllCheckTypes), convey.ShouldEqual, 5)
	})
}
