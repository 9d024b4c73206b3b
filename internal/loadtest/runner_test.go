package loadtest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lowmax205/eas/internal/adapters/http/api"
	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.InitNop()
}

func smallConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Submissions = 40
	cfg.Workers = 4
	cfg.Settle = 10 * time.Second
	cfg.PollEvery = 20 * time.Millisecond
	cfg.OffsiteRate = 0.25
	cfg.ResendRate = 0.2
	return cfg
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded configuration", t, func() {
		cfg := DefaultConfig()
		cfg.Submissions = 200
		cfg.OffsiteRate = 0.3
		now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

		Convey("When submissions are generated twice", func() {
			a := generate(cfg, now)
			b := generate(cfg, now)

			Convey("Then the runs are identical", func() {
				So(len(a), ShouldEqual, 200)
				for i := range a {
					So(*a[i].Latitude, ShouldEqual, *b[i].Latitude)
					So(a[i].offsite, ShouldEqual, b[i].offsite)
				}
			})

			Convey("And onsite and offsite positions are where they claim to be", func() {
				event := model.Position{Latitude: cfg.Latitude, Longitude: cfg.Longitude}
				for _, s := range a {
					d := scoring.Haversine(model.Position{Latitude: *s.Latitude, Longitude: *s.Longitude}, event)
					if s.offsite {
						So(d, ShouldBeGreaterThan, offsiteMinM*0.95)
					} else {
						So(d, ShouldBeLessThan, onsiteJitterM*1.05)
					}
				}
			})

			Convey("And ids are unique", func() {
				seen := make(map[string]bool, len(a))
				for _, s := range a {
					So(seen[s.ID], ShouldBeFalse)
					seen[s.ID] = true
				}
			})
		})

		Convey("When resends are added", func() {
			cfg.ResendRate = 0.5
			subs := generate(cfg, now)
			all := withResends(cfg, subs)

			Convey("Then some submissions appear twice", func() {
				So(len(all), ShouldBeGreaterThan, len(subs))
				So(math.Abs(float64(len(all)-len(subs))/float64(len(subs))-0.5), ShouldBeLessThan, 0.15)
			})
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running service behind the HTTP API", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(4))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		srv := httptest.NewServer(api.NewServer(svc))
		defer srv.Close()

		Convey("When a small load test runs", func() {
			stats, err := Run(ctx, smallConfig(srv.URL), logger.Nop())

			Convey("Then every queued submission is verified as expected", func() {
				So(err, ShouldBeNil)
				So(stats.Generated, ShouldEqual, 40)
				So(stats.Sent, ShouldBeGreaterThanOrEqualTo, 40)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.Pending, ShouldEqual, 0)
				So(stats.Verified, ShouldEqual, 40)
				So(stats.Mismatched, ShouldEqual, 0)
				So(stats.Accepted+stats.Rejected, ShouldEqual, stats.Verified)
			})
		})
	})

	Convey("Given a service that is not healthy", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		Convey("When a load test runs", func() {
			_, err := Run(context.Background(), smallConfig(srv.URL), logger.Nop())

			Convey("Then it stops before sending anything", func() {
				So(errors.Is(err, ErrUnhealthy), ShouldBeTrue)
			})
		})
	})
}
