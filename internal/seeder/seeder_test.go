package seeder_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	gormLogger "gorm.io/gorm/logger"

	"github.com/okian/marksheet/internal/adapters/http/api"
	"github.com/okian/marksheet/internal/adapters/repository"
	service "github.com/okian/marksheet/internal/app"
	"github.com/okian/marksheet/internal/domain/identity"
	"github.com/okian/marksheet/internal/domain/ranking"
	"github.com/okian/marksheet/internal/seeder"
	"github.com/okian/marksheet/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("warn")
}

func TestGenerator(t *testing.T) {
	Convey("Given a generator configuration", t, func() {
		cfg := seeder.Config{Students: 10, Tests: 2, Questions: 5, ResubmitRate: 0.5, Seed: 7}

		Convey("When generating twice with the same seed", func() {
			first, n1 := seeder.NewGenerator(cfg).Generate()
			second, n2 := seeder.NewGenerator(cfg).Generate()

			Convey("Then the events should be identical", func() {
				So(n2, ShouldEqual, n1)
				So(second, ShouldResemble, first)
			})

			Convey("Then every pair should get one attempt plus the resubmissions", func() {
				So(len(first), ShouldEqual, 10*2+n1)
			})

			Convey("Then every event should be valid", func() {
				for i := range first {
					So(first[i].Validate(), ShouldBeNil)
				}
			})

			Convey("Then resubmissions should resolve to the original identity", func() {
				originals := make(map[string]bool)
				for _, ev := range first[:20] {
					id, err := identity.Normalize(ev.Student.Email, ev.Student.Phone)
					So(err, ShouldBeNil)
					originals[*id.Phone] = true
					So(*id.Email, ShouldNotContainSubstring, "student.")
				}
				for _, ev := range first[20:] {
					id, err := identity.Normalize(ev.Student.Email, ev.Student.Phone)
					So(err, ShouldBeNil)
					So(originals[*id.Phone], ShouldBeTrue)
				}
			})
		})

		Convey("When the resubmission rate is zero", func() {
			cfg.ResubmitRate = 0
			events, n := seeder.NewGenerator(cfg).Generate()

			Convey("Then no resubmission should be placed", func() {
				So(n, ShouldEqual, 0)
				So(events, ShouldHaveLength, 20)
			})
		})
	})
}

func row(rank int, student uuid.UUID, score float64, submitted time.Time) seeder.LeaderboardRow {
	return seeder.LeaderboardRow{Entry: ranking.Entry{
		Rank:        rank,
		StudentID:   student,
		AttemptID:   uuid.New(),
		Score:       score,
		Accuracy:    50,
		SubmittedAt: &submitted,
	}}
}

func TestVerifyLeaderboard(t *testing.T) {
	Convey("Given leaderboard rows", t, func() {
		a, b := uuid.New(), uuid.New()
		early := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
		late := early.Add(time.Minute)

		Convey("Then a well ordered board should pass", func() {
			So(seeder.VerifyLeaderboard([]seeder.LeaderboardRow{row(1, a, 8, late), row(2, b, 3, early)}), ShouldBeNil)
			So(seeder.VerifyLeaderboard([]seeder.LeaderboardRow{row(1, a, 8, early), row(2, b, 8, late)}), ShouldBeNil)
			So(seeder.VerifyLeaderboard(nil), ShouldBeNil)
		})

		Convey("Then a misordered tie should fail", func() {
			err := seeder.VerifyLeaderboard([]seeder.LeaderboardRow{row(1, a, 8, late), row(2, b, 8, early)})
			So(errors.Is(err, seeder.ErrVerification), ShouldBeTrue)
		})

		Convey("Then a repeated student should fail", func() {
			err := seeder.VerifyLeaderboard([]seeder.LeaderboardRow{row(1, a, 8, early), row(2, a, 3, early)})
			So(errors.Is(err, seeder.ErrVerification), ShouldBeTrue)
		})

		Convey("Then a gap in ranks should fail", func() {
			err := seeder.VerifyLeaderboard([]seeder.LeaderboardRow{row(1, a, 8, early), row(3, b, 3, early)})
			So(errors.Is(err, seeder.ErrVerification), ShouldBeTrue)
		})
	})
}

func TestRunAgainstService(t *testing.T) {
	Convey("Given a running service", t, func() {
		ctx := context.Background()
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		store, err := repository.Open(ctx, repository.DriverSQLite, dsn,
			repository.WithLogLevel(gormLogger.Silent),
			repository.WithMaxOpenConns(1),
			repository.WithMetricsUpdateInterval(0),
		)
		So(err, ShouldBeNil)
		svc := service.New(store)
		So(svc.Start(ctx), ShouldBeNil)

		mux := http.NewServeMux()
		server := api.NewServer(svc, svc)
		server.Register(mux)
		ts := httptest.NewServer(server.Handler(mux))

		Reset(func() {
			ts.Close()
			_ = svc.Stop(ctx)
			_ = store.Close()
		})

		Convey("When a seeding run is executed", func() {
			out := filepath.Join(t.TempDir(), "events.json")
			stats, err := seeder.Run(ctx, seeder.Config{
				BaseURL:      ts.URL,
				Students:     20,
				Tests:        2,
				Questions:    10,
				ResubmitRate: 0.3,
				BatchSize:    7,
				Workers:      3,
				Seed:         42,
				OutputFile:   out,
			})

			Convey("Then every leaderboard should verify", func() {
				So(err, ShouldBeNil)
				So(stats.BatchesFailed, ShouldEqual, 0)
				So(stats.LeaderboardsChecked, ShouldEqual, 2)
				So(stats.LeaderboardEntries, ShouldEqual, 40)
			})

			Convey("Then every resubmission should be deduplicated", func() {
				So(stats.Deduped, ShouldEqual, stats.ResubmissionsPlaced)
				So(stats.Scored+stats.Deduped, ShouldEqual, stats.EventsGenerated)
				So(stats.Skipped, ShouldEqual, 0)
			})

			Convey("Then the events should be saved", func() {
				info, statErr := os.Stat(out)
				So(statErr, ShouldBeNil)
				So(info.Size(), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the service is unreachable", func() {
			_, err := seeder.Run(ctx, seeder.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

			Convey("Then the run should fail the health check", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "health check")
			})
		})
	})
}
