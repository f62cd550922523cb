package config_test

import (
	"testing"
	"time"

	"github.com/okian/marksheet/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DBDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 1)
			convey.So(cfg.DedupeWindow, convey.ShouldEqual, 7*time.Minute)
			convey.So(cfg.DedupeThreshold, convey.ShouldEqual, 0.92)
			convey.So(cfg.MaxPageSize, convey.ShouldEqual, 100)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a list of CORS origins", t, func() {
		cfg := config.New()
		cfg.CORSOrigins = " http://a.test, ,http://b.test "

		convey.Convey("Then blanks should be dropped and entries trimmed", func() {
			convey.So(cfg.AllowedOrigins(), convey.ShouldResemble, []string{"http://a.test", "http://b.test"})
		})
	})
}
