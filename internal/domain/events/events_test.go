package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/events"
	"github.com/okian/marksheet/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEventConstructors(t *testing.T) {
	Convey("Given the pipeline event constructors", t, func() {
		attempt, canonical := uuid.New(), uuid.New()

		Convey("When building a malformed_timestamp event", func() {
			e := events.MalformedTimestamp("evt-9", errors.New("bad time"))

			Convey("Then it should carry the source event id on the ingest channel", func() {
				So(e.Name, ShouldEqual, "malformed_timestamp")
				So(e.Channel, ShouldEqual, events.ChannelIngest)
				v, ok := e.Get("source_event_id")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "evt-9")
			})
		})

		Convey("When building a dedup_detected event", func() {
			e := events.DedupDetected(attempt, canonical)

			Convey("Then it should carry both attempt ids", func() {
				So(e.Channel, ShouldEqual, events.ChannelDedup)
				v, _ := e.Get("attempt_id")
				So(v, ShouldEqual, attempt.String())
				v, _ = e.Get("canonical_id")
				So(v, ShouldEqual, canonical.String())
			})
		})

		Convey("When building a score_computed event", func() {
			e := events.ScoreComputed(attempt, 3, time.Millisecond)

			Convey("Then it should carry the score and duration", func() {
				So(e.Channel, ShouldEqual, events.ChannelScoring)
				v, _ := e.Get("score")
				So(v, ShouldEqual, 3.0)
				v, _ = e.Get("duration")
				So(v, ShouldEqual, time.Millisecond)
			})
		})

		Convey("When asking for a field that is not there", func() {
			_, ok := events.DedupDetected(attempt, canonical).Get("score")

			Convey("Then it should be reported missing", func() {
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestRecorderAndMulti(t *testing.T) {
	Convey("Given two recorders behind a fan-out sink", t, func() {
		a, b := events.NewRecorder(), events.NewRecorder()
		sink := events.Multi(a, b)

		Convey("When events are emitted", func() {
			sink.Emit(context.Background(), events.InvalidEvent("e1", errors.New("x")))
			sink.Emit(context.Background(), events.IngestFailed("e2", errors.New("y")))

			Convey("Then every recorder should see them in order", func() {
				So(a.Events(), ShouldHaveLength, 2)
				So(b.Events(), ShouldHaveLength, 2)
				So(a.Events()[0].Name, ShouldEqual, events.NameInvalidEvent)
				So(a.Named(events.NameIngestFailed), ShouldHaveLength, 1)
			})
		})
	})
}

func TestLogSink(t *testing.T) {
	Convey("Given a log sink writing JSON", t, func() {
		var buf bytes.Buffer
		l, err := logger.New(&buf, logger.FormatJSON)
		So(err, ShouldBeNil)
		sink := events.NewLogSink(l.Named("service").Named("events"))

		Convey("When a dedup event is emitted", func() {
			attempt, canonical := uuid.New(), uuid.New()
			sink.Emit(context.Background(), events.DedupDetected(attempt, canonical))

			Convey("Then one log line should carry the name, channel and fields", func() {
				var rec map[string]any
				So(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "dedup_detected")
				So(rec["level"], ShouldEqual, "INFO")
				So(rec["channel"], ShouldEqual, "dedup")
				So(rec["canonical_id"], ShouldEqual, canonical.String())
				So(rec["attempt_id"], ShouldEqual, attempt.String())
				So(rec["logger"], ShouldEqual, "service.events")
				So(rec, ShouldNotContainKey, "service")
			})

			Convey("Then the source should be the emitting call site", func() {
				var rec map[string]any
				So(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), ShouldBeNil)
				So(rec["source"], ShouldContainSubstring, "events_test.go")
			})
		})

		Convey("When a failure event is emitted", func() {
			sink.Emit(context.Background(), events.ScoringFailed(uuid.New(), errors.New("no key")))

			Convey("Then it should be logged at error level", func() {
				So(strings.Contains(buf.String(), `"level":"ERROR"`), ShouldBeTrue)
				So(buf.String(), ShouldContainSubstring, "no key")
			})
		})
	})
}
