package model_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const validBatch = `[
  {"source_event_id": "evt-1",
   "student": {"full_name": "Ada", "email": "ada@example.com"},
   "test": {"name": "Physics", "max_marks": 8,
            "negative_marking": {"correct": 4, "wrong": -1, "skip": 0},
            "answer_key": {"q1": "A", "q2": "B"}},
   "started_at": "2024-01-01T10:00:00Z",
   "answers": {"q1": "A"}}
]`

func TestDecodeEvents(t *testing.T) {
	Convey("Given a JSON batch of attempt events", t, func() {
		Convey("When the batch is well formed", func() {
			events, err := model.DecodeEvents([]byte(validBatch))

			Convey("Then every event should decode and keep its raw form", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].SourceEventID, ShouldEqual, "evt-1")
				So(events[0].Test.NegativeMarking.Scheme(), ShouldResemble, model.MarkingScheme{Correct: 4, Wrong: -1, Skip: 0})
				So(string(events[0].Raw), ShouldContainSubstring, `"evt-1"`)
				So(events[0].Validate(), ShouldBeNil)
			})
		})

		Convey("When the body is not an array", func() {
			_, err := model.DecodeEvents([]byte(`{"source_event_id": "x"}`))

			Convey("Then decoding should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestAttemptEventValidate(t *testing.T) {
	Convey("Given an attempt event", t, func() {
		zero, four, minus := 0.0, 4.0, -1.0
		ev := model.AttemptEvent{
			SourceEventID: "evt-1",
			Student:       &model.StudentInput{FullName: "Ada"},
			Test: &model.TestInput{
				Name:            "Physics",
				MaxMarks:        8,
				NegativeMarking: &model.SchemeInput{Correct: &four, Wrong: &minus, Skip: &zero},
			},
			StartedAt: "2024-01-01T10:00:00Z",
			Answers:   model.Answers{"q1": "A"},
		}

		Convey("When every field is present", func() {
			Convey("Then it should be valid even with a zero weight", func() {
				So(ev.Validate(), ShouldBeNil)
			})
		})

		Convey("When a marking scheme key is missing", func() {
			ev.Test.NegativeMarking.Skip = nil
			err := ev.Validate()

			Convey("Then validation should fail", func() {
				So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
			})
		})

		Convey("When the student is missing", func() {
			ev.Student = nil

			Convey("Then validation should fail", func() {
				So(errors.Is(ev.Validate(), model.ErrInvalidEvent), ShouldBeTrue)
			})
		})

		Convey("When the payload is requested without a raw form", func() {
			payload, err := ev.Payload()

			Convey("Then the event should be re-encoded", func() {
				So(err, ShouldBeNil)
				So(string(payload), ShouldContainSubstring, `"source_event_id":"evt-1"`)
			})
		})
	})
}

func TestRecords(t *testing.T) {
	Convey("Given domain records", t, func() {
		Convey("When creating records without ids", func() {
			s := &model.Student{}
			a := &model.Attempt{}
			f := &model.Flag{}
			tt := &model.Test{}
			So(s.BeforeCreate(nil), ShouldBeNil)
			So(a.BeforeCreate(nil), ShouldBeNil)
			So(f.BeforeCreate(nil), ShouldBeNil)
			So(tt.BeforeCreate(nil), ShouldBeNil)

			Convey("Then ids should be assigned", func() {
				So(s.ID, ShouldNotEqual, uuid.Nil)
				So(a.ID, ShouldNotEqual, uuid.Nil)
				So(f.ID, ShouldNotEqual, uuid.Nil)
				So(tt.ID, ShouldNotEqual, uuid.Nil)
			})
		})

		Convey("When a record already has an id", func() {
			id := uuid.New()
			s := &model.Student{ID: id}
			So(s.BeforeCreate(nil), ShouldBeNil)

			Convey("Then it should be kept", func() {
				So(s.ID, ShouldEqual, id)
			})
		})

		Convey("When checking statuses", func() {
			Convey("Then only lifecycle statuses should be valid", func() {
				So(model.StatusScored.Valid(), ShouldBeTrue)
				So(model.StatusFlagged.Valid(), ShouldBeTrue)
				So(model.Status("DONE").Valid(), ShouldBeFalse)
			})
		})

		Convey("When every record type is listed", func() {
			So(model.All(), ShouldHaveLength, 5)
		})
	})
}

func TestNewBatchResult(t *testing.T) {
	Convey("Given per-event results of a batch", t, func() {
		id := uuid.New()
		results := []model.EventResult{
			{SourceEventID: "a", AttemptID: &id, Status: model.StatusScored},
			{SourceEventID: "b", AttemptID: &id, Status: model.StatusDeduped, DuplicateOf: &id},
			{SourceEventID: "c", Skipped: "malformed_timestamp"},
			{SourceEventID: "d", Error: "storage down"},
			{SourceEventID: "e", AttemptID: &id, Status: model.StatusIngested, Error: "test has no answer key"},
		}

		Convey("When tallying them", func() {
			b := model.NewBatchResult(results)

			Convey("Then each outcome should be counted once", func() {
				So(b.Received, ShouldEqual, 5)
				So(b.Scored, ShouldEqual, 1)
				So(b.Deduped, ShouldEqual, 1)
				So(b.Skipped, ShouldEqual, 1)
				So(b.Failed, ShouldEqual, 1)
				So(b.Ingested, ShouldEqual, 1)
				So(b.Results, ShouldHaveLength, 5)
			})
		})
	})
}
