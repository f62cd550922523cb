package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/datatypes"

	"github.com/okian/marksheet/internal/adapters/cache"
	"github.com/okian/marksheet/internal/adapters/repository"
	"github.com/okian/marksheet/internal/domain/events"
	"github.com/okian/marksheet/internal/domain/model"
)

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := New(openStore(t), WithWorkerCount(2), WithQueueSize(5))

		Convey("When ingesting before Start", func() {
			_, err := svc.Ingest(ctx, nil)

			Convey("Then it should report the service as not started", func() {
				So(err, ShouldEqual, ErrNotStarted)
			})
		})

		Convey("When started twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			err := svc.Start(ctx)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then the second start should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When started and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats(ctx)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then stats should describe the running service", func() {
				So(stats["started"], ShouldBeTrue)
				So(stats["worker_count"], ShouldEqual, 2)
				So(stats["queue_size"], ShouldEqual, 5)
				So(stats["queue_length"], ShouldEqual, 0)
			})

			Convey("Then stopping again should be a no-op", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats(ctx)["started"], ShouldBeFalse)
			})
		})
	})
}

func TestServiceIngest(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		store := openStore(t)
		rec := events.NewRecorder()
		svc := New(store, WithEventSink(rec), WithLeaderboardCache(cache.NewMemory(time.Minute)))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When a batch with a resubmission and a bad timestamp is ingested", func() {
			batch := []model.AttemptEvent{
				newEvent("e1", "ada@gmail.com", "2024-01-01T10:00:00Z", model.Answers{"q1": "A", "q2": "B"}),
				newEvent("e2", "a.d.a+mock@gmail.com", "2024-01-01T10:03:00Z", model.Answers{"q1": "A", "q2": "B"}),
				newEvent("e3", "ada@gmail.com", "not a time", model.Answers{"q1": "A"}),
			}
			res, err := svc.Ingest(ctx, batch)

			Convey("Then the batch result should tally every outcome", func() {
				So(err, ShouldBeNil)
				So(res.Received, ShouldEqual, 3)
				So(res.Scored, ShouldEqual, 1)
				So(res.Deduped, ShouldEqual, 1)
				So(res.Skipped, ShouldEqual, 1)
				So(res.Results[2].Skipped, ShouldEqual, SkipMalformedTimestamp)
			})
		})

		Convey("When the ingest context is already canceled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := svc.Ingest(cctx, []model.AttemptEvent{
				newEvent("e1", "ada@example.com", "2024-01-01T10:00:00Z", model.Answers{"q1": "A"}),
			})

			Convey("Then the caller should get the context error", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestServiceRecomputeAndFlag(t *testing.T) {
	Convey("Given a service holding a scored and a duplicate attempt", t, func() {
		ctx := context.Background()
		store := openStore(t)
		svc := New(store)
		res := svc.ProcessBatch(ctx, []model.AttemptEvent{
			newEvent("e1", "ada@example.com", "2024-01-01T10:00:00Z", model.Answers{"q1": "A", "q2": "C"}),
			newEvent("e2", "ada@example.com", "2024-01-01T10:01:00Z", model.Answers{"q1": "A", "q2": "C"}),
		})
		scored, dup := *res.Results[0].AttemptID, *res.Results[1].AttemptID
		So(res.Results[1].Status, ShouldEqual, model.StatusDeduped)

		Convey("When recomputing the scored attempt twice", func() {
			first, err1 := svc.Recompute(ctx, scored)
			second, err2 := svc.Recompute(ctx, scored)

			Convey("Then both runs should produce the same score", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second.Score, ShouldEqual, first.Score)
				So(second.Correct, ShouldEqual, first.Correct)
				So(second.Explanation.Data(), ShouldResemble, first.Explanation.Data())
				So(first.Score, ShouldEqual, 3.0)
			})
		})

		Convey("When the answer key changes and the attempt is recomputed", func() {
			a, err := store.GetAttempt(ctx, scored)
			So(err, ShouldBeNil)
			tt, err := store.GetTest(ctx, a.TestID)
			So(err, ShouldBeNil)
			tt.AnswerKey = datatypes.NewJSONType(model.AnswerKey{"q1": "A", "q2": "C"})
			So(store.DB().Save(tt).Error, ShouldBeNil)

			s, err := svc.Recompute(ctx, scored)

			Convey("Then the stored score should follow the new key", func() {
				So(err, ShouldBeNil)
				So(s.Score, ShouldEqual, 8.0)
				stored, err := store.GetScore(ctx, scored)
				So(err, ShouldBeNil)
				So(stored.Score, ShouldEqual, 8.0)
			})
		})

		Convey("When recomputing the duplicate", func() {
			_, err := svc.Recompute(ctx, dup)

			Convey("Then it should be rejected as an invalid operation", func() {
				So(errors.Is(err, ErrInvalidOperation), ShouldBeTrue)
			})
		})

		Convey("When recomputing an unknown attempt", func() {
			_, err := svc.Recompute(ctx, uuid.New())

			Convey("Then it should report not found", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the test loses its answer key", func() {
			a, err := store.GetAttempt(ctx, scored)
			So(err, ShouldBeNil)
			So(store.DB().Model(&model.Test{}).Where("id = ?", a.TestID).
				Update("answer_key", datatypes.NewJSONType(model.AnswerKey{})).Error, ShouldBeNil)

			_, err = svc.Recompute(ctx, scored)

			Convey("Then recomputation should report a configuration gap", func() {
				So(errors.Is(err, ErrConfigurationGap), ShouldBeTrue)
			})
		})

		Convey("When flagging the scored attempt", func() {
			f, err := svc.Flag(ctx, scored, "  copied answers ")

			Convey("Then the flag should be stored and the attempt FLAGGED", func() {
				So(err, ShouldBeNil)
				So(f.Reason, ShouldEqual, "copied answers")
				a, err := store.GetAttempt(ctx, scored)
				So(err, ShouldBeNil)
				So(a.Status, ShouldEqual, model.StatusFlagged)
				flags, err := store.ListFlags(ctx, scored)
				So(err, ShouldBeNil)
				So(flags, ShouldHaveLength, 1)
			})
		})

		Convey("When flagging without a reason", func() {
			_, err := svc.Flag(ctx, scored, "   ")

			Convey("Then it should be rejected as invalid input", func() {
				So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When flagging an unknown attempt", func() {
			_, err := svc.Flag(ctx, uuid.New(), "spam")

			Convey("Then it should report not found", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestServiceReads(t *testing.T) {
	Convey("Given a service holding attempts of two students", t, func() {
		ctx := context.Background()
		store := openStore(t)
		svc := New(store, WithMaxPageSize(20), WithLeaderboardCache(cache.NewMemory(time.Minute)))

		ada := newEvent("ada-1", "ada@example.com", "2024-01-01T10:00:00Z", model.Answers{"q1": "A", "q2": "B"})
		ada.SubmittedAt = strp("2024-01-01T10:20:00Z")
		bob := newEvent("bob-1", "bob@example.com", "2024-01-01T11:00:00Z", model.Answers{"q1": "A", "q2": "B"})
		bob.Student.FullName = "Bob Babbage"
		bob.SubmittedAt = strp("2024-01-01T10:10:00Z")
		adaDup := newEvent("ada-2", "ada@example.com", "2024-01-01T10:02:00Z", model.Answers{"q1": "A", "q2": "B"})
		res := svc.ProcessBatch(ctx, []model.AttemptEvent{ada, bob, adaDup})
		adaID, bobID, dupID := *res.Results[0].AttemptID, *res.Results[1].AttemptID, *res.Results[2].AttemptID
		a, err := store.GetAttempt(ctx, adaID)
		So(err, ShouldBeNil)
		testID := a.TestID

		Convey("When reading the leaderboard", func() {
			page, err := svc.Leaderboard(ctx, testID, 1, 10)

			Convey("Then the earlier submission should win the tie", func() {
				So(err, ShouldBeNil)
				So(page.Total, ShouldEqual, 2)
				So(page.TestName, ShouldEqual, "Physics")
				So(page.Items[0].AttemptID, ShouldEqual, bobID)
				So(page.Items[0].Rank, ShouldEqual, 1)
				So(page.Items[0].StudentName, ShouldEqual, "Bob Babbage")
				So(page.Items[1].AttemptID, ShouldEqual, adaID)
				So(page.Items[1].Rank, ShouldEqual, 2)
			})

			Convey("Then a page past the end should be empty", func() {
				page, err := svc.Leaderboard(ctx, testID, 3, 1)
				So(err, ShouldBeNil)
				So(page.Items, ShouldBeEmpty)
				So(page.Total, ShouldEqual, 2)
			})
		})

		Convey("When Bob's attempt is flagged", func() {
			_, err := svc.Leaderboard(ctx, testID, 1, 10)
			So(err, ShouldBeNil)
			_, err = svc.Flag(ctx, bobID, "suspicious")
			So(err, ShouldBeNil)
			page, err := svc.Leaderboard(ctx, testID, 1, 10)

			Convey("Then the cached ranking should be dropped", func() {
				So(err, ShouldBeNil)
				So(page.Total, ShouldEqual, 1)
				So(page.Items[0].AttemptID, ShouldEqual, adaID)
			})
		})

		Convey("When reading the leaderboard of an unknown test", func() {
			_, err := svc.Leaderboard(ctx, uuid.New(), 1, 10)

			Convey("Then it should report not found", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When listing attempts", func() {
			page, err := svc.ListAttempts(ctx, AttemptQuery{})

			Convey("Then every attempt should be listed newest start first", func() {
				So(err, ShouldBeNil)
				So(page.Total, ShouldEqual, 3)
				So(page.Page, ShouldEqual, 1)
				So(page.PageSize, ShouldEqual, DefaultPageSize)
				So(page.Items[0].AttemptID, ShouldEqual, bobID)
				So(page.Items[0].StudentName, ShouldEqual, "Bob Babbage")
				So(page.Items[0].TestName, ShouldEqual, "Physics")
				So(*page.Items[0].Score, ShouldEqual, 8.0)
				So(page.Items[1].AttemptID, ShouldEqual, dupID)
				So(page.Items[1].HasDuplicates, ShouldBeTrue)
				So(page.Items[1].Score, ShouldBeNil)
			})
		})

		Convey("When listing with filters", func() {
			yes := true
			dups, err := svc.ListAttempts(ctx, AttemptQuery{HasDuplicates: &yes})
			So(err, ShouldBeNil)
			search, err := svc.ListAttempts(ctx, AttemptQuery{Search: "BABB"})
			So(err, ShouldBeNil)
			scored, err := svc.ListAttempts(ctx, AttemptQuery{Status: model.StatusScored})
			So(err, ShouldBeNil)

			Convey("Then each filter should narrow the listing", func() {
				So(dups.Total, ShouldEqual, 1)
				So(search.Total, ShouldEqual, 1)
				So(search.Items[0].AttemptID, ShouldEqual, bobID)
				So(scored.Total, ShouldEqual, 2)
			})
		})

		Convey("When listing with a bad page", func() {
			_, errPage := svc.ListAttempts(ctx, AttemptQuery{Page: -1})
			_, errSize := svc.ListAttempts(ctx, AttemptQuery{PageSize: 21})
			_, errStatus := svc.ListAttempts(ctx, AttemptQuery{Status: "LOST"})

			Convey("Then it should be rejected as invalid input", func() {
				So(errors.Is(errPage, ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errSize, ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errStatus, ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When reading the duplicate's detail", func() {
			d, err := svc.AttemptDetail(ctx, dupID)

			Convey("Then it should carry the thread without itself", func() {
				So(err, ShouldBeNil)
				So(d.Status, ShouldEqual, model.StatusDeduped)
				So(d.Score, ShouldBeNil)
				So(d.Student.FullName, ShouldEqual, "Ada Lovelace")
				So(d.Test.Name, ShouldEqual, "Physics")
				So(d.DuplicateThread, ShouldHaveLength, 1)
				So(d.DuplicateThread[0].AttemptID, ShouldEqual, adaID)
				So(d.DuplicateThread[0].IsCanonical, ShouldBeTrue)
				So(string(d.RawPayload), ShouldContainSubstring, "ada-2")
			})
		})

		Convey("When reading the canonical attempt's detail", func() {
			d, err := svc.AttemptDetail(ctx, adaID)

			Convey("Then the thread should list its duplicate and the score", func() {
				So(err, ShouldBeNil)
				So(d.Score, ShouldNotBeNil)
				So(d.Score.Score, ShouldEqual, 8.0)
				So(d.DuplicateThread, ShouldHaveLength, 1)
				So(d.DuplicateThread[0].AttemptID, ShouldEqual, dupID)
				So(d.DuplicateThread[0].IsCanonical, ShouldBeFalse)
				So(d.Answers, ShouldResemble, model.Answers{"q1": "A", "q2": "B"})
			})
		})

		Convey("When listing tests", func() {
			tests, err := svc.ListTests(ctx)

			Convey("Then the single test should be summarized", func() {
				So(err, ShouldBeNil)
				So(tests, ShouldHaveLength, 1)
				So(tests[0].ID, ShouldEqual, testID)
				So(tests[0].HasAnswerKey, ShouldBeTrue)
				So(tests[0].NegativeMarking.Wrong, ShouldEqual, -1.0)
			})
		})
	})
}

// racingStore runs afterRead once, right after the first ScoredAttempts
// query returns, to land a write between the read and the cache update.
type racingStore struct {
	repository.Store
	afterRead func()
}

func (r *racingStore) ScoredAttempts(ctx context.Context, testID uuid.UUID) ([]repository.ScoredAttempt, error) {
	rows, err := r.Store.ScoredAttempts(ctx, testID)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return rows, err
}

func TestServiceLeaderboardCacheRace(t *testing.T) {
	Convey("Given a cached service where a score lands while the leaderboard is ranked", t, func() {
		ctx := context.Background()
		store := &racingStore{Store: openStore(t)}
		svc := New(store, WithLeaderboardCache(cache.NewMemory(0)))

		ada := newEvent("ada-1", "ada@example.com", "2024-01-01T10:00:00Z", model.Answers{"q1": "A", "q2": "B"})
		res := svc.ProcessBatch(ctx, []model.AttemptEvent{ada})
		So(res.Scored, ShouldEqual, 1)
		a, err := store.GetAttempt(ctx, *res.Results[0].AttemptID)
		So(err, ShouldBeNil)

		bob := newEvent("bob-1", "bob@example.com", "2024-01-01T11:00:00Z", model.Answers{"q1": "A"})
		bob.Student.FullName = "Bob Babbage"
		var bobResult model.BatchResult
		store.afterRead = func() {
			bobResult = svc.ProcessBatch(ctx, []model.AttemptEvent{bob})
		}

		first, err := svc.Leaderboard(ctx, a.TestID, 1, 10)
		So(err, ShouldBeNil)

		Convey("When the leaderboard is read again", func() {
			second, err := svc.Leaderboard(ctx, a.TestID, 1, 10)

			Convey("Then the newly scored attempt should be ranked", func() {
				So(bobResult.Scored, ShouldEqual, 1)
				So(first.Total, ShouldEqual, 1)
				So(err, ShouldBeNil)
				So(second.Total, ShouldEqual, 2)
				So(second.Items[1].StudentName, ShouldEqual, "Bob Babbage")
			})
		})
	})
}
