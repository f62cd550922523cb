package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/marksheet/internal/domain/ranking"
)

func sampleEntries() []ranking.Entry {
	submitted := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	return []ranking.Entry{
		{Rank: 1, StudentID: uuid.New(), AttemptID: uuid.New(), Score: 8, Accuracy: 100, NetCorrect: 2, SubmittedAt: &submitted},
		{Rank: 2, StudentID: uuid.New(), AttemptID: uuid.New(), Score: 3, Accuracy: 50},
	}
}

func TestMemory(t *testing.T) {
	Convey("Given a memory cache with a one minute TTL", t, func() {
		ctx := context.Background()
		m := NewMemory(time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return now }
		testID := uuid.New()
		entries := sampleEntries()

		Convey("When nothing is cached", func() {
			_, _, ok, err := m.Get(ctx, testID)

			Convey("Then it should miss", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a ranking is cached", func() {
			_, gen, _, err := m.Get(ctx, testID)
			So(err, ShouldBeNil)
			stored, err := m.Set(ctx, testID, gen, entries)
			So(err, ShouldBeNil)
			So(stored, ShouldBeTrue)
			got, _, ok, err := m.Get(ctx, testID)

			Convey("Then it should be returned as a copy", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, entries)
				got[0].Score = 0
				again, _, _, _ := m.Get(ctx, testID)
				So(again[0].Score, ShouldEqual, 8)
			})

			Convey("And after invalidation it should miss", func() {
				So(m.Invalidate(ctx, testID), ShouldBeNil)
				_, next, ok, _ := m.Get(ctx, testID)
				So(ok, ShouldBeFalse)
				So(next, ShouldEqual, gen+1)
			})

			Convey("And after the TTL it should expire", func() {
				now = now.Add(2 * time.Minute)
				_, _, ok, _ := m.Get(ctx, testID)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the test is invalidated between reading the generation and writing", func() {
			_, gen, _, _ := m.Get(ctx, testID)
			So(m.Invalidate(ctx, testID), ShouldBeNil)
			stored, err := m.Set(ctx, testID, gen, entries)

			Convey("Then the outdated ranking should not be stored", func() {
				So(err, ShouldBeNil)
				So(stored, ShouldBeFalse)
				_, _, ok, _ := m.Get(ctx, testID)
				So(ok, ShouldBeFalse)
			})

			Convey("And a ranking under the new generation should be stored", func() {
				_, current, _, _ := m.Get(ctx, testID)
				stored, err := m.Set(ctx, testID, current, entries)
				So(err, ShouldBeNil)
				So(stored, ShouldBeTrue)
			})
		})

		Convey("When another test is invalidated", func() {
			_, gen, _, _ := m.Get(ctx, testID)
			So(m.Invalidate(ctx, uuid.New()), ShouldBeNil)
			stored, err := m.Set(ctx, testID, gen, entries)

			Convey("Then this test's ranking should still be stored", func() {
				So(err, ShouldBeNil)
				So(stored, ShouldBeTrue)
			})
		})
	})

	Convey("Given the nop cache", t, func() {
		var n Nop
		stored, err := n.Set(context.Background(), uuid.New(), 0, sampleEntries())
		So(err, ShouldBeNil)
		So(stored, ShouldBeFalse)
		_, _, ok, err := n.Get(context.Background(), uuid.New())
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)
		So(n.Invalidate(context.Background(), uuid.New()), ShouldBeNil)
	})
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("MARKSHEET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set MARKSHEET_TEST_REDIS_ADDR to run redis cache tests")
	}

	Convey("Given a redis cache", t, func() {
		ctx := context.Background()
		client, err := Dial(ctx, addr, 15)
		So(err, ShouldBeNil)
		defer func() { _ = client.Close() }()
		r := NewRedis(client, time.Minute)
		testID := uuid.New()
		entries := sampleEntries()

		Convey("When a ranking is cached", func() {
			_, gen, _, err := r.Get(ctx, testID)
			So(err, ShouldBeNil)
			stored, err := r.Set(ctx, testID, gen, entries)
			So(err, ShouldBeNil)
			So(stored, ShouldBeTrue)
			got, _, ok, err := r.Get(ctx, testID)

			Convey("Then it should round trip", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldHaveLength, 2)
				So(got[0].AttemptID, ShouldEqual, entries[0].AttemptID)
				So(got[0].SubmittedAt.Equal(*entries[0].SubmittedAt), ShouldBeTrue)
				So(got[1].SubmittedAt, ShouldBeNil)
			})

			Convey("And after invalidation it should miss", func() {
				So(r.Invalidate(ctx, testID), ShouldBeNil)
				_, next, ok, err := r.Get(ctx, testID)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(next, ShouldEqual, gen+1)
			})
		})

		Convey("When the test is invalidated before an outdated write", func() {
			_, gen, _, err := r.Get(ctx, testID)
			So(err, ShouldBeNil)
			So(r.Invalidate(ctx, testID), ShouldBeNil)
			stored, err := r.Set(ctx, testID, gen, entries)

			Convey("Then the write should be dropped", func() {
				So(err, ShouldBeNil)
				So(stored, ShouldBeFalse)
				_, _, ok, _ := r.Get(ctx, testID)
				So(ok, ShouldBeFalse)
			})
		})
	})
}
