package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	dedupe "github.com/okian/assignml/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When an event is recorded twice", func() {
			first := d.SeenAndRecord(ctx, "event-1")
			second := d.SeenAndRecord(ctx, "event-1")

			Convey("Then only the second delivery is a duplicate", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a failed event is unrecorded", func() {
			d.SeenAndRecord(ctx, "event-1")
			d.Unrecord(ctx, "event-1")
			d.Unrecord(ctx, "missing")

			Convey("Then it can be processed again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a deduper bounded to three ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3), dedupe.WithWindow(0))
		for _, id := range []string{"e1", "e2", "e3", "e4"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest id is evicted first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "e4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "e3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
		})

		Convey("Then unrecording from the middle keeps the order intact", func() {
			d.Unrecord(ctx, "e3")
			So(d.SeenAndRecord(ctx, "e5"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "e6"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "e2"), ShouldBeFalse)
		})
	})

	Convey("Given a deduper with a one hour window", t, func() {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		d := dedupe.NewInMemoryDeduper(dedupe.WithWindow(time.Hour), dedupe.WithClock(clock.Now))
		d.SeenAndRecord(ctx, "old")
		clock.Advance(40 * time.Minute)
		d.SeenAndRecord(ctx, "new")

		Convey("When the window passes for the first id only", func() {
			clock.Advance(30 * time.Minute)

			Convey("Then explicit eviction removes just the expired entry", func() {
				So(d.Evict(ctx), ShouldEqual, 1)
				So(d.Size(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, "new"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "old"), ShouldBeFalse)
			})
		})

		Convey("When both ids expire", func() {
			clock.Advance(2 * time.Hour)

			Convey("Then recording sweeps them lazily", func() {
				So(d.SeenAndRecord(ctx, "fresh"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper shared by several consumers", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10_000))
		const workers = 10
		const perWorker = 100

		Convey("When every worker delivers the same ids", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("event-%d", j)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is accepted exactly once", func() {
				So(fresh, ShouldEqual, perWorker)
				So(d.Size(), ShouldEqual, perWorker)
			})
		})
	})
}
