package registry_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/assignml/internal/adapters/registry"
	"github.com/okian/assignml/internal/domain/ensemble"
)

func trained(version string) *ensemble.Model {
	rng := rand.New(rand.NewPCG(3, 9))
	X := make([][]float64, 120)
	y := make([]bool, 120)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64()}
		y[i] = X[i][0] > 0.5
	}
	p := ensemble.DefaultParams()
	p.Trees = 5
	m, err := ensemble.Fit(context.Background(), version, []string{"a", "b"}, X, y, p)
	if err != nil {
		panic(err)
	}
	return m.WithMetrics(ensemble.Metrics{Accuracy: 0.9, F1: 0.88})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	Convey("Given an in-memory registry", t, func() {
		r, err := registry.Open("")
		So(err, ShouldBeNil)
		Reset(func() { _ = r.Close() })

		Convey("Nothing is deployed initially", func() {
			_, err := r.Deployed(ctx)
			So(errors.Is(err, registry.ErrNotFound), ShouldBeTrue)
			So(errors.Is(r.SetDeployed(ctx, "v1"), registry.ErrNotFound), ShouldBeTrue)
		})

		Convey("A model without a version is refused", func() {
			So(errors.Is(r.Save(ctx, nil), registry.ErrNoVersion), ShouldBeTrue)
		})

		Convey("When a model is saved and deployed", func() {
			m := trained("v1")
			So(r.Save(ctx, m), ShouldBeNil)
			So(r.SetDeployed(ctx, "v1"), ShouldBeNil)

			Convey("Then it loads back with the same predictions", func() {
				got, err := r.Deployed(ctx)
				So(err, ShouldBeNil)
				So(got.Version(), ShouldEqual, "v1")
				So(got.Metrics().Accuracy, ShouldEqual, 0.9)

				x := []float64{0.9, 0.1}
				want, _, _ := m.Predict(x)
				score, _, err := got.Predict(x)
				So(err, ShouldBeNil)
				So(score, ShouldEqual, want)
			})

			Convey("Then unknown versions are not found", func() {
				_, err := r.Load(ctx, "v9")
				So(errors.Is(err, registry.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When several versions exist", func() {
			for _, v := range []string{"v1", "v2", "v3"} {
				So(r.Save(ctx, trained(v)), ShouldBeNil)
				time.Sleep(2 * time.Millisecond)
			}
			So(r.SetDeployed(ctx, "v1"), ShouldBeNil)

			entries, err := r.List(ctx)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)
			So(entries[0].Version, ShouldEqual, "v3")
			So(entries[0].Size, ShouldBeGreaterThan, 0)

			Convey("Then pruning keeps the newest and the deployed one", func() {
				removed, err := r.Prune(ctx, 1)
				So(err, ShouldBeNil)
				So(removed, ShouldEqual, 1)

				_, err = r.Load(ctx, "v2")
				So(errors.Is(err, registry.ErrNotFound), ShouldBeTrue)
				_, err = r.Load(ctx, "v1")
				So(err, ShouldBeNil)
				_, err = r.Load(ctx, "v3")
				So(err, ShouldBeNil)
			})
		})
	})

	Convey("Given a registry on disk", t, func() {
		dir := t.TempDir()
		r, err := registry.Open(dir)
		So(err, ShouldBeNil)
		So(r.Save(ctx, trained("v7")), ShouldBeNil)
		So(r.SetDeployed(ctx, "v7"), ShouldBeNil)
		So(r.Close(), ShouldBeNil)

		Convey("Then the deployed marker survives a reopen", func() {
			again, err := registry.Open(dir)
			So(err, ShouldBeNil)
			defer func() { _ = again.Close() }()
			v, err := again.DeployedVersion(ctx)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "v7")
		})
	})
}
