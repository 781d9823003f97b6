package ensemble_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/okian/assignml/internal/domain/ensemble"
	. "github.com/smartystreets/goconvey/convey"
)

var names = []string{"skill", "load", "noise"}

// separable returns rows where the label is skill > 0.5 and load < 0.7.
func separable(n int, seed uint64) ([][]float64, []bool) {
	rng := rand.New(rand.NewPCG(seed, 7))
	X := make([][]float64, n)
	y := make([]bool, n)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		y[i] = X[i][0] > 0.5 && X[i][1] < 0.7
	}
	return X, y
}

func TestFit(t *testing.T) {
	Convey("Given a separable dataset", t, func() {
		X, y := separable(400, 1)
		p := ensemble.DefaultParams()
		p.Trees = 25

		m, err := ensemble.Fit(context.Background(), "v1", names, X, y, p)
		So(err, ShouldBeNil)

		Convey("The forest generalises to fresh data", func() {
			vx, vy := separable(200, 2)
			mt, err := ensemble.Evaluate(m, vx, vy)
			So(err, ShouldBeNil)
			So(mt.Accuracy, ShouldBeGreaterThan, 0.85)
			So(mt.F1, ShouldBeGreaterThan, 0.75)
			So(mt.Support, ShouldEqual, 200)
		})

		Convey("Predictions are probabilities with vote agreement confidence", func() {
			score, conf, err := m.Predict([]float64{0.95, 0.1, 0.5})
			So(err, ShouldBeNil)
			So(score, ShouldBeGreaterThan, 0.5)
			So(conf, ShouldBeBetweenOrEqual, 0, 1)

			low, _, _ := m.Predict([]float64{0.05, 0.9, 0.5})
			So(low, ShouldBeLessThan, 0.5)
		})

		Convey("Informative features carry the importance", func() {
			imp := m.FeatureImportance()
			So(imp["skill"]+imp["load"], ShouldBeGreaterThan, imp["noise"])
			So(imp["skill"]+imp["load"]+imp["noise"], ShouldAlmostEqual, 1, 1e-9)
		})

		Convey("Training is reproducible for a fixed seed", func() {
			again, _ := ensemble.Fit(context.Background(), "v1", names, X, y, p)
			a, _, _ := m.Predict([]float64{0.6, 0.5, 0.2})
			b, _, _ := again.Predict([]float64{0.6, 0.5, 0.2})
			So(a, ShouldEqual, b)
		})

		Convey("Vectors of the wrong size are rejected", func() {
			_, _, err := m.Predict([]float64{1})
			So(errors.Is(err, ensemble.ErrDimension), ShouldBeTrue)
		})

		Convey("The artifact round-trips through its binary form", func() {
			raw, err := m.WithMetrics(ensemble.Metrics{Accuracy: 0.9}).MarshalBinary()
			So(err, ShouldBeNil)
			restored, err := ensemble.UnmarshalModel(raw)
			So(err, ShouldBeNil)
			So(restored.Version(), ShouldEqual, "v1")
			So(restored.Metrics().Accuracy, ShouldEqual, 0.9)
			x := []float64{0.7, 0.2, 0.9}
			a, ca, _ := m.Predict(x)
			b, cb, _ := restored.Predict(x)
			So(b, ShouldEqual, a)
			So(cb, ShouldEqual, ca)
		})

		Convey("Corrupt artifacts are refused", func() {
			_, err := ensemble.UnmarshalModel([]byte(`{"format":1,"version":"x","features":["a"],"trees":[]}`))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given degenerate input", t, func() {
		_, err := ensemble.Fit(context.Background(), "v", names, nil, nil, ensemble.DefaultParams())
		So(errors.Is(err, ensemble.ErrEmptyDataset), ShouldBeTrue)

		_, err = ensemble.Fit(context.Background(), "v", names, [][]float64{{1, 2}}, []bool{true}, ensemble.DefaultParams())
		So(errors.Is(err, ensemble.ErrDimension), ShouldBeTrue)
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		X, y := separable(50, 3)
		_, err := ensemble.Fit(ctx, "v", names, X, y, ensemble.DefaultParams())
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}

func TestMetricsScore(t *testing.T) {
	Convey("Given a confusion matrix", t, func() {
		mt := ensemble.Score(8, 2, 7, 3)
		So(mt.Accuracy, ShouldAlmostEqual, 0.75, 1e-9)
		So(mt.Precision, ShouldAlmostEqual, 0.8, 1e-9)
		So(mt.Recall, ShouldAlmostEqual, 8.0/11.0, 1e-9)
		So(ensemble.Score(0, 0, 5, 0).F1, ShouldEqual, 0)
	})
}

func TestHandle(t *testing.T) {
	Convey("Given an empty handle", t, func() {
		h := ensemble.NewHandle()

		Convey("Cold start yields a neutral unavailable prediction", func() {
			p := ensemble.Predict(h.Load(), []float64{0.1, 0.2, 0.3})
			So(p.Score, ShouldEqual, 0.5)
			So(p.Confidence, ShouldEqual, 0)
			So(p.Available, ShouldBeFalse)
			So(h.Version(), ShouldEqual, "")
		})

		Convey("Concurrent readers always see one complete model", func() {
			X, y := separable(120, 4)
			p := ensemble.DefaultParams()
			p.Trees = 5
			v1, _ := ensemble.Fit(context.Background(), "v1", names, X, y, p)
			v2, _ := ensemble.Fit(context.Background(), "v2", names, X, y, p)
			h.Swap(v1)

			x := []float64{0.6, 0.3, 0.1}
			want := map[string]ensemble.Prediction{
				"v1": ensemble.Predict(v1, x),
				"v2": ensemble.Predict(v2, x),
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			var mismatches int
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if i == 25 {
						h.Swap(v2)
					}
					snap := h.Load()
					got := ensemble.Predict(snap, x)
					if got != want[got.Version] {
						mu.Lock()
						mismatches++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			So(mismatches, ShouldEqual, 0)
			So(h.Version(), ShouldEqual, "v2")
		})

		Convey("A dimension mismatch degrades to neutral", func() {
			X, y := separable(60, 5)
			m, _ := ensemble.Fit(context.Background(), "v3", names, X, y, ensemble.DefaultParams())
			got := ensemble.Predict(m, []float64{1, 2})
			So(got.Available, ShouldBeFalse)
			So(got.Score, ShouldEqual, 0.5)
		})
	})
}
