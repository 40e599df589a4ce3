package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/oraclade/predictmarket"
	"github.com/oraclade/predictmarket/pkg/plugin"
)

// registerBuiltins installs the stock plugins every deployment gets:
// a synthetic random-walk feeder for smoke testing, a last-value
// predictor, and pipelines composing them. Operators embedding the
// library register real feeders and models alongside these.
func registerBuiltins(r *predictmarket.Registry) {
	r.Register(predictmarket.KindFeeder, "synthetic", func() any {
		return &syntheticFeeder{start: 100, points: 48}
	})
	r.Register(predictmarket.KindPredictor, "last-value", func() any {
		return lastValuePredictor{}
	})
	r.Register(predictmarket.KindPipeline, "baseline", func() any {
		return predictmarket.NewComposedPipeline(r, "synthetic", "last-value")
	})
	r.Register(predictmarket.KindPipeline, "naive", func() any {
		return &plugin.NaivePipeline{Feeder: &syntheticFeeder{start: 100, points: 48}}
	})
}

// syntheticFeeder produces a random walk, one point per hour.
type syntheticFeeder struct {
	start  float64
	points int
}

func (f *syntheticFeeder) Fetch(_ context.Context, params plugin.Params) (*plugin.Dataset, error) {
	now := time.Now().UTC()
	value := f.start
	points := make([]plugin.Point, f.points)
	for i := range points {
		value += rand.NormFloat64()
		points[i] = plugin.Point{
			Timestamp: now.Add(-time.Duration(f.points-i) * time.Hour),
			Value:     value,
		}
	}
	return &plugin.Dataset{
		Symbol:    params.String("symbol"),
		Points:    points,
		FetchedAt: now,
	}, nil
}

// lastValuePredictor forecasts a flat line from the latest observation.
type lastValuePredictor struct{}

func (lastValuePredictor) Infer(_ context.Context, ds *plugin.Dataset, params plugin.Params) (*plugin.Result, error) {
	horizon, _ := params["horizon"].(int)
	if horizon < 1 {
		horizon = 1
	}
	last := ds.Points[len(ds.Points)-1].Value
	values := make([]float64, horizon)
	for i := range values {
		values[i] = last
	}
	return &plugin.Result{
		Symbol:     ds.Symbol,
		Values:     values,
		Horizon:    horizon,
		ProducedAt: time.Now().UTC(),
	}, nil
}
