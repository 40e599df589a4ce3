package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/oraclade/predictmarket/pkg/core"
)

// ComposedPipeline runs the request's named feeder and predictor through
// the registry. It is the default pipeline when a request does not name a
// custom one.
type ComposedPipeline struct {
	registry *Registry

	// DefaultFeeder and DefaultPredictor are used when the request leaves
	// the corresponding name empty.
	DefaultFeeder    string
	DefaultPredictor string
}

// NewComposedPipeline creates a pipeline composing feeder and predictor
// lookups against the registry.
func NewComposedPipeline(registry *Registry, defaultFeeder, defaultPredictor string) *ComposedPipeline {
	return &ComposedPipeline{
		registry:         registry,
		DefaultFeeder:    defaultFeeder,
		DefaultPredictor: defaultPredictor,
	}
}

// Run fetches the dataset and runs inference. Feeder and predictor
// failures are wrapped as ExecutionError with the failing stage named.
func (p *ComposedPipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	feederName := req.Feeder
	if feederName == "" {
		feederName = p.DefaultFeeder
	}
	predictorName := req.Predictor
	if predictorName == "" {
		predictorName = p.DefaultPredictor
	}

	feeder, err := p.registry.Feeder(feederName)
	if err != nil {
		return nil, err
	}
	predictor, err := p.registry.Predictor(predictorName)
	if err != nil {
		return nil, err
	}

	params := req.Params
	if params == nil {
		params = Params{}
	}
	params["symbol"] = req.Symbol
	params["horizon"] = req.Horizon

	ds, err := feeder.Fetch(ctx, params)
	if err != nil {
		return nil, core.Execution("feeder", err)
	}
	if ds == nil || len(ds.Points) == 0 {
		return nil, core.Execution("feeder", fmt.Errorf("%w: empty dataset for %q", core.ErrDataUnavailable, req.Symbol))
	}

	result, err := predictor.Infer(ctx, ds, params)
	if err != nil {
		return nil, core.Execution("predictor", err)
	}
	return result, nil
}

// NaivePipeline repeats the last observed value across the horizon. It
// serves as the zero-dependency baseline evaluators are measured against.
type NaivePipeline struct {
	Feeder Feeder
}

// Run produces a flat forecast from the feeder's latest point.
func (p *NaivePipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	ds, err := p.Feeder.Fetch(ctx, Params{"symbol": req.Symbol})
	if err != nil {
		return nil, core.Execution("feeder", err)
	}
	if len(ds.Points) == 0 {
		return nil, core.Execution("feeder", core.ErrDataUnavailable)
	}

	last := ds.Points[len(ds.Points)-1].Value
	horizon := req.Horizon
	if horizon < 1 {
		horizon = 1
	}
	values := make([]float64, horizon)
	for i := range values {
		values[i] = last
	}
	return &Result{
		Symbol:     req.Symbol,
		Values:     values,
		Horizon:    horizon,
		ProducedAt: time.Now().UTC(),
	}, nil
}
