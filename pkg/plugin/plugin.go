// Package plugin provides the named capability providers the marketplace
// core delegates prediction work to: Feeders fetch datasets, Predictors run
// inference over them, and Pipelines compose the two into "do the work".
package plugin

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies a capability set in the registry.
type Kind string

const (
	KindFeeder    Kind = "feeder"
	KindPredictor Kind = "predictor"
	KindPipeline  Kind = "pipeline"
)

// Params are the opaque request parameters passed through to plugins.
type Params map[string]any

// String returns the string value under key, or empty.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Dataset is the time-series material a feeder produces for inference.
type Dataset struct {
	Symbol    string    `json:"symbol"`
	Points    []Point   `json:"points"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Point is a single observation in a dataset.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Result is the prediction output attached to a completed job.
type Result struct {
	Symbol     string    `json:"symbol"`
	Values     []float64 `json:"values"`
	Horizon    int       `json:"horizon"`
	ProducedAt time.Time `json:"produced_at"`
}

// Encode serializes the result for storage on the job record.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Request is the decoded view of a job's input payload that pipelines run
// against.
type Request struct {
	Symbol    string `json:"symbol"`
	Horizon   int    `json:"horizon"`
	Feeder    string `json:"feeder,omitempty"`
	Predictor string `json:"predictor,omitempty"`
	Params    Params `json:"params,omitempty"`
}

// Feeder fetches a dataset for a request. Failures should wrap
// core.ErrDataUnavailable.
type Feeder interface {
	Fetch(ctx context.Context, params Params) (*Dataset, error)
}

// Predictor runs inference over a dataset. Failures should wrap
// core.ErrInference.
type Predictor interface {
	Infer(ctx context.Context, ds *Dataset, params Params) (*Result, error)
}

// Pipeline is the single entry point the orchestrator uses to produce a
// result, either by composing a feeder and predictor or by computing a
// baseline directly.
type Pipeline interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}
