// Package severity is the client side of the rule-based severity engine.
package severity

import (
	"context"

	"medtriage/medtriage/types"
	httputils "medtriage/medtriage/utils/http"
	"medtriage/medtriage/utils/logging"
)

// EvalInput carries the complaint, the conversation context and, when image
// evidence survived confidence filtering, the top prediction.
type EvalInput struct {
	MainComplaint string              `json:"main_complaint"`
	Context       string              `json:"context,omitempty"`
	CVResult      *types.CVPrediction `json:"cv_result,omitempty"`
}

// Engine evaluates a complaint into a triage verdict with red flags.
type Engine interface {
	Evaluate(ctx context.Context, in EvalInput) (*types.Evaluation, error)
}

type HTTPEngine struct {
	baseURL string
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{baseURL: baseURL}
}

func (e *HTTPEngine) Evaluate(ctx context.Context, in EvalInput) (*types.Evaluation, error) {
	defer logging.LogDuration(ctx, "severity_evaluate")()

	var out types.Evaluation
	if err := httputils.PostJSON(ctx, e.baseURL+"/evaluate", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
