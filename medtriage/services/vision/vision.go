// Package vision is the client side of the image-analysis capability.
package vision

import (
	"context"
	"fmt"

	"medtriage/medtriage/types"
	httputils "medtriage/medtriage/utils/http"
	"medtriage/medtriage/utils/logging"
)

// Known image models. Model choice is the orchestrator's call; this package
// just routes the request.
const (
	ModelDerm  = "derm_cv"
	ModelEye   = "eye_cv"
	ModelWound = "wound_cv"
)

// Analyzer is the image-analysis contract: analyze an image with the named
// model and return ranked condition candidates.
type Analyzer interface {
	Analyze(ctx context.Context, model, imageURL string) (*types.CVAnalysis, error)
}

// HTTPAnalyzer calls the inference service over HTTP, one route per model.
type HTTPAnalyzer struct {
	baseURL string
}

func NewHTTPAnalyzer(baseURL string) *HTTPAnalyzer {
	return &HTTPAnalyzer{baseURL: baseURL}
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
}

type analyzeResponse struct {
	TopConditions []types.CVPrediction `json:"top_conditions"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, model, imageURL string) (*types.CVAnalysis, error) {
	defer logging.LogDuration(ctx, "vision_analyze")()

	var resp analyzeResponse
	url := fmt.Sprintf("%s/models/%s/analyze", a.baseURL, model)
	if err := httputils.PostJSON(ctx, url, analyzeRequest{ImageURL: imageURL}, &resp); err != nil {
		return nil, err
	}
	return &types.CVAnalysis{Model: model, TopConditions: resp.TopConditions}, nil
}
