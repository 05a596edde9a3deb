// Package facilities looks up nearby clinics for response enrichment.
package facilities

import (
	"context"

	"medtriage/medtriage/types"
	httputils "medtriage/medtriage/utils/http"
)

type Locator interface {
	FindNearby(ctx context.Context, loc types.Location, level types.TriageLevel) ([]types.Facility, error)
}

type HTTPLocator struct {
	baseURL string
}

func NewHTTPLocator(baseURL string) *HTTPLocator {
	return &HTTPLocator{baseURL: baseURL}
}

type nearbyRequest struct {
	Location    types.Location    `json:"location"`
	TriageLevel types.TriageLevel `json:"triage_level"`
}

type nearbyResponse struct {
	Facilities []types.Facility `json:"facilities"`
}

func (l *HTTPLocator) FindNearby(ctx context.Context, loc types.Location, level types.TriageLevel) ([]types.Facility, error) {
	var resp nearbyResponse
	if err := httputils.PostJSON(ctx, l.baseURL+"/nearby", nearbyRequest{Location: loc, TriageLevel: level}, &resp); err != nil {
		return nil, err
	}
	return resp.Facilities, nil
}
