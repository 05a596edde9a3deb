package guidelines

import (
	"context"

	"medtriage/medtriage/types"
	httputils "medtriage/medtriage/utils/http"
)

// HTTPKnowledgeBase is the HTTP client for the knowledge/retrieval service.
type HTTPKnowledgeBase struct {
	baseURL string
}

func NewHTTPKnowledgeBase(baseURL string) *HTTPKnowledgeBase {
	return &HTTPKnowledgeBase{baseURL: baseURL}
}

type lookupRequest struct {
	Name string `json:"name"`
}

type lookupResponse struct {
	Found bool          `json:"found"`
	Entry *DiseaseEntry `json:"entry,omitempty"`
}

func (kb *HTTPKnowledgeBase) FindByName(ctx context.Context, name string) (*DiseaseEntry, error) {
	var resp lookupResponse
	if err := httputils.PostJSON(ctx, kb.baseURL+"/diseases/lookup", lookupRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Entry, nil
}

func (kb *HTTPKnowledgeBase) FindBySynonym(ctx context.Context, name string) (*DiseaseEntry, error) {
	var resp lookupResponse
	if err := httputils.PostJSON(ctx, kb.baseURL+"/diseases/synonym", lookupRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Entry, nil
}

type knowledgeQueryRequest struct {
	Filters map[string]string `json:"filters,omitempty"`
	Query   string            `json:"query"`
}

type snippetsResponse struct {
	Snippets []types.GuidelineSnippet `json:"snippets"`
}

func (kb *HTTPKnowledgeBase) QueryKnowledge(ctx context.Context, filters map[string]string, queryText string) ([]types.GuidelineSnippet, error) {
	var resp snippetsResponse
	req := knowledgeQueryRequest{Filters: filters, Query: queryText}
	if err := httputils.PostJSON(ctx, kb.baseURL+"/knowledge/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Snippets, nil
}

func (kb *HTTPKnowledgeBase) SearchGuidelines(ctx context.Context, q GuidelineQuery) ([]types.GuidelineSnippet, error) {
	var resp snippetsResponse
	if err := httputils.PostJSON(ctx, kb.baseURL+"/guidelines/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Snippets, nil
}
