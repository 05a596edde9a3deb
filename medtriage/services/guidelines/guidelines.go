// Package guidelines covers the retrieval side of the workflows: structured
// disease lookup with an ordered fallback chain, semantic retrieval, and
// guideline snippet search.
package guidelines

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"

	"go.uber.org/zap"
)

// DiseaseEntry is a structured knowledge record for one disease.
type DiseaseEntry struct {
	Name     string            `json:"name"`
	Summary  string            `json:"summary"`
	Sections map[string]string `json:"sections,omitempty"`
}

// GuidelineQuery seeds a guideline search. SuspectedConditions carries at
// most the single highest-confidence image-derived condition.
type GuidelineQuery struct {
	Symptoms            []string          `json:"symptoms,omitempty"`
	SuspectedConditions []string          `json:"suspected_conditions,omitempty"`
	TriageLevel         types.TriageLevel `json:"triage_level,omitempty"`
}

// KnowledgeBase is the external structured-knowledge collaborator.
// FindByName/FindBySynonym return (nil, nil) on a clean miss.
type KnowledgeBase interface {
	FindByName(ctx context.Context, name string) (*DiseaseEntry, error)
	FindBySynonym(ctx context.Context, name string) (*DiseaseEntry, error)
	QueryKnowledge(ctx context.Context, filters map[string]string, queryText string) ([]types.GuidelineSnippet, error)
	SearchGuidelines(ctx context.Context, q GuidelineQuery) ([]types.GuidelineSnippet, error)
}

// Retriever is what the orchestrator consumes.
type Retriever interface {
	// Lookup runs the structured fallback chain (exact, fuzzy, synonym) and
	// reports which strategy hit.
	Lookup(ctx context.Context, name string) (*DiseaseEntry, string, error)
	// Query is the semantic fallback when no structured entry matches;
	// results under the match threshold are dropped.
	Query(ctx context.Context, queryText, infoDomain string) ([]types.GuidelineSnippet, error)
	// Search retrieves guideline snippets for a triage workflow.
	Search(ctx context.Context, q GuidelineQuery) ([]types.GuidelineSnippet, error)
}

type lookupStrategy struct {
	name string
	fn   func(ctx context.Context, name string) (*DiseaseEntry, error)
}

// ChainRetriever implements Retriever over a KnowledgeBase collaborator plus
// the local disease vocabulary.
type ChainRetriever struct {
	kb             KnowledgeBase
	vocab          *intent.Vocabulary
	matchThreshold float64
	strategies     []lookupStrategy
}

func NewChainRetriever(kb KnowledgeBase, vocab *intent.Vocabulary, matchThreshold float64) *ChainRetriever {
	r := &ChainRetriever{kb: kb, vocab: vocab, matchThreshold: matchThreshold}
	r.strategies = []lookupStrategy{
		{name: "exact", fn: r.exactLookup},
		{name: "fuzzy", fn: r.fuzzyLookup},
		{name: "synonym", fn: r.synonymLookup},
	}
	return r
}

func (r *ChainRetriever) Lookup(ctx context.Context, name string) (*DiseaseEntry, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", nil
	}
	var lastErr error
	for _, s := range r.strategies {
		entry, err := s.fn(ctx, name)
		if err != nil {
			logging.ErrorLogger.Error("knowledge lookup strategy failed",
				zap.String("strategy", s.name), zap.Error(err))
			lastErr = err
			continue
		}
		if entry != nil {
			return entry, s.name, nil
		}
	}
	return nil, "", lastErr
}

// StrategyNames exposes the chain order.
func (r *ChainRetriever) StrategyNames() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.name
	}
	return names
}

func (r *ChainRetriever) exactLookup(ctx context.Context, name string) (*DiseaseEntry, error) {
	return r.kb.FindByName(ctx, name)
}

var fuzzyStrip = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

// fuzzyLookup retries the name lookup with punctuation stripped, case folded
// and whitespace collapsed.
func (r *ChainRetriever) fuzzyLookup(ctx context.Context, name string) (*DiseaseEntry, error) {
	normalized := strings.Join(strings.Fields(fuzzyStrip.ReplaceAllString(strings.ToLower(name), " ")), " ")
	if normalized == "" || normalized == strings.ToLower(name) {
		return nil, nil
	}
	return r.kb.FindByName(ctx, normalized)
}

// synonymLookup resolves the name through the local alias vocabulary first,
// then falls back to the knowledge base's own synonym index.
func (r *ChainRetriever) synonymLookup(ctx context.Context, name string) (*DiseaseEntry, error) {
	if canonical, ok := r.vocab.CanonicalDisease(name); ok && canonical != name {
		entry, err := r.kb.FindByName(ctx, canonical)
		if err == nil && entry != nil {
			return entry, nil
		}
	}
	return r.kb.FindBySynonym(ctx, name)
}

func (r *ChainRetriever) Query(ctx context.Context, queryText, infoDomain string) ([]types.GuidelineSnippet, error) {
	filters := map[string]string{}
	if infoDomain != "" {
		filters["info_domain"] = infoDomain
	}
	snippets, err := r.kb.QueryKnowledge(ctx, filters, queryText)
	if err != nil {
		return nil, err
	}
	kept := make([]types.GuidelineSnippet, 0, len(snippets))
	for _, s := range snippets {
		if s.Score < r.matchThreshold {
			continue
		}
		s.Content = cleanSnippet(s.Content)
		kept = append(kept, s)
	}
	return kept, nil
}

func (r *ChainRetriever) Search(ctx context.Context, q GuidelineQuery) ([]types.GuidelineSnippet, error) {
	defer logging.LogDuration(ctx, "guideline_search")()

	snippets, err := r.kb.SearchGuidelines(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range snippets {
		snippets[i].Content = cleanSnippet(snippets[i].Content)
	}
	return snippets, nil
}

// cleanSnippet strips HTML markup some guideline backends embed in snippet
// bodies, leaving plain text for prompting.
func cleanSnippet(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
