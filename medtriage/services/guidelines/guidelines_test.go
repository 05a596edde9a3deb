package guidelines

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

type fakeKB struct {
	byName    map[string]*DiseaseEntry
	bySynonym map[string]*DiseaseEntry
	nameErr   error
	snippets  []types.GuidelineSnippet

	nameCalls    []string
	synonymCalls []string
}

func (k *fakeKB) FindByName(ctx context.Context, name string) (*DiseaseEntry, error) {
	k.nameCalls = append(k.nameCalls, name)
	if k.nameErr != nil {
		return nil, k.nameErr
	}
	return k.byName[name], nil
}

func (k *fakeKB) FindBySynonym(ctx context.Context, name string) (*DiseaseEntry, error) {
	k.synonymCalls = append(k.synonymCalls, name)
	return k.bySynonym[name], nil
}

func (k *fakeKB) QueryKnowledge(ctx context.Context, filters map[string]string, queryText string) ([]types.GuidelineSnippet, error) {
	return k.snippets, nil
}

func (k *fakeKB) SearchGuidelines(ctx context.Context, q GuidelineQuery) ([]types.GuidelineSnippet, error) {
	return k.snippets, nil
}

func newTestRetriever(t *testing.T, kb *fakeKB) *ChainRetriever {
	t.Helper()
	logging.InitLogger()
	return NewChainRetriever(kb, intent.DefaultVocabulary(), 0.3)
}

func TestChainOrder(t *testing.T) {
	r := newTestRetriever(t, &fakeKB{})
	want := []string{"exact", "fuzzy", "synonym"}
	if got := r.StrategyNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("strategy chain order: expected %v, got %v", want, got)
	}
}

func TestExactHitShortCircuits(t *testing.T) {
	kb := &fakeKB{byName: map[string]*DiseaseEntry{
		"trứng cá": {Name: "trứng cá", Summary: "Bệnh da phổ biến."},
	}}
	r := newTestRetriever(t, kb)

	entry, strategy, err := r.Lookup(context.Background(), "trứng cá")
	if err != nil || entry == nil {
		t.Fatalf("expected a hit, got entry=%v err=%v", entry, err)
	}
	if strategy != "exact" {
		t.Errorf("expected exact strategy, got %s", strategy)
	}
	if len(kb.synonymCalls) != 0 {
		t.Errorf("exact hit must not reach the synonym strategy")
	}
}

func TestFuzzyNormalizesPunctuation(t *testing.T) {
	kb := &fakeKB{byName: map[string]*DiseaseEntry{
		"trứng cá": {Name: "trứng cá"},
	}}
	r := newTestRetriever(t, kb)

	entry, strategy, err := r.Lookup(context.Background(), "Trứng cá?!")
	if err != nil || entry == nil {
		t.Fatalf("expected a fuzzy hit, got entry=%v err=%v", entry, err)
	}
	if strategy != "fuzzy" {
		t.Errorf("expected fuzzy strategy, got %s", strategy)
	}
}

func TestSynonymResolvesAlias(t *testing.T) {
	kb := &fakeKB{byName: map[string]*DiseaseEntry{
		"trứng cá": {Name: "trứng cá"},
	}}
	r := newTestRetriever(t, kb)

	// "mụn trứng cá" is a vocabulary alias for "trứng cá".
	entry, strategy, err := r.Lookup(context.Background(), "mụn trứng cá")
	if err != nil || entry == nil {
		t.Fatalf("expected a synonym hit, got entry=%v err=%v", entry, err)
	}
	if strategy != "synonym" {
		t.Errorf("expected synonym strategy, got %s", strategy)
	}
}

func TestCleanMissReturnsNoEntryAndNoError(t *testing.T) {
	r := newTestRetriever(t, &fakeKB{})
	entry, strategy, err := r.Lookup(context.Background(), "bệnh không tồn tại")
	if entry != nil || strategy != "" || err != nil {
		t.Errorf("clean miss should be (nil, \"\", nil), got (%v, %q, %v)", entry, strategy, err)
	}
}

func TestStrategyErrorDoesNotAbortChain(t *testing.T) {
	kb := &fakeKB{
		nameErr:   errors.New("index offline"),
		bySynonym: map[string]*DiseaseEntry{"hắc lào": {Name: "nấm da"}},
	}
	r := newTestRetriever(t, kb)

	entry, strategy, err := r.Lookup(context.Background(), "hắc lào")
	if entry == nil || strategy != "synonym" {
		t.Fatalf("later strategies should still run after a failure, got (%v, %q, %v)", entry, strategy, err)
	}
	if err != nil {
		t.Errorf("a hit clears earlier strategy errors, got %v", err)
	}
}

func TestQueryDropsLowScores(t *testing.T) {
	kb := &fakeKB{snippets: []types.GuidelineSnippet{
		{Title: "giữ", Content: "nội dung", Score: 0.61},
		{Title: "bỏ", Content: "nhiễu", Score: 0.12},
		{Title: "biên", Content: "vừa đủ", Score: 0.3},
	}}
	r := newTestRetriever(t, kb)

	got, err := r.Query(context.Background(), "ngứa da", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snippets at or above 0.3, got %d", len(got))
	}
	for _, s := range got {
		if s.Score < 0.3 {
			t.Errorf("snippet %q under threshold survived", s.Title)
		}
	}
}

func TestSnippetHTMLCleanup(t *testing.T) {
	kb := &fakeKB{snippets: []types.GuidelineSnippet{
		{Content: "<p>Rửa sạch <b>vết thương</b> bằng nước muối.</p>", Score: 0.9},
	}}
	r := newTestRetriever(t, kb)

	got, err := r.Search(context.Background(), GuidelineQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Content != "Rửa sạch vết thương bằng nước muối." {
		t.Errorf("markup not stripped: %q", got[0].Content)
	}
}
