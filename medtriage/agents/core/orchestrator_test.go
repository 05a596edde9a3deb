package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"medtriage/medtriage/services/guidelines"
	"medtriage/medtriage/services/severity"
	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

// --- Fakes ---

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type fakeVision struct {
	analysis *types.CVAnalysis
	err      error
	model    string
	calls    int
}

func (v *fakeVision) Analyze(ctx context.Context, model, imageURL string) (*types.CVAnalysis, error) {
	v.calls++
	v.model = model
	if v.err != nil {
		return nil, v.err
	}
	out := *v.analysis
	out.Model = model
	return &out, nil
}

type fakeSeverity struct {
	eval  *types.Evaluation
	err   error
	input severity.EvalInput
	calls int
}

func (s *fakeSeverity) Evaluate(ctx context.Context, in severity.EvalInput) (*types.Evaluation, error) {
	s.calls++
	s.input = in
	return s.eval, s.err
}

type fakeRetriever struct {
	entry       *guidelines.DiseaseEntry
	strategy    string
	snippets    []types.GuidelineSnippet
	searchQuery guidelines.GuidelineQuery
	lookupCalls int
	queryCalls  int
	searchCalls int
}

func (r *fakeRetriever) Lookup(ctx context.Context, name string) (*guidelines.DiseaseEntry, string, error) {
	r.lookupCalls++
	return r.entry, r.strategy, nil
}

func (r *fakeRetriever) Query(ctx context.Context, queryText, infoDomain string) ([]types.GuidelineSnippet, error) {
	r.queryCalls++
	return r.snippets, nil
}

func (r *fakeRetriever) Search(ctx context.Context, q guidelines.GuidelineQuery) ([]types.GuidelineSnippet, error) {
	r.searchCalls++
	r.searchQuery = q
	return r.snippets, nil
}

type testEnv struct {
	orch     *Orchestrator
	gen      *fakeGenerator
	vision   *fakeVision
	severity *fakeSeverity
	retr     *fakeRetriever
}

func newTestOrchestrator(t *testing.T) *testEnv {
	t.Helper()
	logging.InitLogger()
	vocab := intent.DefaultVocabulary()
	env := &testEnv{
		gen: &fakeGenerator{reply: "Đây là câu trả lời."},
		vision: &fakeVision{analysis: &types.CVAnalysis{
			TopConditions: []types.CVPrediction{
				{Name: "viêm da cơ địa", Prob: 0.78},
				{Name: "nấm da", Prob: 0.42},
			},
		}},
		severity: &fakeSeverity{eval: &types.Evaluation{
			Triage:   types.LevelRoutine,
			RedFlags: []string{},
		}},
		retr: &fakeRetriever{},
	}
	env.orch = NewOrchestrator(
		intent.NewRuleClassifier(vocab, 0.2),
		vocab,
		Collaborators{
			Generator: env.gen,
			Vision:    env.vision,
			Severity:  env.severity,
			Retriever: env.retr,
		},
		Options{ImageConfidenceThreshold: 0.5},
	)
	return env
}

// --- Workflow routing ---

func TestGreetingWorkflow(t *testing.T) {
	env := newTestOrchestrator(t)
	res := env.orch.Run(context.Background(), RunInput{Text: "Chào bạn"}, nil)

	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected routine, got %s", res.TriageLevel)
	}
	if res.Narrative == "" {
		t.Errorf("expected a conversational narrative")
	}
	if env.vision.calls != 0 || env.severity.calls != 0 {
		t.Errorf("greeting workflow must not call clinical capabilities")
	}
	if res.RedFlags == nil || res.SuspectedConditions == nil {
		t.Errorf("slices must never be nil")
	}
}

func TestOutOfScopeWorkflow(t *testing.T) {
	env := newTestOrchestrator(t)
	res := env.orch.Run(context.Background(), RunInput{Text: "Bảo hiểm có chi trả không?"}, nil)

	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected routine, got %s", res.TriageLevel)
	}
	if env.severity.calls != 0 {
		t.Errorf("out-of-scope workflow must not run the severity engine")
	}
}

func TestDiseaseInfoWorkflow(t *testing.T) {
	env := newTestOrchestrator(t)
	env.retr.entry = &guidelines.DiseaseEntry{Name: "trứng cá", Summary: "Bệnh da phổ biến."}
	env.retr.strategy = "exact"

	res := env.orch.Run(context.Background(), RunInput{Text: "Trứng cá là gì?"}, nil)

	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected routine, got %s", res.TriageLevel)
	}
	if len(res.SuspectedConditions) != 0 {
		t.Errorf("educational workflow must not produce suspected conditions")
	}
	if env.retr.lookupCalls != 1 {
		t.Errorf("expected one knowledge lookup, got %d", env.retr.lookupCalls)
	}
	if env.retr.queryCalls != 0 {
		t.Errorf("structured hit should skip the semantic fallback")
	}
	if env.vision.calls != 0 || env.severity.calls != 0 {
		t.Errorf("educational workflow must not call clinical capabilities")
	}
}

func TestDiseaseInfoVectorFallback(t *testing.T) {
	env := newTestOrchestrator(t)
	env.retr.entry = nil
	env.retr.snippets = []types.GuidelineSnippet{{Content: "nội dung", Score: 0.6}}

	res := env.orch.Run(context.Background(), RunInput{Text: "Hắc lào chữa thế nào?"}, nil)

	if env.retr.queryCalls != 1 {
		t.Errorf("structured miss should fall back to semantic retrieval")
	}
	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected routine, got %s", res.TriageLevel)
	}
}

// --- Full triage workflow ---

func TestTriageWithImage(t *testing.T) {
	env := newTestOrchestrator(t)
	res := env.orch.Run(context.Background(), RunInput{
		Text:     "Da tay nổi mẩn đỏ ngứa",
		ImageURL: "https://example.com/photo.jpg",
	}, nil)

	if env.vision.calls != 1 {
		t.Fatalf("expected one image analysis call, got %d", env.vision.calls)
	}
	if env.vision.model != "derm_cv" {
		t.Errorf("expected dermatology model, got %s", env.vision.model)
	}
	if len(res.SuspectedConditions) != 1 {
		t.Fatalf("expected exactly one suspected condition, got %d", len(res.SuspectedConditions))
	}
	sc := res.SuspectedConditions[0]
	if sc.Source != types.SourceCVModel || sc.Name != "viêm da cơ địa" {
		t.Errorf("expected the surviving cv prediction, got %+v", sc)
	}
	if res.CVFindings.ModelUsed != "derm_cv" {
		t.Errorf("expected cv_findings.model_used derm_cv, got %s", res.CVFindings.ModelUsed)
	}
	// The below-threshold prediction must not leak into the guideline query.
	if len(env.retr.searchQuery.SuspectedConditions) != 1 ||
		env.retr.searchQuery.SuspectedConditions[0] != "viêm da cơ địa" {
		t.Errorf("guideline query should be seeded with only the top surviving condition, got %v",
			env.retr.searchQuery.SuspectedConditions)
	}
	if env.severity.input.CVResult == nil || env.severity.input.CVResult.Name != "viêm da cơ địa" {
		t.Errorf("severity engine should see the top surviving prediction")
	}
}

func TestTriageAllPredictionsBelowThreshold(t *testing.T) {
	env := newTestOrchestrator(t)
	env.vision.analysis = &types.CVAnalysis{
		TopConditions: []types.CVPrediction{
			{Name: "nấm da", Prob: 0.4},
			{Name: "chàm", Prob: 0.3},
		},
	}

	res := env.orch.Run(context.Background(), RunInput{
		Text:     "Da tay nổi mẩn đỏ ngứa",
		ImageURL: "https://example.com/photo.jpg",
	}, nil)

	if len(res.SuspectedConditions) != 0 {
		t.Errorf("dropped predictions must not appear as suspected conditions, got %v", res.SuspectedConditions)
	}
	if res.CVFindings.ModelUsed != "derm_cv" {
		t.Errorf("model attempted should still be reported, got %s", res.CVFindings.ModelUsed)
	}
	if env.severity.input.CVResult != nil {
		t.Errorf("severity engine must not see dropped predictions")
	}
	if len(env.retr.searchQuery.SuspectedConditions) != 0 {
		t.Errorf("guideline query must not be seeded from dropped predictions")
	}
}

func TestTriageImageAnalysisFailureProceedsTextOnly(t *testing.T) {
	env := newTestOrchestrator(t)
	env.vision.err = errors.New("model unavailable")

	res := env.orch.Run(context.Background(), RunInput{
		Text:     "Da tay nổi mẩn đỏ ngứa",
		ImageURL: "https://example.com/photo.jpg",
	}, nil)

	if env.severity.calls != 1 {
		t.Errorf("workflow should continue text-only after an image failure")
	}
	if env.severity.input.CVResult != nil {
		t.Errorf("severity engine should see no image evidence after a failure")
	}
	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected the severity verdict, got %s", res.TriageLevel)
	}
}

func TestTriageSeverityFailureReturnsSafeDefault(t *testing.T) {
	env := newTestOrchestrator(t)
	env.severity.eval = nil
	env.severity.err = errors.New("rule engine down")

	res := env.orch.Run(context.Background(), RunInput{Text: "Da tay nổi mẩn đỏ ngứa"}, nil)

	if res.TriageLevel != types.LevelUrgent {
		t.Errorf("expected safe-default urgent, got %s", res.TriageLevel)
	}
	if len(res.RedFlags) == 0 {
		t.Errorf("safe default must carry a red flag about the failed analysis")
	}
	if res.Recommendation.Action == "" || res.Recommendation.Timeframe == "" {
		t.Errorf("safe default recommendation must be fully populated")
	}
}

func TestEducationalEscapeHatch(t *testing.T) {
	env := newTestOrchestrator(t)
	// Symptom keywords force triage classification, but the "là gì" phrasing
	// re-routes the text-only run to the educational workflow.
	res := env.orch.Run(context.Background(), RunInput{Text: "Tôi bị đau đầu, đau đầu kéo dài là gì?"}, nil)

	if env.severity.calls != 0 {
		t.Errorf("escape hatch should skip the severity engine")
	}
	if env.retr.lookupCalls != 1 {
		t.Errorf("escape hatch should run the knowledge lookup")
	}
	if res.TriageLevel != types.LevelRoutine {
		t.Errorf("expected routine from educational workflow, got %s", res.TriageLevel)
	}
}

func TestVisionModelSelection(t *testing.T) {
	cases := []struct {
		text  string
		model string
	}{
		{"Mắt phải bị đỏ và ngứa", "eye_cv"},
		{"Vết thương ở tay bị sưng", "wound_cv"},
		{"Da tay nổi mẩn đỏ ngứa", "derm_cv"},
	}
	for _, tc := range cases {
		env := newTestOrchestrator(t)
		env.orch.Run(context.Background(), RunInput{
			Text:     tc.text,
			ImageURL: "https://example.com/photo.jpg",
		}, nil)
		if env.vision.model != tc.model {
			t.Errorf("text %q: expected model %s, got %s", tc.text, tc.model, env.vision.model)
		}
	}
}

func TestGenerationFailureFallsBackToLiterals(t *testing.T) {
	env := newTestOrchestrator(t)
	env.gen.err = errors.New("llm down")

	res := env.orch.Run(context.Background(), RunInput{Text: "Da tay nổi mẩn đỏ ngứa"}, nil)

	if res.Recommendation.Action == "" || res.Recommendation.Timeframe == "" ||
		res.Recommendation.HomeCareAdvice == "" || len(res.Recommendation.WarningSigns) == 0 {
		t.Errorf("recommendation fields must never be empty: %+v", res.Recommendation)
	}
	if res.SymptomSummary == "" {
		t.Errorf("symptom summary must never be empty")
	}
}

func TestSectionMarkersExtracted(t *testing.T) {
	env := newTestOrchestrator(t)
	env.gen.reply = strings.Join([]string{
		"SUMMARY: Mẩn đỏ và ngứa ở da tay",
		"NARRATIVE: Tình trạng này thường gặp và có thể theo dõi tại nhà.",
		"ACTION: Giữ vùng da sạch và khô",
		"TIMEFRAME: trong vòng 3 ngày",
		"HOME_CARE: Tránh gãi, dùng kem dưỡng ẩm",
		"WARNING_SIGNS:",
		"- Lan rộng nhanh",
		"- Sốt kèm theo",
	}, "\n")

	res := env.orch.Run(context.Background(), RunInput{Text: "Da tay nổi mẩn đỏ ngứa"}, nil)

	if res.SymptomSummary != "Mẩn đỏ và ngứa ở da tay" {
		t.Errorf("summary not extracted: %q", res.SymptomSummary)
	}
	if res.Recommendation.Action != "Giữ vùng da sạch và khô" {
		t.Errorf("action not extracted: %q", res.Recommendation.Action)
	}
	if res.Recommendation.Timeframe != "trong vòng 3 ngày" {
		t.Errorf("timeframe not extracted: %q", res.Recommendation.Timeframe)
	}
	if len(res.Recommendation.WarningSigns) != 2 {
		t.Errorf("warning signs not extracted: %v", res.Recommendation.WarningSigns)
	}
	if res.Narrative == "" {
		t.Errorf("narrative not extracted")
	}
}

func TestParseSectionsIgnoresUnmarkedText(t *testing.T) {
	sec := parseSections("Hôm nay trời đẹp, không có nhãn nào cả.")
	if sec.Action != "" || sec.Summary != "" || len(sec.WarningSigns) != 0 {
		t.Errorf("unmarked text should produce empty sections: %+v", sec)
	}
}
