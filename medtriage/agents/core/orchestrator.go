// Package core runs the triage workflows: intent routing, capability calls,
// fallback handling and result assembly. Nothing in here ever propagates a
// failure to the caller; the worst case is the conservative safe-default
// result.
package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"medtriage/medtriage/services/guidelines"
	"medtriage/medtriage/services/llm"
	"medtriage/medtriage/services/severity"
	"medtriage/medtriage/services/vision"
	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

// Collaborators are the external capabilities a workflow may call.
type Collaborators struct {
	Generator llm.Generator
	Vision    vision.Analyzer
	Severity  severity.Engine
	Retriever guidelines.Retriever
}

// Options carries the workflow heuristics.
type Options struct {
	// Predictions below this confidence are dropped before any downstream
	// reasoning sees them.
	ImageConfidenceThreshold float64
}

// RunInput is one orchestrator invocation.
type RunInput struct {
	Text          string
	ImageURL      string
	UserID        string
	SessionID     string
	ContextWindow string
}

type Orchestrator struct {
	classifier intent.Classifier
	vocab      *intent.Vocabulary
	deps       Collaborators
	opts       Options
}

func NewOrchestrator(classifier intent.Classifier, vocab *intent.Vocabulary, deps Collaborators, opts Options) *Orchestrator {
	if opts.ImageConfidenceThreshold <= 0 {
		opts.ImageConfidenceThreshold = 0.5
	}
	return &Orchestrator{
		classifier: classifier,
		vocab:      vocab,
		deps:       deps,
		opts:       opts,
	}
}

// Run executes the workflow selected by intent classification and returns a
// structured result. It never panics outward: any internal failure degrades
// to the safe default.
func (o *Orchestrator) Run(ctx context.Context, in RunInput, obs Observer) (res types.TriageResult) {
	if obs == nil {
		obs = NopObserver{}
	}
	finished := false
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorLogger.Error("workflow failure", zap.Any("recover", r),
				zap.String("session_id", in.SessionID))
			res = SafeDefaultResult()
			if !finished {
				obs.OnFinish(res)
			}
		}
	}()

	it := o.classifier.Classify(in.Text, in.ImageURL != "")
	obs.OnThought(fmt.Sprintf("Phân loại yêu cầu: %s (độ tin cậy %.2f)", it.Type, it.Confidence))

	switch it.Type {
	case types.IntentCasualGreeting:
		res = o.runConversational(ctx, in, obs, greetingPrompt(in), greetingFallback)
	case types.IntentOutOfScope:
		res = o.runConversational(ctx, in, obs, refusalPrompt(in), refusalFallback)
	case types.IntentDiseaseInfo:
		res = o.runDiseaseInfo(ctx, in, it, obs)
	case types.IntentTriage:
		if in.ImageURL == "" && o.vocab.HasEducationalMarker(in.Text) {
			// Educational phrasing inside a symptom-flavored message: answer
			// it as a lookup instead of forcing a triage verdict.
			obs.OnThought("Câu hỏi mang tính tra cứu, chuyển sang luồng kiến thức bệnh")
			res = o.runDiseaseInfo(ctx, in, it, obs)
		} else {
			res = o.runTriage(ctx, in, it, obs)
		}
	default:
		res = o.runConversational(ctx, in, obs, greetingPrompt(in), greetingFallback)
	}

	res.Normalize()
	obs.OnFinish(res)
	finished = true
	return res
}

// runConversational is the lightweight single-call workflow shared by the
// greeting and out-of-scope paths.
func (o *Orchestrator) runConversational(ctx context.Context, in RunInput, obs Observer, prompt, fallback string) types.TriageResult {
	obs.OnActionStart("generate_reply", "Soạn câu trả lời")
	reply, err := o.deps.Generator.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			obs.OnActionError("generate_reply", err)
		} else {
			obs.OnActionEnd("generate_reply", nil)
		}
		reply = fallback
	} else {
		obs.OnActionEnd("generate_reply", reply)
	}

	res := types.TriageResult{
		TriageLevel:    types.LevelRoutine,
		SymptomSummary: "Trò chuyện, không có triệu chứng cần phân tích",
		CVFindings:     types.CVFindings{ModelUsed: "none"},
		Recommendation: defaultRecommendation(types.LevelRoutine),
		Narrative:      reply,
	}
	res.Normalize()
	return res
}

// runDiseaseInfo answers educational questions: structured lookup first,
// semantic retrieval as fallback, then a narrative constrained to the
// retrieved material.
func (o *Orchestrator) runDiseaseInfo(ctx context.Context, in RunInput, it types.Intent, obs Observer) types.TriageResult {
	name := it.Entities.Disease
	if name == "" {
		name = strings.TrimSpace(in.Text)
	}

	obs.OnActionStart("knowledge_lookup", "Tra cứu kiến thức bệnh")
	entry, strategy, err := o.deps.Retriever.Lookup(ctx, name)
	var material []string
	if entry != nil {
		obs.OnActionEnd("knowledge_lookup", entry)
		obs.OnThought(fmt.Sprintf("Tìm thấy %q qua chiến lược %s", entry.Name, strategy))
		material = materialFromEntry(entry, it.Entities.InfoDomain)
	} else {
		if err != nil {
			obs.OnActionError("knowledge_lookup", err)
		} else {
			obs.OnActionEnd("knowledge_lookup", nil)
		}
		obs.OnActionStart("semantic_search", "Tìm kiếm ngữ nghĩa")
		snippets, qerr := o.deps.Retriever.Query(ctx, in.Text, it.Entities.InfoDomain)
		if qerr != nil {
			obs.OnActionError("semantic_search", qerr)
		} else {
			obs.OnActionEnd("semantic_search", snippets)
			for _, s := range snippets {
				material = append(material, s.Content)
			}
		}
	}

	obs.OnActionStart("generate_reply", "Soạn nội dung giải thích")
	narrative, gerr := o.deps.Generator.Generate(ctx, educationalPrompt(in, name, material))
	if gerr != nil || strings.TrimSpace(narrative) == "" {
		if gerr != nil {
			obs.OnActionError("generate_reply", gerr)
		} else {
			obs.OnActionEnd("generate_reply", nil)
		}
		narrative = educationalFallback(name, material)
	} else {
		obs.OnActionEnd("generate_reply", narrative)
	}

	res := types.TriageResult{
		TriageLevel:    types.LevelRoutine,
		SymptomSummary: fmt.Sprintf("Câu hỏi kiến thức: %s", name),
		CVFindings:     types.CVFindings{ModelUsed: "none"},
		Recommendation: defaultRecommendation(types.LevelRoutine),
		Narrative:      narrative,
	}
	res.Normalize()
	return res
}

// runTriage is the full workflow: optional image analysis with confidence
// filtering, severity rules, guideline retrieval seeded with at most the top
// surviving image condition, and narrative synthesis.
func (o *Orchestrator) runTriage(ctx context.Context, in RunInput, it types.Intent, obs Observer) types.TriageResult {
	var analysis *types.CVAnalysis
	var top *types.CVPrediction
	model := "none"

	if in.ImageURL != "" {
		model = o.pickVisionModel(in.Text)
		obs.OnActionStart("image_analysis", "Phân tích hình ảnh ("+model+")")
		a, err := o.deps.Vision.Analyze(ctx, model, in.ImageURL)
		if err != nil {
			// Image analysis failure: proceed text-only.
			obs.OnActionError("image_analysis", err)
			logging.ErrorLogger.Error("image analysis failed", zap.Error(err), zap.String("model", model))
		} else {
			analysis = a
			obs.OnActionEnd("image_analysis", a)
			surviving := filterPredictions(a.TopConditions, o.opts.ImageConfidenceThreshold)
			obs.OnThought(fmt.Sprintf("%d/%d dự đoán vượt ngưỡng tin cậy %.2f",
				len(surviving), len(a.TopConditions), o.opts.ImageConfidenceThreshold))
			top = highestConfidence(surviving)
		}
	}

	obs.OnActionStart("severity_rules", "Đánh giá mức độ nghiêm trọng")
	eval, err := o.deps.Severity.Evaluate(ctx, severity.EvalInput{
		MainComplaint: in.Text,
		Context:       in.ContextWindow,
		CVResult:      top,
	})
	if err != nil {
		obs.OnActionError("severity_rules", err)
		logging.ErrorLogger.Error("severity engine unavailable", zap.Error(err))
		return SafeDefaultResult()
	}
	obs.OnActionEnd("severity_rules", eval)
	if eval.Reasoning != "" {
		obs.OnThought(eval.Reasoning)
	}

	query := guidelines.GuidelineQuery{
		Symptoms:    it.Entities.Symptoms,
		TriageLevel: eval.Triage,
	}
	if top != nil {
		query.SuspectedConditions = []string{top.Name}
	}
	obs.OnActionStart("guideline_search", "Tra cứu hướng dẫn y khoa")
	snippets, gerr := o.deps.Retriever.Search(ctx, query)
	if gerr != nil {
		// Retrieval failure: proceed with an empty guideline set.
		obs.OnActionError("guideline_search", gerr)
		snippets = nil
	} else {
		obs.OnActionEnd("guideline_search", snippets)
	}

	obs.OnActionStart("generate_reply", "Tổng hợp kết luận")
	generated, terr := o.deps.Generator.Generate(ctx, triagePrompt(in, it, eval, top, snippets))
	if terr != nil {
		obs.OnActionError("generate_reply", terr)
		generated = ""
	} else {
		obs.OnActionEnd("generate_reply", generated)
	}
	sec := parseSections(generated)

	level := eval.Triage
	if level == "" {
		level = types.LevelUrgent
	}

	res := types.TriageResult{
		TriageLevel: level,
		RedFlags:    eval.RedFlags,
		CVFindings:  types.CVFindings{ModelUsed: model, RawOutput: analysis},
		Narrative:   sec.Narrative,
	}

	res.SymptomSummary = sec.Summary
	if res.SymptomSummary == "" {
		if len(it.Entities.Symptoms) > 0 {
			res.SymptomSummary = strings.Join(it.Entities.Symptoms, ", ")
		} else {
			res.SymptomSummary = strings.TrimSpace(in.Text)
		}
	}

	if top != nil {
		res.SuspectedConditions = append(res.SuspectedConditions, types.SuspectedCondition{
			Name:       top.Name,
			Source:     types.SourceCVModel,
			Confidence: bucketConfidence(top.Prob),
		})
	}
	if d := it.Entities.Disease; d != "" && (top == nil || !strings.EqualFold(d, top.Name)) {
		res.SuspectedConditions = append(res.SuspectedConditions, types.SuspectedCondition{
			Name:       d,
			Source:     types.SourceUserReport,
			Confidence: types.ConfidenceMedium,
		})
	}

	res.Recommendation = sec.recommendation(level)
	res.Normalize()
	return res
}

// pickVisionModel chooses an image model by keyword heuristic over the text:
// eye and wound mentions route to their specialist models, everything else
// goes to dermatology.
func (o *Orchestrator) pickVisionModel(text string) string {
	lower := strings.ToLower(text)
	if o.vocab.HasKeyword(lower, o.vocab.EyeKeywords) {
		return vision.ModelEye
	}
	if o.vocab.HasKeyword(lower, o.vocab.WoundKeywords) {
		return vision.ModelWound
	}
	return vision.ModelDerm
}

func filterPredictions(preds []types.CVPrediction, threshold float64) []types.CVPrediction {
	kept := make([]types.CVPrediction, 0, len(preds))
	for _, p := range preds {
		if p.Prob >= threshold {
			kept = append(kept, p)
		}
	}
	return kept
}

func highestConfidence(preds []types.CVPrediction) *types.CVPrediction {
	var best *types.CVPrediction
	for i := range preds {
		if best == nil || preds[i].Prob > best.Prob {
			best = &preds[i]
		}
	}
	return best
}

func bucketConfidence(prob float64) types.ConditionConfidence {
	switch {
	case prob >= 0.8:
		return types.ConfidenceHigh
	case prob >= 0.65:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

func materialFromEntry(entry *guidelines.DiseaseEntry, infoDomain string) []string {
	material := []string{entry.Summary}
	if infoDomain != "" {
		if section, ok := entry.Sections[infoDomain]; ok {
			material = append(material, section)
		}
	}
	return material
}

// SafeDefaultResult is the conservative verdict returned whenever a workflow
// cannot complete: urgent, with an explicit flag that automated analysis was
// not possible.
func SafeDefaultResult() types.TriageResult {
	res := types.TriageResult{
		TriageLevel:    types.LevelUrgent,
		SymptomSummary: "Không thể phân tích tự động",
		RedFlags:       []string{"Hệ thống không thể phân tích tự động yêu cầu này"},
		CVFindings:     types.CVFindings{ModelUsed: "none"},
		Recommendation: types.Recommendation{
			Action:         "Đến cơ sở y tế để được thăm khám trực tiếp",
			Timeframe:      "trong vòng 24 giờ",
			HomeCareAdvice: "Theo dõi sát triệu chứng trong thời gian chờ khám",
			WarningSigns:   []string{"Triệu chứng nặng lên nhanh", "Khó thở", "Đau dữ dội"},
		},
	}
	res.Normalize()
	return res
}
