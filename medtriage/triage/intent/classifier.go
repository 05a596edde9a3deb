// Package intent classifies raw user input into one of the fixed triage
// intents. The classifier is pure: no I/O, deterministic, safe to call
// concurrently.
package intent

import (
	"regexp"
	"strings"

	"medtriage/medtriage/types"
)

const clarificationQuestion = "Bạn có thể mô tả rõ hơn triệu chứng đang gặp không (vị trí, mức độ, kéo dài bao lâu)?"

// Classifier maps a user message (plus an image-present flag) to an Intent.
// Implementations must be side-effect free so the orchestrator can call them
// on the request hot path.
type Classifier interface {
	Classify(text string, hasImage bool) types.Intent
}

// RuleClassifier is the keyword/regex rule implementation. Rules are an
// ordered table; the first matching rule decides the intent type.
type RuleClassifier struct {
	vocab            *Vocabulary
	densityThreshold float64
	symptomPatterns  []*regexp.Regexp
	rules            []rule
}

type classifyInput struct {
	raw      string
	lower    string
	runes    int
	words    int
	hasImage bool
}

type rule struct {
	name  string
	apply func(in classifyInput) (types.Intent, bool)
}

// NewRuleClassifier builds the classifier around a vocabulary and the
// educational keyword-density threshold (0.2 unless configured otherwise).
func NewRuleClassifier(vocab *Vocabulary, densityThreshold float64) *RuleClassifier {
	c := &RuleClassifier{
		vocab:            vocab,
		densityThreshold: densityThreshold,
		symptomPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(tôi|mình|em|cháu|con)\s+bị`),
			regexp.MustCompile(`(?i)\bi\s+(have|feel|got)\b`),
			regexp.MustCompile(`(?i)\bmy\s+\p{L}+\s+(hurts|aches|itches)\b`),
		},
	}
	c.rules = []rule{
		{name: "image_implies_triage", apply: c.ruleImage},
		{name: "out_of_scope", apply: c.ruleOutOfScope},
		{name: "symptom_report", apply: c.ruleSymptoms},
		{name: "educational_query", apply: c.ruleEducational},
		{name: "greeting", apply: c.ruleGreeting},
		{name: "safety_fallback", apply: c.ruleFallback},
	}
	return c
}

func (c *RuleClassifier) Classify(text string, hasImage bool) types.Intent {
	trimmed := strings.TrimSpace(text)
	in := classifyInput{
		raw:      trimmed,
		lower:    strings.ToLower(trimmed),
		runes:    len([]rune(trimmed)),
		words:    len(strings.Fields(trimmed)),
		hasImage: hasImage,
	}

	var it types.Intent
	for _, r := range c.rules {
		if got, ok := r.apply(in); ok {
			it = got
			break
		}
	}

	c.extractEntities(in, &it)
	c.flagClarification(in, &it)
	return it
}

// RuleNames exposes the priority order of the rule table.
func (c *RuleClassifier) RuleNames() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name
	}
	return names
}

// Images always imply a clinical analysis need, unless the message is a bare
// very-short greeting attached to the picture.
func (c *RuleClassifier) ruleImage(in classifyInput) (types.Intent, bool) {
	if !in.hasImage {
		return types.Intent{}, false
	}
	if in.runes <= 10 && containsAny(in.lower, c.vocab.Greetings) {
		return types.Intent{}, false
	}
	return types.Intent{Type: types.IntentTriage, Confidence: 0.95}, true
}

func (c *RuleClassifier) ruleOutOfScope(in classifyInput) (types.Intent, bool) {
	if containsAny(in.lower, c.vocab.OutOfScope) {
		return types.Intent{Type: types.IntentOutOfScope, Confidence: 0.9}, true
	}
	return types.Intent{}, false
}

func (c *RuleClassifier) ruleSymptoms(in classifyInput) (types.Intent, bool) {
	if containsAny(in.lower, c.vocab.Symptoms) {
		return types.Intent{Type: types.IntentTriage, Confidence: 0.85}, true
	}
	for _, re := range c.symptomPatterns {
		if re.MatchString(in.raw) {
			return types.Intent{Type: types.IntentTriage, Confidence: 0.8}, true
		}
	}
	if in.runes > 15 && containsAny(in.lower, c.vocab.Pronouns) {
		return types.Intent{Type: types.IntentTriage, Confidence: 0.7}, true
	}
	return types.Intent{}, false
}

func (c *RuleClassifier) ruleEducational(in classifyInput) (types.Intent, bool) {
	if c.educationalDensity(in) > c.densityThreshold {
		return types.Intent{Type: types.IntentDiseaseInfo, Confidence: 0.8}, true
	}
	return types.Intent{}, false
}

// educationalDensity scores the text against the educational keyword set:
// hits over word count.
func (c *RuleClassifier) educationalDensity(in classifyInput) float64 {
	if in.words == 0 {
		return 0
	}
	hits := len(matchAll(in.lower, c.vocab.Educational))
	return float64(hits) / float64(in.words)
}

// A greeting is either an exact short match against the greeting set, or a
// longer phrase that is purely a greeting with no clinical terms in it.
func (c *RuleClassifier) ruleGreeting(in classifyInput) (types.Intent, bool) {
	for _, g := range c.vocab.Greetings {
		if in.lower == strings.ToLower(g) {
			return types.Intent{Type: types.IntentCasualGreeting, Confidence: 0.95}, true
		}
	}
	if containsAny(in.lower, c.vocab.Greetings) && !c.vocab.HasMedicalTerm(in.lower) {
		return types.Intent{Type: types.IntentCasualGreeting, Confidence: 0.85}, true
	}
	return types.Intent{}, false
}

// Safety-biased default: a personal report we could not parse goes to triage,
// anything else is treated as an educational query.
func (c *RuleClassifier) ruleFallback(in classifyInput) (types.Intent, bool) {
	if containsAny(in.lower, c.vocab.Pronouns) {
		return types.Intent{Type: types.IntentTriage, Confidence: 0.5}, true
	}
	return types.Intent{Type: types.IntentDiseaseInfo, Confidence: 0.5}, true
}

func (c *RuleClassifier) extractEntities(in classifyInput, it *types.Intent) {
	it.Entities = types.IntentEntities{
		Symptoms:          matchAll(in.lower, c.vocab.Symptoms),
		UrgencyIndicators: matchAll(in.lower, c.vocab.Urgency),
		Disease:           c.vocab.FindDisease(in.lower),
		InfoDomain:        c.vocab.InferInfoDomain(in.lower),
	}
}

// flagClarification marks intents that lack the entities needed to proceed,
// together with a canned follow-up question.
func (c *RuleClassifier) flagClarification(in classifyInput, it *types.Intent) {
	if it.Type != types.IntentTriage || in.hasImage {
		return
	}
	if len(it.Entities.Symptoms) == 0 && len(it.Entities.UrgencyIndicators) == 0 {
		it.NeedsClarification = true
		it.FollowUpQuestion = clarificationQuestion
	}
}
