package types

// TriageLevel is the severity verdict attached to every analysis result.
type TriageLevel string

const (
	LevelEmergency TriageLevel = "emergency"
	LevelUrgent    TriageLevel = "urgent"
	LevelRoutine   TriageLevel = "routine"
	LevelSelfCare  TriageLevel = "self_care"
)

// ConditionSource records where a suspected condition came from.
type ConditionSource string

const (
	SourceCVModel    ConditionSource = "cv_model"
	SourceGuideline  ConditionSource = "guideline"
	SourceUserReport ConditionSource = "user_report"
	SourceReasoning  ConditionSource = "reasoning"
)

// ConditionConfidence is a coarse confidence bucket.
type ConditionConfidence string

const (
	ConfidenceLow    ConditionConfidence = "low"
	ConfidenceMedium ConditionConfidence = "medium"
	ConfidenceHigh   ConditionConfidence = "high"
)

type SuspectedCondition struct {
	Name       string              `json:"name"`
	Source     ConditionSource     `json:"source"`
	Confidence ConditionConfidence `json:"confidence"`
}

// CVFindings reports which image model ran and what it returned, raw.
// ModelUsed is "none" when no image evidence was available.
type CVFindings struct {
	ModelUsed string      `json:"model_used"`
	RawOutput interface{} `json:"raw_output,omitempty"`
}

type Recommendation struct {
	Action         string   `json:"action"`
	Timeframe      string   `json:"timeframe"`
	HomeCareAdvice string   `json:"home_care_advice"`
	WarningSigns   []string `json:"warning_signs"`
}

// TriageResult is the structured verdict produced by a workflow run.
// RedFlags and SuspectedConditions may be empty but are never nil.
type TriageResult struct {
	TriageLevel         TriageLevel          `json:"triage_level"`
	SymptomSummary      string               `json:"symptom_summary"`
	RedFlags            []string             `json:"red_flags"`
	SuspectedConditions []SuspectedCondition `json:"suspected_conditions"`
	CVFindings          CVFindings           `json:"cv_findings"`
	Recommendation      Recommendation       `json:"recommendation"`
	Narrative           string               `json:"narrative,omitempty"`
}

// Normalize enforces the non-nil slice invariants before a result leaves
// the orchestrator.
func (r *TriageResult) Normalize() {
	if r.RedFlags == nil {
		r.RedFlags = []string{}
	}
	if r.SuspectedConditions == nil {
		r.SuspectedConditions = []SuspectedCondition{}
	}
	if r.Recommendation.WarningSigns == nil {
		r.Recommendation.WarningSigns = []string{}
	}
	if r.CVFindings.ModelUsed == "" {
		r.CVFindings.ModelUsed = "none"
	}
}

// IntentType classifies the purpose of a user message.
type IntentType string

const (
	IntentTriage         IntentType = "triage"
	IntentDiseaseInfo    IntentType = "disease_info"
	IntentOutOfScope     IntentType = "out_of_scope"
	IntentCasualGreeting IntentType = "casual_greeting"
	// Reserved for a future finer-grained classifier; never produced today.
	IntentSymptomInquiry IntentType = "symptom_inquiry"
	IntentGeneralHealth  IntentType = "general_health"
)

type IntentEntities struct {
	Disease           string   `json:"disease,omitempty"`
	Symptoms          []string `json:"symptoms,omitempty"`
	InfoDomain        string   `json:"info_domain,omitempty"`
	UrgencyIndicators []string `json:"urgency_indicators,omitempty"`
}

type Intent struct {
	Type               IntentType     `json:"type"`
	Confidence         float64        `json:"confidence"`
	Entities           IntentEntities `json:"entities"`
	NeedsClarification bool           `json:"needs_clarification"`
	FollowUpQuestion   string         `json:"follow_up_question,omitempty"`
}

// CVPrediction is one condition candidate from an image model.
type CVPrediction struct {
	Name string  `json:"name"`
	Prob float64 `json:"prob"`
}

type CVAnalysis struct {
	Model         string         `json:"model"`
	TopConditions []CVPrediction `json:"top_conditions"`
}

// Evaluation is the severity rule engine's verdict.
type Evaluation struct {
	Triage    TriageLevel `json:"triage"`
	RedFlags  []string    `json:"red_flags"`
	Reasoning string      `json:"reasoning"`
}

type GuidelineSnippet struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type Facility struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TriageRequest struct {
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

type TriageResponse struct {
	TriageResult
	NearestClinic *Facility `json:"nearest_clinic,omitempty"`
	SessionID     string    `json:"session_id"`
}

// For session/thread summary in the history panel.
// LastActivity: RFC3339 string.
type SessionSummary struct {
	SessionID       string `json:"session_id"`
	LastMessage     string `json:"last_message"`
	LastMessageRole string `json:"last_message_role"`
	LastActivity    string `json:"last_activity"`
}
