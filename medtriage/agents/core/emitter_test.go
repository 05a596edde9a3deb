package core

import (
	"errors"
	"sync"
	"testing"

	"medtriage/medtriage/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.StepEvent
	err    error
}

func (s *recordingSink) Send(sessionID string, ev types.StepEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) recorded() []types.StepEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.StepEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestEmitterEventOrderAndSession(t *testing.T) {
	sink := &recordingSink{}
	em := NewStepEmitter("sess-1", sink)

	em.OnThought("bắt đầu")
	em.OnActionStart("severity_rules", "Đánh giá mức độ nghiêm trọng")
	em.OnActionEnd("severity_rules", nil)
	em.OnFinish(types.TriageResult{TriageLevel: types.LevelRoutine})

	events := sink.recorded()
	want := []types.StepEventType{
		types.StepThought,
		types.StepActionStart,
		types.StepActionComplete,
		types.StepFinalAnswer,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
		if ev.SessionID != "sess-1" {
			t.Errorf("event %d: session not stamped: %q", i, ev.SessionID)
		}
	}
	if events[2].DisplayName != "Đánh giá mức độ nghiêm trọng" {
		t.Errorf("completion should carry the display name from the start hook")
	}
	if events[2].DurationMs < 0 {
		t.Errorf("duration must be non-negative, got %d", events[2].DurationMs)
	}
}

func TestEmitterObservationForImagePredictions(t *testing.T) {
	sink := &recordingSink{}
	em := NewStepEmitter("sess-2", sink)

	em.OnActionStart("image_analysis", "Phân tích hình ảnh")
	em.OnActionEnd("image_analysis", &types.CVAnalysis{
		TopConditions: []types.CVPrediction{{Name: "nấm da", Prob: 0.7}},
	})

	events := sink.recorded()
	if len(events) != 3 {
		t.Fatalf("expected start, complete and observation, got %d events", len(events))
	}
	if events[2].Type != types.StepObservation {
		t.Errorf("expected observation after image completion, got %s", events[2].Type)
	}
	preds, ok := events[2].Payload.([]types.CVPrediction)
	if !ok || len(preds) != 1 {
		t.Errorf("observation should carry the predictions, got %+v", events[2].Payload)
	}
}

func TestEmitterNoObservationForEmptyAnalysis(t *testing.T) {
	sink := &recordingSink{}
	em := NewStepEmitter("sess-3", sink)

	em.OnActionStart("image_analysis", "Phân tích hình ảnh")
	em.OnActionEnd("image_analysis", &types.CVAnalysis{})

	if n := len(sink.recorded()); n != 2 {
		t.Errorf("empty analysis should not produce an observation, got %d events", n)
	}
}

func TestEmitterActionErrorCarriesMessage(t *testing.T) {
	sink := &recordingSink{}
	em := NewStepEmitter("sess-4", sink)

	em.OnActionStart("image_analysis", "Phân tích hình ảnh")
	em.OnActionError("image_analysis", errors.New("model unavailable"))

	events := sink.recorded()
	if events[1].Type != types.StepActionError {
		t.Fatalf("expected action error event, got %s", events[1].Type)
	}
	if events[1].Message != "model unavailable" {
		t.Errorf("error message not carried: %q", events[1].Message)
	}
	if events[1].DisplayName != "Phân tích hình ảnh" {
		t.Errorf("error should carry the display name from the start hook")
	}
}

func TestEmitterIgnoresSinkFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("client gone")}
	em := NewStepEmitter("sess-5", sink)

	// Must not panic or propagate anything.
	em.OnThought("suy nghĩ")
	em.OnFinish(types.TriageResult{})

	if n := len(sink.recorded()); n != 2 {
		t.Errorf("failed deliveries are still attempted, got %d", n)
	}
}
