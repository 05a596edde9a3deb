package core

import (
	"sync"
	"time"

	"medtriage/medtriage/types"
)

// Observer receives workflow lifecycle hooks. The orchestrator calls the
// hooks strictly in execution order; implementations must not block for long
// since they run on the request path.
type Observer interface {
	OnThought(text string)
	OnActionStart(tool, displayName string)
	OnActionEnd(tool string, payload interface{})
	OnActionError(tool string, err error)
	OnFinish(result types.TriageResult)
}

// NopObserver discards all hooks.
type NopObserver struct{}

func (NopObserver) OnThought(string)                {}
func (NopObserver) OnActionStart(string, string)    {}
func (NopObserver) OnActionEnd(string, interface{}) {}
func (NopObserver) OnActionError(string, error)     {}
func (NopObserver) OnFinish(types.TriageResult)     {}

// EventSink is where step events go. The stream broadcaster satisfies it.
type EventSink interface {
	Send(sessionID string, ev types.StepEvent) error
}

type actionStart struct {
	at      time.Time
	display string
}

// StepEmitter converts lifecycle hooks into StepEvents and pushes them to a
// sink, keyed to one session. Delivery failures are ignored: streaming is
// best-effort and must never affect the workflow.
type StepEmitter struct {
	sessionID string
	sink      EventSink

	mu     sync.Mutex
	starts map[string]actionStart
}

func NewStepEmitter(sessionID string, sink EventSink) *StepEmitter {
	return &StepEmitter{
		sessionID: sessionID,
		sink:      sink,
		starts:    make(map[string]actionStart),
	}
}

func (e *StepEmitter) OnThought(text string) {
	e.push(types.StepEvent{Type: types.StepThought, Thought: text})
}

func (e *StepEmitter) OnActionStart(tool, displayName string) {
	e.mu.Lock()
	e.starts[tool] = actionStart{at: time.Now(), display: displayName}
	e.mu.Unlock()

	e.push(types.StepEvent{
		Type:        types.StepActionStart,
		Tool:        tool,
		DisplayName: displayName,
	})
}

func (e *StepEmitter) OnActionEnd(tool string, payload interface{}) {
	start, display := e.takeStart(tool)

	e.push(types.StepEvent{
		Type:        types.StepActionComplete,
		Tool:        tool,
		DisplayName: display,
		DurationMs:  elapsedMs(start),
		Payload:     payload,
	})

	// Image-model results additionally surface as an observation so clients
	// can render predictions inline with the reasoning trace.
	if a, ok := payload.(*types.CVAnalysis); ok && a != nil && len(a.TopConditions) > 0 {
		e.push(types.StepEvent{
			Type:    types.StepObservation,
			Tool:    tool,
			Payload: a.TopConditions,
		})
	}
}

func (e *StepEmitter) OnActionError(tool string, err error) {
	start, display := e.takeStart(tool)

	e.push(types.StepEvent{
		Type:        types.StepActionError,
		Tool:        tool,
		DisplayName: display,
		DurationMs:  elapsedMs(start),
		Message:     err.Error(),
	})
}

func (e *StepEmitter) OnFinish(result types.TriageResult) {
	e.push(types.StepEvent{Type: types.StepFinalAnswer, Payload: result})
}

func (e *StepEmitter) takeStart(tool string) (time.Time, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.starts[tool]
	if !ok {
		return time.Time{}, ""
	}
	delete(e.starts, tool)
	return s.at, s.display
}

func elapsedMs(start time.Time) int64 {
	if start.IsZero() {
		return 0
	}
	return time.Since(start).Milliseconds()
}

func (e *StepEmitter) push(ev types.StepEvent) {
	ev.SessionID = e.sessionID
	_ = e.sink.Send(e.sessionID, ev)
}
