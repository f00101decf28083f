package engine

import (
	"log/slog"
	"sync"

	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/vm"
)

// RecordingRenderer keeps every draw request in order. It is the renderer of
// headless runs; two runs with the same inputs record the same trace.
type RecordingRenderer struct {
	mu    sync.Mutex
	draws []vm.DrawRequest
	log   *slog.Logger
}

func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{log: logger.GetLogger()}
}

func (r *RecordingRenderer) Draw(req vm.DrawRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = append(r.draws, req)
	r.log.Debug("draw", "kind", req.Kind.String(), "page", req.Page, "x", req.X, "y", req.Y)
}

// Draws returns a copy of the recorded requests.
func (r *RecordingRenderer) Draws() []vm.DrawRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vm.DrawRequest(nil), r.draws...)
}

// Count returns the number of recorded requests of kind k.
func (r *RecordingRenderer) Count(k vm.DrawKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.draws {
		if d.Kind == k {
			n++
		}
	}
	return n
}

func (r *RecordingRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = nil
}

// RecordingMixer keeps every audio request in order.
type RecordingMixer struct {
	mu       sync.Mutex
	requests []vm.AudioRequest
	log      *slog.Logger
}

func NewRecordingMixer() *RecordingMixer {
	return &RecordingMixer{log: logger.GetLogger()}
}

func (m *RecordingMixer) Play(req vm.AudioRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.log.Debug("audio", "kind", req.Kind.String(), "resource", req.ResourceID, "channel", req.Channel)
}

// Requests returns a copy of the recorded requests.
func (m *RecordingMixer) Requests() []vm.AudioRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vm.AudioRequest(nil), m.requests...)
}

func (m *RecordingMixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// ScriptedInput replays one input state per frame. Once the script is
// exhausted it reports a neutral state.
type ScriptedInput struct {
	mu     sync.Mutex
	states []vm.InputState
	pos    int
}

func NewScriptedInput(states ...vm.InputState) *ScriptedInput {
	return &ScriptedInput{states: states}
}

func (s *ScriptedInput) Poll() vm.InputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.states) {
		return vm.InputState{}
	}
	in := s.states[s.pos]
	s.pos++
	return in
}

// Remaining returns the number of states not polled yet.
func (s *ScriptedInput) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states) - s.pos
}
