// Package mock provides a scripted test double for the stt package.
package mock

import (
	"sync"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
)

// Step describes the recognizer output after one AcceptFrame call.
type Step struct {
	// Partial becomes the current partial hypothesis after this frame.
	Partial string

	// Final, when non-empty, is committed as the final result and AcceptFrame
	// reports isFinal for this frame.
	Final string
}

// Recognizer replays a scripted sequence of [Step] values, one per accepted
// frame. Frames beyond the script leave the state unchanged.
type Recognizer struct {
	mu sync.Mutex

	// Script is consumed one entry per AcceptFrame call.
	Script []Step

	// Ready is reported from IsReady. Construct with NewReady for the common
	// case.
	Ready bool

	// Accepted holds a copy of every frame payload passed to AcceptFrame,
	// in delivery order.
	Accepted [][]byte

	// ResetCalls counts Reset invocations.
	ResetCalls int

	step    int
	partial string
	final   string
}

var _ stt.Recognizer = (*Recognizer)(nil)

// NewReady returns a ready Recognizer with the given script.
func NewReady(script ...Step) *Recognizer {
	return &Recognizer{Script: script, Ready: true}
}

// AcceptFrame implements [stt.Recognizer].
func (r *Recognizer) AcceptFrame(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Accepted = append(r.Accepted, append([]byte(nil), data...))
	if r.step >= len(r.Script) {
		return false
	}
	s := r.Script[r.step]
	r.step++
	if s.Partial != "" {
		r.partial = s.Partial
	}
	if s.Final != "" {
		r.final = s.Final
		return true
	}
	return false
}

// PartialText implements [stt.Recognizer].
func (r *Recognizer) PartialText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// FinalText implements [stt.Recognizer].
func (r *Recognizer) FinalText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// IsReady implements [stt.Recognizer].
func (r *Recognizer) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Ready
}

// Reset implements [stt.Recognizer]. The script position is rewound so the
// same recognizer can serve repeated sessions in tests.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResetCalls++
	r.step = 0
	r.partial = ""
	r.final = ""
}
