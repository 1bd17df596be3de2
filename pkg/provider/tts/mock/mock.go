// Package mock provides a recording test double for the tts package.
package mock

import (
	"context"
	"sync"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

// Synthesizer records every Speak call and optionally fails.
type Synthesizer struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned from Speak.
	SpeakErr error

	// FailFirst makes only the first n Speak calls fail with SpeakErr.
	// Zero means every call fails when SpeakErr is set.
	FailFirst int

	// Spoken holds the text of every Speak call in order, including failed ones.
	Spoken []string

	// Rate and Voice hold the last values passed to SetRate / SetVoice.
	Rate  int
	Voice string

	calls int
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Speak implements [tts.Synthesizer].
func (s *Synthesizer) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.Spoken = append(s.Spoken, text)
	if s.SpeakErr != nil && (s.FailFirst == 0 || s.calls <= s.FailFirst) {
		return s.SpeakErr
	}
	return nil
}

// SetRate implements [tts.Synthesizer].
func (s *Synthesizer) SetRate(wpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rate = wpm
}

// SetVoice implements [tts.Synthesizer].
func (s *Synthesizer) SetVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Voice = id
}

// SpokenTexts returns a copy of the recorded Speak texts.
func (s *Synthesizer) SpokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Spoken...)
}
