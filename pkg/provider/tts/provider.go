// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer wraps a speech synthesis service (a local Coqui TTS server,
// ElevenLabs, or any compatible engine) and plays the result on an
// [audio.Playback] device. Synthesis is a fire-and-forget concern of the
// dialogue layer: a failed Speak never fails the conversational turn, since
// the text reply has already been delivered.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Speak synthesises text and blocks until playback has been handed to the
	// output device. Callers are expected to bound the text length before
	// dispatching.
	Speak(ctx context.Context, text string) error

	// SetRate adjusts the speaking rate in words per minute. Values outside
	// the backend's supported range are clamped.
	SetRate(wpm int)

	// SetVoice selects the backend-specific voice identifier for subsequent
	// Speak calls.
	SetVoice(id string)
}
