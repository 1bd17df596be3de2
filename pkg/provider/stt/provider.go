// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A Recognizer wraps a transcription engine (a local whisper.cpp model, a
// vosk-server instance, or any compatible service) behind a frame-at-a-time
// interface. The capture session pushes PCM frames in strict capture order and
// polls for the current partial hypothesis; when the engine commits to a
// result, AcceptFrame reports final and FinalText returns the committed text.
//
// Implementations must be safe for concurrent use: AcceptFrame is called from
// the capture worker while PartialText and IsReady may be called from other
// goroutines.
package stt

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// AcceptFrame delivers one frame of 16-bit mono PCM audio in capture
	// order. It returns true when the engine has committed to a final result
	// for the utterance; the text is then available from FinalText.
	//
	// Frames delivered while the recognizer is not ready are discarded.
	AcceptFrame(data []byte) (isFinal bool)

	// PartialText returns the engine's current interim hypothesis. It may be
	// empty, and consecutive calls may return the same text.
	PartialText() string

	// FinalText returns the committed result for the current utterance, or
	// the empty string if the engine has not finalized yet.
	FinalText() string

	// IsReady reports whether the recognizer is initialised and able to
	// transcribe. A capture session with an unready recognizer records
	// silently and reports no speech at finalize.
	IsReady() bool

	// Reset clears partial and final state so the recognizer can serve a new
	// capture session.
	Reset()
}
