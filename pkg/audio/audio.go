// Package audio defines the capture-side contracts of the voice pipeline:
// the [Frame] unit of audio transport, the [Source] a capture session reads
// from, and the [Playback] sink used by synthesizers.
//
// Frames are immutable once produced. The capture loop owns a frame until it
// hands it to the recognizer input; after that the frame must not be mutated.
package audio

import (
	"errors"
	"time"
)

const (
	// FrameSamples is the nominal number of 16-bit samples per frame.
	FrameSamples = 2048

	// BytesPerSample is the size of one PCM sample (16-bit signed, little endian).
	BytesPerSample = 2

	// FrameBytes is the nominal byte length of one frame's PCM payload.
	FrameBytes = FrameSamples * BytesPerSample

	// DefaultSampleRate is the pipeline-wide default capture rate in Hz.
	DefaultSampleRate = 16000
)

// ErrStreamEnded is returned by [Source.ReadFrame] when the device has no more
// audio to deliver. Callers should finalize the capture session rather than
// treat this as a failure.
var ErrStreamEnded = errors.New("audio: stream ended")

// ErrReadTimeout is returned by [Source.ReadFrame] when no frame became
// available within the requested timeout. The capture loop may retry.
var ErrReadTimeout = errors.New("audio: frame read timed out")

// Frame is a single captured chunk of raw PCM audio.
type Frame struct {
	// Data is the 16-bit signed little-endian PCM payload. Nominal length is
	// [FrameBytes]; the final frame of a stream may be shorter.
	Data []byte

	// Seq is the zero-based capture sequence number within one recording.
	Seq uint64

	// Captured is the wall-clock time the frame was read from the device.
	Captured time.Time
}

// Source is a device or stream that produces PCM frames.
//
// A Source is used by exactly one capture session at a time. Open must be
// called before ReadFrame; Close releases the device and is safe to call more
// than once.
type Source interface {
	// Open acquires the underlying device. It returns an error if the device
	// cannot be opened; the Source is then unusable until a successful retry.
	Open() error

	// ReadFrame blocks for up to timeout waiting for the next frame. It returns
	// [ErrReadTimeout] when no frame arrived in time and [ErrStreamEnded] when
	// the stream is exhausted or the source was closed.
	ReadFrame(timeout time.Duration) (Frame, error)

	// Close releases the device. Pending ReadFrame calls return [ErrStreamEnded].
	Close() error
}

// Playback plays raw PCM audio on an output device. Synthesizer adapters write
// their decoded output here.
type Playback interface {
	// Play blocks until the given 16-bit PCM buffer has been written to the
	// output device in full.
	Play(pcm []byte) error

	// Close releases the output device.
	Close() error
}
