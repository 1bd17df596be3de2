// Package mock provides test doubles for the audio package interfaces.
//
// Source replays a scripted sequence of frames, optionally failing Open or
// ending the stream early. Player records everything played.
package mock

import (
	"sync"
	"time"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
)

// Source is a scripted implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are returned from ReadFrame in order. When exhausted, ReadFrame
	// returns [audio.ErrStreamEnded] unless BlockWhenEmpty is set.
	Frames []audio.Frame

	// OpenErr, if non-nil, is returned from Open.
	OpenErr error

	// ReadErr, if non-nil, is returned from ReadFrame after ReadErrAfter
	// frames have been delivered.
	ReadErr      error
	ReadErrAfter int

	// BlockWhenEmpty makes ReadFrame return [audio.ErrReadTimeout] instead of
	// [audio.ErrStreamEnded] once the scripted frames run out, simulating a
	// silent but still-open device.
	BlockWhenEmpty bool

	// FrameDelay is slept before each ReadFrame return, simulating the frame
	// period of a real device.
	FrameDelay time.Duration

	// OpenCalls and CloseCalls count lifecycle invocations.
	OpenCalls  int
	CloseCalls int

	next   int
	closed bool
}

var _ audio.Source = (*Source)(nil)

// FramesOf builds a scripted frame sequence from raw payloads, assigning
// sequence numbers in order.
func FramesOf(payloads ...[]byte) []audio.Frame {
	frames := make([]audio.Frame, len(payloads))
	for i, p := range payloads {
		frames[i] = audio.Frame{Data: p, Seq: uint64(i), Captured: time.Now()}
	}
	return frames
}

// Open implements [audio.Source].
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.closed = false
	return nil
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, audio.ErrStreamEnded
	}
	if s.ReadErr != nil && s.next >= s.ReadErrAfter {
		err := s.ReadErr
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	if s.next >= len(s.Frames) {
		block := s.BlockWhenEmpty
		s.mu.Unlock()
		if block {
			return audio.Frame{}, audio.ErrReadTimeout
		}
		return audio.Frame{}, audio.ErrStreamEnded
	}
	f := s.Frames[s.next]
	s.next++
	delay := s.FrameDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return f, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	return nil
}

// Player is a recording implementation of [audio.Playback].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned from Play.
	PlayErr error

	// Played holds a copy of every buffer passed to Play.
	Played [][]byte

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ audio.Playback = (*Player)(nil)

// Play implements [audio.Playback].
func (p *Player) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.Played = append(p.Played, append([]byte(nil), pcm...))
	return nil
}

// Close implements [audio.Playback].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}
