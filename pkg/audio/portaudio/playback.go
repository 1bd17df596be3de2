package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
)

// playbackChunk is the number of samples written to the output stream per
// Write call.
const playbackChunk = 2048

// Player writes mono 16-bit PCM to the default output device. It implements
// [audio.Playback].
//
// The output stream is opened lazily on the first Play call and kept open
// until Close, so consecutive utterances do not pay the device-open cost.
type Player struct {
	sampleRate int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// NewPlayer creates a Player for the given sample rate. Zero or negative
// rates fall back to [audio.DefaultSampleRate].
func NewPlayer(sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Player{sampleRate: sampleRate}
}

// Play implements [audio.Playback]. It blocks until the full buffer has been
// handed to the output device.
func (p *Player) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("portaudio: player closed")
	}
	if err := p.ensureStream(); err != nil {
		return err
	}

	samples := len(pcm) / audio.BytesPerSample
	for off := 0; off < samples; off += playbackChunk {
		n := min(playbackChunk, samples-off)
		for i := 0; i < n; i++ {
			p.buf[i] = int16(binary.LittleEndian.Uint16(pcm[(off+i)*2:]))
		}
		// Zero-pad the tail chunk so the stream always sees full buffers.
		for i := n; i < playbackChunk; i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// ensureStream opens the output stream on first use. Must be called with
// p.mu held.
func (p *Player) ensureStream() error {
	if p.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	p.buf = make([]int16, playbackChunk)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), playbackChunk, p.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	p.stream = stream
	return nil
}

// Close stops the output stream and releases the device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.stream == nil {
		return nil
	}
	_ = p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
