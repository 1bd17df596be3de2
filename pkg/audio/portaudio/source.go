// Package portaudio provides [audio.Source] and [audio.Playback]
// implementations backed by the PortAudio library.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
)

// frameChanBuf is the depth of the internal frame channel between the
// PortAudio read goroutine and ReadFrame callers. When full, the oldest frame
// is dropped so capture never blocks the device callback.
const frameChanBuf = 32

// Source captures mono 16-bit PCM frames from an input device.
//
// A Source may be opened and closed repeatedly; each Open starts a fresh
// stream and resets the frame sequence counter.
type Source struct {
	sampleRate int
	deviceHint string

	mu     sync.Mutex
	stream *portaudio.Stream
	frames chan audio.Frame
	done   chan struct{}
	open   bool
}

// Option configures a Source.
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz.
// Defaults to [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithDeviceHint selects the input device whose name contains hint
// (case-insensitive). When empty, the default input device is used.
func WithDeviceHint(hint string) Option {
	return func(s *Source) { s.deviceHint = hint }
}

// NewSource creates a PortAudio-backed Source. The device is not acquired
// until [Source.Open] is called.
func NewSource(opts ...Option) *Source {
	s := &Source{sampleRate: audio.DefaultSampleRate}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open initialises PortAudio, picks an input device, and starts the capture
// stream. It returns an error if no usable input device exists.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.pickDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	buf := make([]int16, audio.FrameSamples)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: audio.FrameSamples,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: start stream on %q: %w", dev.Name, err)
	}

	s.stream = stream
	s.frames = make(chan audio.Frame, frameChanBuf)
	s.done = make(chan struct{})
	s.open = true

	slog.Info("audio capture started", "device", dev.Name, "sample_rate", s.sampleRate)

	go s.readLoop(stream, buf, s.frames, s.done)
	return nil
}

// readLoop pulls buffers from the device and converts them to frames until the
// stream errors or the source is closed.
// The sequence counter is loop-local: a stale loop from a previous Open/Close
// cycle never touches the counter of the current one.
func (s *Source) readLoop(stream *portaudio.Stream, buf []int16, frames chan<- audio.Frame, done <-chan struct{}) {
	defer close(frames)
	var seq uint64
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "error", err)
			return
		}

		data := make([]byte, len(buf)*audio.BytesPerSample)
		for i, sample := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
		}

		frame := audio.Frame{Data: data, Seq: seq, Captured: time.Now()}
		seq++

		select {
		case frames <- frame:
		default:
			// Channel full: drop the oldest frame to keep the device serviced.
			select {
			case <-frames:
			default:
			}
			frames <- frame
			slog.Debug("frame buffer full, dropped oldest frame", "seq", frame.Seq)
		}
	}
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	frames := s.frames
	open := s.open
	s.mu.Unlock()

	if !open || frames == nil {
		return audio.Frame{}, audio.ErrStreamEnded
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-frames:
		if !ok {
			return audio.Frame{}, audio.ErrStreamEnded
		}
		return f, nil
	case <-timer.C:
		return audio.Frame{}, audio.ErrReadTimeout
	}
}

// Close stops the stream and releases the device. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	close(s.done)

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	s.stream = nil

	if len(errs) > 0 {
		return fmt.Errorf("portaudio: close: %v", errs)
	}
	return nil
}

// pickDevice selects an input device matching the hint, or the default input
// device when no hint is configured. Must be called with s.mu held.
func (s *Source) pickDevice() (*portaudio.DeviceInfo, error) {
	if s.deviceHint == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	hint := strings.ToLower(s.deviceHint)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), hint) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", s.deviceHint)
}
