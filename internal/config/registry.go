package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for each
// capability kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stt    map[string]func(BackendEntry, AudioConfig) (stt.Recognizer, error)
	chat   map[string]func(BackendEntry) (chat.Backend, error)
	tts    map[string]func(BackendEntry, SpeechConfig) (tts.Synthesizer, error)
	source map[string]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:    make(map[string]func(BackendEntry, AudioConfig) (stt.Recognizer, error)),
		chat:   make(map[string]func(BackendEntry) (chat.Backend, error)),
		tts:    make(map[string]func(BackendEntry, SpeechConfig) (tts.Synthesizer, error)),
		source: make(map[string]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterSTT registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(BackendEntry, AudioConfig) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterChat registers a conversation backend factory under name.
func (r *Registry) RegisterChat(name string, factory func(BackendEntry) (chat.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(BackendEntry, SpeechConfig) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSource registers an audio source factory under name.
func (r *Registry) RegisterSource(name string, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// CreateSTT instantiates a recognizer using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry BackendEntry, audioCfg AudioConfig) (stt.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry, audioCfg)
}

// CreateChat instantiates a conversation backend using the factory
// registered under entry.Name.
func (r *Registry) CreateChat(entry BackendEntry) (chat.Backend, error) {
	r.mu.RLock()
	factory, ok := r.chat[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ai/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry BackendEntry, speech SpeechConfig) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry, speech)
}

// CreateSource instantiates an audio source using the factory registered
// under cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, cfg.Source)
	}
	return factory(cfg)
}
