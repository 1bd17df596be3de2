// Package app wires all voice-talk subsystems into a running application.
//
// New builds the quota arbiter, dialogue controller, session orchestrator,
// transcript sink, and the HTTP operational surface from a loaded config.
// Run drives everything until the context is cancelled; Shutdown tears the
// subsystems down in order.
//
// For testing, inject mock backends through the [Backends] struct and use
// functional options for the rest.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/PAID-LLC/voice-talk-app/internal/capture"
	"github.com/PAID-LLC/voice-talk-app/internal/config"
	"github.com/PAID-LLC/voice-talk-app/internal/dialogue"
	"github.com/PAID-LLC/voice-talk-app/internal/health"
	"github.com/PAID-LLC/voice-talk-app/internal/observe"
	"github.com/PAID-LLC/voice-talk-app/internal/quota"
	"github.com/PAID-LLC/voice-talk-app/internal/session"
	"github.com/PAID-LLC/voice-talk-app/internal/transcript"
	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

// httpShutdownTimeout bounds graceful HTTP server shutdown during Run teardown.
const httpShutdownTimeout = 5 * time.Second

// Backends holds the capability implementations instantiated by main via the
// config registry. Chats and Speakers are keyed by backend name, matching the
// identifiers registered with the quota arbiter. A nil Source or Recognizer
// disables voice capture; SubmitText still works.
type Backends struct {
	Source     audio.Source
	Recognizer stt.Recognizer
	Chats      map[string]chat.Backend
	Speakers   map[string]tts.Synthesizer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backends *Backends
	log      *slog.Logger

	arbiter  *quota.Arbiter
	dialogue *dialogue.Controller
	orch     *session.Orchestrator
	sink     transcript.Sink
	metrics  *observe.Metrics
	healthH  *health.Handler
	srv      *http.Server

	level        *slog.LevelVar
	watchPath    string
	eventHandler func(session.Event)

	// stageStart is owned by the orchestrator's control goroutine via the
	// state hook.
	stageStart time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSink injects a transcript sink instead of creating one from config.
func WithSink(s transcript.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevel hands the app the level var backing the process logger so
// config reloads can retune verbosity at runtime.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(a *App) { a.level = level }
}

// WithConfigWatch enables hot reload: Run polls path and applies safe
// changes (log level, speech settings) without a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// WithEventHandler registers a callback for every orchestrator event, called
// after the app's own metric bookkeeping. Used by the console front-end.
func WithEventHandler(fn func(session.Event)) Option {
	return func(a *App) { a.eventHandler = fn }
}

// New wires the full pipeline from cfg and the instantiated backends.
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		backends: backends,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.arbiter = quota.New(quota.WithObserver(quotaMetrics{m: a.metrics}))
	registerQuotas(a.arbiter, cfg)

	if err := a.initSink(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript sink: %w", err)
	}

	a.applySpeech(cfg.Speech)

	a.dialogue = dialogue.New(a.arbiter, backends.Chats, backends.Speakers,
		dialogue.WithLogger(a.log))

	a.initOrchestrator()
	a.initHTTP()

	return a, nil
}

// initSink picks the transcript sink: injected > PostgreSQL > file >
// in-memory.
func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	if dsn := a.cfg.Transcript.PostgresDSN; dsn != "" {
		pg, err := transcript.NewPostgresSink(ctx, dsn)
		if err != nil {
			return err
		}
		a.sink = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.log.Info("transcript sink ready", "kind", "postgres")
		return nil
	}
	if path := a.cfg.Transcript.FilePath; path != "" {
		a.sink = transcript.NewFileSink(path)
		a.log.Info("transcript sink ready", "kind", "file", "path", path)
		return nil
	}
	a.sink = transcript.NewMemorySink(a.cfg.Transcript.MemoryCapacity)
	a.log.Info("transcript sink ready", "kind", "memory",
		"capacity", a.cfg.Transcript.MemoryCapacity)
	return nil
}

// applySpeech pushes voice and rate settings to every synthesizer.
func (a *App) applySpeech(speech config.SpeechConfig) {
	for _, synth := range a.backends.Speakers {
		if speech.Voice != "" {
			synth.SetVoice(speech.Voice)
		}
		if speech.RateWPM > 0 {
			synth.SetRate(speech.RateWPM)
		}
	}
}

func (a *App) initOrchestrator() {
	var factory session.CaptureFactory
	if a.backends.Source != nil && a.backends.Recognizer != nil {
		factory = func() *capture.Session {
			return capture.New(a.backends.Source, a.backends.Recognizer,
				capture.WithLogger(a.log))
		}
	} else {
		a.log.Warn("voice capture disabled: no audio source or recognizer configured")
	}

	orchOpts := []session.Option{
		session.WithLogger(a.log),
		session.WithSink(a.sink),
		session.WithStateHook(a.onStateChange),
	}
	if rec := a.cfg.Recording; rec.MaxDuration.Std() > 0 || rec.MaxFrames > 0 {
		maxDur := rec.MaxDuration.Std()
		if maxDur <= 0 {
			maxDur = capture.DefaultMaxDuration
		}
		maxFrames := rec.MaxFrames
		if maxFrames <= 0 {
			maxFrames = capture.DefaultMaxFrames
		}
		orchOpts = append(orchOpts, session.WithRecordingBounds(maxDur, maxFrames))
	}
	if tick := a.cfg.Recording.QuotaTick.Std(); tick > 0 {
		orchOpts = append(orchOpts, session.WithQuotaTick(tick))
	}
	if a.cfg.Recording.HistoryLimit > 0 {
		orchOpts = append(orchOpts, session.WithHistoryLimit(a.cfg.Recording.HistoryLimit))
	}

	a.orch = session.New(a.arbiter, a.dialogue, factory, orchOpts...)
	a.stageStart = time.Now()
}

func (a *App) initHTTP() {
	checkers := []health.Checker{health.QuotaChecker(a.arbiter)}
	if a.backends.Recognizer != nil {
		checkers = append(checkers, health.RecognizerChecker(a.backends.Recognizer))
	}
	a.healthH = health.New(checkers...)

	if a.cfg.Server.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	a.healthH.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", a.handleStatus)

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Orchestrator exposes the conversation control surface to front-ends.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Run drives the orchestrator, the event consumer, the HTTP server, and the
// config watcher until ctx is cancelled. It returns the first non-cancel
// error from any of them.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	g.Go(func() error {
		a.consumeEvents(gctx)
		return nil
	})

	if a.srv != nil {
		g.Go(func() error { return a.serve(gctx) })
	}

	if a.watchPath != "" {
		watcher, err := config.NewWatcher(a.watchPath, a.applyConfigChange)
		if err != nil {
			return fmt.Errorf("app: config watcher: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			watcher.Stop()
			return nil
		})
		a.log.Info("config hot reload enabled", "path", a.watchPath)
	}

	a.log.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// serve runs the HTTP server and shuts it down gracefully when ctx ends.
func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown error", "error", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	}
}

// consumeEvents drains the orchestrator stream, records turn metrics, and
// forwards each event to the registered handler.
func (a *App) consumeEvents(ctx context.Context) {
	for ev := range a.orch.Events() {
		switch ev.Kind {
		case session.EventTurnResult:
			status := "fallback"
			if ev.Turn.Success {
				status = "ok"
			}
			a.metrics.RecordTurn(ctx, status)
			if ev.Turn.Backend != "" {
				a.metrics.RecordBackendRequest(ctx, ev.Turn.Backend, quota.CapabilityAI, "ok")
			}
		case session.EventError:
			a.log.Warn("conversation error", "error", ev.Err)
		}
		if a.eventHandler != nil {
			a.eventHandler(ev)
		}
	}
}

// onStateChange runs on the orchestrator's control goroutine. It maintains
// the active-recording gauge and attributes elapsed stage time to the
// matching latency histogram.
func (a *App) onStateChange(old, next session.State) {
	ctx := context.Background()
	now := time.Now()
	elapsed := now.Sub(a.stageStart).Seconds()
	a.stageStart = now

	switch old {
	case session.StateRecording:
		a.metrics.ActiveRecordings.Add(ctx, -1)
	case session.StateTranscribing:
		a.metrics.STTDuration.Record(ctx, elapsed)
	case session.StateDispatching:
		a.metrics.AIDuration.Record(ctx, elapsed)
	case session.StateSpeaking:
		a.metrics.TTSDuration.Record(ctx, elapsed)
	}
	if next == session.StateRecording {
		a.metrics.ActiveRecordings.Add(ctx, 1)
	}
}

// applyConfigChange is the watcher callback. Only settings that are safe to
// flip mid-session are applied; everything else takes effect on restart.
func (a *App) applyConfigChange(old, updated *config.Config) {
	diff := config.Diff(old, updated)

	if diff.LogLevelChanged {
		if a.level != nil {
			a.level.Set(LevelFor(diff.NewLogLevel))
			a.log.Info("log level changed", "level", diff.NewLogLevel)
		} else {
			a.log.Warn("log level changed in config but no level var is wired")
		}
	}

	if diff.SpeechChanged {
		a.applySpeech(diff.NewSpeech)
		a.log.Info("speech settings changed",
			"voice", diff.NewSpeech.Voice, "rate_wpm", diff.NewSpeech.RateWPM)
	}

	for _, qc := range diff.QuotaChanges {
		a.log.Info("quota configuration changed; restart to apply",
			"capability", qc.Capability, "backend", qc.Backend,
			"added", qc.Added, "removed", qc.Removed)
	}
}

// statusResponse is the JSON body served at /status.
type statusResponse struct {
	State string                     `json:"state"`
	Turns int                        `json:"turns"`
	Quota map[string]capabilityQuota `json:"quota"`
}

type capabilityQuota struct {
	ActiveBackend  string `json:"active_backend,omitempty"`
	CallsRemaining int    `json:"calls_remaining"`
	Available      bool   `json:"available"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := a.orch.GetStatus()
	if err != nil {
		http.Error(w, `{"error":"shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		State: st.State.String(),
		Turns: st.Turns,
		Quota: make(map[string]capabilityQuota, len(st.Quota)),
	}
	for capability, q := range st.Quota {
		resp.Quota[capability] = capabilityQuota{
			ActiveBackend:  q.ActiveBackend,
			CallsRemaining: q.CallsRemaining,
			Available:      q.Available,
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.log.Warn("status encode failed", "error", err)
	}
}

// Shutdown runs the registered closers in order. It respects the context
// deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// quotaMetrics bridges arbiter notifications into OTel counters.
type quotaMetrics struct {
	m *observe.Metrics
}

func (q quotaMetrics) QuotaDenied(capability string) {
	q.m.RecordQuotaDenial(context.Background(), capability)
}

func (q quotaMetrics) BackendDemoted(capability, backendID string) {
	q.m.RecordDemotion(context.Background(), capability, backendID)
}

var _ quota.Observer = quotaMetrics{}

// registerQuotas feeds the per-capability backend lists from config into the
// arbiter. List order is priority order.
func registerQuotas(arbiter *quota.Arbiter, cfg *config.Config) {
	for _, group := range []struct {
		capability string
		entries    []config.BackendEntry
	}{
		{quota.CapabilitySTT, cfg.Capabilities.STT},
		{quota.CapabilityAI, cfg.Capabilities.AI},
		{quota.CapabilityTTS, cfg.Capabilities.TTS},
	} {
		for _, entry := range group.entries {
			arbiter.Register(group.capability, entry.Name,
				entry.Quota.Limit, entry.Quota.Window.Std())
		}
	}
}

// LevelFor maps a config log level onto its slog equivalent.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
