// Package session implements the per-call state machine that bridges a
// telephony client and the realtime speech backend. Each session runs a
// single event loop goroutine; transport readers, initialization and tool
// calls post their results to it, so the audio pipeline and both writers
// are only ever touched from one goroutine.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cierrateam/avr-sts-openai/internal/observability"
	"github.com/cierrateam/avr-sts-openai/internal/realtime"
	"github.com/cierrateam/avr-sts-openai/pkg/agentapi"
	"github.com/cierrateam/avr-sts-openai/pkg/audio"
	"github.com/cierrateam/avr-sts-openai/pkg/rtc"
	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

// ErrSessionClosed is returned when Run is called on a finished session.
var ErrSessionClosed = errors.New("session: closed")

// unknownLabel stands in for peer-supplied metric label values outside the
// known vocabulary.
const unknownLabel = "unknown"

var backendEvents = []string{
	realtime.EventSessionCreated,
	realtime.EventSessionUpdated,
	realtime.EventResponseAudioDelta,
	realtime.EventResponseAudioDone,
	realtime.EventResponseDone,
	realtime.EventFunctionCallArgumentsDone,
	realtime.EventResponseAudioTranscriptDone,
	realtime.EventInputAudioTranscriptCompleted,
	realtime.EventSpeechStarted,
	realtime.EventError,
}

func metricLabel(v string, known ...string) string {
	if slices.Contains(known, v) {
		return v
	}
	return unknownLabel
}

// Client is the telephony side of a session.
type Client interface {
	// ReadMessage blocks for the next text message.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a backend connection.
type DialFunc func(ctx context.Context) (realtime.Backend, error)

// CallerResolver resolves caller metadata for a session id.
type CallerResolver interface {
	CallerInfo(ctx context.Context, sessionID string) (tools.CallerInfo, error)
}

// Settings are the per-session backend parameters. They are captured when
// the session is created, so configuration reloads only affect new calls.
type Settings struct {
	Instructions       string
	Voice              string
	Temperature        float64
	MaxTokens          int
	TranscriptionModel string
	TurnDetection      string
	ReportFailures     bool
}

// Deps are the collaborators a session needs. Callers and Agents may be nil.
type Deps struct {
	Dial    DialFunc
	Callers CallerResolver
	Agents  agentapi.Resolver
	Tools   *tools.Registry
	Logger  *slog.Logger
}

type agentConfig struct {
	instructions string
	tools        []tools.Descriptor
	greeting     string
}

// Loop events.
type (
	clientMsg     struct{ data []byte }
	clientClosed  struct{ err error }
	backendMsg    struct{ ev *realtime.ServerEvent }
	backendClosed struct{ err error }
	initDone      struct {
		id      string
		caller  tools.CallerInfo
		backend realtime.Backend
		agent   *agentConfig
		err     error
	}
	toolDone struct {
		call     tools.Call
		result   any
		tier     tools.Tier
		err      error
		duration time.Duration
	}
)

// Session is one client connection.
type Session struct {
	connID   string
	client   Client
	deps     Deps
	settings Settings
	logger   *slog.Logger

	state        atomic.Int32
	backendState atomic.Int32
	events       chan any
	cancel       context.CancelFunc
	started      time.Time
	runOnce      sync.Once
	cleanupOnce  sync.Once

	// Owned by the event loop.
	id           string
	caller       tools.CallerInfo
	backend      realtime.Backend
	agent        *agentConfig
	toolSet      *tools.Set
	upsampler    *audio.Resampler
	downsampler  *audio.Resampler
	framer       *audio.Framer
	initializing bool
	lastResponse *realtime.ResponseCreate
	stopErr      error
}

// New creates a session for one client connection. It fails only when the
// audio pipeline cannot be built.
func New(connID string, client Client, deps Deps, settings Settings) (*Session, error) {
	if deps.Dial == nil {
		return nil, fmt.Errorf("dial function is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	up, err := audio.NewResampler(rtc.TelephonySampleRate, rtc.BackendSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create upsampler: %w", err)
	}
	down, err := audio.NewResampler(rtc.BackendSampleRate, rtc.TelephonySampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create downsampler: %w", err)
	}

	s := &Session{
		connID:      connID,
		client:      client,
		deps:        deps,
		settings:    settings,
		logger:      deps.Logger.With(slog.String("conn_id", connID)),
		events:      make(chan any, 64),
		upsampler:   up,
		downsampler: down,
		framer:      audio.NewTelephonyFramer(),
	}
	s.state.Store(int32(StateUninitialized))
	observability.RecordStateChange("", StateUninitialized.String())
	return s, nil
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// BackendState returns the state of the backend link.
func (s *Session) BackendState() BackendState {
	return BackendState(s.backendState.Load())
}

func (s *Session) setState(newState State) {
	old := State(s.state.Swap(int32(newState)))
	if old == newState {
		return
	}
	to := newState.String()
	if newState == StateTerminated {
		to = ""
	}
	observability.RecordStateChange(old.String(), to)
	s.logger.Debug("Session state changed",
		slog.String("from", old.String()),
		slog.String("to", newState.String()))
}

func (s *Session) setBackendState(bs BackendState) {
	s.backendState.Store(int32(bs))
}

// Run drives the session until the client or backend goes away or ctx is
// cancelled. Cleanup always runs before Run returns.
func (s *Session) Run(ctx context.Context) error {
	err := ErrSessionClosed
	s.runOnce.Do(func() {
		err = s.run(ctx)
	})
	return err
}

func (s *Session) run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	observability.RecordSessionStart()
	defer s.cleanup()

	go s.readClient(ctx)

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ctx, ev)
			if s.stopErr != nil {
				if errors.Is(s.stopErr, errClientGone) || errors.Is(s.stopErr, errBackendGone) {
					return nil
				}
				return s.stopErr
			}
		}
	}
}

var (
	errClientGone  = errors.New("client disconnected")
	errBackendGone = errors.New("backend disconnected")
)

// post delivers an event to the loop unless the session is shutting down.
func (s *Session) post(ctx context.Context, ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) readClient(ctx context.Context) {
	for {
		data, err := s.client.ReadMessage()
		if err != nil {
			s.post(ctx, clientClosed{err: err})
			return
		}
		if !s.post(ctx, clientMsg{data: data}) {
			return
		}
	}
}

func (s *Session) readBackend(ctx context.Context, b realtime.Backend) {
	for {
		ev, err := b.ReadEvent()
		if err != nil {
			s.post(ctx, backendClosed{err: err})
			return
		}
		if !s.post(ctx, backendMsg{ev: ev}) {
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case clientMsg:
		s.handleClient(ctx, e.data)
	case clientClosed:
		s.logger.Info("Client disconnected", slog.Any("reason", e.err))
		s.flush()
		s.stop(errClientGone)
	case backendMsg:
		s.handleBackend(ctx, e.ev)
	case backendClosed:
		s.logger.Info("Backend disconnected", slog.Any("reason", e.err))
		s.flush()
		s.stop(errBackendGone)
	case initDone:
		s.finishInit(ctx, e)
	case toolDone:
		s.finishTool(ctx, e)
	}
}

func (s *Session) stop(err error) {
	if s.stopErr == nil {
		s.stopErr = err
	}
}

func (s *Session) handleClient(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("Ignoring malformed client message", slog.Any("error", err))
		return
	}
	observability.RecordClientMessage(metricLabel(msg.Type, MsgInit, MsgAudio, MsgReset))

	switch msg.Type {
	case MsgInit:
		s.startInit(ctx, msg.UUID)
	case MsgAudio:
		s.handleAudio(ctx, msg.Audio)
	case MsgReset:
		s.logger.Debug("Resetting audio state")
		s.flush()
		s.framer.Reset()
		s.downsampler.Reset()
	default:
		s.logger.Warn("Ignoring unknown client message", slog.String("type", msg.Type))
	}
}

func (s *Session) startInit(ctx context.Context, id string) {
	if s.initializing {
		s.logger.Warn("Ignoring init while initialization is in progress")
		return
	}
	if id == "" {
		s.logger.Warn("Ignoring init without uuid")
		return
	}
	s.initializing = true

	open := s.backend == nil
	if open {
		s.setState(StateAwaitingBackend)
		s.setBackendState(BackendConnecting)
	}
	s.logger.Info("Initializing session", slog.String("session_id", id), slog.Bool("open_backend", open))

	logger := s.logger.With(slog.String("session_id", id))
	go func() {
		res := initDone{id: id, caller: s.resolveCaller(ctx, logger, id)}
		if open {
			start := time.Now()
			b, err := s.deps.Dial(ctx)
			observability.RecordBackendConnect(time.Since(start), err == nil)
			if err != nil {
				res.err = err
				s.post(ctx, res)
				return
			}
			res.backend = b
			res.agent = s.resolveAgent(ctx, logger, id)
		}
		if !s.post(ctx, res) && res.backend != nil {
			_ = res.backend.Close()
		}
	}()
}

func (s *Session) resolveCaller(ctx context.Context, logger *slog.Logger, id string) tools.CallerInfo {
	if s.deps.Callers == nil {
		return tools.CallerInfo{}
	}
	info, err := s.deps.Callers.CallerInfo(ctx, id)
	if err != nil {
		observability.RecordResolverError("caller_info")
		logger.Warn("Caller info unavailable", slog.Any("error", err))
		return tools.CallerInfo{}
	}
	return info
}

// resolveAgent fetches instructions, tools and greeting concurrently. Each
// lookup falls back independently.
func (s *Session) resolveAgent(ctx context.Context, logger *slog.Logger, id string) *agentConfig {
	cfg := &agentConfig{}
	if s.deps.Agents == nil {
		return cfg
	}

	fail := func(what string, err error) {
		if errors.Is(err, agentapi.ErrNotConfigured) {
			return
		}
		observability.RecordResolverError(what)
		logger.Warn("Agent configuration lookup failed, using default",
			slog.String("lookup", what), slog.Any("error", err))
	}

	var g errgroup.Group
	g.Go(func() error {
		v, err := s.deps.Agents.Instructions(ctx, id)
		if err != nil {
			fail("instructions", err)
			return nil
		}
		cfg.instructions = v
		return nil
	})
	g.Go(func() error {
		v, err := s.deps.Agents.Tools(ctx, id)
		if err != nil {
			fail("tools", err)
			return nil
		}
		cfg.tools = v
		return nil
	})
	g.Go(func() error {
		v, err := s.deps.Agents.Greeting(ctx, id)
		if err != nil {
			fail("greeting", err)
			return nil
		}
		cfg.greeting = v
		return nil
	})
	_ = g.Wait()
	return cfg
}

func (s *Session) finishInit(ctx context.Context, res initDone) {
	s.initializing = false

	if res.err != nil {
		s.logger.Error("Backend connection failed", slog.String("session_id", res.id), slog.Any("error", res.err))
		s.setBackendState(BackendDisconnected)
		s.writeClient(errorMessage("backend connection failed"))
		s.stop(fmt.Errorf("dial backend: %w", res.err))
		return
	}

	if s.id != res.id {
		s.id = res.id
		s.logger = s.deps.Logger.With(slog.String("conn_id", s.connID), slog.String("session_id", res.id))
	}
	s.caller = res.caller

	firstOpen := res.backend != nil
	if firstOpen {
		s.backend = res.backend
		s.agent = res.agent
		s.setBackendState(BackendReady)
		go s.readBackend(ctx, s.backend)
	}

	s.toolSet = s.deps.Tools.Snapshot(s.agent.tools)
	if err := s.sendBackend(ctx, realtime.NewSessionUpdate(s.sessionConfig())); err != nil {
		return
	}
	s.setState(StateStreaming)
	s.logger.Info("Session streaming",
		slog.Int("tools", s.toolSet.Len()),
		slog.Bool("caller_known", !s.caller.IsZero()))

	if firstOpen && s.agent.greeting != "" {
		s.respond(ctx, "Say the following greeting to the caller verbatim and say nothing else: "+s.agent.greeting)
	}
}

func (s *Session) sessionConfig() realtime.SessionConfig {
	instructions := s.agent.instructions
	if instructions == "" {
		instructions = s.settings.Instructions
	}

	defs := s.toolSet.Definitions()
	announced := make([]realtime.Tool, 0, len(defs))
	for _, d := range defs {
		fn := d.Function()
		announced = append(announced, realtime.Tool{
			Type:        "function",
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}

	cfg := realtime.SessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            instructions,
		Voice:                   s.settings.Voice,
		InputAudioFormat:        realtime.AudioFormatPCM16,
		OutputAudioFormat:       realtime.AudioFormatPCM16,
		Tools:                   announced,
		Temperature:             s.settings.Temperature,
		MaxResponseOutputTokens: realtime.MaxTokens(s.settings.MaxTokens),
	}
	if len(announced) > 0 {
		cfg.ToolChoice = "auto"
	}
	if s.settings.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &realtime.AudioTranscription{Model: s.settings.TranscriptionModel}
	}
	if s.settings.TurnDetection != "" {
		cfg.TurnDetection = &realtime.TurnDetection{Type: s.settings.TurnDetection}
	}
	return cfg
}

func (s *Session) handleAudio(ctx context.Context, b64 string) {
	if s.State() != StateStreaming {
		observability.RecordDroppedAudio()
		return
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.logger.Warn("Ignoring undecodable client audio", slog.Any("error", err))
		return
	}
	if len(data) == 0 {
		return
	}
	if len(data)%2 != 0 {
		s.logger.Debug("Dropping odd trailing byte of client audio", slog.Int("bytes", len(data)))
	}

	up := s.upsampler.Process(audio.BytesToSamples(data))
	if len(up) == 0 {
		return
	}
	enc := base64.StdEncoding.EncodeToString(audio.SamplesToBytes(up))
	_ = s.sendBackend(ctx, realtime.NewAudioAppend(enc))
}

func (s *Session) handleBackend(ctx context.Context, ev *realtime.ServerEvent) {
	observability.RecordBackendEvent(metricLabel(ev.Type, backendEvents...))

	switch ev.Type {
	case realtime.EventSessionCreated:
		s.logger.Debug("Backend session created")
	case realtime.EventSessionUpdated:
		s.writeClient(readyMessage("Session ready"))
	case realtime.EventResponseAudioDelta:
		s.handleAudioDelta(ev.Delta)
	case realtime.EventResponseAudioDone, realtime.EventResponseDone:
		s.flush()
	case realtime.EventFunctionCallArgumentsDone:
		s.startTool(ctx, ev)
	case realtime.EventResponseAudioTranscriptDone:
		s.writeClient(transcriptMessage(RoleAgent, ev.Transcript))
	case realtime.EventInputAudioTranscriptCompleted:
		s.writeClient(transcriptMessage(RoleUser, ev.Transcript))
	case realtime.EventSpeechStarted:
		s.framer.Reset()
		s.downsampler.Reset()
		s.writeClient(interruptionMessage())
	case realtime.EventError:
		msg := "backend error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		attrs := []any{slog.String("message", msg)}
		if ev.Error != nil {
			attrs = append(attrs, slog.String("code", ev.Error.Code), slog.String("error_type", ev.Error.Type))
		}
		if s.lastResponse != nil {
			attrs = append(attrs, slog.Any("last_response", s.lastResponse))
		}
		s.logger.Error("Backend reported an error", attrs...)
		s.writeClient(errorMessage(msg))
	default:
		s.logger.Debug("Unhandled backend event", slog.String("type", ev.Type))
	}
}

func (s *Session) handleAudioDelta(b64 string) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.logger.Warn("Ignoring undecodable backend audio", slog.Any("error", err))
		return
	}
	if len(data) == 0 {
		return
	}
	frames := s.framer.Push(s.downsampler.Process(audio.BytesToSamples(data)))
	s.writeFrames(frames)
}

// flush ends the outbound stream: the downsampler's delayed tail goes into
// the framer, then the framer is drained to the client. Safe to call with
// nothing pending.
func (s *Session) flush() {
	if s.framer == nil {
		return
	}
	frames := s.framer.Push(s.downsampler.Drain())
	s.writeFrames(append(frames, s.framer.Flush()...))
}

func (s *Session) writeFrames(frames []rtc.AudioFrame) {
	for _, fr := range frames {
		kind := "audio"
		if fr.IsSilent() {
			kind = "silence"
		}
		observability.RecordFrames(kind, 1)
		if !s.writeClient(audioMessage(base64.StdEncoding.EncodeToString(fr.Data))) {
			return
		}
	}
}

func (s *Session) startTool(ctx context.Context, ev *realtime.ServerEvent) {
	if s.toolSet == nil {
		s.logger.Warn("Dropping function call before initialization", slog.String("tool", ev.Name))
		return
	}

	call := tools.Call{
		ID:        ev.CallID,
		Name:      ev.Name,
		Arguments: json.RawMessage(ev.Arguments),
		SessionID: s.id,
		Caller:    s.caller,
	}
	set := s.toolSet
	s.logger.Info("Dispatching tool call", slog.String("tool", call.Name), slog.String("call_id", call.ID))

	go func() {
		start := time.Now()
		v, tier, err := set.Dispatch(ctx, call)
		s.post(ctx, toolDone{call: call, result: v, tier: tier, err: err, duration: time.Since(start)})
	}()
}

func (s *Session) finishTool(ctx context.Context, res toolDone) {
	text, err := "", res.err
	if err == nil {
		text, err = tools.FormatResult(res.result)
	}
	toolLabel, tierLabel := res.call.Name, res.tier.String()
	if errors.Is(res.err, tools.ErrToolNotFound) {
		toolLabel, tierLabel = unknownLabel, unknownLabel
	}
	observability.RecordToolExecution(toolLabel, tierLabel, res.duration, err == nil)

	if err != nil {
		s.logger.Warn("Tool call failed",
			slog.String("tool", res.call.Name),
			slog.String("call_id", res.call.ID),
			slog.Any("error", err))
		if s.settings.ReportFailures {
			s.respond(ctx, fmt.Sprintf("The %s tool failed and returned no result. Briefly tell the caller the request could not be completed.", res.call.Name))
		}
		return
	}

	s.logger.Debug("Tool call completed", slog.String("tool", res.call.Name), slog.Duration("duration", res.duration))
	s.respond(ctx, text)
}

// respond issues a response.create carrying instructions.
func (s *Session) respond(ctx context.Context, instructions string) {
	rc := realtime.NewResponseCreate(instructions)
	if err := s.sendBackend(ctx, rc); err != nil {
		return
	}
	s.lastResponse = &rc
}

// sendBackend writes to the backend. A failed write ends the session.
func (s *Session) sendBackend(ctx context.Context, event any) error {
	if s.backend == nil {
		return realtime.ErrNotConnected
	}
	if err := s.backend.Send(ctx, event); err != nil {
		s.logger.Error("Backend write failed", slog.Any("error", err))
		s.flush()
		s.stop(errBackendGone)
		return err
	}
	return nil
}

// writeClient writes to the client. A failed write ends the session.
func (s *Session) writeClient(msg ServerMessage) bool {
	if s.stopErr != nil && errors.Is(s.stopErr, errClientGone) {
		return false
	}
	if err := s.client.WriteJSON(msg); err != nil {
		s.logger.Warn("Client write failed", slog.String("type", msg.Type), slog.Any("error", err))
		s.stop(errClientGone)
		return false
	}
	return true
}

// cleanup releases every session resource. It runs once.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.backend != nil {
			s.setBackendState(BackendClosing)
			if err := s.backend.Close(); err != nil {
				s.logger.Debug("Backend close", slog.Any("error", err))
			}
		}
		if err := s.client.Close(); err != nil {
			s.logger.Debug("Client close", slog.Any("error", err))
		}

		s.backend = nil
		s.setBackendState(BackendDisconnected)
		s.caller = tools.CallerInfo{}
		s.toolSet = nil
		s.agent = nil
		s.upsampler = nil
		s.downsampler = nil
		s.framer = nil
		s.lastResponse = nil

		s.setState(StateTerminated)
		if !s.started.IsZero() {
			observability.RecordSessionEnd(time.Since(s.started))
		}
		s.logger.Info("Session closed")
	})
}
