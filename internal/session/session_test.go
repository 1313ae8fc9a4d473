package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cierrateam/avr-sts-openai/internal/realtime"
	"github.com/cierrateam/avr-sts-openai/pkg/audio"
	"github.com/cierrateam/avr-sts-openai/pkg/rtc"
	"github.com/cierrateam/avr-sts-openai/pkg/tools"
	"github.com/cierrateam/avr-sts-openai/pkg/tools/avr"
)

const waitTimeout = 2 * time.Second

type fakeClient struct {
	in        chan []byte
	out       chan ServerMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		in:     make(chan []byte),
		out:    make(chan ServerMessage, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeClient) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeClient) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("client closed")
	default:
	}
	c.out <- v.(ServerMessage)
	return nil
}

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) send(t *testing.T, v any) {
	t.Helper()
	var data []byte
	switch m := v.(type) {
	case string:
		data = []byte(m)
	default:
		data, _ = json.Marshal(m)
	}
	select {
	case c.in <- data:
	case <-time.After(waitTimeout):
		t.Fatal("client message not consumed")
	}
}

func (c *fakeClient) next(t *testing.T) ServerMessage {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("no message sent to client")
		return ServerMessage{}
	}
}

type fakeBackend struct {
	events    chan *realtime.ServerEvent
	sent      chan any
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: make(chan *realtime.ServerEvent),
		sent:   make(chan any, 256),
		closed: make(chan struct{}),
	}
}

func (b *fakeBackend) Send(ctx context.Context, event any) error {
	select {
	case <-b.closed:
		return realtime.ErrNotConnected
	default:
	}
	b.sent <- event
	return nil
}

func (b *fakeBackend) ReadEvent() (*realtime.ServerEvent, error) {
	select {
	case ev, ok := <-b.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-b.closed:
		return nil, io.EOF
	}
}

func (b *fakeBackend) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *fakeBackend) emit(t *testing.T, ev *realtime.ServerEvent) {
	t.Helper()
	select {
	case b.events <- ev:
	case <-time.After(waitTimeout):
		t.Fatal("backend event not consumed")
	}
}

func (b *fakeBackend) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-b.sent:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("nothing sent to backend")
		return nil
	}
}

func (b *fakeBackend) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-b.sent:
		t.Fatalf("unexpected backend send: %#v", v)
	case <-time.After(d):
	}
}

type fakeCallers struct {
	mu    sync.Mutex
	info  tools.CallerInfo
	err   error
	calls int
}

func (f *fakeCallers) CallerInfo(ctx context.Context, id string) (tools.CallerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.info, f.err
}

type fakeAgents struct {
	instructions string
	descriptors  []tools.Descriptor
	greeting     string
	err          error
}

func (f *fakeAgents) Instructions(ctx context.Context, id string) (string, error) {
	return f.instructions, f.err
}

func (f *fakeAgents) Tools(ctx context.Context, id string) ([]tools.Descriptor, error) {
	return f.descriptors, f.err
}

func (f *fakeAgents) Greeting(ctx context.Context, id string) (string, error) {
	return f.greeting, f.err
}

var testSettings = Settings{
	Instructions:       "default instructions",
	Voice:              "alloy",
	Temperature:        0.8,
	TranscriptionModel: "whisper-1",
	TurnDetection:      "server_vad",
}

type harness struct {
	s       *Session
	client  *fakeClient
	backend *fakeBackend
	dials   int
	done    chan error
	mu      sync.Mutex
}

type option func(*harness, *Deps, *Settings)

func start(t *testing.T, opts ...option) *harness {
	t.Helper()

	h := &harness{
		client:  newFakeClient(),
		backend: newFakeBackend(),
		done:    make(chan error, 1),
	}

	reg := tools.NewRegistry(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	avr.Register(reg, nil)

	deps := Deps{
		Dial: func(ctx context.Context) (realtime.Backend, error) {
			h.mu.Lock()
			h.dials++
			h.mu.Unlock()
			return h.backend, nil
		},
		Tools:  reg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	settings := testSettings
	for _, opt := range opts {
		opt(h, &deps, &settings)
	}

	s, err := New("conn-1", h.client, deps, settings)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- s.Run(ctx) }()
	return h
}

// initialize sends init and consumes the session.update.
func (h *harness) initialize(t *testing.T, id string) realtime.SessionUpdate {
	t.Helper()
	h.client.send(t, ClientMessage{Type: MsgInit, UUID: id})
	su, ok := h.backend.next(t).(realtime.SessionUpdate)
	if !ok {
		t.Fatal("first backend message is not session.update")
	}
	waitFor(t, func() bool { return h.s.State() == StateStreaming })
	return su
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pcm(n int, value int16) string {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return base64.StdEncoding.EncodeToString(audio.SamplesToBytes(samples))
}

func toolNames(su realtime.SessionUpdate) []string {
	var names []string
	for _, tl := range su.Session.Tools {
		names = append(names, tl.Name)
	}
	return names
}

func TestInit_FallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name   string
		agents *fakeAgents
	}{
		{"no agent api", nil},
		{"agent api failing", &fakeAgents{err: errors.New("unreachable")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			h := start(t, func(_ *harness, d *Deps, _ *Settings) {
				if tt.agents != nil {
					d.Agents = tt.agents
				}
			})

			su := h.initialize(t, "abc")
			is.Equal(su.Type, realtime.EventSessionUpdate)
			is.Equal(su.Session.Instructions, "default instructions")
			is.Equal(su.Session.InputAudioFormat, realtime.AudioFormatPCM16)
			is.Equal(su.Session.OutputAudioFormat, realtime.AudioFormatPCM16)
			is.Equal(su.Session.Voice, "alloy")
			is.Equal(su.Session.TurnDetection.Type, "server_vad")
			is.Equal(toolNames(su), []string{avr.GetCallerInfo, avr.Hangup, avr.Transfer}) // no API tools

			h.backend.expectNothing(t, 100*time.Millisecond) // no greeting
			is.Equal(h.s.BackendState(), BackendReady)
		})
	}
}

func TestInit_AgentConfigAndGreeting(t *testing.T) {
	is := is.New(t)
	h := start(t, func(_ *harness, d *Deps, _ *Settings) {
		d.Agents = &fakeAgents{
			instructions: "You book dentist appointments.",
			descriptors: []tools.Descriptor{{
				Name:    "book_slot",
				Handler: tools.HandlerDescriptor{URL: "http://example.invalid/book"},
			}},
			greeting: "Hello, you reached the dental office.",
		}
	})

	su := h.initialize(t, "abc")
	is.Equal(su.Session.Instructions, "You book dentist appointments.")
	is.Equal(toolNames(su), []string{avr.GetCallerInfo, avr.Hangup, avr.Transfer, "book_slot"})
	is.Equal(su.Session.ToolChoice, "auto")

	rc, ok := h.backend.next(t).(realtime.ResponseCreate)
	is.True(ok)
	is.True(strings.Contains(rc.Response.Instructions, "Hello, you reached the dental office."))
	is.True(strings.Contains(rc.Response.Instructions, "verbatim"))
}

func TestAudio_DroppedBeforeBackendOpen(t *testing.T) {
	is := is.New(t)

	release := make(chan struct{})
	dialing := make(chan struct{})
	h := start(t, func(h *harness, d *Deps, _ *Settings) {
		d.Dial = func(ctx context.Context) (realtime.Backend, error) {
			close(dialing)
			<-release
			return h.backend, nil
		}
	})

	// Before init: uninitialized.
	h.client.send(t, ClientMessage{Type: MsgAudio, Audio: pcm(160, 1000)})

	h.client.send(t, ClientMessage{Type: MsgInit, UUID: "abc"})
	<-dialing
	is.Equal(h.s.State(), StateAwaitingBackend)
	is.Equal(h.s.BackendState(), BackendConnecting)

	// While the backend is still connecting.
	h.client.send(t, ClientMessage{Type: MsgAudio, Audio: pcm(160, 1000)})
	h.client.send(t, `{"type":"noop"}`) // ensures the audio above is queued first
	close(release)

	_, ok := h.backend.next(t).(realtime.SessionUpdate)
	is.True(ok)

	// Once streaming, audio flows; nothing earlier was queued.
	waitFor(t, func() bool { return h.s.State() == StateStreaming })
	h.client.send(t, ClientMessage{Type: MsgAudio, Audio: pcm(80, 1000)})
	app, ok := h.backend.next(t).(realtime.InputAudioBufferAppend)
	is.True(ok)
	raw, err := base64.StdEncoding.DecodeString(app.Audio)
	is.NoErr(err)
	is.Equal(len(raw), 240*2)      // 80 samples at 8 kHz become 240 at 24 kHz
	is.Equal(len(h.client.out), 0) // no error emitted for dropped audio
}

func TestAudio_UpsampledAndOddByteDropped(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	data := append(audio.SamplesToBytes(make([]int16, 160)), 0x7f)
	h.client.send(t, ClientMessage{Type: MsgAudio, Audio: base64.StdEncoding.EncodeToString(data)})

	app := h.backend.next(t).(realtime.InputAudioBufferAppend)
	raw, _ := base64.StdEncoding.DecodeString(app.Audio)
	is.Equal(len(raw), 480*2)

	// Zero-byte audio is a no-op.
	h.client.send(t, ClientMessage{Type: MsgAudio, Audio: ""})
	h.backend.expectNothing(t, 50*time.Millisecond)
}

func TestAudioDelta_EmitsWholeFrames(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	// 100 ms at 24 kHz is five telephony frames.
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(2400, 500)})
	for i := 0; i < 5; i++ {
		m := h.client.next(t)
		is.Equal(m.Type, MsgAudio)
		raw, _ := base64.StdEncoding.DecodeString(m.Audio)
		is.Equal(len(raw), rtc.BytesPerFrame)
	}

	// The framer is empty, but the downsampler still holds its filter delay.
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseDone})
	raw, _ := base64.StdEncoding.DecodeString(h.client.next(t).Audio)
	tail := audio.BytesToSamples(raw)
	is.True(tail[0] > 400)
	is.Equal(tail[rtc.SamplesPerFrame-1], int16(0)) // padding
	for i := 0; i < audio.TrailingSilenceFrames; i++ {
		raw, _ := base64.StdEncoding.DecodeString(h.client.next(t).Audio)
		is.Equal(raw, make([]byte, rtc.BytesPerFrame))
	}

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioTranscriptDone, Transcript: "hi"})
	is.Equal(h.client.next(t), transcriptMessage(RoleAgent, "hi"))
}

func TestResponseBoundary_NoTailLeaksIntoNextResponse(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(1440, 10000)})
	for i := 0; i < 3; i++ {
		is.Equal(h.client.next(t).Type, MsgAudio)
	}
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseDone})
	for i := 0; i < 1+audio.TrailingSilenceFrames; i++ {
		is.Equal(h.client.next(t).Type, MsgAudio)
	}

	// The next response starts from silence, not from the previous one's tail.
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(480, 0)})
	raw, _ := base64.StdEncoding.DecodeString(h.client.next(t).Audio)
	is.Equal(raw, make([]byte, rtc.BytesPerFrame))
}

func TestAudioDone_FlushesPaddedFrameAndSilence(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(285, 1000)})
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDone})

	first := h.client.next(t)
	frame, _ := base64.StdEncoding.DecodeString(first.Audio)
	is.Equal(len(frame), rtc.BytesPerFrame)
	samples := audio.BytesToSamples(frame)
	is.True(samples[94] != 0)        // last sample of the delta
	is.True(samples[100] != 0)       // drained filter tail
	is.Equal(samples[128], int16(0)) // padding

	for i := 0; i < audio.TrailingSilenceFrames; i++ {
		m := h.client.next(t)
		raw, _ := base64.StdEncoding.DecodeString(m.Audio)
		is.Equal(raw, make([]byte, rtc.BytesPerFrame))
	}

	// A second boundary is a no-op.
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseDone})
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventSessionUpdated})
	is.Equal(h.client.next(t).Type, MsgReady)
}

func TestBackendClose_FlushesThenCleansUp(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	// 285 samples at 24 kHz leave 95 samples buffered at 8 kHz, plus the
	// drained filter tail: still one padded frame.
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(285, 1000)})
	close(h.backend.events)

	is.NoErr(h.wait(t))
	is.Equal(len(h.client.out), 1+audio.TrailingSilenceFrames)
	is.Equal(h.s.State(), StateTerminated)
	is.Equal(h.s.BackendState(), BackendDisconnected)

	select {
	case <-h.client.closed:
	default:
		t.Fatal("client connection not closed")
	}
}

func TestClientClose_ClosesBackend(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.client.Close()
	is.NoErr(h.wait(t))

	select {
	case <-h.backend.closed:
	default:
		t.Fatal("backend connection not closed")
	}
	is.Equal(h.s.State(), StateTerminated)
	is.True(errors.Is(h.s.Run(context.Background()), ErrSessionClosed))
}

func TestToolCall_CallerInfoBecomesInstructions(t *testing.T) {
	is := is.New(t)
	callers := &fakeCallers{info: tools.CallerInfo{PhoneNumber: "+1234567890"}}
	h := start(t, func(_ *harness, d *Deps, _ *Settings) { d.Callers = callers })
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{
		Type:      realtime.EventFunctionCallArgumentsDone,
		Name:      avr.GetCallerInfo,
		CallID:    "call_1",
		Arguments: `{"info_type":"phone"}`,
	})

	rc, ok := h.backend.next(t).(realtime.ResponseCreate)
	is.True(ok)
	is.Equal(rc.Type, realtime.EventResponseCreate)
	is.Equal(rc.Response.Instructions, "Caller phone number: +1234567890")
}

func TestToolCall_FailureIsSilentByDefault(t *testing.T) {
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventFunctionCallArgumentsDone, Name: "no_such_tool", Arguments: "{}"})
	h.backend.expectNothing(t, 150*time.Millisecond)

	if n := len(h.client.out); n != 0 {
		t.Errorf("client received %d messages, want none", n)
	}
}

func TestToolCall_FailureReportedWhenEnabled(t *testing.T) {
	is := is.New(t)
	h := start(t, func(_ *harness, _ *Deps, s *Settings) { s.ReportFailures = true })
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventFunctionCallArgumentsDone, Name: "no_such_tool", Arguments: "{}"})
	rc, ok := h.backend.next(t).(realtime.ResponseCreate)
	is.True(ok)
	is.True(strings.Contains(rc.Response.Instructions, "no_such_tool"))
}

func TestSpeechStarted_InterruptsAndDropsPendingAudio(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(285, 1000)})
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventSpeechStarted})
	is.Equal(h.client.next(t), interruptionMessage())

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseDone})
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventInputAudioTranscriptCompleted, Transcript: "wait"})
	is.Equal(h.client.next(t), transcriptMessage(RoleUser, "wait")) // no stale frames
}

func TestReset_FlushesAndKeepsBackend(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, Delta: pcm(285, 1000)})
	h.client.send(t, ClientMessage{Type: MsgReset})

	for i := 0; i < 1+audio.TrailingSilenceFrames; i++ {
		is.Equal(h.client.next(t).Type, MsgAudio)
	}
	is.Equal(h.s.State(), StateStreaming)
	is.Equal(h.s.BackendState(), BackendReady)

	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventSessionUpdated})
	is.Equal(h.client.next(t), readyMessage("Session ready"))
}

func TestBackendError_ForwardedWithoutTeardown(t *testing.T) {
	is := is.New(t)
	h := start(t)
	h.initialize(t, "abc")

	h.backend.emit(t, &realtime.ServerEvent{
		Type:  realtime.EventError,
		Error: &realtime.ErrorDetail{Type: "invalid_request_error", Message: "Unknown parameter"},
	})
	is.Equal(h.client.next(t), errorMessage("Unknown parameter"))
	is.Equal(h.s.State(), StateStreaming)
}

func TestReinit_RefreshesCallerAndTools(t *testing.T) {
	is := is.New(t)
	callers := &fakeCallers{info: tools.CallerInfo{CallerName: "Ada"}}
	h := start(t, func(_ *harness, d *Deps, _ *Settings) { d.Callers = callers })
	h.initialize(t, "abc")

	h.client.send(t, ClientMessage{Type: MsgInit, UUID: "abc"})
	_, ok := h.backend.next(t).(realtime.SessionUpdate)
	is.True(ok)

	h.mu.Lock()
	is.Equal(h.dials, 1) // backend reused
	h.mu.Unlock()
	callers.mu.Lock()
	is.Equal(callers.calls, 2)
	callers.mu.Unlock()
}

func TestDialFailure_TerminatesSession(t *testing.T) {
	is := is.New(t)
	boom := errors.New("connection refused")
	h := start(t, func(_ *harness, d *Deps, _ *Settings) {
		d.Dial = func(ctx context.Context) (realtime.Backend, error) { return nil, boom }
	})

	h.client.send(t, ClientMessage{Type: MsgInit, UUID: "abc"})
	is.Equal(h.client.next(t).Type, MsgError)
	is.True(errors.Is(h.wait(t), boom))
	is.Equal(h.s.State(), StateTerminated)
}

func TestMalformedClientMessagesIgnored(t *testing.T) {
	is := is.New(t)
	h := start(t)

	h.client.send(t, "not json")
	h.client.send(t, `{"type":"bogus"}`)
	h.client.send(t, `{"type":"init"}`) // missing uuid

	su := h.initialize(t, "abc")
	is.Equal(su.Type, realtime.EventSessionUpdate)
	is.Equal(len(h.client.out), 0)
}

func TestMetrics_PeerSuppliedLabelsBounded(t *testing.T) {
	is := is.New(t)
	h := start(t, func(_ *harness, _ *Deps, s *Settings) { s.ReportFailures = true })

	h.client.send(t, `{"type":"junk-client-1"}`)
	h.client.send(t, `{"type":"junk-client-2"}`)
	h.initialize(t, "abc")
	h.backend.emit(t, &realtime.ServerEvent{Type: "junk.backend.event"})
	h.backend.emit(t, &realtime.ServerEvent{Type: realtime.EventFunctionCallArgumentsDone, Name: "junk_tool", Arguments: "{}"})
	_, ok := h.backend.next(t).(realtime.ResponseCreate) // tool outcome recorded
	is.True(ok)

	families, err := prometheus.DefaultGatherer.Gather()
	is.NoErr(err)
	seen := map[string]bool{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if strings.HasPrefix(lp.GetValue(), "junk") {
					t.Errorf("%s has peer-supplied label %s=%q", mf.GetName(), lp.GetName(), lp.GetValue())
				}
				if lp.GetValue() == unknownLabel {
					seen[mf.GetName()+"/"+lp.GetName()] = true
				}
			}
		}
	}
	is.True(seen["avr_sts_client_messages_total/type"])
	is.True(seen["avr_sts_backend_events_total/type"])
	is.True(seen["avr_sts_tool_executions_total/tool"])
	is.True(seen["avr_sts_tool_executions_total/tier"])
	is.True(seen["avr_sts_tool_execution_duration_seconds/tool"])
}

func TestNew_RequiresDeps(t *testing.T) {
	is := is.New(t)

	_, err := New("c", newFakeClient(), Deps{}, testSettings)
	is.True(err != nil)

	_, err = New("c", newFakeClient(), Deps{Dial: func(context.Context) (realtime.Backend, error) { return nil, nil }}, testSettings)
	is.True(err != nil) // registry missing
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StateUninitialized.String(), "uninitialized"},
		{StateAwaitingBackend.String(), "awaiting_backend"},
		{StateStreaming.String(), "streaming"},
		{StateTerminated.String(), "terminated"},
		{State(42).String(), "Unknown(42)"},
		{BackendConnecting.String(), "connecting"},
		{BackendClosing.String(), "closing"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
