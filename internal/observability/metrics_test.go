package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetricsExposed(t *testing.T) {
	is := is.New(t)

	RecordSessionStart()
	RecordStateChange("", "streaming")
	RecordClientMessage("audio")
	RecordBackendEvent("response.audio.delta")
	RecordFrames("audio", 3)
	RecordFrames("silence", 0) // ignored
	RecordDroppedAudio()
	RecordBackendConnect(20*time.Millisecond, true)
	RecordResolverError("caller_info")
	RecordToolExecution("avr_hangup", "bundled", time.Millisecond, false)
	RecordSessionEnd(time.Second)

	out := scrape(t)
	for _, want := range []string{
		`avr_sts_sessions_total`,
		`avr_sts_active_sessions{state="streaming"} 1`,
		`avr_sts_client_messages_total{type="audio"}`,
		`avr_sts_backend_events_total{type="response.audio.delta"}`,
		`avr_sts_frames_emitted_total{kind="audio"} 3`,
		`avr_sts_dropped_audio_messages_total`,
		`avr_sts_resolver_errors_total{resolver="caller_info"}`,
		`avr_sts_tool_executions_total{status="error",tier="bundled",tool="avr_hangup"}`,
		`avr_sts_session_duration_seconds_count`,
	} {
		is.True(strings.Contains(out, want)) // metric missing from scrape
	}
	is.True(!strings.Contains(out, `kind="silence"`))

	RecordStateChange("streaming", "")
	is.True(strings.Contains(scrape(t), `avr_sts_active_sessions{state="streaming"} 0`))
}

func TestEnsureRegisteredIdempotent(t *testing.T) {
	EnsureRegistered()
	EnsureRegistered() // must not panic on duplicate registration
}
