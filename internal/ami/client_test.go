package ami

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

type recorded struct {
	path string
	body map[string]string
}

func bridge(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{path: r.URL.Path, body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCallerInfo(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     tools.CallerInfo
	}{
		{
			name:     "camel case",
			response: `{"phoneNumber":"+1234567890","callerName":"Ada","channel":"PJSIP/100","extension":"200"}`,
			want:     tools.CallerInfo{PhoneNumber: "+1234567890", CallerName: "Ada", Channel: "PJSIP/100", Extension: "200"},
		},
		{
			name:     "channel variables",
			response: `{"CALLERID(num)":"100","CALLERID(name)":"Desk","exten":"300","context":"default"}`,
			want:     tools.CallerInfo{PhoneNumber: "100", CallerName: "Desk", CallerID: "100", Context: "default", Extension: "300"},
		},
		{
			name:     "empty record",
			response: `{}`,
			want:     tools.CallerInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			srv, calls := bridge(t, http.StatusOK, tt.response)

			got, err := NewClient(srv.URL, 0).CallerInfo(context.Background(), "abc")
			is.NoErr(err)
			is.Equal(got, tt.want)
			is.Equal((*calls)[0].path, "/variables")
			is.Equal((*calls)[0].body["uuid"], "abc")
		})
	}
}

func TestHangupAndTransfer(t *testing.T) {
	is := is.New(t)
	srv, calls := bridge(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.URL+"/", 0)

	is.NoErr(c.Hangup(context.Background(), "abc"))
	is.NoErr(c.Transfer(context.Background(), "abc", "200", "", ""))

	is.Equal(len(*calls), 2)
	is.Equal((*calls)[0].path, "/hangup")
	is.Equal((*calls)[1].path, "/transfer")
	is.Equal((*calls)[1].body, map[string]string{
		"uuid": "abc", "exten": "200", "context": "from-internal", "priority": "1",
	})
}

func TestClientErrors(t *testing.T) {
	is := is.New(t)

	_, err := NewClient("", 0).CallerInfo(context.Background(), "abc")
	is.True(errors.Is(err, ErrNotConfigured))

	srv, _ := bridge(t, http.StatusInternalServerError, `{"error":"no channel"}`)
	err = NewClient(srv.URL, 0).Hangup(context.Background(), "abc")
	is.True(err != nil)

	bad, _ := bridge(t, http.StatusOK, `not json`)
	_, err = NewClient(bad.URL, 0).CallerInfo(context.Background(), "abc")
	is.True(err != nil)
}
