package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaquinllenado/recurve-ai/internal/auth"
	"github.com/joaquinllenado/recurve-ai/internal/messagebus"
)

type recorded struct {
	method, path, query string
	apiKey, authz       string
	body                map[string]interface{}
}

func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			apiKey: r.Header.Get("X-API-Key"),
			authz:  r.Header.Get("Authorization"),
		}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			assert.NoError(t, json.Unmarshal(b, &rec.body))
		}
		calls = append(calls, rec)
		if r.URL.Path == "/api/events/stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "event: connected\ndata: {\"message\": \"hi\"}\n\nevent: graph_reset\ndata: {\"type\":\"graph_reset\"}\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	serverURL, apiKey, token = "", "", ""
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsHitRoutes(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		path   string
		query  string
	}{
		{[]string{"product", "Managed", "Postgres"}, http.MethodPost, "/api/product", ""},
		{[]string{"strategy", "--version", "2"}, http.MethodGet, "/api/strategy", "version=2"},
		{[]string{"strategy", "list"}, http.MethodGet, "/api/strategies", ""},
		{[]string{"evolve"}, http.MethodPost, "/api/strategy/evolve", ""},
		{[]string{"validate", "--requeue"}, http.MethodPost, "/api/validate", ""},
		{[]string{"scout", "trigger", "--competitor", "DigitalOcean"}, http.MethodPost, "/api/scout/trigger", ""},
		{[]string{"scout", "state"}, http.MethodGet, "/api/scout/state", ""},
		{[]string{"graph"}, http.MethodGet, "/api/graph", ""},
		{[]string{"companies"}, http.MethodGet, "/api/companies", ""},
		{[]string{"lessons", "--limit", "5"}, http.MethodGet, "/api/lessons", "limit=5"},
		{[]string{"events", "--type", "agent_error"}, http.MethodGet, "/api/events", "limit=100&type=agent_error"},
		{[]string{"seed"}, http.MethodPost, "/api/seed", ""},
		{[]string{"reset", "--yes"}, http.MethodPost, "/api/reset", ""},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			srv, calls := fakeServer(t, http.StatusOK, `{"ok": true}`)
			out, err := run(t, append([]string{"--server", srv.URL}, tt.args...)...)
			require.NoError(t, err)
			require.Len(t, *calls, 1)
			got := (*calls)[0]
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, tt.query, got.query)
			assert.Contains(t, out, `"ok": true`)
		})
	}
}

type fakeSignalBus struct {
	sent   []*messagebus.SignalMessage
	err    error
	closed bool
}

func (f *fakeSignalBus) PublishSignal(ctx context.Context, sig *messagebus.SignalMessage) error {
	if f.err != nil {
		return f.err
	}
	sig.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.sent = append(f.sent, sig)
	return nil
}

func useSignalBus(t *testing.T, bus *fakeSignalBus) *string {
	t.Helper()
	var dialed string
	orig := dialSignalBus
	dialSignalBus = func(natsURL string) (messagebus.SignalPublisher, func() error, error) {
		dialed = natsURL
		return bus, func() error { bus.closed = true; return nil }, nil
	}
	t.Cleanup(func() { dialSignalBus = orig })
	return &dialed
}

func TestScoutTriggerOverNATS(t *testing.T) {
	bus := &fakeSignalBus{}
	dialed := useSignalBus(t, bus)
	srv, calls := fakeServer(t, http.StatusOK, `{"ok": true}`)

	out, err := run(t, "--server", srv.URL, "scout", "trigger",
		"--competitor", "DigitalOcean", "--status", "degraded", "--nats", "nats://bus:4222")
	require.NoError(t, err)

	assert.Empty(t, *calls)
	assert.Equal(t, "nats://bus:4222", *dialed)
	assert.True(t, bus.closed)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, "DigitalOcean", bus.sent[0].Competitor)
	assert.Equal(t, "degraded", bus.sent[0].Status)
	assert.Equal(t, "recurvectl", bus.sent[0].Source)
	assert.Contains(t, out, `"published": true`)
	assert.Contains(t, out, messagebus.SubjectSignalStatus)
}

func TestScoutTriggerOverNATS_PublishError(t *testing.T) {
	bus := &fakeSignalBus{err: errors.New("no responders")}
	useSignalBus(t, bus)

	_, err := run(t, "scout", "trigger", "--competitor", "DigitalOcean", "--nats", "nats://bus:4222")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.True(t, bus.closed)
}

func TestProductBodyAndCredentials(t *testing.T) {
	srv, calls := fakeServer(t, http.StatusCreated, `{"version": 1}`)
	_, err := run(t, "--server", srv.URL, "--api-key", "k-1", "--token", "tok", "product", "Managed Postgres")
	require.NoError(t, err)

	got := (*calls)[0]
	assert.Equal(t, "Managed Postgres", got.body["description"])
	assert.Equal(t, "k-1", got.apiKey)
	assert.Equal(t, "Bearer tok", got.authz)
}

func TestServerErrorsSurface(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusNotFound, `{"error": "no strategy", "kind": "not_found"}`)
	_, err := run(t, "--server", srv.URL, "evolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error (404)")
}

func TestResetNeedsConfirmation(t *testing.T) {
	srv, calls := fakeServer(t, http.StatusOK, `{}`)
	_, err := run(t, "--server", srv.URL, "reset")
	require.Error(t, err)
	assert.Empty(t, *calls)
}

func TestEventsFollow(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, "")
	out, err := run(t, "--server", srv.URL, "events", "--follow")
	require.NoError(t, err)
	assert.Contains(t, out, `{"type":"graph_reset"}`)
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--secret", "s3cret", "--role", "viewer", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := auth.NewManager("s3cret", nil, nil).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleViewer, claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	_, err = run(t, "token", "--secret", "")
	assert.Error(t, err)
}

func TestResetPromptsOnTerminal(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return true }
	t.Cleanup(func() { stdinIsTerminal = orig })

	for _, tc := range []struct {
		input string
		calls int
	}{
		{"reset\n", 1},
		{"no\n", 0},
		{"", 0},
	} {
		srv, calls := fakeServer(t, http.StatusOK, `{"deleted":3}`)
		serverURL, apiKey, token = "", "", ""
		cmd := newRootCommand()
		cmd.SetIn(strings.NewReader(tc.input))
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--server", srv.URL, "reset"})
		err := cmd.Execute()
		if tc.calls == 0 {
			assert.Error(t, err, tc.input)
		} else {
			assert.NoError(t, err, tc.input)
		}
		assert.Len(t, *calls, tc.calls, tc.input)
	}
}
