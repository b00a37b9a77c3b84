package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/session"
	"github.com/murtaza-nasir/maestro-sub003/pkg/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []string
	paused  []string
	stopped []string
}

func (f *fakeRunner) Start(_ context.Context, missionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, missionID)
	return nil
}

func (f *fakeRunner) Pause(missionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, missionID)
	return nil
}

func (f *fakeRunner) Stop(missionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, missionID)
	return nil
}

func (f *fakeRunner) startedMissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type fakeResponder struct {
	answer *session.Answer
	err    error
	gotMsg string
}

func (f *fakeResponder) Respond(_ context.Context, _ string, userMessage string, _ []llms.Message) (*session.Answer, error) {
	f.gotMsg = userMessage
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type testEnv struct {
	server    *Server
	missions  *mission.ContextStore
	sessions  *session.Manager
	runner    *fakeRunner
	responder *fakeResponder
	chats     *store.Store
	http      *httptest.Server
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	chats, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { chats.Close() })

	env := &testEnv{
		missions:  mission.NewContextStore(nil, 10),
		sessions:  session.NewManager(nil, nil),
		runner:    &fakeRunner{},
		responder: &fakeResponder{answer: &session.Answer{Content: "an answer"}},
		chats:     chats,
	}
	env.server = New(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, AuthToken: token},
		events.NewBus(nil),
		env.missions, env.runner, env.sessions, env.responder, chats, nil,
	)
	env.http = httptest.NewServer(env.server)
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) url(path, token string) string {
	u := e.http.URL + path
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) wsURL(path, token string) string {
	u := strings.Replace(e.http.URL, "http://", "ws://", 1) + path
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateMissionStartsRunner(t *testing.T) {
	env := newTestEnv(t, "")

	resp := postJSON(t, env.url("/api/missions/", ""), map[string]any{
		"request": "impact of offshore wind",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	missionID, _ := body["mission_id"].(string)
	require.NotEmpty(t, missionID)

	require.Eventually(t, func() bool {
		started := env.runner.startedMissions()
		return len(started) == 1 && started[0] == missionID
	}, time.Second, 10*time.Millisecond)
}

func TestCreateMissionRequiresRequest(t *testing.T) {
	env := newTestEnv(t, "")
	resp := postJSON(t, env.url("/api/missions/", ""), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMissionLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	m := env.missions.CreateMission("u1", "a question")

	resp := postJSON(t, env.url("/api/missions/"+m.ID+"/pause", ""), map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{m.ID}, env.runner.paused)

	resp = postJSON(t, env.url("/api/missions/"+m.ID+"/stop", ""), map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{m.ID}, env.runner.stopped)
}

func TestResumeRequiresPausedMission(t *testing.T) {
	env := newTestEnv(t, "")
	m := env.missions.CreateMission("u1", "a question")

	resp := postJSON(t, env.url("/api/missions/"+m.ID+"/resume", ""), map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, env.missions.SetStatus(m.ID, mission.StatusPaused))
	resp = postJSON(t, env.url("/api/missions/"+m.ID+"/resume", ""), map[string]any{})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func TestMissionReportNotReady(t *testing.T) {
	env := newTestEnv(t, "")
	m := env.missions.CreateMission("u1", "a question")

	resp, err := http.Get(env.url("/api/missions/"+m.ID+"/report", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, env.missions.SetFinalReport(m.ID, "# Done"))
	resp, err = http.Get(env.url("/api/missions/"+m.ID+"/report", ""))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "# Done", body["report"])
}

func TestRestAuthToken(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, err := http.Get(env.url("/api/missions/", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.url("/api/missions/", "secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Health and metrics stay open.
	resp, err = http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestClearSessionStats(t *testing.T) {
	env := newTestEnv(t, "")
	ws := env.sessions.Create("chat1", "", false)
	require.NoError(t, env.sessions.AddStatsDelta(ws.ID, mission.Stats{TotalCost: 0.5, PromptTokens: 100}))

	resp, err := http.Post(env.url("/api/sessions/"+ws.ID+"/stats/clear", ""), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.sessions.Get(ws.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stats.TotalCost)
	assert.Zero(t, got.Stats.PromptTokens)
}

func TestSessionChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")

	chat, err := env.chats.CreateChat("u1", "New chat")
	require.NoError(t, err)

	resp := postJSON(t, env.url("/api/sessions/", ""), map[string]any{
		"chat_id":        chat.ID,
		"use_web_search": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	sessionID, _ := created["id"].(string)
	require.NotEmpty(t, sessionID)

	resp = postJSON(t, env.url("/api/sessions/"+sessionID+"/chat", ""), map[string]any{
		"message": "summarize my draft",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "an answer", body["content"])
	assert.Equal(t, "summarize my draft", env.responder.gotMsg)

	// Both turns land in the chat history.
	messages, err := env.chats.Messages(chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestSessionChatUnknownSession(t *testing.T) {
	env := newTestEnv(t, "")
	resp := postJSON(t, env.url("/api/sessions/missing/chat", ""), map[string]any{
		"message": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocketAuthFailureCloses1008(t *testing.T) {
	env := newTestEnv(t, "secret")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research", "wrong"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeCodeAuth, closeErr.Code)
}

func TestWebSocketSubscribeReceivesMissionEvents(t *testing.T) {
	env := newTestEnv(t, "")
	m := env.missions.CreateMission("u1", "a question")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research", ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "subscribe", "mission_id": m.ID,
	}))

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])

	env.server.bus.SendToMission(m.ID, events.MissionPayload(
		events.KindStatusUpdate, m.ID, map[string]any{"status": "running"},
	))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, events.KindStatusUpdate, event["type"])
	assert.Equal(t, m.ID, event["mission_id"])
}

func TestWebSocketGetLogs(t *testing.T) {
	env := newTestEnv(t, "")
	m := env.missions.CreateMission("u1", "a question")
	require.NoError(t, env.missions.AppendLog(m.ID, &mission.LogEntry{
		AgentName: "controller", Action: "planning", Status: mission.LogSuccess,
	}))

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research", ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "get_logs", "mission_id": m.ID,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, events.KindLogsUpdate, reply["type"])
	logs, ok := reply["logs"].([]any)
	require.True(t, ok)
	require.Len(t, logs, 1)
}

func TestWebSocketPing(t *testing.T) {
	env := newTestEnv(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research", ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply["type"])
}

func TestWritingWSBindsSession(t *testing.T) {
	env := newTestEnv(t, "")
	ws := env.sessions.Create("chat1", "", false)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/"+ws.ID, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	env.server.bus.SendToSession(ws.ID, events.SessionPayload(
		events.KindStatsUpdate, ws.ID, map[string]any{"total_cost": 0.5},
	))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, events.KindStatsUpdate, event["type"])
	assert.Equal(t, ws.ID, event["session_id"])
}

func TestDuplicateResearchConnectionDisplacesFirst(t *testing.T) {
	env := newTestEnv(t, "")

	first, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research?user_id=u1", ""), nil)
	require.NoError(t, err)
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/research?user_id=u1", ""), nil)
	require.NoError(t, err)
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if assert.ErrorAs(t, err, &closeErr) {
		assert.Contains(t, closeErr.Text, "duplicate")
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	env := newTestEnv(t, "")
	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "maestro_http_requests_total")
}

func TestListMissionsSummaries(t *testing.T) {
	env := newTestEnv(t, "")
	env.missions.CreateMission("u1", "first")
	env.missions.CreateMission("u1", "second")

	resp, err := http.Get(env.url("/api/missions/", ""))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	missions, ok := body["missions"].([]any)
	require.True(t, ok)
	assert.Len(t, missions, 2)

	for _, raw := range missions {
		entry, ok := raw.(map[string]any)
		require.True(t, ok)
		assert.NotContains(t, entry, "notes", fmt.Sprintf("summary %v should stay small", entry["id"]))
	}
}
