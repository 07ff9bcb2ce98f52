package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModel "github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

type echoStepper struct{}

func (echoStepper) Step(_ context.Context, _ string, message string, restored *chatModel.State) (chatModel.Delta, error) {
	answer := "эхо: " + message
	return chatModel.Delta{
		Stage:        restored.Stage(),
		AppendShared: []chatModel.Turn{chatModel.UserTurn(message), chatModel.AssistantTurn(answer, nil)},
		Answer:       answer,
	}, nil
}

func setupRouter() (*chi.Mux, *store.InMemoryStore) {
	repo := store.NewMemory(0)
	chatSvc := chatService.NewService(repo, repo, echoStepper{}, chatService.Options{TurnTimeout: time.Second})
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestChatReturnsReply(t *testing.T) {
	r, repo := setupRouter()

	resp := doJSON(t, r, http.MethodPost, "/chat", map[string]string{"message": "привет", "thread_id": "t1"})
	require.Equal(t, http.StatusOK, resp.Code)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &reply))
	assert.Equal(t, "эхо: привет", reply["response"])
	assert.Equal(t, true, reply["first_message"])
	assert.NotContains(t, reply, "manager_alert")

	state, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, state.SharedHistory, 2)
}

func TestChatValidation(t *testing.T) {
	r, _ := setupRouter()

	cases := map[string]any{
		"missing thread": map[string]string{"message": "привет"},
		"empty message":  map[string]string{"message": " ", "thread_id": "t1"},
		"unknown field":  map[string]string{"message": "привет", "thread_id": "t1", "persona": "x"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := doJSON(t, r, http.MethodPost, "/chat", body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateSessionIssuesThreadID(t *testing.T) {
	r, _ := setupRouter()

	resp := doJSON(t, r, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.NotEmpty(t, body["thread_id"])
}

func TestSessionLifecycle(t *testing.T) {
	r, _ := setupRouter()

	for _, msg := range []string{"первое", "второе"} {
		resp := doJSON(t, r, http.MethodPost, "/chat", map[string]string{"message": msg, "thread_id": "t1"})
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := doJSON(t, r, http.MethodGet, "/session/t1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var state chatModel.State
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &state))
	assert.Len(t, state.SharedHistory, 4)

	resp = doJSON(t, r, http.MethodGet, "/session/t1/versions", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var snapshots []store.Snapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 2)

	resp = doJSON(t, r, http.MethodGet, "/session/t1/versions/1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &state))
	assert.Len(t, state.SharedHistory, 2)

	resp = doJSON(t, r, http.MethodGet, "/session/t1/versions/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doJSON(t, r, http.MethodGet, "/session/t1/versions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, r, http.MethodDelete, "/session/t1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var reset map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &reset))
	assert.EqualValues(t, 2, reset["deleted"])

	resp = doJSON(t, r, http.MethodGet, "/session/t1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	state = chatModel.State{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &state))
	assert.Empty(t, state.SharedHistory)
}

func TestStreamDeliversEvents(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/chat/stream/t1?message=%D0%BF%D1%80%D0%B8%D0%B2%D0%B5%D1%82", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	body := resp.Body.String()
	var events []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{"status", "reply", "done"}, events)
	assert.Contains(t, body, "эхо: привет")
}

func TestStreamRequiresMessage(t *testing.T) {
	r, _ := setupRouter()

	resp := doJSON(t, r, http.MethodGet, "/chat/stream/t1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWebSocketTurn(t *testing.T) {
	r, repo := setupRouter()
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg outgoingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "message", Text: "привет"}))

	var reply struct {
		Type string            `json:"type"`
		Data chatService.Reply `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "эхо: привет", reply.Data.Answer)
	assert.Equal(t, int64(1), reply.Data.Version)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "bogus"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "reset"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "reset", msg.Type)

	state, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

type slowStepper struct {
	delay time.Duration
}

func (s slowStepper) Step(ctx context.Context, sessionID string, message string, restored *chatModel.State) (chatModel.Delta, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return chatModel.Delta{}, ctx.Err()
	}
	return echoStepper{}.Step(ctx, sessionID, message, restored)
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	repo := store.NewMemory(0)
	chatSvc := chatService.NewService(repo, repo, slowStepper{delay: 300 * time.Millisecond}, chatService.Options{TurnTimeout: 5 * time.Second})
	ws := newWebSocketHandler(chatSvc)
	ws.readTimeout = 100 * time.Millisecond

	r := chi.NewRouter()
	r.Get("/chat/ws/{sessionID}", ws.ServeHTTP)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg outgoingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	var reply struct {
		Type string            `json:"type"`
		Data chatService.Reply `json:"data"`
	}
	for i, text := range []string{"первый", "второй"} {
		require.NoError(t, conn.WriteJSON(inboundMessage{Type: "message", Text: text}))
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "reply", reply.Type)
		assert.Equal(t, "эхо: "+text, reply.Data.Answer)
		assert.Equal(t, int64(i+1), reply.Data.Version)
	}
}
