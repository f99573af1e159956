// ABOUTME: HTTP-level tests driving the full gateway handler stack
// ABOUTME: Covers subscription auth, messaging, escalation, and role gates

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripline/livechat/internal/auth"
	"github.com/tripline/livechat/internal/channel"
	"github.com/tripline/livechat/internal/config"
	"github.com/tripline/livechat/internal/session"
)

const testSecret = "test-secret"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "livechat.db")
	cfg.Auth.JWTSecret = testSecret
	cfg.Chat.SubscriberBuffer = 16

	g, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(g.close)
	return g
}

func mintToken(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	verifier := auth.NewJWTVerifier([]byte(testSecret))
	token, err := verifier.Generate(&auth.Identity{
		UserID:      userID,
		DisplayName: userID,
		Roles:       roles,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

// doJSON performs one request against the full handler stack. token and
// claimedID are optional.
func doJSON(t *testing.T, g *Gateway, method, path, token, claimedID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if claimedID != "" {
		req.Header.Set(ConversationIDHeader, claimedID)
	}

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, g *Gateway) string {
	t.Helper()
	rec := doJSON(t, g, http.MethodPost, "/api/chat/session", "", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.ConversationID
}

func TestCreateSession_IssuesCanonicalID(t *testing.T) {
	g := newTestGateway(t)

	rec := doJSON(t, g, http.MethodPost, "/api/chat/session", "", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	_, err := session.Validate(resp.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, channel.ChannelPrefix+resp.ConversationID, resp.ChannelName)
}

func TestChannelAuth_AnonymousPossession(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	channelName := channel.ChannelPrefix + conversationID

	// Matching claimed id: granted with a visitor presence.
	rec := doJSON(t, g, http.MethodPost, "/api/chat/auth", "", conversationID,
		ChannelAuthRequest{ChannelName: channelName})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChannelAuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Allowed)
	require.NotNil(t, resp.Presence)
	assert.Equal(t, "visitor-"+conversationID, resp.Presence.ID)

	// A different (valid) id: denied.
	other := createSession(t, g)
	rec = doJSON(t, g, http.MethodPost, "/api/chat/auth", "", other,
		ChannelAuthRequest{ChannelName: channelName})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No claimed id at all: denied.
	rec = doJSON(t, g, http.MethodPost, "/api/chat/auth", "", "",
		ChannelAuthRequest{ChannelName: channelName})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChannelAuth_MalformedClaimedID(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	rec := doJSON(t, g, http.MethodPost, "/api/chat/auth", "", "not-a-uuid",
		ChannelAuthRequest{ChannelName: channel.ChannelPrefix + conversationID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "UUID v4", resp["expected_format"])
	assert.NotEmpty(t, resp["error"])
}

func TestChannelAuth_HeaderOutranksBody(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	other := createSession(t, g)

	// Header carries the right id, body the wrong one: the header wins.
	rec := doJSON(t, g, http.MethodPost, "/api/chat/auth", "", conversationID,
		ChannelAuthRequest{
			ChannelName:    channel.ChannelPrefix + conversationID,
			ConversationID: other,
		})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChannelAuth_StaffBypass(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	token := mintToken(t, "agent-a", "agent")

	// No claimed id; the staff role alone grants access.
	rec := doJSON(t, g, http.MethodPost, "/api/chat/auth", token, "",
		ChannelAuthRequest{ChannelName: channel.ChannelPrefix + conversationID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChannelAuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Allowed)
	require.NotNil(t, resp.Presence)
	assert.Equal(t, "agent-a", resp.Presence.ID)
}

func TestSendAndHistory(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	rec := doJSON(t, g, http.MethodPost, "/api/chat/send", "", conversationID,
		SendMessageRequest{ConversationID: conversationID, Text: "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var msg MessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "visitor-"+conversationID, msg.Sender)
	assert.Equal(t, "hello", msg.Text)

	rec = doJSON(t, g, http.MethodGet,
		"/api/chat/history?conversation_id="+conversationID, "", conversationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist struct {
		Messages []MessageResponse `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	require.NotEmpty(t, hist.Messages)
	assert.Equal(t, "hello", hist.Messages[0].Text)
}

func TestSend_ForeignConversationDenied(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	other := createSession(t, g)

	rec := doJSON(t, g, http.MethodPost, "/api/chat/send", "", other,
		SendMessageRequest{ConversationID: conversationID, Text: "sneaky"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTakeover_RequiresStaff(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	body := EscalationRequest{ConversationID: conversationID, Version: 0}

	rec := doJSON(t, g, http.MethodPost, "/api/chat/takeover", "", conversationID, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authenticated but not staff.
	customer := mintToken(t, "customer-1")
	rec = doJSON(t, g, http.MethodPost, "/api/chat/takeover", customer, "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTakeover_StaleVersionConflict(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	agentA := mintToken(t, "agent-a", "agent")
	agentB := mintToken(t, "agent-b", "agent")
	body := EscalationRequest{ConversationID: conversationID, Version: 0}

	rec := doJSON(t, g, http.MethodPost, "/api/chat/takeover", agentA, "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var state StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, "assigned", state.Status)
	assert.Equal(t, "agent-a", state.AssignedAgentID)

	// Same stale version from the loser: 409 with the winner's state.
	rec = doJSON(t, g, http.MethodPost, "/api/chat/takeover", agentB, "", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict struct {
		Error string        `json:"error"`
		State StateResponse `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, "agent-a", conflict.State.AssignedAgentID)
}

func TestEscalateThenQueue(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	rec := doJSON(t, g, http.MethodPost, "/api/chat/escalate", "", conversationID,
		EscalationRequest{ConversationID: conversationID})
	require.Equal(t, http.StatusOK, rec.Code)

	// The queue is staff-only.
	rec = doJSON(t, g, http.MethodGet, "/api/chat/queue", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := mintToken(t, "agent-a", "agent")
	rec = doJSON(t, g, http.MethodGet, "/api/chat/queue", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []StateResponse `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, conversationID, resp.Conversations[0].ConversationID)
	assert.Equal(t, "escalation_requested", resp.Conversations[0].Status)
}

func TestResolve_EndsConversation(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)
	token := mintToken(t, "agent-a", "agent")

	rec := doJSON(t, g, http.MethodPost, "/api/chat/resolve", token, "",
		EscalationRequest{ConversationID: conversationID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, g, http.MethodPost, "/api/chat/send", "", conversationID,
		SendMessageRequest{ConversationID: conversationID, Text: "still there?"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStoredRole_GrantsStaffAccess(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	// The token asserts no roles; the role store does.
	require.NoError(t, g.store.AddRole(context.Background(), "agent-x", "agent"))
	token := mintToken(t, "agent-x")

	rec := doJSON(t, g, http.MethodPost, "/api/chat/takeover", token, "",
		EscalationRequest{ConversationID: conversationID, Version: 0})
	require.Equal(t, http.StatusOK, rec.Code)

	var state StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, "agent-x", state.AssignedAgentID)
}

func TestStream_DeliversEventsOverSSE(t *testing.T) {
	g := newTestGateway(t)
	conversationID := createSession(t, g)

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	streamURL := srv.URL + "/api/chat/stream?channel=" +
		channel.ChannelPrefix + conversationID + "&conversation_id=" + conversationID
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, streamURL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The opening event is a snapshot of the current state.
	event, data := readSSEEvent(t, reader)
	assert.Equal(t, "state-changed", event)
	assert.Contains(t, data, "bot_only")

	rec := doJSON(t, g, http.MethodPost, "/api/chat/send", "", conversationID,
		SendMessageRequest{ConversationID: conversationID, Text: "anyone home"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	event, data = readSSEEvent(t, reader)
	assert.Equal(t, "message-received", event)
	assert.Contains(t, data, "anyone home")
}

// readSSEEvent reads one "event:"/"data:" pair from an SSE stream.
func readSSEEvent(t *testing.T, reader *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}
