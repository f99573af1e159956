// ABOUTME: HTTP API handlers for chat subscription, messaging, and escalation
// ABOUTME: Streams conversation events via SSE; maps typed errors to statuses

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tripline/livechat/internal/auth"
	"github.com/tripline/livechat/internal/channel"
	"github.com/tripline/livechat/internal/escalation"
	"github.com/tripline/livechat/internal/router"
	"github.com/tripline/livechat/internal/session"
)

// ConversationIDHeader is the dedicated header an anonymous visitor uses to
// claim a conversation id. It takes priority over any body or query field.
const ConversationIDHeader = "X-Conversation-ID"

// defaultHistoryLimit bounds history responses when no limit is given.
const defaultHistoryLimit = 50

// CreateSessionResponse is the JSON response for POST /api/chat/session.
type CreateSessionResponse struct {
	ConversationID string `json:"conversation_id"`
	ChannelName    string `json:"channel_name"`
}

// ChannelAuthRequest is the JSON request body for POST /api/chat/auth.
type ChannelAuthRequest struct {
	ChannelName    string `json:"channel_name"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChannelAuthResponse is the JSON response for POST /api/chat/auth.
type ChannelAuthResponse struct {
	Allowed  bool              `json:"allowed"`
	Presence *channel.Presence `json:"presence,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/chat/send.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// MessageResponse is the JSON shape of one chat message.
type MessageResponse struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// EscalationRequest is the JSON request body for the escalation endpoints.
type EscalationRequest struct {
	ConversationID string `json:"conversation_id"`
	Version        uint64 `json:"version"`
}

// StateResponse is the JSON shape of a conversation's escalation state.
type StateResponse struct {
	ConversationID  string `json:"conversation_id"`
	Status          string `json:"status"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	Version         uint64 `json:"version"`
}

func stateResponse(state escalation.State) StateResponse {
	return StateResponse{
		ConversationID:  state.ConversationID,
		Status:          string(state.Status),
		AssignedAgentID: state.AssignedAgentID,
		Version:         state.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeInvalidID rejects a malformed conversation id with the format hint
// the web layer promises its clients.
func writeInvalidID(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":           "invalid conversation id",
		"expected_format": "UUID v4",
	})
}

// transitionStatus maps state machine errors onto HTTP statuses. Both
// failure kinds are surfaced verbatim to the caller; neither is retried
// here.
func transitionStatus(err error) int {
	switch {
	case errors.Is(err, escalation.ErrStaleAssignment):
		return http.StatusConflict
	case errors.Is(err, escalation.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// principalFromRequest resolves the caller into a channel.Principal. Staff
// roles normally arrive in the token; when a token asserts none, the role
// store is consulted so operator-granted roles still apply.
func (g *Gateway) principalFromRequest(r *http.Request) channel.Principal {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		return channel.Anonymous{}
	}

	roleNames := identity.Roles
	if len(roleNames) == 0 {
		stored, err := g.store.ListRoles(r.Context(), identity.UserID)
		if err != nil {
			g.logger.Error("role lookup failed", "user_id", identity.UserID, "error", err)
		}
		for _, role := range stored {
			roleNames = append(roleNames, string(role))
		}
	}

	roles := make([]channel.Role, 0, len(roleNames))
	for _, name := range roleNames {
		roles = append(roles, channel.Role(name))
	}

	return channel.Authenticated{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Roles:       roles,
	}
}

// claimedConversationID resolves an anonymous caller's claimed id: the
// dedicated header first, then the given body (or query) field. The first
// present value wins; a present-but-malformed value is a client error.
func claimedConversationID(r *http.Request, bodyValue string) (string, bool) {
	claimed := r.Header.Get(ConversationIDHeader)
	if claimed == "" {
		claimed = bodyValue
	}
	if claimed == "" {
		return "", true
	}
	if _, err := session.Validate(claimed); err != nil {
		return "", false
	}
	return claimed, true
}

// staffFromRequest returns the authenticated staff principal, writing the
// appropriate error response when the caller is not staff.
func (g *Gateway) staffFromRequest(w http.ResponseWriter, r *http.Request) (channel.Authenticated, bool) {
	principal := g.principalFromRequest(r)
	staff, ok := principal.(channel.Authenticated)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return channel.Authenticated{}, false
	}
	if !staff.IsStaff() {
		writeError(w, http.StatusForbidden, "agent or admin role required")
		return channel.Authenticated{}, false
	}
	return staff, true
}

// handleHealth handles GET /healthz.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSession handles POST /api/chat/session.
// It issues a fresh conversation id and the channel name to subscribe to.
// Authenticated callers are recorded as participants so they can resume the
// conversation after a page reload without carrying the id themselves.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var userID string
	if identity := auth.FromContext(r.Context()); identity != nil {
		userID = identity.UserID
	}

	conversationID, err := g.service.StartConversation(r.Context(), userID)
	if err != nil {
		g.logger.Error("starting conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start conversation")
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		ConversationID: conversationID,
		ChannelName:    channel.ChannelPrefix + conversationID,
	})
}

// handleChannelAuth handles POST /api/chat/auth.
// This is the subscription authorization decision: 200 with a presence
// payload on grant, 403 on deny.
func (g *Gateway) handleChannelAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ChannelAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claimed, ok := claimedConversationID(r, req.ConversationID)
	if !ok {
		writeInvalidID(w)
		return
	}

	grant := g.authorizer.Authorize(r.Context(), req.ChannelName, claimed, g.principalFromRequest(r))
	if !grant.Allowed {
		g.logger.Debug("subscription denied", "channel", req.ChannelName, "reason", grant.Reason)
		writeJSON(w, http.StatusForbidden, ChannelAuthResponse{Allowed: false})
		return
	}

	writeJSON(w, http.StatusOK, ChannelAuthResponse{Allowed: true, Presence: grant.Presence})
}

// handleStream handles GET /api/chat/stream?channel=<name>.
// On grant the caller is attached to the conversation's event stream over
// SSE. The first event is a state-changed snapshot of the current
// escalation state; afterwards events arrive in publish order. If the
// client falls behind its buffer the stream ends and it must re-subscribe,
// which repeats authorization.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channelName := r.URL.Query().Get("channel")
	claimed, ok := claimedConversationID(r, r.URL.Query().Get("conversation_id"))
	if !ok {
		writeInvalidID(w)
		return
	}

	grant := g.authorizer.Authorize(r.Context(), channelName, claimed, g.principalFromRequest(r))
	if err := grant.Err(); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	conversationID, err := channel.ParseChannel(channelName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed channel name")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, subID := g.router.Subscribe(r.Context(), conversationID.String())
	defer g.router.Unsubscribe(conversationID.String(), subID)

	state := g.service.Status(conversationID.String())
	writeSSE(w, router.Event{
		Kind: router.KindStateChanged,
		Payload: router.StatePayload{
			Status:          string(state.Status),
			AssignedAgentID: state.AssignedAgentID,
			Version:         state.Version,
		},
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				// Disconnected: either shutdown or this subscriber
				// overran its buffer. Ending the response forces a
				// re-subscribe.
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in Server-Sent Events framing.
func writeSSE(w http.ResponseWriter, ev router.Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + string(ev.Kind) + "\ndata: " + string(data) + "\n\n"))
}

// handleSend handles POST /api/chat/send.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	conversationID, grant, ok := g.authorizeConversation(w, r, req.ConversationID)
	if !ok {
		return
	}

	msg, err := g.service.SendMessage(r.Context(), conversationID, grant.Presence.ID, req.Text)
	if err != nil {
		if errors.Is(err, escalation.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "conversation is resolved")
			return
		}
		g.logger.Error("sending message failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// authorizeConversation checks the caller against the conversation's
// channel, writing the error response on failure. Used by the endpoints
// that take a conversation id rather than a channel name.
func (g *Gateway) authorizeConversation(w http.ResponseWriter, r *http.Request, rawID string) (string, channel.Grant, bool) {
	claimed, ok := claimedConversationID(r, rawID)
	if !ok {
		writeInvalidID(w)
		return "", channel.Grant{}, false
	}
	if rawID == "" {
		rawID = claimed
	}
	if _, err := session.Validate(rawID); err != nil {
		writeInvalidID(w)
		return "", channel.Grant{}, false
	}

	channelName := channel.ChannelPrefix + rawID
	grant := g.authorizer.Authorize(r.Context(), channelName, claimed, g.principalFromRequest(r))
	if err := grant.Err(); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return "", channel.Grant{}, false
	}
	return rawID, grant, true
}

// handleHistory handles GET /api/chat/history?conversation_id=<id>&limit=<n>.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID, _, ok := g.authorizeConversation(w, r, r.URL.Query().Get("conversation_id"))
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := g.service.History(r.Context(), conversationID, limit)
	if err != nil {
		g.logger.Error("listing history failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, MessageResponse{
			ID:        msg.ID,
			Sender:    msg.Sender,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        out,
	})
}

// handleStatus handles GET /api/chat/status?conversation_id=<id>.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID, _, ok := g.authorizeConversation(w, r, r.URL.Query().Get("conversation_id"))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, stateResponse(g.service.Status(conversationID)))
}

// handleEscalate handles POST /api/chat/escalate.
// Any participant of the conversation (visitor, customer, or staff) may
// request a human.
func (g *Gateway) handleEscalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversationID, _, ok := g.authorizeConversation(w, r, req.ConversationID)
	if !ok {
		return
	}

	state, err := g.service.RequestEscalation(r.Context(), conversationID)
	if err != nil {
		writeError(w, transitionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// handleTakeover handles POST /api/chat/takeover.
// Staff only. The caller supplies the version it last observed; losing the
// race returns 409 along with the current state so the agent can decide
// whether to retry.
func (g *Gateway) handleTakeover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	staff, ok := g.staffFromRequest(w, r)
	if !ok {
		return
	}

	var req EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := session.Validate(req.ConversationID); err != nil {
		writeInvalidID(w)
		return
	}

	state, err := g.service.Takeover(r.Context(), req.ConversationID, staff.UserID, req.Version)
	if err != nil {
		if errors.Is(err, escalation.ErrStaleAssignment) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "stale assignment version",
				"state": stateResponse(state),
			})
			return
		}
		writeError(w, transitionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// handleRelease handles POST /api/chat/release. Staff only; hands an
// assigned conversation back to the bot.
func (g *Gateway) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := g.staffFromRequest(w, r); !ok {
		return
	}

	var req EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := session.Validate(req.ConversationID); err != nil {
		writeInvalidID(w)
		return
	}

	state, err := g.service.ResetAssignment(r.Context(), req.ConversationID)
	if err != nil {
		writeError(w, transitionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// handleResolve handles POST /api/chat/resolve. Staff only.
func (g *Gateway) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := g.staffFromRequest(w, r); !ok {
		return
	}

	var req EscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := session.Validate(req.ConversationID); err != nil {
		writeInvalidID(w)
		return
	}

	state, err := g.service.Resolve(r.Context(), req.ConversationID)
	if err != nil {
		writeError(w, transitionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// handleQueue handles GET /api/chat/queue: conversations waiting for a
// human, most recently active first.
func (g *Gateway) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	waiting, err := g.store.ListConversationsByStatus(
		r.Context(), string(escalation.StatusEscalationRequested), defaultHistoryLimit)
	if err != nil {
		g.logger.Error("listing escalation queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load queue")
		return
	}

	out := make([]StateResponse, 0, len(waiting))
	for _, conv := range waiting {
		resp := StateResponse{
			ConversationID: conv.ID,
			Status:         conv.Status,
			Version:        conv.Version,
		}
		if conv.AssignedAgentID != nil {
			resp.AssignedAgentID = *conv.AssignedAgentID
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}
