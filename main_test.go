package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"mutuals/internal/api"
	"mutuals/internal/auth"
	"mutuals/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAPIAddr   = "127.0.0.1:18887"
	testAdminAddr = "127.0.0.1:18888"
)

func TestIntegration(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "integration_test.db")

	t.Setenv("MUTUALS_DB", dbFile)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("TOKEN_EXPIRY", "1h")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx, ""); err != nil && err != context.Canceled {
			t.Errorf("server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/admin/users", testAdminAddr), 50)

	// Create accounts via the admin API.
	for _, username := range []string{"alice", "bob", "carol", "dave"} {
		createUser(t, username)
	}

	aliceToken := login(t, "alice")
	bobToken := login(t, "bob")
	carolToken := login(t, "carol")

	// Wrong password is rejected.
	{
		body, _ := json.Marshal(auth.LoginRequest{Username: "alice", Password: "wrong"})
		resp, err := http.Post(apiURL("/api/login"), "application/json", bytes.NewBuffer(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// Alice sees the other profiles, not her own.
	var profiles []models.Profile
	doJSON(t, aliceToken, "GET", "/api/profiles", nil, http.StatusOK, &profiles)
	require.Len(t, profiles, 3)
	bobID := ""
	for _, p := range profiles {
		require.NotEqual(t, "alice", p.UserName)
		if p.UserName == "bob" {
			bobID = p.UserID
		}
	}
	require.NotEmpty(t, bobID)

	var aliceID string
	{
		var bobProfiles []models.Profile
		doJSON(t, bobToken, "GET", "/api/profiles", nil, http.StatusOK, &bobProfiles)
		for _, p := range bobProfiles {
			if p.UserName == "alice" {
				aliceID = p.UserID
			}
		}
		require.NotEmpty(t, aliceID)
	}

	// Messaging before consent is refused.
	doJSON(t, aliceToken, "POST", "/api/messages",
		api.SendMessageBody{ReceiverID: bobID, Content: "too early"}, http.StatusForbidden, nil)

	// Alice requests bob; self and duplicate requests are refused.
	var request models.ChatRequest
	doJSON(t, aliceToken, "POST", "/api/profiles/"+bobID+"/request", map[string]string{}, http.StatusCreated, &request)
	require.Equal(t, models.RequestStatusPending, request.Status)

	doJSON(t, aliceToken, "POST", "/api/profiles/"+aliceID+"/request", map[string]string{}, http.StatusBadRequest, nil)
	doJSON(t, aliceToken, "POST", "/api/profiles/"+bobID+"/request", map[string]string{}, http.StatusConflict, nil)

	// Bob sees the pending request and accepts it; only once.
	var bobRequests []models.ChatRequest
	doJSON(t, bobToken, "GET", "/api/requests", nil, http.StatusOK, &bobRequests)
	require.Len(t, bobRequests, 1)

	doJSON(t, carolToken, "POST", "/api/requests/"+request.ID+"/respond",
		api.RespondRequestBody{Response: "accepted"}, http.StatusForbidden, nil)
	doJSON(t, bobToken, "POST", "/api/requests/"+request.ID+"/respond",
		api.RespondRequestBody{Response: "maybe"}, http.StatusBadRequest, nil)

	var decided models.ChatRequest
	doJSON(t, bobToken, "POST", "/api/requests/"+request.ID+"/respond",
		api.RespondRequestBody{Response: "accepted"}, http.StatusOK, &decided)
	require.Equal(t, models.RequestStatusAccepted, decided.Status)

	doJSON(t, bobToken, "POST", "/api/requests/"+request.ID+"/respond",
		api.RespondRequestBody{Response: "rejected"}, http.StatusForbidden, nil)

	// Both sides now list each other as mutual.
	var mutual []models.Profile
	doJSON(t, aliceToken, "GET", "/api/profiles/mutual", nil, http.StatusOK, &mutual)
	require.Len(t, mutual, 1)
	require.Equal(t, "bob", mutual[0].UserName)

	// Alice messages bob; bob reads it.
	var message models.Message
	doJSON(t, aliceToken, "POST", "/api/messages",
		api.SendMessageBody{ReceiverID: bobID, Content: "hi"}, http.StatusCreated, &message)

	var count map[string]int
	doJSON(t, bobToken, "GET", "/api/messages/unread-count", nil, http.StatusOK, &count)
	require.Equal(t, 1, count["count"])

	doJSON(t, bobToken, "POST", "/api/messages/"+message.ID+"/read", map[string]string{}, http.StatusOK, nil)
	doJSON(t, bobToken, "GET", "/api/messages/unread-count", nil, http.StatusOK, &count)
	require.Equal(t, 0, count["count"])

	// Re-marking is an idempotent success.
	doJSON(t, bobToken, "POST", "/api/messages/"+message.ID+"/read", map[string]string{}, http.StatusOK, nil)

	// Carol and dave are not mutual; no message gets through.
	var daveID string
	{
		var carolProfiles []models.Profile
		doJSON(t, carolToken, "GET", "/api/profiles", nil, http.StatusOK, &carolProfiles)
		for _, p := range carolProfiles {
			if p.UserName == "dave" {
				daveID = p.UserID
			}
		}
	}
	doJSON(t, carolToken, "POST", "/api/messages",
		api.SendMessageBody{ReceiverID: daveID, Content: "hello?"}, http.StatusForbidden, nil)

	t.Run("LiveRelay", func(t *testing.T) {
		// Unauthenticated connections are rejected with a close handshake.
		{
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
			require.NoError(t, err)
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			require.Error(t, err)
			_ = conn.Close()
		}

		// Two devices for bob, one for alice.
		bob1 := dialWS(t, bobToken)
		bob2 := dialWS(t, bobToken)
		alice := dialWS(t, aliceToken)

		// Each connection echoes to its own group once joined; receiving the
		// echo proves registration completed.
		for _, conn := range []*websocket.Conn{bob1, bob2, alice} {
			require.NoError(t, conn.WriteJSON(models.Envelope{
				Type:    models.EnvelopeChatMessage,
				Message: "ping",
			}))
			var echo models.Envelope
			waitForEnvelope(t, conn, "ping", &echo)
		}
		// A message targeted at bob fans out to both of his connections.
		require.NoError(t, alice.WriteJSON(models.Envelope{
			Type:    models.EnvelopeChatMessage,
			To:      bobID,
			Sender:  "forged",
			Message: "hello bob",
		}))

		for _, conn := range []*websocket.Conn{bob1, bob2} {
			var envelope models.Envelope
			waitForEnvelope(t, conn, "hello bob", &envelope)
			require.Equal(t, "alice", envelope.Sender)
			require.Equal(t, models.EnvelopeChatMessage, envelope.Type)
		}

		// Unknown envelope types are ignored without killing the session.
		require.NoError(t, alice.WriteJSON(map[string]string{"type": "presence_ping"}))
		require.NoError(t, alice.WriteJSON(models.Envelope{
			Type:    models.EnvelopeChatMessage,
			Message: "still alive",
		}))
		var envelope models.Envelope
		waitForEnvelope(t, alice, "still alive", &envelope)

		_ = bob1.Close()
		_ = bob2.Close()
		_ = alice.Close()
	})
}

func apiURL(path string) string {
	return fmt.Sprintf("http://%s%s", testAPIAddr, path)
}

func wsURL() string {
	return fmt.Sprintf("ws://%s/ws/chat", testAPIAddr)
}

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for range attempts {
		resp, err := http.Post(url, "application/json", bytes.NewReader([]byte("{}")))
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start at %s", url)
}

func createUser(t *testing.T, username string) {
	t.Helper()
	body, err := json.Marshal(api.AddUserRequest{Username: username, Password: username + "-password"})
	require.NoError(t, err)
	resp, err := http.Post(fmt.Sprintf("http://%s/admin/users", testAdminAddr), "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func login(t *testing.T, username string) string {
	t.Helper()
	body, err := json.Marshal(auth.LoginRequest{Username: username, Password: username + "-password"})
	require.NoError(t, err)
	resp, err := http.Post(apiURL("/api/login"), "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func doJSON(t *testing.T, token, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, apiURL(path), reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s", method, path)

	if out != nil && wantStatus < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("token", token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(), header)
	require.NoError(t, err)
	return conn
}

// waitForEnvelope reads until it sees an envelope with the wanted message,
// skipping any earlier traffic still in flight.
func waitForEnvelope(t *testing.T, conn *websocket.Conn, wantMessage string, out *models.Envelope) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			t.Fatalf("read failed waiting for %q: %v", wantMessage, err)
		}
		if envelope.Message == wantMessage {
			*out = envelope
			return
		}
	}
	t.Fatalf("did not receive envelope %q", wantMessage)
}
