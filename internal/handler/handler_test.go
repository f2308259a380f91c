package handler

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/internal/service"
	"github.com/mailmind/assistant/pkg/logger"
)

type testServer struct {
	*httptest.Server
	conversations *service.ConversationService
}

func setupServer(t *testing.T, delay time.Duration, opts service.Options) *testServer {
	t.Helper()
	log := logger.NewNop()
	convSvc := service.NewConversationService(conversation.NewEchoSynthesizer(delay), opts, log)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Conversations: convSvc,
		Messages:      service.NewMessageService(convSvc),
		Synthesizer:   "echo",
		Logger:        log,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, conversations: convSvc}
}

func (s *testServer) createConversation(t *testing.T) model.Conversation {
	t.Helper()
	res, err := http.Post(s.URL+"/api/v1/conversations", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var conv model.Conversation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&conv))
	return conv
}

func (s *testServer) send(t *testing.T, id, content string) (int, model.SendMessageResponse) {
	t.Helper()
	body, _ := json.Marshal(model.SendMessageRequest{Content: content})
	res, err := http.Post(s.URL+"/api/v1/conversations/"+id+"/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var out model.SendMessageResponse
	if res.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func (s *testServer) messages(t *testing.T, id string) model.ListMessagesResponse {
	t.Helper()
	res, err := http.Get(s.URL + "/api/v1/conversations/" + id + "/messages")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out model.ListMessagesResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (s *testServer) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.conversations.WaitAll(ctx))
}

func TestHealth(t *testing.T) {
	srv := setupServer(t, 0, service.Options{})

	for _, path := range []string{"/health", "/ready"} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}

func TestSendAndReply(t *testing.T) {
	srv := setupServer(t, 10*time.Millisecond, service.Options{})
	conv := srv.createConversation(t)

	status, resp := srv.send(t, conv.ID, "Hello")
	require.Equal(t, http.StatusAccepted, status)
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Pending)

	list := srv.messages(t, conv.ID)
	require.Len(t, list.Messages, 1)
	assert.True(t, list.Pending)

	srv.waitIdle(t)

	list = srv.messages(t, conv.ID)
	assert.False(t, list.Pending)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "Hello", list.Messages[0].Content)
	assert.Equal(t, model.OriginUser, list.Messages[0].Origin)
	assert.Equal(t, "已收到您的请求：\"Hello\"，正在处理中...", list.Messages[1].Content)
	assert.Equal(t, model.OriginAssistant, list.Messages[1].Origin)
}

func TestSendWhilePendingIsIgnored(t *testing.T) {
	srv := setupServer(t, 200*time.Millisecond, service.Options{})
	conv := srv.createConversation(t)

	_, first := srv.send(t, conv.ID, "A")
	require.True(t, first.Accepted)

	status, second := srv.send(t, conv.ID, "B")
	assert.Equal(t, http.StatusAccepted, status)
	assert.False(t, second.Accepted)

	srv.waitIdle(t)

	list := srv.messages(t, conv.ID)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "A", list.Messages[0].Content)
	assert.Equal(t, conversation.EchoReply("A"), list.Messages[1].Content)
}

func TestSendEmptyIsIgnored(t *testing.T) {
	srv := setupServer(t, 0, service.Options{})
	conv := srv.createConversation(t)

	status, resp := srv.send(t, conv.ID, "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.False(t, resp.Accepted)
	assert.Empty(t, srv.messages(t, conv.ID).Messages)
}

func TestBadRequests(t *testing.T) {
	srv := setupServer(t, 0, service.Options{})
	conv := srv.createConversation(t)

	status, _ := srv.send(t, "not-a-uuid", "hi")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = srv.send(t, "0190b6a4-7f1e-7c3a-9a55-6d2f1e8b9c01", "hi")
	assert.Equal(t, http.StatusNotFound, status)

	res, err := http.Post(srv.URL+"/api/v1/conversations/"+conv.ID+"/messages", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConversationLifecycle(t *testing.T) {
	srv := setupServer(t, 0, service.Options{MaxConversations: 1})
	conv := srv.createConversation(t)

	res, err := http.Post(srv.URL+"/api/v1/conversations", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, err = http.Get(srv.URL + "/api/v1/conversations")
	require.NoError(t, err)
	var list model.ListConversationsResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	res.Body.Close()
	assert.Equal(t, 1, list.Total)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/conversations/"+conv.ID, nil)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = http.Get(srv.URL + "/api/v1/conversations/" + conv.ID)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			return ev
		}
	}
}

func TestStream(t *testing.T) {
	srv := setupServer(t, 10*time.Millisecond, service.Options{})
	conv := srv.createConversation(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/conversations/"+conv.ID+"/stream", nil)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	r := bufio.NewReader(res.Body)
	assert.Equal(t, "connected", readEvent(t, r).name)

	snap := readEvent(t, r)
	require.Equal(t, "snapshot", snap.name)
	var snapshot SnapshotEvent
	require.NoError(t, json.Unmarshal([]byte(snap.data), &snapshot))
	assert.Empty(t, snapshot.Messages)
	assert.False(t, snapshot.Pending)

	_, resp := srv.send(t, conv.ID, "Hello")
	require.True(t, resp.Accepted)

	var got []model.ConversationEvent
	for len(got) < 4 {
		ev := readEvent(t, r)
		if ev.name == "heartbeat" {
			continue
		}
		var ce model.ConversationEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &ce))
		assert.Equal(t, string(ce.Type), ev.name)
		got = append(got, ce)
	}

	assert.Equal(t, model.EventTypeMessage, got[0].Type)
	assert.Equal(t, "Hello", got[0].Message.Content)
	assert.Equal(t, model.EventTypePending, got[1].Type)
	assert.True(t, got[1].Pending)
	assert.Equal(t, model.EventTypeMessage, got[2].Type)
	assert.Equal(t, conversation.EchoReply("Hello"), got[2].Message.Content)
	assert.Equal(t, model.EventTypePending, got[3].Type)
	assert.False(t, got[3].Pending)
}
