package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/pkg/logger"
)

func newServices(t *testing.T, opts Options) (*ConversationService, *MessageService) {
	t.Helper()
	convSvc := NewConversationService(conversation.NewEchoSynthesizer(5*time.Millisecond), opts, logger.NewNop())
	return convSvc, NewMessageService(convSvc)
}

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	convSvc, _ := newServices(t, Options{})

	conv, err := convSvc.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Zero(t, conv.MessageCount)
	assert.False(t, conv.Pending)

	got, err := convSvc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	require.NoError(t, convSvc.Delete(ctx, conv.ID))

	_, err = convSvc.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, convSvc.Delete(ctx, conv.ID), ErrConversationNotFound)
}

func TestCreateRespectsLimit(t *testing.T) {
	ctx := context.Background()
	convSvc, _ := newServices(t, Options{MaxConversations: 2})

	for i := 0; i < 2; i++ {
		_, err := convSvc.Create(ctx)
		require.NoError(t, err)
	}
	_, err := convSvc.Create(ctx)
	assert.ErrorIs(t, err, ErrTooManyConversations)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	convSvc, _ := newServices(t, Options{})

	var ids []string
	for i := 0; i < 3; i++ {
		conv, err := convSvc.Create(ctx)
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}

	page, err := convSvc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, ids[0], page.Conversations[0].ID)
	assert.Equal(t, ids[1], page.Conversations[1].ID)

	page, err = convSvc.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, ids[2], page.Conversations[0].ID)

	page, err = convSvc.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)
}

func TestListLimitBounds(t *testing.T) {
	ctx := context.Background()
	convSvc, _ := newServices(t, Options{})
	for i := 0; i < 2; i++ {
		_, err := convSvc.Create(ctx)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		limit   int
		offset  int
		want    int
		hasMore bool
	}{
		{"negative limit", -1, 1, 1, false},
		{"zero limit", 0, 0, 2, false},
		{"negative offset", 1, -5, 1, true},
		{"limit past end", 5, 1, 1, false},
		{"offset past end", -1, 9, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := convSvc.List(ctx, tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, 2, page.Total)
			assert.Len(t, page.Conversations, tt.want)
			assert.Equal(t, tt.hasMore, page.HasMore)
		})
	}
}

func TestSubmitFlow(t *testing.T) {
	ctx := context.Background()
	convSvc, msgSvc := newServices(t, Options{})

	conv, err := convSvc.Create(ctx)
	require.NoError(t, err)

	resp, err := msgSvc.Submit(ctx, conv.ID, "Hello")
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Pending)

	resp, err = msgSvc.Submit(ctx, conv.ID, "again")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, msgSvc.Wait(waitCtx, conv.ID))

	list, err := msgSvc.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, list.Pending)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, conversation.EchoReply("Hello"), list.Messages[1].Content)

	got, err := convSvc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, model.OriginAssistant, got.LastMessage.Origin)
	assert.Len(t, got.Messages, 2)
}

func TestSubmitBlankIsIgnored(t *testing.T) {
	ctx := context.Background()
	convSvc, msgSvc := newServices(t, Options{})
	conv, err := convSvc.Create(ctx)
	require.NoError(t, err)

	resp, err := msgSvc.Submit(ctx, conv.ID, "   ")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.False(t, resp.Pending)

	list, err := msgSvc.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, list.Messages)
}

func TestSubmitUnknownConversation(t *testing.T) {
	_, msgSvc := newServices(t, Options{})

	_, err := msgSvc.Submit(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestObserversAttachedToEveryConversation(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]int{}
	convSvc, msgSvc := newServices(t, Options{
		Observers: []conversation.Observer{func(e model.ConversationEvent) {
			mu.Lock()
			seen[e.ConversationID]++
			mu.Unlock()
		}},
	})

	a, err := convSvc.Create(ctx)
	require.NoError(t, err)
	b, err := convSvc.Create(ctx)
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID} {
		_, err := msgSvc.Submit(ctx, id, "ping")
		require.NoError(t, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, convSvc.WaitAll(waitCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, seen[a.ID])
	assert.Equal(t, 4, seen[b.ID])
}
