package service

import (
	"context"

	"github.com/mailmind/assistant/internal/model"
)

// MessageService handles message operations.
type MessageService struct {
	conversationService *ConversationService
}

// NewMessageService creates a new message service.
func NewMessageService(conversationService *ConversationService) *MessageService {
	return &MessageService{
		conversationService: conversationService,
	}
}

// Submit hands text to the conversation. Blank text and submissions made
// while a reply is pending are ignored and reported as not accepted.
func (s *MessageService) Submit(ctx context.Context, conversationID, text string) (*model.SendMessageResponse, error) {
	store, err := s.conversationService.Store(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	accepted := store.Submit(text)

	return &model.SendMessageResponse{
		Accepted: accepted,
		Pending:  store.Pending(),
	}, nil
}

// GetMessages returns the messages of a conversation and its pending flag.
func (s *MessageService) GetMessages(ctx context.Context, conversationID string) (*model.ListMessagesResponse, error) {
	store, err := s.conversationService.Store(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, pending := store.Snapshot()

	return &model.ListMessagesResponse{
		Messages: msgs,
		Pending:  pending,
	}, nil
}

// Wait blocks until the conversation has no pending reply.
func (s *MessageService) Wait(ctx context.Context, conversationID string) error {
	store, err := s.conversationService.Store(ctx, conversationID)
	if err != nil {
		return err
	}
	return store.Wait(ctx)
}
