// Package service manages the conversations hosted by the server.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/pkg/logger"
	"github.com/mailmind/assistant/pkg/metrics"
)

var (
	// ErrConversationNotFound is returned for unknown or discarded conversations.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrTooManyConversations is returned when the registry is full.
	ErrTooManyConversations = errors.New("too many open conversations")
)

// Options configures a ConversationService.
type Options struct {
	// MaxConversations caps how many conversations are held at once.
	// Zero or less means unbounded.
	MaxConversations int
	Location         *time.Location
	// Observers are attached to every conversation created.
	Observers []conversation.Observer
}

type entry struct {
	store     *conversation.Store
	createdAt time.Time
}

// ConversationService owns one Store per open chat view.
type ConversationService struct {
	synth  conversation.Synthesizer
	opts   Options
	logger *logger.Logger

	conversations map[string]*entry
	mu            sync.RWMutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(synth conversation.Synthesizer, opts Options, log *logger.Logger) *ConversationService {
	if opts.Location == nil {
		opts.Location = conversation.DefaultLocation()
	}
	return &ConversationService{
		synth:         synth,
		opts:          opts,
		logger:        log,
		conversations: make(map[string]*entry),
	}
}

// Create opens a new, empty conversation.
func (s *ConversationService) Create(ctx context.Context) (*model.Conversation, error) {
	id := uuid.Must(uuid.NewV7()).String()

	storeOpts := []conversation.Option{
		conversation.WithID(id),
		conversation.WithLogger(s.logger),
		conversation.WithLocation(s.opts.Location),
	}
	for _, obs := range s.opts.Observers {
		storeOpts = append(storeOpts, conversation.WithObserver(obs))
	}
	e := &entry{
		store:     conversation.New(s.synth, storeOpts...),
		createdAt: time.Now(),
	}

	s.mu.Lock()
	if s.opts.MaxConversations > 0 && len(s.conversations) >= s.opts.MaxConversations {
		s.mu.Unlock()
		return nil, ErrTooManyConversations
	}
	s.conversations[id] = e
	s.mu.Unlock()

	metrics.ConversationsActive.Inc()
	s.logger.Info("conversation created", zap.String("conversation_id", id))

	return describe(id, e, false), nil
}

// Get returns a conversation including its messages.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	e, err := s.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	return describe(conversationID, e, true), nil
}

// Store returns the live store behind a conversation.
func (s *ConversationService) Store(ctx context.Context, conversationID string) (*conversation.Store, error) {
	e, err := s.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

// List returns conversations oldest first. A limit of zero or less means no
// limit and a negative offset is treated as zero.
func (s *ConversationService) List(ctx context.Context, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conversations))
	entries := make(map[string]*entry, len(s.conversations))
	for id, e := range s.conversations {
		ids = append(ids, id)
		entries[id] = e
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return ids[i] < ids[j]
	})

	total := len(ids)
	start := offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	// A non-positive limit returns everything from offset on.
	end := total
	if limit > 0 && limit < total-start {
		end = start + limit
	}

	convs := make([]model.Conversation, 0, end-start)
	for _, id := range ids[start:end] {
		convs = append(convs, *describe(id, entries[id], false))
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Delete discards a conversation. A reply still being synthesized completes
// in the background but is no longer reachable.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	_, exists := s.conversations[conversationID]
	delete(s.conversations, conversationID)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("delete %s: %w", conversationID, ErrConversationNotFound)
	}

	metrics.ConversationsActive.Dec()
	s.logger.Info("conversation discarded", zap.String("conversation_id", conversationID))
	return nil
}

// WaitAll blocks until no conversation has a pending reply or ctx is done.
func (s *ConversationService) WaitAll(ctx context.Context) error {
	s.mu.RLock()
	stores := make([]*conversation.Store, 0, len(s.conversations))
	for _, e := range s.conversations {
		stores = append(stores, e.store)
	}
	s.mu.RUnlock()

	for _, st := range stores {
		if err := st.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConversationService) lookup(conversationID string) (*entry, error) {
	s.mu.RLock()
	e, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("lookup %s: %w", conversationID, ErrConversationNotFound)
	}
	return e, nil
}

func describe(id string, e *entry, withMessages bool) *model.Conversation {
	msgs, pending := e.store.Snapshot()

	conv := &model.Conversation{
		ID:           id,
		CreatedAt:    e.createdAt,
		Pending:      pending,
		MessageCount: len(msgs),
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		conv.LastMessage = &last
	}
	if withMessages {
		conv.Messages = msgs
	}
	return conv
}
