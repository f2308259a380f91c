// Package conversation holds the in-memory state of a single chat session.
//
// A Store keeps an append-only list of messages and a pending flag. Submit
// appends the user message and hands the text to a Synthesizer in the
// background; the reply is appended when the synthesizer returns. While a
// reply is pending further submissions are ignored, so at most one synthesis
// runs per store.
package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/pkg/logger"
	"github.com/mailmind/assistant/pkg/metrics"
)

// FailureReply is the assistant content used when synthesis fails.
const FailureReply = "AI回复生成失败，请稍后重试"

// Observer receives conversation events. Observers are called synchronously
// and in order; they must not call Submit or Watch from inside the callback.
type Observer func(event model.ConversationEvent)

// Store is the state of one conversation.
type Store struct {
	id    string
	synth Synthesizer
	log   *logger.Logger
	now   func() time.Time
	loc   *time.Location

	// emitMu serializes state changes together with their notifications so
	// observers see events in the order the state changed.
	emitMu sync.Mutex

	mu        sync.Mutex
	messages  []model.Message
	lastID    int64
	pending   bool
	idle      chan struct{}
	observers map[int]Observer
	nextObs   int
}

// Option configures a Store.
type Option func(*Store)

// WithID sets the conversation id carried on events.
func WithID(id string) Option {
	return func(s *Store) { s.id = id }
}

// WithLogger sets the store logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock replaces the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone timestamps are displayed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithObserver registers an observer for the lifetime of the store.
func WithObserver(obs Observer) Option {
	return func(s *Store) { s.addObserverLocked(obs) }
}

// New creates an empty, idle conversation.
func New(synth Synthesizer, opts ...Option) *Store {
	idle := make(chan struct{})
	close(idle)

	s := &Store{
		synth:     synth,
		log:       logger.Global(),
		now:       time.Now,
		loc:       DefaultLocation(),
		idle:      idle,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id != "" {
		s.log = s.log.WithConversation(s.id)
	}
	return s
}

// ID returns the conversation id, empty if none was assigned.
func (s *Store) ID() string {
	return s.id
}

// Submit appends a user message and starts synthesizing the reply. It
// returns false, changing nothing, when text is blank or a reply is pending.
func (s *Store) Submit(text string) bool {
	if strings.TrimSpace(text) == "" {
		metrics.SubmissionsIgnored.WithLabelValues(metrics.ReasonEmpty).Inc()
		s.log.Debug("submission ignored", zap.String("reason", metrics.ReasonEmpty))
		return false
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		metrics.SubmissionsIgnored.WithLabelValues(metrics.ReasonPending).Inc()
		s.log.Debug("submission ignored", zap.String("reason", metrics.ReasonPending))
		return false
	}

	userMsg := s.appendLocked(text, model.OriginUser, false)
	s.pending = true
	done := make(chan struct{})
	s.idle = done
	observers := s.observersLocked()
	s.mu.Unlock()

	s.emit(observers, s.messageEvent(userMsg))
	s.emit(observers, s.pendingEvent(true))

	go s.synthesize(text, done)

	return true
}

func (s *Store) synthesize(text string, done chan struct{}) {
	defer close(done)

	content, err := s.synth.Synthesize(context.Background(), text)
	failed := false
	if err != nil {
		s.log.Error("reply synthesis failed", zap.Error(err))
		content = FailureReply
		failed = true
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	reply := s.appendLocked(content, model.OriginAssistant, failed)
	s.pending = false
	observers := s.observersLocked()
	s.mu.Unlock()

	s.emit(observers, s.messageEvent(reply))
	s.emit(observers, s.pendingEvent(false))
}

// appendLocked must be called with mu held.
func (s *Store) appendLocked(content string, origin model.Origin, failed bool) model.Message {
	s.lastID++
	now := s.now()
	msg := model.Message{
		ID:        s.lastID,
		Content:   content,
		Origin:    origin,
		Timestamp: now.In(s.loc).Format(model.DisplayLayout),
		CreatedAt: now,
		Failed:    failed,
	}
	s.messages = append(s.messages, msg)
	metrics.MessagesTotal.WithLabelValues(string(origin)).Inc()
	return msg
}

// Messages returns a copy of the messages in display order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Pending reports whether a reply is being synthesized.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Snapshot returns the messages and the pending flag as of one instant.
func (s *Store) Snapshot() ([]model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.pending
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Subscribe registers an observer and returns a function removing it.
func (s *Store) Subscribe(obs Observer) (unsubscribe func()) {
	_, _, unsubscribe = s.Watch(obs)
	return unsubscribe
}

// Watch registers an observer and returns the state it starts from. Every
// change after the returned snapshot is delivered to obs exactly once.
func (s *Store) Watch(obs Observer) ([]model.Message, bool, func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.addObserverLocked(obs)
	unsubscribe := func() {
		s.mu.Lock()
		delete(s.observers, key)
		s.mu.Unlock()
	}
	return s.snapshotLocked(), s.pending, unsubscribe
}

// Wait blocks until no reply is pending or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) addObserverLocked(obs Observer) int {
	key := s.nextObs
	s.nextObs++
	s.observers[key] = obs
	return key
}

func (s *Store) observersLocked() []Observer {
	if len(s.observers) == 0 {
		return nil
	}
	keys := make([]int, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Observer, len(keys))
	for i, k := range keys {
		out[i] = s.observers[k]
	}
	return out
}

func (s *Store) snapshotLocked() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) messageEvent(msg model.Message) model.ConversationEvent {
	return model.ConversationEvent{
		Type:           model.EventTypeMessage,
		ConversationID: s.id,
		Message:        &msg,
		Pending:        msg.Origin == model.OriginUser,
		At:             msg.CreatedAt,
	}
}

func (s *Store) pendingEvent(pending bool) model.ConversationEvent {
	return model.ConversationEvent{
		Type:           model.EventTypePending,
		ConversationID: s.id,
		Pending:        pending,
		At:             s.now(),
	}
}

func (s *Store) emit(observers []Observer, event model.ConversationEvent) {
	for _, obs := range observers {
		obs(event)
	}
}

// DefaultLocation is the display zone used when none is configured.
func DefaultLocation() *time.Location {
	return LoadLocation("Asia/Shanghai")
}

// LoadLocation loads a named zone, falling back to a fixed UTC+8 zone when
// the tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = "Asia/Shanghai"
	}
	if name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("UTC+08:00", 8*60*60)
	}
	return loc
}
