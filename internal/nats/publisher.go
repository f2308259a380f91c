package nats

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/pkg/logger"
	"github.com/mailmind/assistant/pkg/metrics"
)

// SubjectPrefix is the prefix for all conversation event subjects.
const SubjectPrefix = "chat"

// EventSubject returns the subject an event is published on.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, conversationID, eventType)
}

// ConversationFilter returns a wildcard matching every event of a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// Conn is the part of a NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes conversation events. Publishing is fire and forget:
// failures are logged and counted, never returned to the conversation.
type Publisher struct {
	conn   Conn
	logger *logger.Logger
}

// NewPublisher creates a publisher on conn.
func NewPublisher(conn Conn, log *logger.Logger) *Publisher {
	return &Publisher{conn: conn, logger: log}
}

// Observe publishes event. Its signature matches conversation.Observer.
func (p *Publisher) Observe(event model.ConversationEvent) {
	if err := p.publish(event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		p.logger.Warn("failed to publish conversation event",
			zap.String("conversation_id", event.ConversationID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "success").Inc()
}

func (p *Publisher) publish(event model.ConversationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(EventSubject(event.ConversationID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
