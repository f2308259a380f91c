package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mailmind/assistant/internal/llm"
	"github.com/mailmind/assistant/pkg/metrics"
	"github.com/mailmind/assistant/pkg/tracing"
)

// DefaultReplyDelay is the simulated latency of the echo synthesizer.
const DefaultReplyDelay = time.Second

// Synthesizer produces the assistant reply to a user message.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, text string) (string, error)

// Synthesize calls f.
func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// EchoReply returns the placeholder reply for text.
func EchoReply(text string) string {
	return fmt.Sprintf("已收到您的请求：\"%s\"，正在处理中...", text)
}

// EchoSynthesizer answers every message with EchoReply after a fixed delay.
type EchoSynthesizer struct {
	Delay time.Duration
}

// NewEchoSynthesizer creates an echo synthesizer. A negative delay is
// treated as zero.
func NewEchoSynthesizer(delay time.Duration) *EchoSynthesizer {
	if delay < 0 {
		delay = 0
	}
	return &EchoSynthesizer{Delay: delay}
}

// Synthesize waits for the delay and returns the echo reply.
func (e *EchoSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return EchoReply(text), nil
}

// LLMSynthesizer asks a language model for the reply.
type LLMSynthesizer struct {
	client       llm.Client
	model        string
	systemPrompt string
	maxTokens    int
	timeout      time.Duration
}

// LLMConfig configures an LLMSynthesizer.
type LLMConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Timeout      time.Duration
}

// NewLLMSynthesizer wraps client.
func NewLLMSynthesizer(client llm.Client, cfg LLMConfig) (*LLMSynthesizer, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LLMSynthesizer{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
	}, nil
}

// Synthesize sends text as a single-turn chat completion.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:  s.model,
		System: s.systemPrompt,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", s.client.Name(), err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("%s returned an empty reply", s.client.Name())
	}
	return resp.Content, nil
}

// Instrumented records latency metrics and a trace span for every call to
// the wrapped synthesizer.
type Instrumented struct {
	name  string
	inner Synthesizer
}

// Instrument wraps inner, labelling its metrics with name.
func Instrument(name string, inner Synthesizer) *Instrumented {
	return &Instrumented{name: name, inner: inner}
}

// Synthesize delegates to the wrapped synthesizer.
func (i *Instrumented) Synthesize(ctx context.Context, text string) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "conversation.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("synthesizer", i.name),
		attribute.Int("input.length", len(text)),
	)

	start := time.Now()
	reply, err := i.inner.Synthesize(ctx, text)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordSynthesis(i.name, status, time.Since(start).Seconds())

	return reply, err
}
