// Package app assembles components from configuration.
package app

import (
	"fmt"

	"github.com/mailmind/assistant/internal/config"
	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/llm"
)

// NewSynthesizer builds the reply synthesizer named by cfg.Synthesizer and
// returns it with the name used to label its metrics.
func NewSynthesizer(cfg *config.Config) (conversation.Synthesizer, string, error) {
	var (
		client llm.Client
		err    error
	)

	switch cfg.Synthesizer {
	case config.SynthesizerEcho, "":
		return conversation.NewEchoSynthesizer(cfg.ReplyDelay), config.SynthesizerEcho, nil
	case config.SynthesizerAnthropic:
		client, err = llm.NewClient(llm.ProviderAnthropic, llm.Options{APIKey: cfg.AnthropicAPIKey})
	case config.SynthesizerOpenAI:
		client, err = llm.NewClient(llm.ProviderOpenAI, llm.Options{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
	default:
		return nil, "", fmt.Errorf("unknown synthesizer %q", cfg.Synthesizer)
	}
	if err != nil {
		return nil, "", err
	}

	synth, err := conversation.NewLLMSynthesizer(client, conversation.LLMConfig{
		Model:        cfg.LLMModel,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.LLMTimeout,
	})
	if err != nil {
		return nil, "", err
	}
	return synth, client.Name(), nil
}
