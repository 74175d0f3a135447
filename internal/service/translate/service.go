// Package translate performs machine translation of utterance transcripts
// through a chat model.
package translate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/babelroom/backend/internal/config"
)

const systemPrompt = "You are a professional interpreter. Translate the user's message " +
	"from {source} to {target}. Preserve tone and register. Output only the " +
	"translated text with no commentary, quotes or labels."

// Service translates one utterance at a time through a compiled
// prompt-template + chat-model chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the translation chain against the configured model.
func NewService(ctx context.Context, cfg config.TranslateConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create translation model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile translation chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Translate converts text from the source language to the target language.
func (s *Service) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"source": sourceLanguage,
		"target": targetLanguage,
		"text":   text,
	})
	if err != nil {
		return "", fmt.Errorf("run translation chain: %w", err)
	}

	translated := strings.TrimSpace(response.Content)
	log.Printf("[translate] %s -> %s, in=%d chars out=%d chars", sourceLanguage, targetLanguage, len(text), len(translated))
	return translated, nil
}
