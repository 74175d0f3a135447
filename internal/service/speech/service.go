// Package speech wraps the hosted speech provider behind the two calls the
// pipeline needs: transcription with a language hint and synthesis into a
// playable audio blob.
package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/babelroom/backend/internal/config"
)

// Service is the speech-to-text and text-to-speech client.
type Service struct {
	client  *openai.Client
	cfg     config.SpeechConfig
	timeout time.Duration
}

// NewService builds the provider client from configuration.
func NewService(cfg config.SpeechConfig) *Service {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Service{
		client:  &client,
		cfg:     cfg,
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}
}

// Transcribe runs speech recognition on the audio file at path. The language
// hint is the speaker's declared language; an empty transcript is returned
// as-is and left to the caller to classify.
func (s *Service) Transcribe(ctx context.Context, path, languageHint string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio for transcription: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(s.cfg.STTModel),
	}
	if hint := baseLanguage(languageHint); hint != "" {
		params.Language = openai.String(hint)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

// Synthesize renders text to speech in the given language and returns the
// encoded audio bytes.
func (s *Service) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(s.cfg.TTSVoice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}

// baseLanguage reduces a BCP 47 tag to its primary subtag ("en-US" -> "en"),
// which is what the recognition API expects.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
