// Package pipeline turns one recorded utterance into transcripts and
// translated audio for everyone else in the room.
//
// Each utterance runs the same strictly sequential steps: validate, persist
// and transcode, check duration, transcribe, echo to the sender, partition
// the recipients, then fan out per language. Concurrent utterances interleave
// freely; registry state is re-read after every external call because joins
// and leaves may have happened while it was in flight.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/babelroom/backend/internal/model/room"
	"github.com/babelroom/backend/internal/registry"
)

// Transcoder converts raw uploads into canonical audio and probes duration.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
	Probe(ctx context.Context, path string) (float64, error)
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, path, languageHint string) (string, error)
}

// Translator is the machine-translation collaborator.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// Synthesizer is the text-to-speech collaborator.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Transcript is the sender's own words, echoed back without audio.
type Transcript struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// TranslatedAudio is one language group's share of the fan-out.
type TranslatedAudio struct {
	From     string `json:"from"`
	Language string `json:"language"`
	Text     string `json:"text"`
	Audio    []byte `json:"audio"`
}

// Delivery hands results to connected sessions. Implementations must drop
// messages for sessions that are gone rather than fail.
type Delivery interface {
	SendTranscript(sessionID string, t Transcript)
	SendTranslatedAudio(sessionID string, a TranslatedAudio)
	SendPipelineError(sessionID string, err error)
}

// Pipeline executes utterances against a shared registry and the external
// speech collaborators.
type Pipeline struct {
	registry    *registry.Registry
	transcoder  Transcoder
	transcriber Transcriber
	translator  Translator
	synthesizer Synthesizer
	delivery    Delivery

	maxUploadBytes int64
	maxDuration    float64
	tempDir        string
}

// Options bundles the pipeline limits.
type Options struct {
	MaxUploadBytes int64
	MaxDuration    float64
	TempDir        string
}

// New wires a pipeline. The delivery sink is typically the websocket
// gateway.
func New(reg *registry.Registry, tc Transcoder, tr Transcriber, tl Translator, sy Synthesizer, d Delivery, opts Options) *Pipeline {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Pipeline{
		registry:       reg,
		transcoder:     tc,
		transcriber:    tr,
		translator:     tl,
		synthesizer:    sy,
		delivery:       d,
		maxUploadBytes: opts.MaxUploadBytes,
		maxDuration:    opts.MaxDuration,
		tempDir:        opts.TempDir,
	}
}

// Process runs one utterance to completion. The returned error is terminal
// for this utterance only; the caller reports it to the sender. Per-language
// fan-out failures are reported through the delivery sink and never abort
// sibling languages. Both temp artifacts are removed on every exit path.
func (p *Pipeline) Process(ctx context.Context, roomCode, senderID string, audio []byte) error {
	// Step 1: validate. Membership is re-checked here because the gateway's
	// view may already be stale.
	if int64(len(audio)) > p.maxUploadBytes {
		return ErrTooLarge
	}
	if len(audio) == 0 {
		return ErrEmptyUtterance
	}
	sender, ok := p.registry.Session(senderID)
	if !ok || !p.registry.InRoom(roomCode, senderID) {
		return ErrStaleMembership
	}

	// Step 2: persist the raw payload and transcode it.
	utteranceID := uuid.NewString()
	rawPath := filepath.Join(p.tempDir, "utterance-"+utteranceID+".src")
	wavPath := filepath.Join(p.tempDir, "utterance-"+utteranceID+".wav")
	defer p.cleanup(rawPath, wavPath)

	if err := os.WriteFile(rawPath, audio, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if err := p.transcoder.Transcode(ctx, rawPath, wavPath); err != nil {
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	// Step 3: duration check.
	duration, err := p.transcoder.Probe(ctx, wavPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if duration > p.maxDuration {
		return fmt.Errorf("%w: %.1fs", ErrDurationExceeded, duration)
	}

	// Step 4: transcribe with the sender's declared language as a hint.
	transcript, err := p.transcriber.Transcribe(ctx, wavPath, sender.Language)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	if transcript == "" {
		return ErrEmptyTranscript
	}

	// Step 5: echo the transcript to the speaker before any translation.
	p.delivery.SendTranscript(senderID, Transcript{From: sender.Name, Text: transcript})

	// Step 6: partition recipients from fresh registry state.
	members, err := p.registry.MembersExcept(roomCode, senderID)
	if err != nil {
		// Room dissolved while we were transcribing. Not an error.
		log.Printf("[pipeline] room %s gone before fan-out, utterance=%s", roomCode, utteranceID)
		return nil
	}
	sameLanguage, targetLanguages := partition(members, sender.Language)

	// Step 7: same-language members hear the original words, synthesized
	// once.
	if len(sameLanguage) > 0 {
		p.fanOutLanguage(ctx, roomCode, senderID, sender, transcript, sender.Language, false)
	}

	// Step 8: one translate + one synthesize per distinct target language,
	// never per member.
	for _, lang := range targetLanguages {
		p.fanOutLanguage(ctx, roomCode, senderID, sender, transcript, lang, true)
	}

	return nil
}

// fanOutLanguage computes the audio for one language and delivers it to the
// group's current members. Failures are isolated to this language.
func (p *Pipeline) fanOutLanguage(ctx context.Context, roomCode, senderID string, sender room.Session, transcript, language string, translateFirst bool) {
	text := transcript
	if translateFirst {
		translated, err := p.translator.Translate(ctx, transcript, sender.Language, language)
		if err != nil {
			p.delivery.SendPipelineError(senderID, &LanguageError{Language: language, Op: "translate", Err: err})
			return
		}
		text = translated
	}

	audio, err := p.synthesizer.Synthesize(ctx, text, language)
	if err != nil {
		p.delivery.SendPipelineError(senderID, &LanguageError{Language: language, Op: "synthesize", Err: err})
		return
	}

	// Membership is re-read after the external calls: whoever is in the
	// group now receives the result, whoever left is skipped silently.
	members, err := p.registry.MembersExcept(roomCode, senderID)
	if err != nil {
		return
	}
	for _, m := range members {
		if m.Language != language {
			continue
		}
		p.delivery.SendTranslatedAudio(m.ID, TranslatedAudio{
			From:     sender.Name,
			Language: language,
			Text:     text,
			Audio:    audio,
		})
	}
}

// partition splits the other members into the sender's own language group
// and the ordered set of distinct other languages (duplicates collapsed —
// one translation per language, however many members speak it).
func partition(members []room.Member, senderLanguage string) (sameLanguage []room.Member, targetLanguages []string) {
	seen := make(map[string]struct{})
	for _, m := range members {
		if m.Language == senderLanguage {
			sameLanguage = append(sameLanguage, m)
			continue
		}
		if _, dup := seen[m.Language]; dup {
			continue
		}
		seen[m.Language] = struct{}{}
		targetLanguages = append(targetLanguages, m.Language)
	}
	return sameLanguage, targetLanguages
}

// cleanup removes both artifacts. Deletion failures are logged, never
// escalated.
func (p *Pipeline) cleanup(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[pipeline] failed to remove %s: %v", path, err)
		}
	}
}
