package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/babelroom/backend/internal/pipeline"
	"github.com/babelroom/backend/internal/registry"
)

type fakeTranscoder struct {
	duration     float64
	transcodeErr error
}

func (f *fakeTranscoder) Transcode(_ context.Context, _, outputPath string) error {
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	return os.WriteFile(outputPath, []byte("canonical"), 0o600)
}

func (f *fakeTranscoder) Probe(_ context.Context, _ string) (float64, error) {
	return f.duration, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeTranslator struct {
	calls  []string
	fail   map[string]error
	onCall func()
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	f.calls = append(f.calls, target)
	if f.onCall != nil {
		f.onCall()
	}
	if err, ok := f.fail[target]; ok {
		return "", err
	}
	return "[" + target + "] " + text, nil
}

type fakeSynthesizer struct {
	calls []string
	fail  map[string]error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _, language string) ([]byte, error) {
	f.calls = append(f.calls, language)
	if err, ok := f.fail[language]; ok {
		return nil, err
	}
	return []byte("audio-" + language), nil
}

type captureDelivery struct {
	transcripts map[string][]pipeline.Transcript
	audio       map[string][]pipeline.TranslatedAudio
	errs        map[string][]error
}

func newCaptureDelivery() *captureDelivery {
	return &captureDelivery{
		transcripts: make(map[string][]pipeline.Transcript),
		audio:       make(map[string][]pipeline.TranslatedAudio),
		errs:        make(map[string][]error),
	}
}

func (d *captureDelivery) SendTranscript(sessionID string, t pipeline.Transcript) {
	d.transcripts[sessionID] = append(d.transcripts[sessionID], t)
}

func (d *captureDelivery) SendTranslatedAudio(sessionID string, a pipeline.TranslatedAudio) {
	d.audio[sessionID] = append(d.audio[sessionID], a)
}

func (d *captureDelivery) SendPipelineError(sessionID string, err error) {
	d.errs[sessionID] = append(d.errs[sessionID], err)
}

type fixture struct {
	reg         *registry.Registry
	transcoder  *fakeTranscoder
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	synthesizer *fakeSynthesizer
	delivery    *captureDelivery
	pipe        *pipeline.Pipeline
	tempDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:         registry.New(0),
		transcoder:  &fakeTranscoder{duration: 3.5},
		transcriber: &fakeTranscriber{text: "hello there"},
		translator:  &fakeTranslator{},
		synthesizer: &fakeSynthesizer{},
		delivery:    newCaptureDelivery(),
		tempDir:     t.TempDir(),
	}
	f.pipe = pipeline.New(f.reg, f.transcoder, f.transcriber, f.translator, f.synthesizer, f.delivery, pipeline.Options{
		MaxUploadBytes: 10 << 20,
		MaxDuration:    60,
		TempDir:        f.tempDir,
	})
	return f
}

func (f *fixture) join(t *testing.T, code, name, language string) string {
	t.Helper()
	s := f.reg.Connect()
	if _, _, err := f.reg.Join(code, s.ID, name, language); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return s.ID
}

func (f *fixture) room(t *testing.T) string {
	t.Helper()
	code, err := f.reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return code
}

func (f *fixture) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover artifacts, found %d", len(entries))
	}
}

func TestUtteranceTwoLanguages(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "alice", "en")
	s2 := f.join(t, code, "bob", "es")

	if err := f.pipe.Process(context.Background(), code, s1, []byte("opus")); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	// Speaker gets the transcript echo, nothing else.
	if got := f.delivery.transcripts[s1]; len(got) != 1 || got[0].Text != "hello there" {
		t.Fatalf("unexpected sender echo: %+v", got)
	}
	if len(f.delivery.audio[s1]) != 0 {
		t.Fatalf("sender should not receive audio, got %d", len(f.delivery.audio[s1]))
	}

	// The listener gets exactly one translated text+audio pair.
	got := f.delivery.audio[s2]
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery to s2, got %d", len(got))
	}
	if got[0].Language != "es" || got[0].Text != "[es] hello there" || got[0].From != "alice" {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}

	// No same-language branch ran.
	if len(f.synthesizer.calls) != 1 || f.synthesizer.calls[0] != "es" {
		t.Fatalf("unexpected synthesis calls: %v", f.synthesizer.calls)
	}
	f.assertTempDirEmpty(t)
}

func TestUtteranceSameLanguageRoom(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "ana", "es")
	s2 := f.join(t, code, "berta", "es")
	s3 := f.join(t, code, "carla", "es")

	if err := f.pipe.Process(context.Background(), code, s1, []byte("opus")); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	if len(f.translator.calls) != 0 {
		t.Fatalf("no translations expected, got %v", f.translator.calls)
	}
	if len(f.synthesizer.calls) != 1 {
		t.Fatalf("expected single synthesis, got %v", f.synthesizer.calls)
	}

	a2, a3 := f.delivery.audio[s2], f.delivery.audio[s3]
	if len(a2) != 1 || len(a3) != 1 {
		t.Fatalf("expected one delivery each, got %d and %d", len(a2), len(a3))
	}
	if string(a2[0].Audio) != string(a3[0].Audio) {
		t.Fatal("both listeners should receive the identical audio artifact")
	}
}

func TestFanOutCallsOncePerDistinctLanguage(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")

	// Seven listeners across three distinct non-sender languages.
	langs := []string{"es", "es", "de", "fr", "fr", "fr", "de"}
	for i, lang := range langs {
		f.join(t, code, fmt.Sprintf("l%d", i), lang)
	}

	if err := f.pipe.Process(context.Background(), code, s1, []byte("opus")); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	if len(f.translator.calls) != 3 {
		t.Fatalf("expected 3 translation calls, got %v", f.translator.calls)
	}
	if len(f.synthesizer.calls) != 3 {
		t.Fatalf("expected 3 synthesis calls, got %v", f.synthesizer.calls)
	}

	total := 0
	for _, deliveries := range f.delivery.audio {
		total += len(deliveries)
	}
	if total != len(langs) {
		t.Fatalf("expected %d deliveries, got %d", len(langs), total)
	}
}

func TestLanguageFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")
	s2 := f.join(t, code, "ok", "es")
	f.join(t, code, "broken", "de")

	f.translator.fail = map[string]error{"de": errors.New("model unavailable")}

	if err := f.pipe.Process(context.Background(), code, s1, []byte("opus")); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	if len(f.delivery.audio[s2]) != 1 {
		t.Fatal("healthy language delivery should be unaffected")
	}

	errs := f.delivery.errs[s1]
	if len(errs) != 1 {
		t.Fatalf("expected 1 isolated error to sender, got %d", len(errs))
	}
	var langErr *pipeline.LanguageError
	if !errors.As(errs[0], &langErr) || langErr.Language != "de" {
		t.Fatalf("expected de LanguageError, got %v", errs[0])
	}
}

func TestDepartureDuringFanOutIsSuppressed(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")
	s2 := f.join(t, code, "leaver", "es")

	// s2 disconnects after transcription but before its language's
	// delivery: the translator hook fires between those steps.
	f.translator.onCall = func() {
		f.reg.Disconnect(s2)
	}

	if err := f.pipe.Process(context.Background(), code, s1, []byte("opus")); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	if len(f.delivery.audio[s2]) != 0 {
		t.Fatal("delivery to a departed member must be suppressed")
	}
	if len(f.delivery.errs[s1]) != 0 {
		t.Fatalf("departure is not a pipeline error, got %v", f.delivery.errs[s1])
	}
}

func TestValidationFailures(t *testing.T) {
	f := newFixture(t)
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")

	if err := f.pipe.Process(context.Background(), code, s1, nil); !errors.Is(err, pipeline.ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}

	big := make([]byte, (10<<20)+1)
	if err := f.pipe.Process(context.Background(), code, s1, big); !errors.Is(err, pipeline.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	stranger := f.reg.Connect()
	if err := f.pipe.Process(context.Background(), code, stranger.ID, []byte("x")); !errors.Is(err, pipeline.ErrStaleMembership) {
		t.Fatalf("expected ErrStaleMembership, got %v", err)
	}
}

func TestDurationLimit(t *testing.T) {
	f := newFixture(t)
	f.transcoder.duration = 61.2
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")
	f.join(t, code, "other", "es")

	err := f.pipe.Process(context.Background(), code, s1, []byte("opus"))
	if !errors.Is(err, pipeline.ErrDurationExceeded) {
		t.Fatalf("expected ErrDurationExceeded, got %v", err)
	}
	if f.transcriber.calls != 0 {
		t.Fatal("transcription must not run after a duration failure")
	}
	f.assertTempDirEmpty(t)
}

func TestCleanupRunsOnTranscodeFailure(t *testing.T) {
	f := newFixture(t)
	f.transcoder.transcodeErr = errors.New("unsupported codec")
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")

	err := f.pipe.Process(context.Background(), code, s1, []byte("opus"))
	if !errors.Is(err, pipeline.ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	f.assertTempDirEmpty(t)
}

func TestEmptyTranscriptAborts(t *testing.T) {
	f := newFixture(t)
	f.transcriber.text = ""
	code := f.room(t)
	s1 := f.join(t, code, "speaker", "en")
	f.join(t, code, "other", "es")

	err := f.pipe.Process(context.Background(), code, s1, []byte("opus"))
	if !errors.Is(err, pipeline.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if len(f.translator.calls) != 0 {
		t.Fatal("no fan-out after an empty transcript")
	}
}
