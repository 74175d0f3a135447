package pipeline

import (
	"errors"
	"fmt"
)

// Terminal pipeline failures. Each aborts the utterance; cleanup still runs.
var (
	ErrTooLarge         = errors.New("utterance exceeds the upload limit")
	ErrEmptyUtterance   = errors.New("utterance is empty")
	ErrStaleMembership  = errors.New("sender is no longer a member of the room")
	ErrTranscode        = errors.New("audio transcoding failed")
	ErrDurationExceeded = errors.New("utterance exceeds the duration limit")
	ErrTranscription    = errors.New("transcription failed")
	ErrEmptyTranscript  = errors.New("transcription produced no text")
)

// LanguageError is an isolated per-target-language failure during fan-out.
// It is reported to the sender and does not abort sibling languages.
type LanguageError struct {
	Language string
	Op       string // "translate" or "synthesize"
	Err      error
}

func (e *LanguageError) Error() string {
	return fmt.Sprintf("%s failed for language %s: %v", e.Op, e.Language, e.Err)
}

func (e *LanguageError) Unwrap() error {
	return e.Err
}
