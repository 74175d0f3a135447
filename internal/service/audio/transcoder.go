// Package audio shells out to ffmpeg/ffprobe to normalize utterance audio.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Transcoder converts arbitrary uploaded audio into the canonical form the
// speech services expect: mono WAV at a fixed sample rate.
type Transcoder struct {
	sampleRate int
}

// NewTranscoder creates a transcoder targeting the given sample rate.
func NewTranscoder(sampleRate int) *Transcoder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Transcoder{sampleRate: sampleRate}
}

// Transcode converts the file at inputPath into canonical mono WAV at
// outputPath.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", strconv.Itoa(t.sampleRate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-y",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// Probe returns the duration of the audio file in seconds.
func (t *Transcoder) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

// tail keeps error messages readable: ffmpeg writes its whole banner to
// stderr, only the last lines matter.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= 3 {
		return strings.Join(lines, " | ")
	}
	return strings.Join(lines[len(lines)-3:], " | ")
}
