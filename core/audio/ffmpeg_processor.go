package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"waveloft/core/apperr"
	"waveloft/logger"
)

// commandContext is swapped in tests.
var commandContext = exec.CommandContext

// maxStderr bounds how much ffmpeg output is kept in errors.
const maxStderr = 2048

// FFmpegProcessor implements the Processor interface using ffmpeg.
type FFmpegProcessor struct {
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// FFmpegPath returns the configured binary.
func (p *FFmpegProcessor) FFmpegPath() string {
	return p.ffmpegPath
}

// mp3Args is the fixed conversion: drop video/cover streams, 44.1 kHz
// stereo, 320 kbps CBR.
func mp3Args(inputFile, outputFile string) []string {
	return []string{
		"-y",
		"-i", inputFile,
		"-vn",
		"-ar", "44100",
		"-ac", "2",
		"-b:a", "320k",
		outputFile,
	}
}

// TranscodeToMP3 runs ffmpeg and waits for it. ctx cancellation kills the
// process.
func (p *FFmpegProcessor) TranscodeToMP3(ctx context.Context, inputFile, outputFile string) error {
	args := mp3Args(inputFile, outputFile)
	cmd := commandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg", logger.String("cmd", p.ffmpegPath+" "+strings.Join(args, " ")))
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return apperr.ExternalProcess(fmt.Sprintf("ffmpeg %s", inputFile), err, tail(stderr.String(), maxStderr))
	}
	logger.Debug("ffmpeg finished", logger.String("input", inputFile), logger.Duration("took", time.Since(start)))
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
