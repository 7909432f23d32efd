package audio

import "context"

// Processor converts a local lossless file into a local playback file.
type Processor interface {
	TranscodeToMP3(ctx context.Context, inputFile, outputFile string) error
}
