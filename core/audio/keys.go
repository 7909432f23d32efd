package audio

import (
	"strings"

	"waveloft/config"
)

// IsLossless reports whether key is a lossless upload the transcoder should
// pick up. The suffix comparison ignores case.
func IsLossless(keys config.Keys, key string) bool {
	return strings.HasPrefix(key, keys.LosslessPrefix) &&
		strings.HasSuffix(strings.ToLower(key), strings.ToLower(keys.LosslessSuffix)) &&
		key != keys.PendingAudio
}

// PlaybackKey maps "flac/abc.flac" to "mp3/abc.mp3". key must satisfy IsLossless.
func PlaybackKey(keys config.Keys, key string) string {
	base := strings.TrimPrefix(key, keys.LosslessPrefix)
	base = base[:len(base)-len(keys.LosslessSuffix)]
	return keys.PlaybackPrefix + base + keys.PlaybackSuffix
}
