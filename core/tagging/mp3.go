package tagging

import (
	"fmt"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/llehouerou/go-mp3"
)

func readMP3(path string) (Result, error) {
	var res Result

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return res, fmt.Errorf("id3v2: %w", err)
	}
	defer tag.Close()

	res.Title = tag.Title()
	res.Artist = tag.Artist()
	res.Album = tag.Album()

	// First attached picture wins.
	for _, f := range tag.GetFrames(tag.CommonID("Attached picture")) {
		if pic, ok := f.(id3v2.PictureFrame); ok && len(pic.Picture) > 0 {
			res.Picture = &Picture{Data: pic.Picture, MIMEType: pic.MimeType}
			break
		}
	}

	tagSize := int64(0)
	if tag.HasFrames() {
		tagSize = int64(tag.Size())
	}
	res.Duration, res.Bitrate = mp3StreamInfo(path, tagSize)
	return res, nil
}

// mp3StreamInfo decodes frame headers for duration. Failures leave both
// values unset.
func mp3StreamInfo(path string, tagSize int64) (*float64, *int) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, nil
	}
	rate := dec.SampleRate()
	samples := dec.SampleCount()
	if rate <= 0 || samples <= 0 {
		return nil, nil
	}
	seconds := float64(samples) / float64(rate)

	info, err := f.Stat()
	if err != nil {
		return &seconds, nil
	}
	return &seconds, averageBitrate(info.Size()-tagSize, seconds)
}
