package tagging

import (
	"errors"
	"fmt"
	"os"

	flac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
)

var errShortStreamInfo = errors.New("flac: streaminfo block too short")

func readFLAC(path string) (Result, error) {
	var res Result

	f, err := flac.ParseFile(path)
	if err != nil {
		return res, fmt.Errorf("flac: %w", err)
	}

	for _, meta := range f.Meta {
		switch meta.Type {
		case flac.StreamInfo:
			seconds, err := streamInfoDuration(meta.Data)
			if err != nil || seconds <= 0 {
				continue
			}
			res.Duration = &seconds
			if info, err := os.Stat(path); err == nil {
				res.Bitrate = averageBitrate(info.Size(), seconds)
			}
		case flac.VorbisComment:
			cmts, err := flacvorbis.ParseFromMetaDataBlock(*meta)
			if err != nil {
				continue
			}
			res.Title = firstComment(cmts, flacvorbis.FIELD_TITLE)
			res.Artist = firstComment(cmts, flacvorbis.FIELD_ARTIST)
			res.Album = firstComment(cmts, flacvorbis.FIELD_ALBUM)
		case flac.Picture:
			if res.Picture != nil {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*meta)
			if err != nil || len(pic.ImageData) == 0 {
				continue
			}
			res.Picture = &Picture{Data: pic.ImageData, MIMEType: pic.MIME}
		}
	}
	return res, nil
}

func firstComment(c *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	vals, err := c.Get(field)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// streamInfoDuration reads the 20-bit sample rate and 36-bit total sample
// count from a STREAMINFO block.
func streamInfoDuration(d []byte) (float64, error) {
	if len(d) < 18 {
		return 0, errShortStreamInfo
	}
	sampleRate := int64(d[10])<<12 | int64(d[11])<<4 | int64(d[12])>>4
	totalSamples := int64(d[13]&0x0F)<<32 | int64(d[14])<<24 | int64(d[15])<<16 | int64(d[16])<<8 | int64(d[17])
	if sampleRate == 0 {
		return 0, nil
	}
	return float64(totalSamples) / float64(sampleRate), nil
}
