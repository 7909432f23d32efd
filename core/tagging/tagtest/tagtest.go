// Package tagtest writes small tagged audio files for tests.
package tagtest

import (
	"fmt"
	"os"
	"testing"

	"github.com/bogem/id3v2/v2"
	flac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
)

// Image is an embedded picture.
type Image struct {
	MIME string
	Data []byte
}

// Tags describes what to embed. Empty strings are not written.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Images []Image
}

// mp3Frame is one MPEG-1 Layer III frame header (128 kbps, 44.1 kHz,
// stereo) padded to its 417 byte length.
func mp3Frame() []byte {
	frame := make([]byte, 417)
	frame[0] = 0xff
	frame[1] = 0xfb
	frame[2] = 0x90
	frame[3] = 0x00
	return frame
}

// WriteMP3 writes frames MPEG frames and an ID3v2 tag to path.
func WriteMP3(t testing.TB, path string, frames int, tags Tags) {
	t.Helper()
	var audio []byte
	for i := 0; i < max(frames, 1); i++ {
		audio = append(audio, mp3Frame()...)
	}
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		t.Fatalf("write mp3: %v", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("open id3 tag: %v", err)
	}
	defer tag.Close()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	for i, img := range tags.Images {
		// Frames sharing type and description replace each other.
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    img.MIME,
			PictureType: id3v2.PTFrontCover,
			Description: fmt.Sprintf("cover %d", i),
			Picture:     img.Data,
		})
	}
	if err := tag.Save(); err != nil {
		t.Fatalf("save id3 tag: %v", err)
	}
}

// StreamInfo builds a 34 byte STREAMINFO block for 16-bit stereo audio.
func StreamInfo(sampleRate int, totalSamples int64) []byte {
	d := make([]byte, 34)
	d[0], d[1] = 0x10, 0x00 // min block size 4096
	d[2], d[3] = 0x10, 0x00 // max block size 4096
	const channels, bps = 2, 16
	d[10] = byte(sampleRate >> 12)
	d[11] = byte(sampleRate >> 4)
	d[12] = byte(sampleRate&0x0F)<<4 | byte(channels-1)<<1 | byte((bps-1)>>4)
	d[13] = byte((bps-1)&0x0F)<<4 | byte(totalSamples>>32)&0x0F
	d[14] = byte(totalSamples >> 24)
	d[15] = byte(totalSamples >> 16)
	d[16] = byte(totalSamples >> 8)
	d[17] = byte(totalSamples)
	return d
}

// WriteFLAC writes a FLAC stream of the given length (44.1 kHz) with vorbis
// comments and picture blocks. The audio payload is a stub frame.
func WriteFLAC(t testing.TB, path string, seconds int, tags Tags) {
	t.Helper()
	const rate = 44100

	f := &flac.File{
		Meta: []*flac.MetaDataBlock{
			{Type: flac.StreamInfo, Data: StreamInfo(rate, int64(seconds)*rate)},
		},
		Frames: []byte{0xff, 0xf8, 0x69, 0x08, 0x00, 0x00, 0x00, 0x00},
	}

	cmts := flacvorbis.New()
	for field, val := range map[string]string{
		flacvorbis.FIELD_TITLE:  tags.Title,
		flacvorbis.FIELD_ARTIST: tags.Artist,
		flacvorbis.FIELD_ALBUM:  tags.Album,
	} {
		if val == "" {
			continue
		}
		if err := cmts.Add(field, val); err != nil {
			t.Fatalf("add vorbis comment: %v", err)
		}
	}
	block := cmts.Marshal()
	f.Meta = append(f.Meta, &block)

	for _, img := range tags.Images {
		pic := &flacpicture.MetadataBlockPicture{
			PictureType: flacpicture.PictureTypeFrontCover,
			MIME:        img.MIME,
			Description: "Front cover",
			ImageData:   img.Data,
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}

	if err := os.WriteFile(path, f.Marshal(), 0o600); err != nil {
		t.Fatalf("write flac: %v", err)
	}
}
