package tagging

import (
	"os"

	"github.com/dhowden/tag"
)

// readGeneric sniffs the container and reads whatever common tags it has.
func readGeneric(path string) (Result, error) {
	var res Result

	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return res, err
	}
	res.Title = m.Title()
	res.Artist = m.Artist()
	res.Album = m.Album()
	if p := m.Picture(); p != nil && len(p.Data) > 0 {
		res.Picture = &Picture{Data: p.Data, MIMEType: p.MIMEType}
	}
	return res, nil
}
