package mediastore

import (
	"fmt"

	"github.com/dhowden/tag"
	"github.com/go-git/go-billy/v5"
)

// ReadEmbedded returns the picture embedded in the tags of the audio file
// at p, or ErrNoArtwork.
func ReadEmbedded(fs billy.Filesystem, p string) ([]byte, string, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", fmt.Errorf("read tags: %w", err)
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", ErrNoArtwork
	}
	return pic.Data, pic.MIMEType, nil
}
