// Package mediastore finds artwork that is already on the device: cover
// files next to the music, pictures embedded in tags, and whatever MPD can
// serve for a song.
package mediastore

import (
	"io"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog/log"
)

// ArtworkFilenames defines common artwork filenames in priority order.
var ArtworkFilenames = []string{
	"cover",
	"folder",
	"front",
	"album",
	"artwork",
}

// ArtworkExtensions defines supported image extensions.
var ArtworkExtensions = []string{
	".jpg",
	".jpeg",
	".png",
	".webp",
}

// DefaultMaxLevels is how many parent directories are searched above the
// track's own directory.
const DefaultMaxLevels = 3

// FolderFinder searches for artwork files in the music library.
type FolderFinder struct {
	fs        billy.Filesystem // rooted at the MPD music directory
	maxLevels int
}

// NewFolderFinder creates a finder over fs, whose root is the music
// directory. Track URIs are resolved relative to that root.
func NewFolderFinder(fs billy.Filesystem) *FolderFinder {
	return &FolderFinder{
		fs:        fs,
		maxLevels: DefaultMaxLevels,
	}
}

// FindArtwork searches for an artwork file starting from the track's
// directory. Returns the path of the file, or "" when none was found.
func (f *FolderFinder) FindArtwork(trackURI string) string {
	trackURI = path.Clean("/" + trackURI)
	if trackURI == "/" {
		return ""
	}

	dir := path.Dir(trackURI)
	for level := 0; level <= f.maxLevels; level++ {
		if artPath := f.searchDirectory(dir); artPath != "" {
			log.Debug().
				Str("artPath", artPath).
				Int("level", level).
				Msg("Found artwork file")
			return artPath
		}
		// The filesystem root is the music directory; never go above it.
		if dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}

	log.Debug().
		Str("trackURI", trackURI).
		Msg("No artwork found in directory tree")
	return ""
}

// searchDirectory searches a single directory for artwork files. Names are
// matched case-insensitively in ArtworkFilenames order; any image is the
// last resort.
func (f *FolderFinder) searchDirectory(dir string) string {
	entries, err := f.fs.ReadDir(dir)
	if err != nil {
		return ""
	}

	images := make(map[string]string) // lowercased name -> actual name
	var anyImage string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// Skip macOS AppleDouble resource fork files (._filename)
		if strings.HasPrefix(entry.Name(), "._") {
			continue
		}
		lower := strings.ToLower(entry.Name())
		if !hasArtworkExtension(lower) {
			continue
		}
		images[lower] = entry.Name()
		if anyImage == "" {
			anyImage = entry.Name()
		}
	}

	for _, name := range ArtworkFilenames {
		for _, ext := range ArtworkExtensions {
			if actual, ok := images[name+ext]; ok {
				return path.Join(dir, actual)
			}
		}
	}
	if anyImage != "" {
		return path.Join(dir, anyImage)
	}
	return ""
}

func hasArtworkExtension(name string) bool {
	ext := path.Ext(name)
	for _, valid := range ArtworkExtensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// ReadArtwork reads the artwork file, refusing files over maxBytes.
func (f *FolderFinder) ReadArtwork(p string, maxBytes int64) ([]byte, error) {
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
