package artwork

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// Key identifies one rendition of one artwork across both tiers.
type Key struct {
	ID   string // stable identifier shared by both renditions
	Type Type
}

// KeyFor derives the cache key for a descriptor. Artist and album text is
// normalized so that case and spacing differences map to the same key; the
// URI identifies the artwork only when both are absent.
func KeyFor(info ArtInfo, typ Type) (Key, error) {
	if err := info.Validate(); err != nil {
		return Key{}, err
	}

	artist := normalize(info.Artist)
	album := normalize(info.Album)

	var data string
	if artist == "" && album == "" {
		data = "uri\x00" + strings.TrimSpace(info.URI)
	} else {
		data = "album\x00" + artist + "\x00" + album
	}

	return Key{
		ID:   fmt.Sprintf("%x", md5.Sum([]byte(data))),
		Type: typ,
	}, nil
}

// String returns the key as stored in both tiers.
func (k Key) String() string {
	return k.ID + "_" + k.Type.suffix()
}

// Opposite returns the key of the other rendition.
func (k Key) Opposite() Key {
	return Key{ID: k.ID, Type: k.Type.Opposite()}
}

// IsValidID reports whether s looks like a stable identifier.
func IsValidID(s string) bool {
	if len(s) != md5.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
