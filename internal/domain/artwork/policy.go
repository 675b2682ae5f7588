package artwork

import (
	"net/url"
	"strings"
)

// Step is one source in a fetch plan.
type Step int

const (
	// StepMediaStore reads artwork held by the local media index.
	StepMediaStore Step = iota
	// StepDirectURL downloads the descriptor's remote URI.
	StepDirectURL
	// StepRemoteLookup resolves artwork from artist/album metadata services.
	StepRemoteLookup
)

func (s Step) String() string {
	switch s {
	case StepMediaStore:
		return "mediastore"
	case StepDirectURL:
		return "url"
	case StepRemoteLookup:
		return "remote"
	default:
		return "unknown"
	}
}

// IsNetwork reports whether the step needs connectivity.
func (s Step) IsNetwork() bool {
	return s == StepDirectURL || s == StepRemoteLookup
}

// IsLocalURI reports whether uri addresses the local media index rather
// than a remote host. Plain paths and file, content and mpd schemes are
// local.
func IsLocalURI(uri string) bool {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return false
	default:
		return true
	}
}

// PlanSources decides which sources to try, in order, for a descriptor
// that missed both cache tiers. An empty plan means do nothing.
//
//	local URI                 -> media store, then remote lookup when online,
//	                             artist+album known and DownloadMissing is set
//	                             (remote first when PreferDownload is set)
//	remote URI, online        -> direct URL, then remote lookup
//	remote URI, offline       -> nothing
//	artist+album only, online -> remote lookup if DownloadMissing or PreferDownload
//	anything else             -> nothing
func PlanSources(info ArtInfo, online bool, prefs Preferences) []Step {
	hasAA := info.HasArtistAlbum()

	if info.HasURI() {
		if IsLocalURI(info.URI) {
			switch {
			case online && hasAA && prefs.PreferDownload:
				return []Step{StepRemoteLookup, StepMediaStore}
			case online && hasAA && prefs.DownloadMissing:
				return []Step{StepMediaStore, StepRemoteLookup}
			default:
				return []Step{StepMediaStore}
			}
		}

		if !online {
			return nil
		}
		if hasAA && (prefs.DownloadMissing || prefs.PreferDownload) {
			return []Step{StepDirectURL, StepRemoteLookup}
		}
		return []Step{StepDirectURL}
	}

	if hasAA && online && (prefs.DownloadMissing || prefs.PreferDownload) {
		return []Step{StepRemoteLookup}
	}
	return nil
}
