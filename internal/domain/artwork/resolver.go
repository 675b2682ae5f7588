package artwork

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Resolution is the outcome of a successful fallback chain.
type Resolution struct {
	Artwork *Artwork
	Step    Step
	Raw     []byte // bytes as returned by the source, before rendering
}

// Resolver runs the source policy and the sequential fallback chain.
// Each step is attempted only after the previous one failed.
type Resolver struct {
	media  MediaStore
	urls   URLFetcher
	remote RemoteLookup
	net    OnlineChecker
}

// ResolverOption is a functional option for configuring the resolver.
type ResolverOption func(*Resolver)

// WithMediaStore sets the local media index source.
func WithMediaStore(m MediaStore) ResolverOption {
	return func(r *Resolver) {
		r.media = m
	}
}

// WithURLFetcher sets the direct URL source.
func WithURLFetcher(f URLFetcher) ResolverOption {
	return func(r *Resolver) {
		r.urls = f
	}
}

// WithRemoteLookup sets the metadata lookup chain.
func WithRemoteLookup(l RemoteLookup) ResolverOption {
	return func(r *Resolver) {
		r.remote = l
	}
}

// WithOnlineChecker sets the connectivity probe. Without one the device
// is assumed online.
func WithOnlineChecker(c OnlineChecker) ResolverOption {
	return func(r *Resolver) {
		r.net = c
	}
}

// NewResolver creates a resolver over the given sources.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Online reports the current connectivity.
func (r *Resolver) Online() bool {
	return r.net == nil || r.net.Online()
}

// Plan returns the steps that would be tried for info right now.
func (r *Resolver) Plan(info ArtInfo, prefs Preferences) []Step {
	return PlanSources(info, r.Online(), prefs)
}

// Resolve walks the plan for info until one step yields decodable artwork
// for key. It returns ErrDeferred for an empty plan and ErrFetchFailure
// when every step failed.
func (r *Resolver) Resolve(ctx context.Context, key Key, info ArtInfo, prefs Preferences) (*Resolution, error) {
	plan := r.Plan(info, prefs)
	if len(plan) == 0 {
		log.Debug().Str("key", key.String()).Msg("Artwork fetch deferred")
		return nil, ErrDeferred
	}

	var lastErr error
	for _, step := range plan {
		fetchType := key.Type
		if prefs.LowResolutionOnly && step.IsNetwork() {
			fetchType = TypeThumbnail
		}

		res, err := r.Try(ctx, step, key, info, fetchType)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Debug().
			Err(err).
			Str("key", key.String()).
			Str("step", step.String()).
			Msg("Artwork source failed")
	}

	return nil, fmt.Errorf("%w: %v", ErrFetchFailure, lastErr)
}

// Try runs a single step, fetching the fetchType rendition from the source
// and rendering it for key.
func (r *Resolver) Try(ctx context.Context, step Step, key Key, info ArtInfo, fetchType Type) (*Resolution, error) {
	fetched, err := r.fetch(ctx, step, info, fetchType)
	if err != nil {
		return nil, err
	}
	if fetched == nil || len(fetched.Data) == 0 {
		return nil, ErrNoArtwork
	}
	return RenderFetched(key, fetched, step)
}

// RenderFetched renders bytes returned by step for key.
func RenderFetched(key Key, fetched *Fetched, step Step) (*Resolution, error) {
	data, _, err := Render(fetched.Data, key.Type)
	if err != nil {
		return nil, err
	}
	art, err := Build(key, data, fetched.Source)
	if err != nil {
		return nil, err
	}
	return &Resolution{Artwork: art, Step: step, Raw: fetched.Data}, nil
}

func (r *Resolver) fetch(ctx context.Context, step Step, info ArtInfo, typ Type) (*Fetched, error) {
	switch step {
	case StepMediaStore:
		if r.media == nil {
			return nil, ErrNoArtwork
		}
		return r.media.Lookup(ctx, info.URI)
	case StepDirectURL:
		if r.urls == nil {
			return nil, ErrNoArtwork
		}
		return r.urls.FetchURL(ctx, info.URI)
	case StepRemoteLookup:
		if r.remote == nil {
			return nil, ErrNoArtwork
		}
		return r.remote.LookupAlbumArt(ctx, info.Artist, info.Album, typ)
	default:
		return nil, fmt.Errorf("unknown step %d", step)
	}
}
