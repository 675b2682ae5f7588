package enrichment

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubProvider struct {
	name   string
	result *FetchResult
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error) {
	s.calls++
	return s.result, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubProvider{name: "a", err: ErrArtworkNotFound}
	second := &stubProvider{name: "b", result: &FetchResult{Data: jpegMagic, Source: SourceLastFM}}
	third := &stubProvider{name: "c", result: &FetchResult{Data: jpegMagic, Source: SourceDeezer}}

	chain := NewChain(first, nil, second, third)

	if got := chain.Providers(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected providers %v", got)
	}

	result, err := chain.FetchAlbumArt(context.Background(), "A", "B", SizeSmall)
	if err != nil {
		t.Fatalf("FetchAlbumArt failed: %v", err)
	}
	if result.Source != SourceLastFM {
		t.Errorf("expected lastfm result, got %s", result.Source)
	}
	if third.calls != 0 {
		t.Error("providers after a success should not be called")
	}
}

func TestChain_SkipsUnconfigured(t *testing.T) {
	boom := errors.New("boom")
	chain := NewChain(
		&stubProvider{name: "a", err: boom},
		&stubProvider{name: "b", err: ErrNotConfigured},
	)

	_, err := chain.FetchAlbumArt(context.Background(), "A", "B", SizeLarge)
	if err != boom {
		t.Errorf("expected last real error, got %v", err)
	}
}

func TestChain_TemporaryFailureOutranksMiss(t *testing.T) {
	chain := NewChain(
		&stubProvider{name: "a", err: ErrRateLimited},
		&stubProvider{name: "b", err: ErrArtworkNotFound},
		&stubProvider{name: "c", err: ErrNotImage},
	)

	_, err := chain.FetchAlbumArt(context.Background(), "A", "B", SizeSmall)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected the rate limit to be reported, got %v", err)
	}
	if !IsTemporaryError(err) {
		t.Error("reported error should be temporary")
	}
}

func TestChain_ReportsLastPermanentMiss(t *testing.T) {
	chain := NewChain(
		&stubProvider{name: "a", err: ErrArtworkNotFound},
		&stubProvider{name: "b", err: ErrNotImage},
	)

	_, err := chain.FetchAlbumArt(context.Background(), "A", "B", SizeSmall)
	if !errors.Is(err, ErrNotImage) || !IsPermanentError(err) {
		t.Errorf("expected ErrNotImage, got %v", err)
	}
}

func TestChain_Empty(t *testing.T) {
	_, err := NewChain().FetchAlbumArt(context.Background(), "A", "B", SizeLarge)
	if err != ErrArtworkNotFound {
		t.Errorf("expected ErrArtworkNotFound, got %v", err)
	}
}
