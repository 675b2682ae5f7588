package enrichment

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultUserAgent follows MusicBrainz guidelines
	DefaultUserAgent = "StellarArtwork/1.0 (https://github.com/edumarques81/stellar-artwork)"

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxImageSize is the maximum image size to download (10MB)
	MaxImageSize = 10 * 1024 * 1024
)

// HTTPConfig controls the retrying HTTP client shared by all providers.
type HTTPConfig struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultHTTPConfig returns the default client configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:      DefaultTimeout,
		RetryMax:     2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// NewHTTPClient returns an http.Client that retries connection errors,
// 429 and 5xx responses. After the last attempt the final response is
// returned unchanged so callers can map its status code.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = zerologAdapter{logger: log.With().Str("component", "http").Logger()}
	return rc.StandardClient()
}

// zerologAdapter implements retryablehttp.LeveledLogger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (z zerologAdapter) Error(msg string, kv ...interface{}) {
	z.logger.Error().Fields(kv).Msg(msg)
}

func (z zerologAdapter) Info(msg string, kv ...interface{}) {
	z.logger.Debug().Fields(kv).Msg(msg)
}

func (z zerologAdapter) Debug(msg string, kv ...interface{}) {
	z.logger.Trace().Fields(kv).Msg(msg)
}

func (z zerologAdapter) Warn(msg string, kv ...interface{}) {
	z.logger.Warn().Fields(kv).Msg(msg)
}

// checkStatus maps an HTTP status to the package errors.
func checkStatus(resp *http.Response, service string) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrArtworkNotFound
	case http.StatusTooManyRequests:
		log.Warn().Str("service", service).Msg("Rate limit exceeded")
		return ErrRateLimited
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		log.Warn().Str("service", service).Int("status", resp.StatusCode).Msg("Temporary error")
		return ErrTemporaryFailure
	default:
		return fmt.Errorf("%s: unexpected status: %d", service, resp.StatusCode)
	}
}
