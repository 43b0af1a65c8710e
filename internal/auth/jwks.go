package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	jwksRefreshInterval = time.Hour
	jwksFetchTimeout    = 10 * time.Second
	// An unknown kid triggers at most one refetch per interval.
	unknownKIDRefetchInterval = 30 * time.Second
)

// newJWKSKeyfunc returns a key source backed by a remote JWKS. Keys refresh in
// the background until ctx is done. An unreachable endpoint at startup is
// logged, not fatal.
func newJWKSKeyfunc(ctx context.Context, jwksURL string, log zerolog.Logger) (keyfunc.Keyfunc, error) {
	sub := log.With().Str("component", "jwks").Logger()

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	u, err := url.Parse(jwksURL)
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}
	remote, err := jwkset.NewStorageFromHTTP(u, jwkset.HTTPClientStorageOptions{
		Client:                    client.StandardClient(),
		Ctx:                       ctx,
		HTTPTimeout:               jwksFetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			sub.Warn().Err(err).Str("url", jwksURL).Msg("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{jwksURL: remote},
		RateLimitWaitMax:  time.Second,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(unknownKIDRefetchInterval), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("jwks client: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      storage,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}
	return kf, nil
}
