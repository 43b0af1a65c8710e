// Package captcha checks human-verification tokens (Turnstile, hCaptcha or a
// self-hosted Cap server) presented on the public certificate lookup.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

var (
	ErrCaptchaRequired    = errors.New("captcha_required")
	ErrCaptchaUnavailable = errors.New("captcha_unavailable")
)

const (
	ProviderTurnstile = "turnstile"
	ProviderHCaptcha  = "hcaptcha"
	ProviderCap       = "cap"
)

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string, string) error { return nil }

type Config struct {
	Enabled   bool
	Provider  string
	VerifyURL string
	Secret    string
	Timeout   time.Duration
}

type HTTPVerifier struct {
	provider  string
	verifyURL string
	secret    string
	client    *http.Client
}

func NewVerifier(cfg Config, log zerolog.Logger) Verifier {
	if !cfg.Enabled {
		return NoopVerifier{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	sub := log.With().Str("component", "captcha").Logger()
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			sub.Warn().Int("attempt", attempt).Str("host", req.URL.Host).Msg("retrying captcha verification")
		}
	}
	return &HTTPVerifier{
		provider:  strings.ToLower(strings.TrimSpace(cfg.Provider)),
		verifyURL: strings.TrimSpace(cfg.VerifyURL),
		secret:    strings.TrimSpace(cfg.Secret),
		client:    rc.StandardClient(),
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Error      string   `json:"error"`
	Message    string   `json:"message"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: captcha token is required", ErrCaptchaRequired)
	}
	req, err := v.newRequest(ctx, token, strings.TrimSpace(remoteIP))
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500, v.provider == ProviderCap && resp.StatusCode >= 300:
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: captcha verify HTTP %d", ErrCaptchaRequired, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if out.Success {
		return nil
	}
	switch {
	case strings.TrimSpace(out.Error) != "":
		return fmt.Errorf("%w: %s", ErrCaptchaRequired, out.Error)
	case strings.TrimSpace(out.Message) != "":
		return fmt.Errorf("%w: %s", ErrCaptchaRequired, out.Message)
	case len(out.ErrorCodes) > 0:
		return fmt.Errorf("%w: captcha rejected: %s", ErrCaptchaRequired, strings.Join(out.ErrorCodes, ","))
	}
	return fmt.Errorf("%w: captcha rejected", ErrCaptchaRequired)
}

// newRequest encodes the siteverify call. Turnstile and hCaptcha take a form
// body; Cap takes JSON.
func (v *HTTPVerifier) newRequest(ctx context.Context, token, remoteIP string) (*http.Request, error) {
	var (
		body        []byte
		contentType string
	)
	switch v.provider {
	case "", ProviderTurnstile, ProviderHCaptcha:
		form := url.Values{"secret": {v.secret}, "response": {token}}
		if remoteIP != "" {
			form.Set("remoteip", remoteIP)
		}
		body, contentType = []byte(form.Encode()), "application/x-www-form-urlencoded"
	case ProviderCap:
		payload := map[string]string{"secret": v.secret, "response": token}
		if remoteIP != "" {
			payload["remoteip"] = remoteIP
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
		}
		body, contentType = raw, "application/json"
	default:
		return nil, fmt.Errorf("%w: unsupported captcha provider %q", ErrCaptchaUnavailable, v.provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}
