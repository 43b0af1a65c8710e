package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type Config struct {
	// PEMKey is an RSA public key in PEM form (networkless verification).
	PEMKey string
	// JWKSURL is fetched at startup, hourly, and when an unknown kid shows up.
	// Tokens verified against it must carry a kid.
	JWKSURL string
	// HS256Secret enables shared-secret tokens; meant for development and tests.
	HS256Secret       string
	Issuer            string
	AuthorizedParties []string
	Leeway            time.Duration
}

type JWTVerifier struct {
	cfg     Config
	pemKey  *rsa.PublicKey
	jwks    keyfunc.Keyfunc
	stop    context.CancelFunc
	methods []string
	log     zerolog.Logger
}

func NewJWTVerifier(cfg Config, log zerolog.Logger) (*JWTVerifier, error) {
	v := &JWTVerifier{cfg: cfg, log: log.With().Str("component", "auth").Logger()}
	if strings.TrimSpace(cfg.PEMKey) != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(cfg.PEMKey)))
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		v.pemKey = key
	}
	if cfg.JWKSURL != "" {
		ctx, cancel := context.WithCancel(context.Background())
		kf, err := newJWKSKeyfunc(ctx, cfg.JWKSURL, log)
		if err != nil {
			cancel()
			return nil, err
		}
		v.jwks, v.stop = kf, cancel
	}
	if v.pemKey != nil || v.jwks != nil {
		v.methods = append(v.methods, jwt.SigningMethodRS256.Alg())
	}
	if cfg.HS256Secret != "" {
		v.methods = append(v.methods, jwt.SigningMethodHS256.Alg())
	}
	if len(v.methods) == 0 {
		return nil, errors.New("no token verification key configured")
	}
	return v, nil
}

// Close stops the background JWKS refresh.
func (v *JWTVerifier) Close() {
	if v.stop != nil {
		v.stop()
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.key(ctx, t)
	})
	if err != nil {
		v.log.Debug().Err(err).Msg("token rejected")
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if len(v.cfg.AuthorizedParties) > 0 {
		if azp, _ := claims["azp"].(string); azp != "" && !slices.Contains(v.cfg.AuthorizedParties, azp) {
			return Identity{}, fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, azp)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id := Identity{UserID: sub, Role: roleFromClaims(claims)}
	id.Email, _ = claims["email"].(string)
	id.SessionID, _ = claims["sid"].(string)
	return id, nil
}

func (v *JWTVerifier) key(ctx context.Context, t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.cfg.HS256Secret == "" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(v.cfg.HS256Secret), nil
	case *jwt.SigningMethodRSA:
		kid, _ := t.Header["kid"].(string)
		if v.jwks != nil && kid != "" {
			key, err := v.jwks.KeyfuncCtx(ctx)(t)
			if err == nil || v.pemKey == nil {
				return key, err
			}
		}
		if v.pemKey != nil {
			return v.pemKey, nil
		}
	}
	return nil, jwt.ErrTokenUnverifiable
}

// roleFromClaims checks role, then metadata.role, then public_metadata.role.
func roleFromClaims(claims jwt.MapClaims) string {
	if r, ok := claims["role"].(string); ok && r != "" {
		return r
	}
	for _, k := range []string{"metadata", "public_metadata"} {
		if m, ok := claims[k].(map[string]any); ok {
			if r, ok := m["role"].(string); ok && r != "" {
				return r
			}
		}
	}
	return ""
}

// normalizePEM restores newlines in keys passed through single-line env vars.
func normalizePEM(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n")
}
