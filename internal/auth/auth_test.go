package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-bytes-0123456789"

func signHS(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func signRS(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user_2abc",
		"email": "admin@example.com",
		"sid":   "sess_1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewJWTVerifier(Config{HS256Secret: testSecret}, zerolog.Nop())
	require.NoError(t, err)

	claims := baseClaims()
	claims["role"] = "admin"
	id, err := v.Verify(context.Background(), signHS(t, testSecret, claims))
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: "user_2abc", Email: "admin@example.com", Role: "admin", SessionID: "sess_1"}, id)
	require.True(t, id.HasRole("ADMIN"))
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewJWTVerifier(Config{HS256Secret: testSecret, Issuer: "https://clerk.example.com"}, zerolog.Nop())
	require.NoError(t, err)

	good := baseClaims()
	good["iss"] = "https://clerk.example.com"

	expired := baseClaims()
	expired["iss"] = "https://clerk.example.com"
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongIss := baseClaims()
	wrongIss["iss"] = "https://evil.example.com"

	noExp := baseClaims()
	noExp["iss"] = "https://clerk.example.com"
	delete(noExp, "exp")

	noSub := baseClaims()
	noSub["iss"] = "https://clerk.example.com"
	delete(noSub, "sub")

	_, err = v.Verify(context.Background(), signHS(t, testSecret, good))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      signHS(t, testSecret, expired),
		"wrong issuer": signHS(t, testSecret, wrongIss),
		"no exp":       signHS(t, testSecret, noExp),
		"no subject":   signHS(t, testSecret, noSub),
		"wrong secret": signHS(t, "another-secret-another-secret-0000", good),
		"garbage":      "not.a.jwt",
	} {
		_, err := v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err = v.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifyRejectsAlgorithmNotConfigured(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v, err := NewJWTVerifier(Config{HS256Secret: testSecret}, zerolog.Nop())
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signRS(t, key, "", baseClaims()))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAuthorizedParties(t *testing.T) {
	v, err := NewJWTVerifier(Config{HS256Secret: testSecret, AuthorizedParties: []string{"https://app.example.com"}}, zerolog.Nop())
	require.NoError(t, err)

	claims := baseClaims()
	claims["azp"] = "https://other.example.com"
	_, err = v.Verify(context.Background(), signHS(t, testSecret, claims))
	require.ErrorIs(t, err, ErrInvalidToken)

	claims["azp"] = "https://app.example.com"
	_, err = v.Verify(context.Background(), signHS(t, testSecret, claims))
	require.NoError(t, err)
}

func TestVerifyPEMKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	// single-line env form with literal \n
	v, err := NewJWTVerifier(Config{PEMKey: strings.ReplaceAll(pemKey, "\n", `\n`)}, zerolog.Nop())
	require.NoError(t, err)

	claims := baseClaims()
	claims["public_metadata"] = map[string]any{"role": "admin"}
	id, err := v.Verify(context.Background(), signRS(t, key, "", claims))
	require.NoError(t, err)
	require.Equal(t, "admin", id.Role)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signRS(t, other, "", claims))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kid": "k1",
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v, err := NewJWTVerifier(Config{JWKSURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	claims := baseClaims()
	claims["metadata"] = map[string]any{"role": "member"}
	for i := 0; i < 3; i++ {
		id, err := v.Verify(context.Background(), signRS(t, key, "k1", claims))
		require.NoError(t, err)
		require.Equal(t, "member", id.Role)
	}
	require.EqualValues(t, 1, hits.Load())

	// the first unknown kid refetches once, the next one inside the interval does not
	_, err = v.Verify(context.Background(), signRS(t, key, "k2", claims))
	require.ErrorIs(t, err, ErrInvalidToken)
	require.EqualValues(t, 2, hits.Load())
	_, err = v.Verify(context.Background(), signRS(t, key, "k3", claims))
	require.ErrorIs(t, err, ErrInvalidToken)
	require.EqualValues(t, 2, hits.Load())

	// kid-less tokens have no JWKS match without a PEM fallback
	_, err = v.Verify(context.Background(), signRS(t, key, "", claims))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyJWKSDoesNotBlockOnSlowRefetch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			<-release
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kid": "k1",
			"kty": "RSA",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()
	defer close(release)

	v, err := NewJWTVerifier(Config{JWKSURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()

	claims := baseClaims()
	known := signRS(t, key, "k1", claims)
	rotated := signRS(t, key, "rotated", claims)
	_, err = v.Verify(context.Background(), known)
	require.NoError(t, err)

	go func() {
		_, _ = v.Verify(context.Background(), rotated)
	}()
	require.Eventually(t, func() bool { return hits.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := v.Verify(context.Background(), known)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("known-key verification waited on a pending refetch")
	}
}

func TestNewJWTVerifierRequiresKey(t *testing.T) {
	_, err := NewJWTVerifier(Config{}, zerolog.Nop())
	require.Error(t, err)
	_, err = NewJWTVerifier(Config{PEMKey: "nope"}, zerolog.Nop())
	require.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	require.Equal(t, "abc.def.ghi", TokenFromRequest(r, ""))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	require.Equal(t, "", TokenFromRequest(r, ""))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "cookie.jwt"})
	require.Equal(t, "cookie.jwt", TokenFromRequest(r, ""))
	require.Equal(t, "", TokenFromRequest(r, "other"))
}

func TestRoleFromClaimsPrecedence(t *testing.T) {
	require.Equal(t, "admin", roleFromClaims(jwt.MapClaims{"role": "admin", "metadata": map[string]any{"role": "member"}}))
	require.Equal(t, "member", roleFromClaims(jwt.MapClaims{"metadata": map[string]any{"role": "member"}, "public_metadata": map[string]any{"role": "admin"}}))
	require.Equal(t, "", roleFromClaims(jwt.MapClaims{}))
}
