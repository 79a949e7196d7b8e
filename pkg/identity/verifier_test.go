package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portal/pkg/observability"
)

const (
	testAudience = "api://portal"
	testTenant   = "11111111-2222-3333-4444-555555555555"
	testKeyID    = "test-key"
)

var (
	keyOnce    sync.Once
	signingKey *rsa.PrivateKey
	otherKey   *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return signingKey, otherKey
}

func testConfig() Config {
	return Config{Audience: testAudience, TenantID: testTenant, BaseURL: "https://login.example.test"}
}

func baseClaims(cfg Config) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   cfg.Issuer(),
		"aud":   cfg.Audience,
		"sub":   "subject-123",
		"oid":   "object-456",
		"tid":   testTenant,
		"name":  "Ann Example",
		"email": "ann@example.org",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newStaticVerifier(t *testing.T, cfg Config, opts ...Option) *Verifier {
	t.Helper()
	key, _ := testKeys(t)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return NewVerifier(context.Background(), cfg, append([]Option{WithKeySet(keySet)}, opts...)...)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Audience: testAudience}
	assert.Equal(t, "https://login.microsoftonline.com/common/v2.0", cfg.Issuer())
	assert.Equal(t, "https://login.microsoftonline.com/common/discovery/v2.0/keys", cfg.JWKSURL())

	cfg = Config{TenantID: "contoso", BaseURL: "https://login.example.test/"}
	assert.Equal(t, "https://login.example.test/contoso/v2.0", cfg.Issuer())
	assert.Equal(t, "https://login.example.test/contoso/discovery/v2.0/keys", cfg.JWKSURL())
}

func TestVerify_Valid(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()
	v := newStaticVerifier(t, cfg)

	claims, err := v.Verify(context.Background(), sign(t, key, baseClaims(cfg)))
	require.NoError(t, err)
	assert.Equal(t, "ann@example.org", claims.Email)
	assert.Equal(t, "subject-123", claims.Subject)
	assert.Equal(t, "object-456", claims.ObjectID)
	assert.Equal(t, testTenant, claims.TenantID)
	assert.Equal(t, "Ann Example", claims.Name)
	assert.Equal(t, testAudience, claims.Audience)
	assert.Equal(t, cfg.Issuer(), claims.Issuer)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestVerify_PreferredUsernameFallback(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()
	v := newStaticVerifier(t, cfg)

	c := baseClaims(cfg)
	delete(c, "email")
	c["preferred_username"] = "ann.upn@example.org"

	claims, err := v.Verify(context.Background(), sign(t, key, c))
	require.NoError(t, err)
	assert.Equal(t, "ann.upn@example.org", claims.Email)
}

func TestVerify_MissingIdentifier(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()
	v := newStaticVerifier(t, cfg)

	c := baseClaims(cfg)
	delete(c, "email")

	_, err := v.Verify(context.Background(), sign(t, key, c))
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestVerify_MissingToken(t *testing.T) {
	v := newStaticVerifier(t, testConfig())

	_, err := v.Verify(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerify_MissingAudienceIsConfiguration(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()
	cfg.Audience = ""
	v := newStaticVerifier(t, cfg)

	_, err := v.Verify(context.Background(), sign(t, key, baseClaims(testConfig())))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestVerify_Rejections(t *testing.T) {
	key, other := testKeys(t)
	cfg := testConfig()

	tests := []struct {
		name  string
		token func() string
	}{
		{
			name: "wrong audience",
			token: func() string {
				c := baseClaims(cfg)
				c["aud"] = "api://someone-else"
				return sign(t, key, c)
			},
		},
		{
			name: "multiple audiences",
			token: func() string {
				c := baseClaims(cfg)
				c["aud"] = []string{testAudience, "api://someone-else"}
				return sign(t, key, c)
			},
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := baseClaims(cfg)
				c["iss"] = "https://login.example.test/common/v2.0"
				return sign(t, key, c)
			},
		},
		{
			name: "expired",
			token: func() string {
				c := baseClaims(cfg)
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return sign(t, key, c)
			},
		},
		{
			name: "unknown signing key",
			token: func() string {
				return sign(t, other, baseClaims(cfg))
			},
		},
		{
			name: "hmac algorithm",
			token: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims(cfg))
				signed, err := token.SignedString([]byte("shared-secret"))
				require.NoError(t, err)
				return signed
			},
		},
		{
			name:  "garbage",
			token: func() string { return "not.a.jwt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newStaticVerifier(t, cfg)
			claims, err := v.Verify(context.Background(), tt.token())
			assert.Nil(t, claims)
			// The cause is never exposed to callers.
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}

func TestVerify_UsesInjectedClock(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()

	c := baseClaims(cfg)
	exp := time.Now().Add(10 * time.Minute)
	c["exp"] = exp.Unix()
	token := sign(t, key, c)

	late := newStaticVerifier(t, cfg, WithNow(func() time.Time { return exp.Add(time.Hour) }))
	_, err := late.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	onTime := newStaticVerifier(t, cfg, WithNow(time.Now))
	_, err = onTime.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerify_Metrics(t *testing.T) {
	key, _ := testKeys(t)
	cfg := testConfig()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	v := newStaticVerifier(t, cfg, WithMetrics(metrics))

	_, _ = v.Verify(context.Background(), sign(t, key, baseClaims(cfg)))
	_, _ = v.Verify(context.Background(), "")
	_, _ = v.Verify(context.Background(), "not.a.jwt")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("missing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("invalid")))
}

func jwksHandler(t *testing.T, key *rsa.PublicKey, hits *atomic.Int32) http.Handler {
	t.Helper()
	enc := base64.RawURLEncoding
	body, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": testKeyID,
			"n":   enc.EncodeToString(key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/discovery/v2.0/keys", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	return mux
}

func TestVerify_RemoteKeySet(t *testing.T) {
	key, _ := testKeys(t)
	var hits atomic.Int32
	server := httptest.NewServer(jwksHandler(t, &key.PublicKey, &hits))
	defer server.Close()

	cfg := Config{Audience: testAudience, TenantID: testTenant, BaseURL: server.URL}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := NewVerifier(ctx, cfg)

	for i := 0; i < 3; i++ {
		claims, err := v.Verify(context.Background(), sign(t, key, baseClaims(cfg)))
		require.NoError(t, err)
		assert.Equal(t, "ann@example.org", claims.Email)
	}
	assert.Equal(t, int32(1), hits.Load(), "keys are cached across verifications")
}

func TestSession(t *testing.T) {
	var nilSession *Session
	assert.Equal(t, "", nilSession.Email())
	assert.False(t, nilSession.Authenticated())

	s := NewSession(&Claims{Email: "ann@example.org", ExpiresAt: time.Now().Add(time.Minute)}, "raw")
	assert.True(t, s.Authenticated())
	assert.False(t, s.Expired(time.Now()))
	assert.True(t, s.Expired(time.Now().Add(2*time.Minute)))

	ctx := WithSession(context.Background(), s)
	got, ok := SessionFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = SessionFromContext(context.Background())
	assert.False(t, ok)
}
