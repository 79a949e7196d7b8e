package identity

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/portal/pkg/observability"
)

const (
	// DefaultBaseURL is the Entra ID authority
	DefaultBaseURL = "https://login.microsoftonline.com"
	// DefaultTenant accepts any tenant's keys
	DefaultTenant = "common"
)

// Config describes the expected token issuer and audience
type Config struct {
	Audience string `envconfig:"AUDIENCE"`
	TenantID string `envconfig:"TENANT_ID"`
	BaseURL  string `envconfig:"BASE_URL" default:"https://login.microsoftonline.com"`
}

func (c Config) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c Config) tenant() string {
	if c.TenantID == "" {
		return DefaultTenant
	}
	return c.TenantID
}

// Issuer is the exact iss value tokens must carry
func (c Config) Issuer() string {
	return c.base() + "/" + c.tenant() + "/v2.0"
}

// JWKSURL is where signing keys are published
func (c Config) JWKSURL() string {
	return c.base() + "/" + c.tenant() + "/discovery/v2.0/keys"
}

// Verifier validates bearer tokens. It is safe for concurrent use; signing
// keys are fetched once and cached by the key set.
type Verifier struct {
	cfg      Config
	keySet   oidc.KeySet
	now      func() time.Time
	verifier *oidc.IDTokenVerifier
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option customizes a Verifier
type Option func(*Verifier)

// WithKeySet replaces the remote JWKS, mostly for tests
func WithKeySet(ks oidc.KeySet) Option {
	return func(v *Verifier) { v.keySet = ks }
}

// WithNow overrides the clock used for expiry checks
func WithNow(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(l *observability.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a verifier. ctx is used for JWKS fetches and must
// outlive the verifier. A missing audience is not an error here; Verify
// reports it so the process can still start and surface the problem per
// request.
func NewVerifier(ctx context.Context, cfg Config, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:    cfg,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.keySet == nil {
		v.keySet = oidc.NewRemoteKeySet(ctx, cfg.JWKSURL())
	}

	v.verifier = oidc.NewVerifier(cfg.Issuer(), v.keySet, &oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256},
		Now:                  v.now,
	})
	return v
}

// Config returns the verifier's configuration
func (v *Verifier) Config() Config {
	return v.cfg
}

// tokenClaims are the claims read beyond the registered ones
type tokenClaims struct {
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
}

// Verify checks rawToken and returns its claims
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	ctx, span := observability.Tracer().Start(ctx, "identity.Verify")
	defer span.End()

	claims, result, err := v.verify(ctx, strings.TrimSpace(rawToken))
	span.SetAttributes(attribute.String("portal.token.result", result))
	if err != nil {
		span.SetStatus(codes.Error, result)
	}
	v.metrics.ObserveTokenVerification(result)
	return claims, err
}

func (v *Verifier) verify(ctx context.Context, rawToken string) (*Claims, string, error) {
	if rawToken == "" {
		return nil, "missing", ErrMissingToken
	}

	if v.cfg.Audience == "" {
		v.logger.WithField("remediation", "set AZURE_AUDIENCE to the application (client) ID or Application ID URI").
			Error("Token verification is not configured")
		return nil, "misconfigured", ErrConfiguration
	}

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		v.logger.WithError(err).Warn("Token verification failed")
		return nil, "invalid", ErrInvalidToken
	}

	// go-oidc accepts any audience list containing ours; we require exactly one.
	if len(idToken.Audience) != 1 || idToken.Audience[0] != v.cfg.Audience {
		v.logger.WithField("audience", idToken.Audience).Warn("Token verification failed: unexpected audience")
		return nil, "invalid", ErrInvalidToken
	}

	var extra tokenClaims
	if err := idToken.Claims(&extra); err != nil {
		v.logger.WithError(err).Warn("Token claims could not be decoded")
		return nil, "invalid", ErrInvalidToken
	}

	email := strings.TrimSpace(extra.Email)
	if email == "" {
		email = strings.TrimSpace(extra.PreferredUsername)
	}
	if email == "" {
		v.logger.WithField("subject", idToken.Subject).Warn("Token carries no email or preferred_username")
		return nil, "no_identifier", ErrMissingIdentifier
	}

	return &Claims{
		Subject:   idToken.Subject,
		Email:     email,
		Name:      extra.Name,
		ObjectID:  extra.ObjectID,
		TenantID:  extra.TenantID,
		Issuer:    idToken.Issuer,
		Audience:  idToken.Audience[0],
		IssuedAt:  idToken.IssuedAt,
		ExpiresAt: idToken.Expiry,
	}, "valid", nil
}
