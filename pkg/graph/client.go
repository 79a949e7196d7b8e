package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/portal/pkg/observability"
)

const (
	DefaultBaseURL      = "https://graph.microsoft.com/v1.0"
	DefaultLoginBaseURL = "https://login.microsoftonline.com"
	DefaultScope        = "https://graph.microsoft.com/.default"

	profileFields = "displayName,mail,jobTitle,department,officeLocation"
)

var (
	// ErrUserNotFound is returned when Graph has no user for the email
	ErrUserNotFound = errors.New("user not found in directory")

	// ErrNotConfigured is returned by a client built without credentials
	ErrNotConfigured = errors.New("microsoft graph is not configured")
)

// Config configures the Graph client
type Config struct {
	TenantID     string `envconfig:"TENANT_ID"`
	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`
	BaseURL      string `envconfig:"BASE_URL" default:"https://graph.microsoft.com/v1.0"`
	// TokenURL overrides <login base>/<tenant>/oauth2/v2.0/token
	TokenURL string        `envconfig:"TOKEN_URL"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && (c.TenantID != "" || c.TokenURL != "")
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", DefaultLoginBaseURL, url.PathEscape(c.TenantID))
}

// Profile is the directory view of a staff member
type Profile struct {
	DisplayName    string `json:"displayName"`
	Mail           string `json:"mail"`
	JobTitle       string `json:"jobTitle"`
	Department     string `json:"department"`
	OfficeLocation string `json:"officeLocation"`
}

// Client calls Microsoft Graph
type Client struct {
	httpClient *http.Client
	baseURL    string
	enabled    bool
	logger     *observability.Logger
}

// Option customizes a Client
type Option func(*Client)

func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client whose requests carry a client-credentials token.
// ctx only scopes token refreshes. With no credentials every call returns
// ErrNotConfigured.
func NewClient(ctx context.Context, cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		enabled: cfg.Enabled(),
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.tokenURL(),
		Scopes:       []string{DefaultScope},
	}
	c.httpClient = cc.Client(ctx)
	c.httpClient.Timeout = cfg.Timeout

	return c
}

// Profile fetches the directory profile for email
func (c *Client) Profile(ctx context.Context, email string) (*Profile, error) {
	if !c.enabled {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(email) == "" {
		return nil, ErrUserNotFound
	}

	endpoint := fmt.Sprintf("%s/users/%s?$select=%s", c.baseURL, url.PathEscape(email), profileFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUserNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Warn("Graph profile request failed")
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode graph profile: %w", err)
	}
	return &profile, nil
}

// StatusError is a non-2xx Graph response other than 404
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph request failed with status %d", e.StatusCode)
}
