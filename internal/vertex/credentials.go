package vertex

import (
	"context"
	"fmt"
	"strings"

	"github.com/namikmesic/claude-client/internal/anthropic"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// CloudPlatformScope is requested for access tokens from Application
// Default Credentials.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials identify the Vertex project and region and supply bearer
// tokens for them.
type Credentials struct {
	region  string
	project string
	tokens  oauth2.TokenSource
}

// NewCredentials validates region and project. Tokens are cached and
// refreshed through oauth2.ReuseTokenSource.
func NewCredentials(region, project string, tokens oauth2.TokenSource) (*Credentials, error) {
	region = strings.TrimSpace(region)
	project = strings.TrimSpace(project)
	if region == "" {
		return nil, &anthropic.AuthenticationError{Field: "region", Reason: "must not be empty"}
	}
	if project == "" {
		return nil, &anthropic.AuthenticationError{Field: "project", Reason: "must not be empty"}
	}
	if tokens == nil {
		return nil, &anthropic.AuthenticationError{Field: "token source", Reason: "must not be nil"}
	}
	return &Credentials{
		region:  region,
		project: project,
		tokens:  oauth2.ReuseTokenSource(nil, tokens),
	}, nil
}

func (c *Credentials) Region() string  { return c.region }
func (c *Credentials) Project() string { return c.project }

// Token returns a bearer token ready for the Authorization header.
func (c *Credentials) Token() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", &anthropic.AuthenticationError{Reason: "fetch google token", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &anthropic.AuthenticationError{Reason: "token source returned an empty token"}
	}
	return tok.AccessToken, nil
}

// DefaultTokenSource returns OIDC identity tokens for audience when one is
// given, otherwise Application Default Credentials access tokens.
func DefaultTokenSource(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	if audience = strings.TrimSpace(audience); audience != "" {
		ts, err := idtoken.NewTokenSource(ctx, audience)
		if err != nil {
			return nil, &anthropic.AuthenticationError{Reason: fmt.Sprintf("id token source for %q", audience), Err: err}
		}
		return ts, nil
	}

	ts, err := google.DefaultTokenSource(ctx, CloudPlatformScope)
	if err != nil {
		return nil, &anthropic.AuthenticationError{Reason: "application default credentials", Err: err}
	}
	return ts, nil
}

// StaticToken wraps an already issued access token.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// BaseURL is the Vertex AI endpoint for region. The "global" region has no
// regional host.
func BaseURL(region string) string {
	if region == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
}
