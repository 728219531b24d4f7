package bedrock

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/sigv4"
)

// Authenticator attaches Bedrock credentials to a rewritten request. body is
// the exact payload that will be sent.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request, body []byte, now time.Time) error
	Region() string
}

// SigV4Auth signs requests with an AWS key pair.
type SigV4Auth struct {
	signer *sigv4.Signer
}

func NewAccessKeyCredentials(accessKey, secretKey, region string) (*SigV4Auth, error) {
	return NewSessionCredentials(accessKey, secretKey, "", region)
}

// NewSessionCredentials is NewAccessKeyCredentials for temporary STS keys.
func NewSessionCredentials(accessKey, secretKey, sessionToken, region string) (*SigV4Auth, error) {
	creds, err := sigv4.NewCredentials(accessKey, secretKey, region)
	if err != nil {
		return nil, err
	}
	signer, err := sigv4.ForCredentials(creds.WithSessionToken(sessionToken), sigv4.ServiceBedrock)
	if err != nil {
		return nil, err
	}
	return &SigV4Auth{signer: signer}, nil
}

// NewSigV4Auth signs with any AWS credentials provider, refreshed by the
// provider itself.
func NewSigV4Auth(provider aws.CredentialsProvider, region string) (*SigV4Auth, error) {
	signer, err := sigv4.NewSigner(provider, region, sigv4.ServiceBedrock)
	if err != nil {
		return nil, err
	}
	return &SigV4Auth{signer: signer}, nil
}

// LoadDefaultCredentials resolves credentials through the AWS default chain
// (environment, shared config, SSO, IMDS). An empty region falls back to
// the one in the shared config.
func LoadDefaultCredentials(ctx context.Context, region string) (*SigV4Auth, error) {
	var opts []func(*config.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &anthropic.AuthenticationError{Reason: "load aws default config", Err: err}
	}
	return NewSigV4Auth(aws.NewCredentialsCache(cfg.Credentials), cfg.Region)
}

func (a *SigV4Auth) Region() string { return a.signer.Region() }

func (a *SigV4Auth) Authenticate(ctx context.Context, req *http.Request, body []byte, now time.Time) error {
	h := sigv4.HeaderFrom(req.Header)
	if req.Host != "" {
		h.Set(sigv4.HeaderHost, req.Host)
	}

	signed, err := a.signer.Sign(ctx, sigv4.Request{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: h,
		Body:   body,
		Time:   now,
	})
	if err != nil {
		return err
	}
	signed.Apply(req)
	return nil
}

// APIKeyAuth sends a Bedrock API key as a bearer token.
type APIKeyAuth struct {
	token  string
	region string
}

func NewAPIKeyCredentials(token, region string) (*APIKeyAuth, error) {
	token = strings.TrimSpace(token)
	region = strings.TrimSpace(region)
	if token == "" {
		return nil, &anthropic.AuthenticationError{Field: "bearer token", Reason: "must not be empty"}
	}
	if region == "" {
		return nil, &anthropic.AuthenticationError{Field: "region", Reason: "must not be empty"}
	}
	return &APIKeyAuth{token: token, region: region}, nil
}

func (a *APIKeyAuth) Region() string { return a.region }

func (a *APIKeyAuth) Authenticate(_ context.Context, req *http.Request, _ []byte, _ time.Time) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

// BaseURL is the Bedrock runtime endpoint for region.
func BaseURL(region string) string {
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
}
