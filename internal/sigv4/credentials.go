package sigv4

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/namikmesic/claude-client/internal/anthropic"
)

// Credentials is a static access key pair bound to a region.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// NewCredentials validates the key pair and region up front so that a
// signer built from them cannot fail on missing credentials later.
func NewCredentials(accessKey, secretKey, region string) (Credentials, error) {
	accessKey = strings.TrimSpace(accessKey)
	secretKey = strings.TrimSpace(secretKey)
	region = strings.TrimSpace(region)

	switch {
	case accessKey == "":
		return Credentials{}, &anthropic.AuthenticationError{Field: "access key", Reason: "must not be empty"}
	case secretKey == "":
		return Credentials{}, &anthropic.AuthenticationError{Field: "secret key", Reason: "must not be empty"}
	case region == "":
		return Credentials{}, &anthropic.AuthenticationError{Field: "region", Reason: "must not be empty"}
	}

	return Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Region: region}, nil
}

// WithSessionToken attaches temporary STS credentials.
func (c Credentials) WithSessionToken(token string) Credentials {
	c.SessionToken = strings.TrimSpace(token)
	return c
}

func (c Credentials) Retrieve(context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          "sigv4.Credentials",
	}, nil
}
