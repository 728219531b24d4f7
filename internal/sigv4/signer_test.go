package sigv4

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exampleAccessKey = "AKIDEXAMPLE"
	exampleSecretKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
	emptySHA256      = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

var exampleTime = time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)

func exampleSigner(t *testing.T) *Signer {
	t.Helper()
	creds, err := NewCredentials(exampleAccessKey, exampleSecretKey, "us-east-1")
	require.NoError(t, err)
	s, err := ForCredentials(creds, "service")
	require.NoError(t, err)
	return s
}

func TestSignReferenceVector(t *testing.T) {
	s := exampleSigner(t)

	signed, err := s.Sign(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.amazonaws.com/",
		Header: Header{},
		Time:   exampleTime,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/service/aws4_request, "+
			"SignedHeaders=host;x-amz-content-sha256;x-amz-date, "+
			"Signature=3ad5e249949a59b862eedd9f1bf1ece4693c3042bf860ef5e3351b8925316f98",
		signed.Authorization)
	assert.Equal(t, "3ad5e249949a59b862eedd9f1bf1ece4693c3042bf860ef5e3351b8925316f98", signed.Signature)
	assert.Equal(t, []string{"host", "x-amz-content-sha256", "x-amz-date"}, signed.SignedHeaders)
	assert.Equal(t, emptySHA256, signed.PayloadHash)
	assert.Equal(t, "/", signed.CanonicalURI)
	assert.Equal(t, "example.amazonaws.com", signed.Host)
	assert.Equal(t, "20150830T123600Z", signed.Header.Get(HeaderDate))
	assert.Equal(t, emptySHA256, signed.Header.Get(HeaderContentSHA256))
}

func TestSignIsDeterministic(t *testing.T) {
	s := exampleSigner(t)
	req := Request{
		Method: http.MethodPost,
		URL:    "https://bedrock-runtime.us-east-1.amazonaws.com/model/m/invoke",
		Header: Header{"content-type": {"application/json"}},
		Body:   []byte(`{"max_tokens":10}`),
		Time:   exampleTime,
	}

	first, err := s.Sign(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Sign(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Authorization, second.Authorization)
	assert.Contains(t, first.SignedHeaders, "content-length")
	assert.Contains(t, first.SignedHeaders, "content-type")
}

func TestSignMergesHeaderSpellings(t *testing.T) {
	s := exampleSigner(t)

	h := Header{}
	h.Add("X-Custom", "a")
	h.Add("x-custom", "b")

	signed, err := s.Sign(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://example.amazonaws.com/",
		Header: h,
		Time:   exampleTime,
	})
	require.NoError(t, err)

	count := 0
	for _, name := range signed.SignedHeaders {
		if name == "x-custom" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSignWithSessionToken(t *testing.T) {
	creds, err := NewCredentials(exampleAccessKey, exampleSecretKey, "us-west-2")
	require.NoError(t, err)
	s, err := ForCredentials(creds.WithSessionToken("session"), ServiceBedrock)
	require.NoError(t, err)

	signed, err := s.Sign(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://bedrock-runtime.us-west-2.amazonaws.com/model/m/invoke",
		Time:   exampleTime,
	})
	require.NoError(t, err)

	assert.Equal(t, "session", signed.Header.Get(HeaderSecurityToken))
	assert.Contains(t, signed.SignedHeaders, "x-amz-security-token")
	assert.Contains(t, signed.Authorization, "/20150830/us-west-2/bedrock/aws4_request")
}

func TestSignAcceptsAnyCredentialsProvider(t *testing.T) {
	provider := credentials.NewStaticCredentialsProvider(exampleAccessKey, exampleSecretKey, "")
	s, err := NewSigner(provider, "us-east-1", "service")
	require.NoError(t, err)

	signed, err := s.Sign(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.amazonaws.com/",
		Time:   exampleTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "3ad5e249949a59b862eedd9f1bf1ece4693c3042bf860ef5e3351b8925316f98", signed.Signature)
}

func TestSignRejectsEmptyProviderKeys(t *testing.T) {
	provider := credentials.NewStaticCredentialsProvider("", "", "")
	s, err := NewSigner(provider, "us-east-1", "service")
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), Request{Method: http.MethodGet, URL: "https://example.amazonaws.com/"})
	var authErr *anthropic.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}

func TestApply(t *testing.T) {
	s := exampleSigner(t)
	signed, err := s.Sign(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.amazonaws.com/",
		Time:   exampleTime,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://example.amazonaws.com/", nil)
	require.NoError(t, err)
	signed.Apply(req)

	assert.Equal(t, signed.Authorization, req.Header.Get("Authorization"))
	assert.Equal(t, "20150830T123600Z", req.Header.Get("X-Amz-Date"))
	assert.Equal(t, emptySHA256, req.Header.Get("X-Amz-Content-Sha256"))
	assert.Equal(t, "example.amazonaws.com", req.Host)
}

func TestNewCredentialsValidation(t *testing.T) {
	tests := []struct {
		name      string
		access    string
		secret    string
		region    string
		wantField string
	}{
		{"empty access key", "", "secret", "us-east-1", "access key"},
		{"whitespace access key", "  ", "secret", "us-east-1", "access key"},
		{"empty secret", "AKID", "", "us-east-1", "secret key"},
		{"whitespace secret", "AKID", "\t", "us-east-1", "secret key"},
		{"empty region", "AKID", "secret", "", "region"},
		{"whitespace region", "AKID", "secret", " \n", "region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredentials(tt.access, tt.secret, tt.region)
			require.Error(t, err)

			var authErr *anthropic.AuthenticationError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.wantField, authErr.Field)
		})
	}

	creds, err := NewCredentials(" AKID ", "secret", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "eu-west-1", creds.Region)
}

func TestNewSignerRequiresRegion(t *testing.T) {
	creds := Credentials{AccessKeyID: "a", SecretAccessKey: "b"}
	_, err := NewSigner(creds, " ", ServiceBedrock)

	var authErr *anthropic.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}
