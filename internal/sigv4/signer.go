package sigv4

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/namikmesic/claude-client/internal/anthropic"
)

const (
	Algorithm      = "AWS4-HMAC-SHA256"
	ServiceBedrock = "bedrock"

	HeaderAuthorization = "Authorization"
	HeaderDate          = "X-Amz-Date"
	HeaderContentSHA256 = "X-Amz-Content-Sha256"
	HeaderSecurityToken = "X-Amz-Security-Token"
	HeaderHost          = "Host"
)

// Signer produces SigV4 signatures for a single service and region.
type Signer struct {
	provider aws.CredentialsProvider
	region   string
	service  string
	signer   *v4.Signer
}

func NewSigner(provider aws.CredentialsProvider, region, service string) (*Signer, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, &anthropic.AuthenticationError{Field: "region", Reason: "must not be empty"}
	}
	if provider == nil {
		return nil, &anthropic.AuthenticationError{Reason: "no credentials provider"}
	}
	if service == "" {
		return nil, fmt.Errorf("sigv4: service name must not be empty")
	}
	return &Signer{
		provider: provider,
		region:   region,
		service:  service,
		signer:   v4.NewSigner(),
	}, nil
}

// ForCredentials builds a signer from static credentials, using their region.
func ForCredentials(creds Credentials, service string) (*Signer, error) {
	return NewSigner(creds, creds.Region, service)
}

func (s *Signer) Region() string  { return s.region }
func (s *Signer) Service() string { return s.service }

// Request is the signing input.
type Request struct {
	Method string
	URL    string
	Header Header
	Body   []byte
	Time   time.Time
}

// SignedRequest is the result of signing one request. It is applied to the
// outbound request and then discarded.
type SignedRequest struct {
	Method        string
	CanonicalURI  string
	SignedHeaders []string
	PayloadHash   string
	Timestamp     time.Time
	Signature     string
	Authorization string
	Host          string
	// Header holds every header the signature depends on that the caller
	// must add: Authorization, X-Amz-Date, X-Amz-Content-Sha256 and, for
	// temporary credentials, X-Amz-Security-Token.
	Header Header
}

func (s *Signer) Sign(ctx context.Context, r Request) (*SignedRequest, error) {
	creds, err := s.provider.Retrieve(ctx)
	if err != nil {
		return nil, &anthropic.AuthenticationError{Reason: "retrieve aws credentials", Err: err}
	}
	if strings.TrimSpace(creds.AccessKeyID) == "" || strings.TrimSpace(creds.SecretAccessKey) == "" {
		return nil, &anthropic.AuthenticationError{Reason: "credentials provider returned an empty key pair"}
	}

	sum := sha256.Sum256(r.Body)
	payloadHash := hex.EncodeToString(sum[:])

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("build signing request: %w", err)
	}

	header := Header{}
	for _, name := range r.Header.Names() {
		header[name] = r.Header.Values(name)
	}
	if host := header.Get(HeaderHost); host != "" {
		req.Host = host
	}
	header.Del(HeaderHost)
	header.Del("Content-Length")
	header.Del(HeaderAuthorization)
	header.Set(HeaderContentSHA256, payloadHash)
	req.Header = header.HTTP()

	ts := r.Time.UTC()
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, s.service, s.region, ts); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	signed := &SignedRequest{
		Method:        req.Method,
		CanonicalURI:  req.URL.EscapedPath(),
		PayloadHash:   payloadHash,
		Timestamp:     ts,
		Authorization: req.Header.Get(HeaderAuthorization),
		Host:          host,
		Header:        Header{},
	}
	if signed.CanonicalURI == "" {
		signed.CanonicalURI = "/"
	}
	signed.SignedHeaders, signed.Signature = parseAuthorization(signed.Authorization)

	signed.Header.Set(HeaderAuthorization, signed.Authorization)
	signed.Header.Set(HeaderDate, req.Header.Get(HeaderDate))
	signed.Header.Set(HeaderContentSHA256, payloadHash)
	if tok := req.Header.Get(HeaderSecurityToken); tok != "" {
		signed.Header.Set(HeaderSecurityToken, tok)
	}
	return signed, nil
}

// Apply writes the signature headers onto req.
func (s *SignedRequest) Apply(req *http.Request) {
	for _, name := range s.Header.Names() {
		req.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), s.Header.Values(name)...)
	}
	req.Host = s.Host
}

// parseAuthorization splits
// "AWS4-HMAC-SHA256 Credential=..., SignedHeaders=a;b, Signature=hex".
func parseAuthorization(auth string) (signedHeaders []string, signature string) {
	_, params, ok := strings.Cut(auth, " ")
	if !ok {
		return nil, ""
	}
	for _, part := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "SignedHeaders":
			signedHeaders = strings.Split(value, ";")
		case "Signature":
			signature = value
		}
	}
	return signedHeaders, signature
}
