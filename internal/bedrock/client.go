package bedrock

import "github.com/namikmesic/claude-client/internal/client"

// NewClient returns a Messages client that talks to Bedrock in auth's region.
// Later options override the Bedrock defaults.
func NewClient(auth Authenticator, opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithBaseURL(BaseURL(auth.Region())),
		client.WithTransport(NewTransport(auth)),
		client.WithProvider("bedrock"),
	}
	return client.New(append(base, opts...)...)
}
