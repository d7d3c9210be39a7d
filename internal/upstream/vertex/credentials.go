package vertex

import (
	"context"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"golang.org/x/oauth2"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// tokenSourceProvider exposes an oauth2.TokenSource as an auth.TokenProvider.
type tokenSourceProvider struct {
	source oauth2.TokenSource
}

func (p tokenSourceProvider) Token(context.Context) (*auth.Token, error) {
	tok, err := p.source.Token()
	if err != nil {
		return nil, err
	}
	return &auth.Token{Value: tok.AccessToken, Type: tok.Type(), Expiry: tok.Expiry}, nil
}

// newCredentials returns credentials for a fixed access token when one is
// configured, and Application Default Credentials otherwise.
func newCredentials(cfg Config) (*auth.Credentials, error) {
	if cfg.AccessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		return auth.NewCredentials(&auth.CredentialsOptions{
			TokenProvider: auth.NewCachedTokenProvider(tokenSourceProvider{source: ts}, nil),
		}), nil
	}
	return credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsFile: cfg.CredentialsFile,
	})
}
