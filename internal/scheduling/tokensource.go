package scheduling

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/qmsched/internal/tokens"
)

// tokenSource adapts Client token acquisition to oauth2.TokenSource so the
// session's bearer token can be handed to anything built on oauth2.
type tokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource returns an oauth2.TokenSource backed by this client. ctx is
// used for any refresh the source has to perform and must outlive it.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c}
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.Token(s.ctx)
	if err != nil {
		return nil, err
	}

	out := &oauth2.Token{
		AccessToken: tok,
		TokenType:   "Bearer",
	}

	if claims, err := tokens.Decode(tok); err == nil {
		out.Expiry = claims.Expiry
	}

	return out, nil
}
