// Package auth obtains bearer tokens for the marketplace API.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"listing_f1s/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials fetches tokens with a Basic-auth encoded client id and
// secret. Every Token call hits the endpoint; callers decide when to refresh.
type ClientCredentials struct {
	config     clientcredentials.Config
	httpClient *http.Client
}

func NewClientCredentials(clientID, clientSecret, tokenURL string) *ClientCredentials {
	return &ClientCredentials{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Token returns a fresh access token.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	log.Debug().Str("token_url", c.config.TokenURL).Msg("Fetching access token")
	metrics.TokenRefreshes.Inc()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access_token")
	}
	return tok.AccessToken, nil
}
