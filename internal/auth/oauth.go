package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// OAuthClient talks to the identity provider's authorization and token
// endpoints.
type OAuthClient struct {
	cfg      *oauth2.Config
	baseURL  string
	clientID string
}

// NewOAuthClient builds a client for the tenant at baseURL, for example
// "https://tenant.auth0.com".
func NewOAuthClient(baseURL, clientID, clientSecret, redirectURL string) *OAuthClient {
	return &OAuthClient{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/authorize",
				TokenURL:  baseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL:  baseURL,
		clientID: clientID,
	}
}

// PasswordToken runs the resource-owner password grant.
func (c *OAuthClient) PasswordToken(ctx context.Context, username, password string) (*oauth2.Token, error) {
	tok, err := c.cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	return tok, nil
}

func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state)
}

func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

func (c *OAuthClient) LogoutURL(returnTo string) string {
	q := url.Values{}
	q.Set("returnTo", returnTo)
	q.Set("client_id", c.clientID)
	return c.baseURL + "/v2/logout?" + q.Encode()
}

// IDToken returns the OpenID Connect id_token carried with tok, if any.
func IDToken(tok *oauth2.Token) string {
	s, _ := tok.Extra("id_token").(string)
	return s
}

// ProviderError returns the raw error body the provider sent, if err came
// from a token request.
func ProviderError(err error) ([]byte, bool) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		return re.Body, true
	}
	return nil, false
}
