package linkedin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/whizmedia/social-dashboard/backend/internal/models"
)

const (
	defaultTokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultUserInfoURL = "https://api.linkedin.com/v2/userinfo"
)

// OAuthClient performs the authorization-code → access-token → profile
// sequence against LinkedIn. Endpoint URLs are fields so tests can point the
// client at an httptest server.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	TokenURL    string
	UserInfoURL string
	HTTP        *http.Client
}

// NewOAuthClient builds a client with production endpoints and a bounded
// timeout; LinkedIn calls must not hang past 30s.
func NewOAuthClient(clientID, clientSecret, redirectURI string) *OAuthClient {
	return &OAuthClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		TokenURL:     defaultTokenURL,
		UserInfoURL:  defaultUserInfoURL,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

type userInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// Exchange trades a single-use authorization code for an access token.
// Duplicate exchanges of the same code fail with FailureInvalidGrant.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("redirect_uri", c.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, "POST", c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return tokenResponse{}, wrapTransportError(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return tokenResponse{}, exchangeErrorFromBody(res.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return tokenResponse{}, &ExchangeError{Code: FailureAPI, Status: res.StatusCode, Body: body}
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, &ExchangeError{Code: FailureAPI, Status: res.StatusCode, Body: body}
	}
	return tok, nil
}

// FetchProfile calls the OpenID Connect userinfo endpoint with the bearer
// token obtained from Exchange.
func (c *OAuthClient) FetchProfile(ctx context.Context, accessToken string) (userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.UserInfoURL, nil)
	if err != nil {
		return userInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return userInfo{}, wrapTransportError(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return userInfo{}, exchangeErrorFromBody(res.StatusCode, body)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return userInfo{}, &ExchangeError{Code: FailureAPI, Status: res.StatusCode, Body: body}
	}
	return info, nil
}

// Authenticate runs the full sequence and assembles the normalized identity.
// The access token rides inside the identity because this system keeps no
// server-side copy; later posting calls pass it back in.
func (c *OAuthClient) Authenticate(ctx context.Context, code string) (models.LinkedInIdentity, error) {
	tok, err := c.Exchange(ctx, code)
	if err != nil {
		return models.LinkedInIdentity{}, err
	}
	info, err := c.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return models.LinkedInIdentity{}, err
	}
	return models.LinkedInIdentity{
		ID:                  info.Sub,
		Email:               info.Email,
		Name:                info.Name,
		FirstName:           info.GivenName,
		LastName:            info.FamilyName,
		Picture:             info.Picture,
		LinkedInID:          info.Sub,
		Provider:            "linkedin",
		LoginTime:           time.Now().UTC().Format(time.RFC3339),
		LinkedInAccessToken: tok.AccessToken,
		TokenExpiresIn:      tok.ExpiresIn,
		Scope:               tok.Scope,
	}, nil
}

// EncodeIdentityToken serializes the identity as the base64 "LinkedIn session
// token" the browser holds. This is distinct from the app session JWT.
func EncodeIdentityToken(id models.LinkedInIdentity) string {
	raw, _ := json.Marshal(id)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeIdentityToken is the inverse of EncodeIdentityToken.
func DecodeIdentityToken(tok string) (models.LinkedInIdentity, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tok))
	if err != nil {
		return models.LinkedInIdentity{}, fmt.Errorf("malformed identity token: %w", err)
	}
	var id models.LinkedInIdentity
	if err := json.Unmarshal(raw, &id); err != nil {
		return models.LinkedInIdentity{}, fmt.Errorf("malformed identity token: %w", err)
	}
	return id, nil
}

func wrapTransportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return &ExchangeError{Code: FailureTimeout}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExchangeError{Code: FailureTimeout}
	}
	return err
}
