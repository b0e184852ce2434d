package line

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies a channel access token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a long-lived channel access token configured directly.
type StaticToken string

// Token returns the configured token.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("channel access token not configured")
	}
	return string(t), nil
}

const (
	tokenEndpoint    = "https://api.line.me/oauth2/v2.1/token"
	assertionTypeJWT = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// ChannelTokenSource issues short-lived channel access tokens (v2.1) by
// signing a client-assertion JWT with the channel's assertion signing key
// and exchanging it at the token endpoint. Tokens are cached until close
// to expiry.
type ChannelTokenSource struct {
	channelID  string
	keyID      string
	privateKey *rsa.PrivateKey
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewChannelTokenSource parses the PEM-encoded RSA private key and returns
// a caching token source for the channel.
func NewChannelTokenSource(channelID, keyID string, privateKeyPEM []byte) (*ChannelTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel private key: %w", err)
	}
	return &ChannelTokenSource{
		channelID:  channelID,
		keyID:      keyID,
		privateKey: key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Token returns a cached token or issues a fresh one.
func (s *ChannelTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	assertion, err := s.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {assertionTypeJWT},
		"client_assertion":      {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request channel token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var issued struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	s.token = issued.AccessToken
	// Refresh a minute early so in-flight calls never carry an expired token.
	s.expires = time.Now().Add(time.Duration(issued.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

// signAssertion builds the client-assertion JWT: issuer and subject are
// the channel ID, audience is the platform, lifetime capped at 30 minutes
// as the endpoint requires.
func (s *ChannelTokenSource) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.channelID,
		Subject:   s.channelID,
		Audience:  jwt.ClaimStrings{"https://api.line.me/"},
		ExpiresAt: jwt.NewNumericDate(now.Add(25 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	token.Header["typ"] = "JWT"

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}
