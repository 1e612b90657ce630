package lti

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// assertionLifetime is how long a bearer assertion stays valid. One minute
// covers a single immediate exchange; the token is never reused.
const assertionLifetime = 60 * time.Second

// maxTokenResponseBytes bounds token endpoint response bodies. A token
// response is a small JSON object; anything bigger is not one.
const maxTokenResponseBytes = 1 << 20

// TokenExchange obtains access tokens from a consumer's token endpoint via
// the OAuth 2.0 JWT-bearer grant. It is stateless: each registration issues
// exactly one short-lived assertion for exactly one exchange, so there is no
// caching or refresh.
type TokenExchange struct {
	issuer     string
	httpClient *http.Client
	logger     *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// NewTokenExchange creates a token exchange. issuer is this tool's host,
// used as the iss claim of every assertion.
func NewTokenExchange(issuer string, httpClient *http.Client, logger *slog.Logger) *TokenExchange {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenExchange{
		issuer:     issuer,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// RequestAccessToken signs a bearer assertion with signingSecret (HMAC
// SHA-256) and exchanges it at audienceURL for an access token.
//
// Claims are fixed: iss = tool host, sub = subject (the consumer-supplied
// registration key), aud = audienceURL, iat = now, exp = now + 60s, jti = a
// fresh 128-bit random identifier. Any transport failure, non-2xx status,
// or missing access_token field fails the exchange.
func (t *TokenExchange) RequestAccessToken(ctx context.Context, audienceURL, subject, signingSecret string) (*oauth2.Token, error) {
	now := t.now()

	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audienceURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		ID:        uuid.NewString(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	if err != nil {
		return nil, fmt.Errorf("sign bearer assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, audienceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Debug("token endpoint returned error status",
			"status", resp.StatusCode, "audience", audienceURL)
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp accessTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	token := &oauth2.Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	return token, nil
}
