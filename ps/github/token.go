package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("no token configured")

// TokenSource supplies the bearer token for API requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed personal-access or service token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// AppTokenSource mints installation tokens for a GitHub App. The app's
// RS256 JWT is exchanged for an installation token, which is cached until
// shortly before it expires.
type AppTokenSource struct {
	appID          string
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string
	client         *http.Client
	now            func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// refreshMargin is how long before expiry a cached token is replaced
const refreshMargin = time.Minute

func NewAppTokenSource(appID string, installationID int64, privateKeyPEM []byte, baseURL string, client *http.Client) (*AppTokenSource, error) {
	if appID == "" || installationID == 0 {
		return nil, errors.New("app id and installation id are required")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		now:            time.Now,
	}, nil
}

// appJWT signs the short-lived token that authenticates as the app itself
func (a *AppTokenSource) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)), // Allow for clock drift
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

func (a *AppTokenSource) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Add(refreshMargin).Before(a.expires) {
		return a.token, nil
	}

	signed, err := a.appJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign app jwt: %w", err)
	}

	endpoint := a.baseURL + "/app/installations/" + strconv.FormatInt(a.installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", mediaTypeJSON)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("installation token request failed: status %d", resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode installation token: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("installation token response had no token")
	}

	a.token = body.Token
	a.expires = body.ExpiresAt
	return a.token, nil
}
