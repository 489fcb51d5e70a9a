package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TokenRefreshBuffer is how long before expiry a token counts as stale.
// Installation tokens live one hour; refreshing five minutes early keeps
// long-running workers from racing the expiry.
const TokenRefreshBuffer = 5 * time.Minute

// TokenManager mints GitHub App installation tokens and refreshes them
// before they expire. Safe for concurrent use.
type TokenManager struct {
	mu sync.RWMutex

	installationID int64

	token     string
	expiresAt time.Time

	jwtGenerator *JWTGenerator
	httpClient   *http.Client
	apiBaseURL   string

	// nowFunc is swapped in tests to control expiry.
	nowFunc func() time.Time
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithNowFunc overrides the clock.
func WithNowFunc(fn func() time.Time) TokenManagerOption {
	return func(tm *TokenManager) { tm.nowFunc = fn }
}

// WithHTTPClient overrides the HTTP client used against the GitHub API.
func WithHTTPClient(client *http.Client) TokenManagerOption {
	return func(tm *TokenManager) { tm.httpClient = client }
}

// WithAPIBaseURL points the manager at a different GitHub API endpoint.
func WithAPIBaseURL(url string) TokenManagerOption {
	return func(tm *TokenManager) { tm.apiBaseURL = url }
}

// NewTokenManager validates the App credentials and returns a manager.
// The private key is parsed eagerly so a bad key fails here.
func NewTokenManager(appID string, installationID int64, privateKey []byte, opts ...TokenManagerOption) (*TokenManager, error) {
	if appID == "" {
		return nil, fmt.Errorf("app ID cannot be empty")
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("installation ID must be positive")
	}
	if len(privateKey) == 0 {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	jwtGen, err := NewJWTGenerator(appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("jwt generator: %w", err)
	}

	tm := &TokenManager{
		installationID: installationID,
		jwtGenerator:   jwtGen,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		apiBaseURL:     "https://api.github.com",
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// Token returns a valid installation token, minting a fresh one when the
// current token is missing or inside the refresh buffer.
func (tm *TokenManager) Token() (string, error) {
	tm.mu.RLock()
	if tm.isValidLocked() {
		token := tm.token
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	return tm.Refresh()
}

// Refresh forces a new token regardless of the current one's validity.
func (tm *TokenManager) Refresh() (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	appJWT, err := tm.jwtGenerator.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate app jwt: %w", err)
	}

	token, expiresAt, err := tm.exchangeToken(appJWT)
	if err != nil {
		return "", fmt.Errorf("exchange token: %w", err)
	}

	tm.token = token
	tm.expiresAt = expiresAt
	return tm.token, nil
}

// NeedsRefresh reports whether the current token is missing, expired, or
// inside the refresh buffer.
func (tm *TokenManager) NeedsRefresh() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return !tm.isValidLocked()
}

// ExpiresAt returns the current token's expiry, zero before the first mint.
func (tm *TokenManager) ExpiresAt() time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.expiresAt
}

// isValidLocked needs at least the read lock held.
func (tm *TokenManager) isValidLocked() bool {
	if tm.token == "" {
		return false
	}
	return tm.expiresAt.After(tm.nowFunc().Add(TokenRefreshBuffer))
}

// exchangeToken trades an App JWT for an installation access token via the
// GitHub API. Called with the write lock held.
func (tm *TokenManager) exchangeToken(appJWT string) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", tm.apiBaseURL, tm.installationID)

	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("post access_tokens: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, apiError(resp.StatusCode, body)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("parse token response: %w", err)
	}
	return payload.Token, payload.ExpiresAt, nil
}

// apiError maps GitHub API failure responses to errors that name the likely
// misconfiguration.
func apiError(statusCode int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("github api status %d: %s", statusCode, string(body))
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s (check app id and private key)", payload.Message)
	case http.StatusForbidden:
		return fmt.Errorf("forbidden: %s (check app permissions)", payload.Message)
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (check installation id)", payload.Message)
	default:
		return fmt.Errorf("github api status %d: %s", statusCode, payload.Message)
	}
}
