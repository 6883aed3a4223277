package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attendlens/backend/internal/models"
)

// refreshWindow is how close to expiry a token may get before it is
// proactively refreshed.
const refreshWindow = 5 * time.Minute

// ConnectionStore persists token rotation and status transitions for the
// token manager.
type ConnectionStore interface {
	UpdateToken(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	MarkStatus(ctx context.Context, id uuid.UUID, status, reason string) error
}

// tokenResponse is the provider OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	Reason       string `json:"reason"`
}

// TokenManager obtains and refreshes bearer tokens for connections.
type TokenManager struct {
	authURL string
	http    *httpClient
	store   ConnectionStore
	logger  *zap.Logger
}

// NewTokenManager creates a token manager hitting authURL.
func NewTokenManager(authURL string, timeout time.Duration, retries int, store ConnectionStore, logger *zap.Logger) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		authURL: strings.TrimSuffix(authURL, "/"),
		http:    newHTTPClient(timeout, retries, logger),
		store:   store,
		logger:  logger,
	}
}

// EnsureToken returns a bearer token valid for at least the refresh window,
// refreshing proactively when the stored token is missing or near expiry.
// A refresh failure marks the connection expired and surfaces
// ErrReconnectRequired; it is never retried automatically.
func (m *TokenManager) EnsureToken(ctx context.Context, conn *models.Connection) (string, error) {
	if conn.AccessToken != "" && conn.TokenExpiresAt != nil &&
		time.Now().Add(refreshWindow).Before(*conn.TokenExpiresAt) {
		return conn.AccessToken, nil
	}
	return m.Refresh(ctx, conn)
}

// Refresh unconditionally requests a new access token for the connection and
// persists the rotation.
func (m *TokenManager) Refresh(ctx context.Context, conn *models.Connection) (string, error) {
	var resp *tokenResponse
	var err error
	switch conn.AuthKind {
	case models.AuthKindDelegated:
		resp, err = m.refreshDelegated(ctx, conn)
	default:
		resp, err = m.requestMachineToken(ctx, conn)
	}
	if err != nil {
		reason := err.Error()
		if markErr := m.store.MarkStatus(ctx, conn.ID, models.ConnectionStatusExpired, reason); markErr != nil {
			m.logger.Error("mark connection expired", zap.Error(markErr), zap.String("connection_id", conn.ID.String()))
		}
		conn.Status = models.ConnectionStatusExpired
		conn.StatusReason = reason
		return "", fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	refreshToken := conn.RefreshToken
	if resp.RefreshToken != "" {
		// Provider rotated the refresh token; the old one is dead.
		refreshToken = resp.RefreshToken
	}
	if err := m.store.UpdateToken(ctx, conn.ID, resp.AccessToken, refreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	conn.AccessToken = resp.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiresAt = &expiresAt
	conn.Status = models.ConnectionStatusActive
	m.logger.Info("token refreshed",
		zap.String("connection_id", conn.ID.String()),
		zap.String("auth_kind", conn.AuthKind),
		zap.Time("expires_at", expiresAt),
	)
	return resp.AccessToken, nil
}

// requestMachineToken performs the account-credentials grant: a fresh token
// request authorized by a short-lived JWT signed with the client secret.
func (m *TokenManager) requestMachineToken(ctx context.Context, conn *models.Connection) (*tokenResponse, error) {
	assertion, err := m.signAssertion(conn)
	if err != nil {
		return nil, fmt.Errorf("sign client assertion: %w", err)
	}
	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", conn.AccountID)
	return m.postTokenForm(ctx, form, "Bearer "+assertion)
}

// refreshDelegated exchanges the stored refresh token for a new access token.
func (m *TokenManager) refreshDelegated(ctx context.Context, conn *models.Connection) (*tokenResponse, error) {
	if conn.RefreshToken == "" {
		return nil, fmt.Errorf("delegated connection has no refresh token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", conn.RefreshToken)
	basic := base64.StdEncoding.EncodeToString([]byte(conn.ClientID + ":" + conn.ClientSecret))
	return m.postTokenForm(ctx, form, "Basic "+basic)
}

func (m *TokenManager) postTokenForm(ctx context.Context, form url.Values, authorization string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", authorization)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("token endpoint rejected request: %s (%s)", body.Error, body.Reason)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &body, nil
}

// signAssertion builds the HS256 JWT the provider accepts for the
// account-credentials grant.
func (m *TokenManager) signAssertion(conn *models.Connection) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":    conn.ClientID,
		"appKey": conn.ClientID,
		"aud":    "provider",
		"iat":    now.Unix(),
		"exp":    now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(conn.ClientSecret))
}
