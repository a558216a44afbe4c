package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

const tokenFileMode = 0o600

// Authenticator handles the OAuth flow and token persistence for Drive access.
type Authenticator struct {
	credentialsPath string
	tokenPath       string
}

// NewAuthenticator creates an Authenticator reading credentials and token
// from the given paths.
func NewAuthenticator(credentialsPath, tokenPath string) *Authenticator {
	return &Authenticator{
		credentialsPath: credentialsPath,
		tokenPath:       tokenPath,
	}
}

// oauthConfig loads the OAuth client configuration from the credentials file.
func (a *Authenticator) oauthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(a.credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials: %w", apperrors.ErrAuthentication, err)
	}

	cfg, err := google.ConfigFromJSON(data, driveapi.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %w", apperrors.ErrAuthentication, err)
	}

	return cfg, nil
}

// HTTPClient returns an authenticated HTTP client using the stored token.
// Refreshed tokens are persisted back to the token file.
func (a *Authenticator) HTTPClient(ctx context.Context) (*http.Client, error) {
	cfg, err := a.oauthConfig()
	if err != nil {
		return nil, err
	}

	tok, err := a.loadToken()
	if err != nil {
		return nil, fmt.Errorf("%w: no stored token: %w", apperrors.ErrAuthentication, err)
	}

	src := &savingTokenSource{
		auth:     a,
		delegate: cfg.TokenSource(ctx, tok),
		last:     tok,
	}

	return oauth2.NewClient(ctx, src), nil
}

// AuthorizeURL returns the URL the user must visit to grant access.
func (a *Authenticator) AuthorizeURL() (string, error) {
	cfg, err := a.oauthConfig()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for a token and persists it.
func (a *Authenticator) Exchange(ctx context.Context, code string) error {
	cfg, err := a.oauthConfig()
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: exchange code: %w", apperrors.ErrAuthentication, err)
	}

	return a.saveToken(tok)
}

// loadToken reads the persisted OAuth token.
func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	return &tok, nil
}

// saveToken persists an OAuth token to the token file.
func (a *Authenticator) saveToken(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if dir := filepath.Dir(a.tokenPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}

	if err := os.WriteFile(a.tokenPath, data, tokenFileMode); err != nil {
		return fmt.Errorf("write token: %w", err)
	}

	return nil
}

// savingTokenSource wraps a token source and persists refreshed tokens.
type savingTokenSource struct {
	auth     *Authenticator
	delegate oauth2.TokenSource
	last     *oauth2.Token
}

// Token implements oauth2.TokenSource.
func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.delegate.Token()
	if err != nil {
		return nil, err
	}

	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		s.last = tok
		// Persist silently; a failed save costs a re-auth later, not correctness.
		_ = s.auth.saveToken(tok)
	}

	return tok, nil
}
