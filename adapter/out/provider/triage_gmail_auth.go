package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"triage_server/pkg/apperr"
)

// gmailScopes covers listing, reading, sending and label changes.
var gmailScopes = []string{gmail.GmailModifyScope}

// storedToken accepts both the oauth2.Token layout and the google-auth
// layout ("token", RFC 3339 "expiry") written by the Python quickstart.
type storedToken struct {
	AccessToken  string `json:"access_token,omitempty"`
	Token        string `json:"token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry,omitempty"`
}

func (s storedToken) oauth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = s.Token
	}
	if s.Expiry != "" {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
			if t, err := time.Parse(layout, s.Expiry); err == nil {
				tok.Expiry = t
				break
			}
		}
	}
	return tok
}

// LoadToken reads a stored user token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("read token file %s", path)).WithError(err)
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("parse token file %s", path)).WithError(err)
	}
	tok := st.oauth2()
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, apperr.ConfigError(fmt.Sprintf("token file %s has no credentials", path))
	}
	return tok, nil
}

// SaveToken writes tok in oauth2.Token layout with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	st := storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		st.Expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// NewUserClient builds an authorized HTTP client from an installed-app
// credentials file and a stored user token. Refreshed tokens are written
// back to tokenFile.
func NewUserClient(ctx context.Context, credentialsFile, tokenFile string, base *http.Client, log zerolog.Logger) (*http.Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("read credentials file %s", credentialsFile)).WithError(err)
	}
	cfg, err := google.ConfigFromJSON(data, gmailScopes...)
	if err != nil {
		return nil, apperr.ConfigError("parse credentials file").WithError(err)
	}

	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}

	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	ts := &savingTokenSource{
		src:  cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
		log:  log,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

// savingTokenSource persists a token whenever the access token changes.
type savingTokenSource struct {
	src  oauth2.TokenSource
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			s.log.Warn().Err(err).Str("path", s.path).Msg("failed to save refreshed token")
			return tok, nil
		}
		s.last = tok.AccessToken
		s.log.Debug().Str("path", s.path).Msg("refreshed token saved")
	}
	return tok, nil
}
