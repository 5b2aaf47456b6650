package marketplace

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"triage_server/pkg/apperr"
)

const (
	browseScope         = "https://api.ebay.com/oauth/api_scope"
	defaultTokenTTL     = 3600 * time.Second
	defaultRefreshAhead = 60 * time.Second
)

// Session owns the application token for the Browse API. The token is
// shared by all searches in the process and refreshed refreshAhead before
// its declared expiry.
type Session struct {
	cfg        clientcredentials.Config
	httpClient *http.Client

	mu           sync.Mutex
	token        string
	expiresAt    time.Time
	refreshAhead time.Duration

	now func() time.Time
}

func NewSession(clientID, clientSecret, tokenURL string, httpClient *http.Client) *Session {
	return &Session{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{browseScope},
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient:   httpClient,
		refreshAhead: defaultRefreshAhead,
		now:          time.Now,
	}
}

// Token returns the cached token, exchanging client credentials when it is
// missing or within the refresh margin.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return "", apperr.MissingConfig("EBAY_CLIENT_ID/EBAY_CLIENT_SECRET")
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return "", tokenError(err)
	}
	if tok.AccessToken == "" {
		return "", apperr.New(apperr.CodeUnauthorized, "token response has no access_token")
	}

	s.token = tok.AccessToken
	s.expiresAt = s.now().Add(tokenTTL(tok) - s.refreshAhead)
	return s.token, nil
}

// ExpiresAt returns when the cached token will be refreshed.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Invalidate drops the cached token so the next call exchanges again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// tokenTTL reads expires_in from the raw response, falling back to the
// parsed expiry, then to one hour.
func tokenTTL(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		if ttl := time.Until(tok.Expiry); ttl > 0 {
			return ttl
		}
	}
	return defaultTokenTTL
}

func tokenError(err error) error {
	if re, ok := err.(*oauth2.RetrieveError); ok && re.Response != nil {
		return apperr.FromHTTPStatus(serviceName, re.Response.StatusCode, err)
	}
	return apperr.Transient(serviceName, err)
}
