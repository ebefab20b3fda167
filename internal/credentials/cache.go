// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package credentials caches the upstream bearer token.
package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/resilience"
)

// Credential is an immutable bearer token with its effective expiry
// (already reduced by the safety margin).
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Exchanger performs one authentication exchange.
type Exchanger interface {
	Exchange(ctx context.Context) (*oauth2.Token, error)
}

// ClientCredentials exchanges a client id/secret pair at an OAuth2 token
// endpoint using the client_credentials grant.
type ClientCredentials struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentials builds an Exchanger. Credentials are sent in the form
// body, which is what the upstream token endpoint expects.
func NewClientCredentials(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Exchange implements Exchanger.
func (c *ClientCredentials) Exchange(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return c.cfg.Token(ctx)
}

// Cache hands out a cached credential and refreshes it when it is within the
// safety margin of expiry. Concurrent callers that find the credential stale
// share a single exchange.
type Cache struct {
	exchanger    Exchanger
	safetyMargin time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	current *Credential

	group singleflight.Group
}

// NewCache creates a Cache. safetyMargin is subtracted from each token's
// declared lifetime.
func NewCache(exchanger Exchanger, safetyMargin time.Duration) *Cache {
	return &Cache{
		exchanger:    exchanger,
		safetyMargin: safetyMargin,
		now:          time.Now,
	}
}

// Token returns a valid bearer token, performing at most one exchange no
// matter how many callers arrive while it is in flight. A rejected exchange
// is returned as AuthenticationFailed and is not retried here.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if cred := c.valid(); cred != nil {
		return cred.Token, nil
	}

	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		// Another flight may have finished between our check and this call.
		if cred := c.valid(); cred != nil {
			return cred, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Credential).Token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached credential so the next Token call refreshes.
// The client calls this after the upstream rejects a token with 401.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *Cache) valid() *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current != nil && c.now().Before(c.current.ExpiresAt) {
		return c.current
	}
	return nil
}

func (c *Cache) refresh(ctx context.Context) (*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	tok, err := c.exchanger.Exchange(ctx)
	metrics.RecordUpstreamRequest("auth", time.Since(start), err)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("failure").Inc()
		return nil, authError(err)
	}
	if tok.AccessToken == "" {
		metrics.CredentialRefreshes.WithLabelValues("failure").Inc()
		return nil, resilience.New(resilience.KindAuthenticationFailed, "authenticate", errors.New("empty access token"))
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		// No expires_in in the response; treat the token as single-use.
		expiry = c.now()
	}
	cred := &Credential{Token: tok.AccessToken, ExpiresAt: expiry.Add(-c.safetyMargin)}

	c.mu.Lock()
	c.current = cred
	c.mu.Unlock()

	metrics.CredentialRefreshes.WithLabelValues("success").Inc()
	logging.Info().
		Time("expires_at", cred.ExpiresAt).
		Dur("took", time.Since(start)).
		Msg("Authenticated with upstream API")
	return cred, nil
}

func authError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		e := resilience.New(resilience.KindAuthenticationFailed, "authenticate", err)
		e.StatusCode = re.Response.StatusCode
		return e
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		// The token endpoint was unreachable; the caller's retry policy decides.
		return resilience.Classify("authenticate", err)
	}
	return resilience.New(resilience.KindAuthenticationFailed, "authenticate", err)
}
