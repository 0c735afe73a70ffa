package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
)

const (
	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	blobHostSuffix        = ".blob.core.windows.net"
	defaultTokenLifetime  = 45 * time.Minute
	// tokens are refreshed this long before they expire
	tokenExpiryMargin = 5 * time.Minute
)

type cachedToken struct {
	query   string
	expires time.Time
}

// Signer appends SAS tokens to blob storage asset URLs. The sign endpoint is
// tried first; the token of a signed URL is cached per storage container so
// one call covers every asset in it. When signing is unavailable a token is
// requested per collection from the token endpoint instead. URLs that cannot
// be signed are returned unchanged.
type Signer struct {
	signURL  string
	tokenURL string
	key      string
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	containers map[string]cachedToken
	collection map[string]cachedToken
}

// NewSigner builds a signer from the catalog configuration.
func NewSigner(cfg config.CatalogConfig, client *http.Client, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		signURL:    strings.TrimRight(cfg.SignURL, "/"),
		tokenURL:   strings.TrimRight(cfg.TokenURL, "/"),
		key:        cfg.SubscriptionKey,
		http:       client,
		logger:     logger,
		now:        time.Now,
		containers: map[string]cachedToken{},
		collection: map[string]cachedToken{},
	}
}

// Sign returns href with a SAS token when it points at blob storage.
func (s *Signer) Sign(ctx context.Context, href, collection string) string {
	if s == nil || (s.signURL == "" && s.tokenURL == "") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Host, blobHostSuffix) {
		return href
	}
	if q := u.Query(); q.Get("sig") != "" && q.Get("se") != "" {
		return href
	}

	container := u.Host + "/" + firstSegment(u.Path)
	if tok, ok := s.cached(s.containers, container); ok {
		return withQuery(u, tok)
	}

	if s.signURL != "" {
		signed, expires, err := s.signHref(ctx, href)
		if err == nil {
			if su, err := url.Parse(signed); err == nil && su.RawQuery != "" {
				s.store(s.containers, container, su.RawQuery, expires)
			}
			return signed
		}
		s.logger.Warn("asset signing failed, falling back to token exchange", "error", err)
	}

	if s.tokenURL != "" && collection != "" {
		if tok, ok := s.cached(s.collection, collection); ok {
			return withQuery(u, tok)
		}
		token, expires, err := s.fetchToken(ctx, collection)
		if err == nil {
			s.store(s.collection, collection, token, expires)
			return withQuery(u, token)
		}
		s.logger.Warn("token exchange failed, asset left unsigned", "collection", collection, "error", err)
	}
	return href
}

func (s *Signer) header() http.Header {
	h := http.Header{}
	if s.key != "" {
		h.Set(subscriptionKeyHeader, s.key)
	}
	return h
}

func (s *Signer) signHref(ctx context.Context, href string) (string, time.Time, error) {
	var out struct {
		Href   string `json:"href"`
		Expiry string `json:"msft:expiry"`
	}
	if err := getJSON(ctx, s.http, s.signURL+"?href="+url.QueryEscape(href), s.header(), &out); err != nil {
		return "", time.Time{}, err
	}
	if out.Href == "" {
		return "", time.Time{}, &statusError{Code: http.StatusOK, Body: "sign response without href"}
	}
	return out.Href, s.expiry(out.Expiry), nil
}

func (s *Signer) fetchToken(ctx context.Context, collection string) (string, time.Time, error) {
	var out struct {
		Token  string `json:"token"`
		Expiry string `json:"msft:expiry"`
	}
	if err := getJSON(ctx, s.http, s.tokenURL+"/"+url.PathEscape(collection), s.header(), &out); err != nil {
		return "", time.Time{}, err
	}
	if out.Token == "" {
		return "", time.Time{}, &statusError{Code: http.StatusOK, Body: "token response without token"}
	}
	return out.Token, s.expiry(out.Expiry), nil
}

func (s *Signer) expiry(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return s.now().Add(defaultTokenLifetime)
}

func (s *Signer) cached(m map[string]cachedToken, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := m[key]
	if !ok || s.now().Add(tokenExpiryMargin).After(tok.expires) {
		return "", false
	}
	return tok.query, true
}

func (s *Signer) store(m map[string]cachedToken, key, query string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[key] = cachedToken{query: query, expires: expires}
}

func withQuery(u *url.URL, token string) string {
	out := *u
	if out.RawQuery == "" {
		out.RawQuery = token
	} else {
		out.RawQuery += "&" + token
	}
	return out.String()
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
