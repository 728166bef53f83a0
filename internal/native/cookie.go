package native

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NormalizeCookie fills the domain and path of c from the URL it is stored
// for, and rejects cookies scoped to a public suffix or to a foreign domain.
func NormalizeCookie(rawURL string, c Cookie) (Cookie, error) {
	if c.Name == "" {
		return c, fmt.Errorf("cookie name is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return c, fmt.Errorf("invalid cookie url %q", rawURL)
	}
	host := strings.ToLower(u.Hostname())

	domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	if domain == "" {
		domain = host
	}
	if domain != host && !strings.HasSuffix(host, "."+domain) {
		return c, fmt.Errorf("cookie domain %q does not match host %q", domain, host)
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain && domain != host {
		return c, fmt.Errorf("cookie domain %q is a public suffix", domain)
	}

	c.Domain = domain
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Creation.IsZero() {
		c.Creation = time.Now()
	}
	return c, nil
}

// CookieMatches reports whether c would be sent with a request to u.
func CookieMatches(c Cookie, u *url.URL, now time.Time) bool {
	host := strings.ToLower(u.Hostname())
	if host != c.Domain && !strings.HasSuffix(host, "."+c.Domain) {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, c.Path) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return c.Expires.IsZero() || c.Expires.After(now)
}

// CookieStore is an in-memory cookie jar keyed by domain, path and name. It is
// safe for concurrent use.
type CookieStore struct {
	mu      sync.Mutex
	cookies map[string]Cookie
}

// NewCookieStore returns an empty store.
func NewCookieStore() *CookieStore {
	return &CookieStore{cookies: make(map[string]Cookie)}
}

func cookieKey(c Cookie) string {
	return c.Domain + "|" + c.Path + "|" + c.Name
}

// Put normalizes c for rawURL and stores it, replacing a cookie with the same
// domain, path and name.
func (s *CookieStore) Put(rawURL string, c Cookie) error {
	n, err := NormalizeCookie(rawURL, c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[cookieKey(n)] = n
	return nil
}

// Match returns the cookies that would be sent to rawURL at now. Expired
// cookies are evicted on the way.
func (s *CookieStore) Match(rawURL string, includeHTTPOnly bool, now time.Time) ([]Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cookie url %q: %w", rawURL, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Cookie
	for k, c := range s.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(s.cookies, k)
			continue
		}
		if c.HTTPOnly && !includeHTTPOnly {
			continue
		}
		if CookieMatches(c, u, now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Remove deletes the cookies matching rawURL, restricted to name unless name
// is empty. It returns the number of removed cookies.
func (s *CookieStore) Remove(rawURL, name string, now time.Time) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, c := range s.cookies {
		if (name == "" || c.Name == name) && CookieMatches(c, u, now) {
			delete(s.cookies, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored cookies.
func (s *CookieStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cookies)
}
