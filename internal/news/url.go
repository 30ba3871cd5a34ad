package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign",
	"utm_term", "utm_content", "utm_id",
	"fbclid", "gclid", "mc_eid", "msclkid",
}

// CanonicalURL strips tracking parameters, fragments, the www. prefix and
// trailing slashes so the same article maps to one identity. Unparseable
// input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	query := u.Query()
	for _, p := range trackingParams {
		query.Del(p)
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}

	return u.String()
}

// ContentHash is the storage identity of an item: hex SHA-256 of its canonical URL.
func ContentHash(rawURL string) string {
	h := sha256.Sum256([]byte(CanonicalURL(rawURL)))
	return hex.EncodeToString(h[:])
}

// Host returns the lowercase host without www., or "" when absent.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
