package urlutil

import (
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Internationalized hostnames (e.g. "tübingen.de") are converted to
//     their ASCII punycode form, so a Unicode and an ASCII spelling of the
//     same host canonicalize identically
//   - Percent-encoded octets are normalized to uppercase hex and unreserved
//     characters are decoded (RFC 3986 §6.2.2.1/6.2.2.2)
//   - Dot-segments ("." and "..") in the path are resolved
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// The query string is preserved: distinct query strings can identify distinct
// pages on this crawl target and are not safe to discard.
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = canonicalizeHost(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	escaped := path.Clean("/" + canonical.EscapedPath())
	if escaped != "/" {
		escaped = stripTrailingSlash(escaped)
	}
	canonical.RawPath = decodeUnreservedEscapes(escaped)
	if unescaped, err := url.PathUnescape(canonical.RawPath); err == nil {
		canonical.Path = unescaped
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""

	return canonical
}

// Normalize parses and canonicalizes a URL string in one step. It is the
// entry point used by the frontier when a discovered href is pushed.
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	canonical := Canonicalize(*parsed)
	return canonical.String(), nil
}

// Origin returns the scheme+host of a URL, e.g. "https://example.com".
// It is the unit of identity used by the host policy store.
func Origin(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Scheme + "://" + lowerASCII(parsed.Host), nil
}

// PathOf returns the path (plus query, if any) of rawURL, or "/" if it
// can't be parsed — the unit robots.txt rules are matched against.
func PathOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	if parsed.RawQuery != "" {
		return parsed.Path + "?" + parsed.RawQuery
	}
	return parsed.Path
}

var wikipediaHost = regexp.MustCompile(`^https?://([a-z]{2})\.wikipedia\.org/`)

// Links extracts crawlable absolute URLs from a set of hrefs discovered on
// a page at base. It skips pure same-page anchors ("#..."), resolves
// relative references against base, then discards non-http(s) schemes and
// non-English Wikipedia hosts.
func Links(base *url.URL, hrefs []string) []string {
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if m := wikipediaHost.FindStringSubmatch(resolved.String()); m != nil && m[1] != "en" {
			continue
		}
		canonical := Canonicalize(*resolved)
		out = append(out, canonical.String())
	}
	return out
}

// canonicalizeHost lowercases host and, if it carries non-ASCII
// characters, converts it to its punycode form via idna.ToASCII. A host
// that fails IDNA conversion (malformed label, etc.) is left lowercased
// as-is rather than rejected outright — canonicalization never errors.
func canonicalizeHost(host string) string {
	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		hostname, port = host, ""
	}
	hostname = lowerASCII(hostname)
	if ascii, err := idna.ToASCII(hostname); err == nil {
		hostname = ascii
	}
	if port == "" {
		return hostname
	}
	return net.JoinHostPort(hostname, port)
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// isUnreserved reports whether b is an RFC 3986 §2.3 unreserved character:
// safe to decode without changing a path's meaning.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func unhex(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

func upperHex(b byte) byte {
	if b >= 'a' && b <= 'f' {
		return b - 'a' + 'A'
	}
	return b
}

// decodeUnreservedEscapes decodes only the percent-escapes in path whose
// octet is an unreserved character, per RFC 3986 §6.2.2.2. A reserved
// character's escape (e.g. "%2F") is left untouched — decoding it could
// change the path's semantic segmentation — and every escape that stays
// encoded has its hex digits uppercased for canonical form.
func decodeUnreservedEscapes(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
			decoded := unhex(path[i+1])<<4 | unhex(path[i+2])
			if isUnreserved(decoded) {
				b.WriteByte(decoded)
			} else {
				b.WriteByte('%')
				b.WriteByte(upperHex(path[i+1]))
				b.WriteByte(upperHex(path[i+2]))
			}
			i += 2
			continue
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
