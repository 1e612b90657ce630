package lti

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// OAuth1 protocol parameter names used on launches.
const (
	oauthConsumerKeyParam = "oauth_consumer_key"
	oauthNonceParam       = "oauth_nonce"
	oauthTimestampParam   = "oauth_timestamp"
	oauthSignatureParam   = "oauth_signature"
)

// SignatureBaseString reconstructs the OAuth1 signature base string (RFC
// 5849 section 3.4.1) from the HTTP method, the request URL, and the request
// parameters. The oauth_signature parameter itself is excluded; the caller
// is responsible for stripping any parameters the serving framework injected
// after the consumer signed the request.
func SignatureBaseString(method, rawURL string, params url.Values) (string, error) {
	baseURI, err := normalizeBaseURI(rawURL)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(baseURI) + "&" +
		percentEncode(normalizeParameters(params)), nil
}

// ComputeSignature computes the HMAC-SHA1 signature over a base string with
// key consumerSecret&tokenSecret per RFC 5849 section 3.4.2. Launches carry
// no token, so tokenSecret is empty and the key is the shared secret plus a
// trailing ampersand.
func ComputeSignature(baseString, consumerSecret, tokenSecret string) string {
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature recomputes the signature over the given request and
// compares it to the provided one in constant time.
func ValidateSignature(method, rawURL string, params url.Values, sharedSecret, provided string) bool {
	if provided == "" {
		return false
	}
	baseString, err := SignatureBaseString(method, rawURL, params)
	if err != nil {
		return false
	}
	expected := ComputeSignature(baseString, sharedSecret, "")
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// normalizeBaseURI produces the base string URI per RFC 5849 section 3.4.1.2:
// lowercase scheme and host, default ports omitted, query and fragment
// dropped.
func normalizeBaseURI(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("request URL must be absolute: %q", rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)

	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}

// normalizeParameters produces the normalized parameter string per RFC 5849
// section 3.4.1.3.2: every key and value percent-encoded, pairs sorted by
// encoded key then encoded value, joined with = and &. The oauth_signature
// parameter never participates.
func normalizeParameters(params url.Values) string {
	type pair struct{ key, value string }

	pairs := make([]pair, 0, len(params))
	for key, values := range params {
		if key == oauthSignatureParam {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{percentEncode(key), percentEncode(value)})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// percentEncode encodes a string per RFC 5849 section 3.6: unreserved
// characters (ALPHA, DIGIT, "-", ".", "_", "~") pass through, everything
// else becomes uppercase %XX. This differs from url.QueryEscape, which maps
// spaces to "+".
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
