// Package testutil provides testing helpers for the tool provider library:
// a scriptable mock tool consumer and common fixtures.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/JesGor/lti2-reference-tool-provider/storage"
)

// GenerateRandomString returns a random base64url string of roughly n
// characters, for secrets and nonces in tests.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n]
}

// NewTestProxy creates a completed tool proxy record.
func NewTestProxy(guid, sharedSecret string) *storage.ToolProxy {
	return &storage.ToolProxy{
		GUID:             guid,
		TCProfileURL:     "https://consumer.example.com/profile",
		BaseURL:          "https://tool.example.com",
		HalfSharedSecret: "tp-half",
		SharedSecret:     sharedSecret,
		RegisteredAt:     time.Now(),
	}
}

// Consumer is a scriptable mock tool consumer. It serves a profile
// document, a token endpoint, and a tool proxy collection endpoint, and
// records what the tool sent to each.
type Consumer struct {
	mu sync.Mutex

	srv *httptest.Server

	// Behavior knobs.
	Capabilities     []string
	SecurityProfiles []map[string]any
	OfferToolProxy   bool
	ProfileStatus    int

	TokenStatus   int
	AccessToken   string
	TokenBodyJSON string // overrides the default token response when set

	CreateStatus       int
	ToolProxyGUID      string
	TCHalfSharedSecret string

	// Recorded traffic.
	TokenRequests  []TokenRequest
	CreateRequests []CreateRequest
}

// TokenRequest is one recorded call to the token endpoint.
type TokenRequest struct {
	GrantType, Assertion string
}

// CreateRequest is one recorded call to the tool proxy collection endpoint.
type CreateRequest struct {
	ContentType   string
	Authorization string
	Body          map[string]any
}

// NewConsumer starts a mock consumer with defaults that make a full
// handshake succeed. Callers adjust the knobs before driving the handshake;
// the returned consumer must be closed.
func NewConsumer() *Consumer {
	c := &Consumer{
		Capabilities: []string{"basic-lti-launch-request"},
		SecurityProfiles: []map[string]any{
			{
				"security_profile_name": "oauth2_access_token_ws_security",
				"digest_algorithm":      []string{"HS256"},
			},
		},
		OfferToolProxy:     true,
		ProfileStatus:      http.StatusOK,
		TokenStatus:        http.StatusOK,
		AccessToken:        "test-access-token",
		CreateStatus:       http.StatusCreated,
		ToolProxyGUID:      "test-guid",
		TCHalfSharedSecret: "tc-half",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/profile", c.serveProfile)
	mux.HandleFunc("/token", c.serveToken)
	mux.HandleFunc("/toolproxy", c.serveCreate)
	c.srv = httptest.NewServer(mux)
	return c
}

// Close shuts the consumer down.
func (c *Consumer) Close() { c.srv.Close() }

// ProfileURL returns the consumer profile URL.
func (c *Consumer) ProfileURL() string { return c.srv.URL + "/profile" }

// TokenURL returns the token endpoint URL.
func (c *Consumer) TokenURL() string { return c.srv.URL + "/token" }

func (c *Consumer) serveProfile(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ProfileStatus != http.StatusOK {
		w.WriteHeader(c.ProfileStatus)
		return
	}

	services := []map[string]any{
		{
			// A multi-format service the exact-match discovery must skip.
			"format":   []string{"application/json", "text/html"},
			"endpoint": c.srv.URL + "/other",
		},
	}
	if c.OfferToolProxy {
		services = append(services, map[string]any{
			"format":   []string{"application/vnd.ims.lti.v2.toolproxy+json"},
			"endpoint": c.srv.URL + "/toolproxy",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"capability_offered": c.Capabilities,
		"security_profile":   c.SecurityProfiles,
		"service_offered":    services,
	})
}

func (c *Consumer) serveToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	c.mu.Lock()
	c.TokenRequests = append(c.TokenRequests, TokenRequest{
		GrantType: r.PostForm.Get("grant_type"),
		Assertion: r.PostForm.Get("assertion"),
	})
	status := c.TokenStatus
	bodyJSON := c.TokenBodyJSON
	accessToken := c.AccessToken
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if bodyJSON != "" {
		_, _ = io.WriteString(w, bodyJSON)
		return
	}
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, accessToken)
}

func (c *Consumer) serveCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	c.mu.Lock()
	c.CreateRequests = append(c.CreateRequests, CreateRequest{
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	status := c.CreateStatus
	guid := c.ToolProxyGUID
	half := c.TCHalfSharedSecret
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusCreated {
		fmt.Fprintf(w, `{"tool_proxy_guid":%q,"tc_half_shared_secret":%q}`, guid, half)
	}
}
