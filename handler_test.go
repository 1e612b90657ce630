package lti

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesGor/lti2-reference-tool-provider/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *Server) {
	t.Helper()

	server, _ := newTestServer(t)
	handler := NewHandler(server)
	t.Cleanup(handler.Close)
	return handler, server
}

func postForm(routes http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "https://tool.example.com"+path,
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegister_SuccessRedirect(t *testing.T) {
	consumer := testutil.NewConsumer()
	defer consumer.Close()
	consumer.ToolProxyGUID = "g1"

	handler, _ := newTestHandler(t)

	rec := postForm(handler.Routes(), "/register", url.Values{
		paramTCProfileURL: {consumer.ProfileURL()},
		paramTokenURL:     {consumer.TokenURL()},
		paramRegKey:       {"reg-key-1"},
		paramRegPassword:  {"reg-password-1"},
		paramReturnURL:    {"https://consumer.example.com/return?tab=tools"},
	})

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "consumer.example.com", location.Host)
	assert.Equal(t, "success", location.Query().Get("status"))
	assert.Equal(t, "g1", location.Query().Get("tool_proxy_guid"))
	// Pre-existing query parameters on the return URL survive.
	assert.Equal(t, "tools", location.Query().Get("tab"))
}

func TestHandleRegister_FailureRedirectCarriesNoDetail(t *testing.T) {
	consumer := testutil.NewConsumer()
	defer consumer.Close()
	consumer.TokenStatus = http.StatusUnauthorized

	handler, _ := newTestHandler(t)

	rec := postForm(handler.Routes(), "/register", url.Values{
		paramTCProfileURL: {consumer.ProfileURL()},
		paramTokenURL:     {consumer.TokenURL()},
		paramRegKey:       {"reg-key-1"},
		paramRegPassword:  {"reg-password-1"},
		paramReturnURL:    {"https://consumer.example.com/return"},
	})

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	query := location.Query()
	assert.Equal(t, "failure", query.Get("status"))
	assert.Empty(t, query.Get("tool_proxy_guid"))
	require.Len(t, query, 1, "failure redirect must carry the status and nothing else")
}

func TestHandleRegister_MissingReturnURL(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := postForm(handler.Routes(), "/register", url.Values{
		paramTCProfileURL: {"https://consumer.example.com/profile"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLaunch_StatusCodes(t *testing.T) {
	handler, server := newTestHandler(t)
	require.NoError(t, server.proxyStore.SaveProxy(context.Background(),
		testutil.NewTestProxy("guid-1", "s3cret")))
	routes := handler.Routes()

	// httptest.NewRequest sets r.TLS for https targets, so the handler
	// reconstructs exactly this URL for signature checking.
	sign := func(params url.Values, secret string) {
		base, err := SignatureBaseString("POST", "https://tool.example.com/launch", params)
		require.NoError(t, err)
		params.Set("oauth_signature", ComputeSignature(base, secret, ""))
	}

	t.Run("authorized", func(t *testing.T) {
		params := url.Values{
			"oauth_consumer_key": {"guid-1"},
			"oauth_nonce":        {testutil.GenerateRandomString(16)},
			"oauth_timestamp":    {timestampNow()},
			"resource_link_id":   {"link-1"},
		}
		sign(params, "s3cret")

		rec := postForm(routes, "/launch", params)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		params := url.Values{
			"oauth_consumer_key": {"guid-1"},
			"oauth_nonce":        {testutil.GenerateRandomString(16)},
			"oauth_timestamp":    {timestampNow()},
		}
		sign(params, "wrong-secret")

		rec := postForm(routes, "/launch", params)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown consumer key is 404", func(t *testing.T) {
		params := url.Values{
			"oauth_consumer_key": {"nobody"},
			"oauth_nonce":        {testutil.GenerateRandomString(16)},
			"oauth_timestamp":    {timestampNow()},
		}
		sign(params, "s3cret")

		rec := postForm(routes, "/launch", params)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleLaunch_DelegatesToLaunchSuccess(t *testing.T) {
	handler, server := newTestHandler(t)
	require.NoError(t, server.proxyStore.SaveProxy(context.Background(),
		testutil.NewTestProxy("guid-1", "s3cret")))

	called := false
	handler.LaunchSuccess = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	params := url.Values{
		"oauth_consumer_key": {"guid-1"},
		"oauth_nonce":        {testutil.GenerateRandomString(16)},
		"oauth_timestamp":    {timestampNow()},
	}
	base, err := SignatureBaseString("POST", "https://tool.example.com/launch", params)
	require.NoError(t, err)
	params.Set("oauth_signature", ComputeSignature(base, "s3cret", ""))

	rec := postForm(handler.Routes(), "/launch", params)
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleRegister_RateLimited(t *testing.T) {
	server, _ := newTestServer(t)
	server.config.RateLimit.Rate = 1
	server.config.RateLimit.Burst = 1
	handler := NewHandler(server)
	t.Cleanup(handler.Close)
	routes := handler.Routes()

	form := url.Values{
		paramTCProfileURL: {"http://127.0.0.1:1/profile"},
		paramReturnURL:    {"https://consumer.example.com/return"},
	}

	first := postForm(routes, "/register", form)
	assert.Equal(t, http.StatusFound, first.Code)

	second := postForm(routes, "/register", form)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := postForm(handler.Routes(), "/launch", url.Values{
		"oauth_consumer_key": {"nobody"},
	})

	assert.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func timestampNow() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
