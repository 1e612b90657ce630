package lti

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesGor/lti2-reference-tool-provider/internal/testutil"
	"github.com/JesGor/lti2-reference-tool-provider/storage/memory"
)

const launchURL = "https://tool.example.com/launch"

// signedLaunch builds a launch request with a valid signature over the
// given extra parameters.
func signedLaunch(t *testing.T, secret, nonce string, timestamp int64, extra url.Values) LaunchRequest {
	t.Helper()

	params := url.Values{
		"oauth_consumer_key": {"guid-1"},
		"oauth_nonce":        {nonce},
		"oauth_timestamp":    {fmt.Sprintf("%d", timestamp)},
	}
	for key, values := range extra {
		params[key] = values
	}

	base, err := SignatureBaseString("POST", launchURL, params)
	require.NoError(t, err)
	params.Set("oauth_signature", ComputeSignature(base, secret, ""))

	return LaunchRequest{Method: "POST", URL: launchURL, Params: params}
}

func TestAuthenticateLaunch_Success(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16), time.Now().Unix(),
		url.Values{"resource_link_id": {"link-1"}, "user_id": {"u1"}})

	proxy, err := server.AuthenticateLaunch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "guid-1", proxy.GUID)
}

func TestAuthenticateLaunch_ReplayRejected(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	nonce := testutil.GenerateRandomString(16)
	req := signedLaunch(t, "s3cret", nonce, time.Now().Unix(), nil)

	_, err := server.AuthenticateLaunch(context.Background(), req)
	require.NoError(t, err)

	// The identical request again — same nonce, still-valid timestamp —
	// must be rejected.
	_, err = server.AuthenticateLaunch(context.Background(), req)
	require.ErrorIs(t, err, ErrUnauthorizedLaunch)
}

func TestAuthenticateLaunch_UnknownConsumerKey(t *testing.T) {
	server, _ := newTestServer(t)

	req := signedLaunch(t, "s3cret", "n1", time.Now().Unix(), nil)
	_, err := server.AuthenticateLaunch(context.Background(), req)

	// Unknown key is an addressing error, distinct from unauthorized.
	require.ErrorIs(t, err, ErrProxyNotFound)
	assert.False(t, errors.Is(err, ErrUnauthorizedLaunch))
}

func TestAuthenticateLaunch_BadSignature(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	t.Run("signed with wrong secret", func(t *testing.T) {
		req := signedLaunch(t, "wrong-secret", testutil.GenerateRandomString(16), time.Now().Unix(), nil)
		_, err := server.AuthenticateLaunch(context.Background(), req)
		require.ErrorIs(t, err, ErrUnauthorizedLaunch)
	})

	t.Run("parameter tampered after signing", func(t *testing.T) {
		req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16), time.Now().Unix(),
			url.Values{"roles": {"Learner"}})
		req.Params.Set("roles", "Instructor")
		_, err := server.AuthenticateLaunch(context.Background(), req)
		require.ErrorIs(t, err, ErrUnauthorizedLaunch)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16), time.Now().Unix(), nil)
		req.Params.Del("oauth_signature")
		_, err := server.AuthenticateLaunch(context.Background(), req)
		require.ErrorIs(t, err, ErrUnauthorizedLaunch)
	})
}

func TestAuthenticateLaunch_StaleTimestamp(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16),
		time.Now().Add(-10*time.Minute).Unix(), nil)
	_, err := server.AuthenticateLaunch(context.Background(), req)
	require.ErrorIs(t, err, ErrUnauthorizedLaunch)
}

func TestAuthenticateLaunch_StrippedFrameworkParameters(t *testing.T) {
	// A dispatcher-injected parameter must not break signature checks
	// when it is configured as a framework artifact.
	store := memory.New()
	t.Cleanup(store.Stop)
	server, err := New(store, store, &Config{
		BaseURL: "https://tool.example.com",
		Security: SecurityConfig{
			StrippedParameters: []string{"controller"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16), time.Now().Unix(), nil)
	req.Params.Set("controller", "launch_handler")

	_, err = server.AuthenticateLaunch(context.Background(), req)
	require.NoError(t, err)
}

func TestAuthenticateLaunch_UnstrippedInjectedParameterFails(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.SaveProxy(context.Background(), testutil.NewTestProxy("guid-1", "s3cret")))

	req := signedLaunch(t, "s3cret", testutil.GenerateRandomString(16), time.Now().Unix(), nil)
	req.Params.Set("controller", "launch_handler")

	_, err := server.AuthenticateLaunch(context.Background(), req)
	require.ErrorIs(t, err, ErrUnauthorizedLaunch)
}
